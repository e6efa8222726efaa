package proc

import (
	"fmt"
	"regexp"
	"strings"
)

// protectedPaths are system-critical directories that must never be the
// target of a recursive delete, chmod, or chown.
var protectedPaths = []string{
	"/",
	"/*",
	"/bin",
	"/sbin",
	"/usr",
	"/etc",
	"/var",
	"/home",
	"/root",
	"/lib",
	"/lib64",
	"/opt",
	"/boot",
	"/dev",
	"/sys",
	"/proc",
	"/System",
	"/Library",
	"/Applications",
	"/Users",
	"/private",
	"/private/var",
	"/private/etc",
}

type dangerousPattern struct {
	re   *regexp.Regexp
	desc string
}

// dangerousPatterns are compiled once and reused on every check.
var dangerousPatterns = []dangerousPattern{
	{regexp.MustCompile(`:\(\)\s*\{.*\|.*&\s*\}\s*;`), "fork bomb"},
	{regexp.MustCompile(`\bmkfs\b`), "filesystem format (mkfs)"},
	{regexp.MustCompile(`\bdd\b.*\bof=/dev/`), "raw write to block device (dd of=/dev/...)"},
	{regexp.MustCompile(`>\s*/dev/(sd|nvme|hd|vd|xvd|disk|mapper/)`), "redirect to block device"},
	{regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`), "system shutdown/reboot"},
	{regexp.MustCompile(`\binit\s+[06]\b`), "system halt/reboot via init"},
}

// ValidateCommand checks a command string against the denylist. It
// returns nil if the command is safe, or an error whose message starts
// with "blocked:" describing why it was rejected.
func ValidateCommand(command string) error {
	for _, p := range dangerousPatterns {
		if p.re.MatchString(command) {
			return fmt.Errorf("blocked: command matches dangerous pattern (%s): %s", p.desc, command)
		}
	}
	return checkDestructiveOnProtectedPaths(command)
}

// checkDestructiveOnProtectedPaths rejects recursive rm/chmod/chown
// invocations that target a protected path in any sub-command.
func checkDestructiveOnProtectedPaths(command string) error {
	for _, sub := range splitSubcommands(strings.TrimSpace(command)) {
		sub = strings.TrimSpace(sub)
		if sub == "" {
			continue
		}

		if isDangerousRm(sub) {
			return fmt.Errorf("blocked: recursive delete targeting a protected system path: %s", sub)
		}
		if isDangerousChmodChown(sub, "chmod") {
			return fmt.Errorf("blocked: recursive chmod on a protected system path: %s", sub)
		}
		if isDangerousChmodChown(sub, "chown") {
			return fmt.Errorf("blocked: recursive chown on a protected system path: %s", sub)
		}
	}
	return nil
}

// splitSubcommands splits a command string on ; && || to get individual
// commands. Not a shell parser; catches the common cases.
func splitSubcommands(cmd string) []string {
	var parts []string
	remaining := cmd
	for remaining != "" {
		pos := -1
		sepLen := 1
		for _, sep := range []string{"&&", "||", ";"} {
			if i := strings.Index(remaining, sep); i >= 0 && (pos < 0 || i < pos) {
				pos = i
				sepLen = len(sep)
			}
		}
		if pos < 0 {
			parts = append(parts, remaining)
			break
		}
		parts = append(parts, remaining[:pos])
		remaining = remaining[pos+sepLen:]
	}
	return parts
}

// isProtectedPath reports whether a positional argument names a
// protected path after trimming trailing slashes. An empty trim result
// reads as "/".
func isProtectedPath(arg string) bool {
	path := strings.TrimRight(arg, "/")
	if path == "" {
		path = "/"
	}
	for _, protected := range protectedPaths {
		cmp := strings.TrimRight(protected, "/")
		if cmp == "" {
			cmp = "/"
		}
		if path == cmp {
			return true
		}
	}
	return false
}

// isDangerousRm reports whether a sub-command is a recursive rm
// targeting a protected path. The rm token may be preceded by arbitrary
// words (sudo, env VAR=x, ...).
func isDangerousRm(sub string) bool {
	words := strings.Fields(sub)
	pos := -1
	for i, w := range words {
		if w == "rm" {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false
	}
	args := words[pos+1:]

	hasRecursive := false
	for _, a := range args {
		if a == "-r" || a == "-R" || a == "--recursive" {
			hasRecursive = true
			break
		}
		// Short flag clusters like -rf or -fR.
		if strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") &&
			(strings.ContainsAny(a, "rR")) {
			hasRecursive = true
			break
		}
	}
	if !hasRecursive {
		return false
	}

	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		if a == "/*" || isProtectedPath(a) {
			return true
		}
	}
	return false
}

// isDangerousChmodChown reports whether a sub-command is a recursive
// chmod/chown targeting a protected path. Only uppercase R counts as
// recursive for these tools (-R, a short flag cluster containing R, or
// --recursive).
func isDangerousChmodChown(sub, tool string) bool {
	words := strings.Fields(sub)
	pos := -1
	for i, w := range words {
		if w == tool {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false
	}
	args := words[pos+1:]

	hasRecursive := false
	for _, a := range args {
		if a == "-R" || a == "--recursive" {
			hasRecursive = true
			break
		}
		if strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") && strings.Contains(a, "R") {
			hasRecursive = true
			break
		}
	}
	if !hasRecursive {
		return false
	}

	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		if isProtectedPath(a) {
			return true
		}
	}
	return false
}
