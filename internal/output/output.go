// Package output provides windowing and error pattern extraction for
// LLM-friendly command output, plus ANSI escape stripping for PTY streams.
package output

import (
	"regexp"
	"strings"
)

// headLines is the number of lines reserved for the "head" portion of
// windowed output.
const headLines = 10

// errorPatterns match common build/test failure output.
var errorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\berror\b`),
	regexp.MustCompile(`(?i)\bfailed\b`),
	regexp.MustCompile(`(?i)\bfailure\b`),
	regexp.MustCompile(`(?i)\bfatal\b`),
	regexp.MustCompile(`(?i)\bpanic\b`),
	regexp.MustCompile(`(?i)\bexception\b`),
	regexp.MustCompile(`(?i)\btraceback\b`),
	regexp.MustCompile(`(?i)\bFAIL\b`),
	regexp.MustCompile(`(?i)\bdenied\b`),
	regexp.MustCompile(`(?i)\baborted\b`),
}

// Window is a head/tail/error summary of command output, optimized for
// LLM token efficiency.
type Window struct {
	// Head holds the first lines of output (usually invocation context).
	Head []string
	// Tail holds the last lines of output (usually the result or error summary).
	Tail []string
	// ErrorLines holds lines matching error patterns, extracted from the full output.
	ErrorLines []string
	// TotalLines is the number of lines in the original output.
	TotalLines int
	// Truncated reports whether head+tail cover less than the full output.
	Truncated bool
}

// MakeWindow splits command output into head + tail sections.
//
// If the output fits within maxLines it is returned as-is in Head with an
// empty Tail. Otherwise Head gets the first 10 lines (or the whole budget
// if smaller) and Tail gets the remaining budget from the end of output.
// ErrorLines is always extracted from the full input, not the windowed
// subset, so mid-output problems still surface.
func MakeWindow(lines []string, maxLines int) Window {
	total := len(lines)

	if total <= maxLines {
		return Window{
			Head:       append([]string{}, lines...),
			Tail:       []string{},
			ErrorLines: ExtractErrors(lines),
			TotalLines: total,
			Truncated:  false,
		}
	}

	headCount := headLines
	if headCount > maxLines {
		headCount = maxLines
	}
	tailCount := maxLines - headCount

	head := append([]string{}, lines[:headCount]...)
	tail := []string{}
	if tailCount > 0 {
		tail = append(tail, lines[total-tailCount:]...)
	}

	return Window{
		Head:       head,
		Tail:       tail,
		ErrorLines: ExtractErrors(lines),
		TotalLines: total,
		Truncated:  true,
	}
}

// ExtractErrors returns the input lines matching common error patterns,
// in order of occurrence.
func ExtractErrors(lines []string) []string {
	matched := []string{}
	for _, line := range lines {
		for _, re := range errorPatterns {
			if re.MatchString(line) {
				matched = append(matched, line)
				break
			}
		}
	}
	return matched
}

// ansiEscape matches terminal control sequences:
//   - CSI sequences: ESC [ ... final byte (parameters can include 0-9;?<=>!),
//     covering standard ANSI, DEC private modes, and the Kitty keyboard protocol
//   - OSC sequences: ESC ] ... BEL (e.g. terminal title)
//   - Charset selection: ESC ( or ) plus one of 0-9A-B
//   - Simple two-byte escapes: ESC plus a letter
//   - Backspace overstrike pairs: any char followed by \x08
var ansiEscape = regexp.MustCompile(
	"\x1b\\[[0-9;?<=>!]*[a-zA-Z~]|\x1b\\][^\x07]*\x07|\x1b[()][0-9A-B]|\x1b[a-zA-Z]|.\x08")

// StripANSI removes ANSI escape codes from a string. PTY output carries
// formatting (colors, cursor movement) that is meaningless to an LLM;
// this leaves only the visible text.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// CleanLine strips ANSI escape codes and trailing CR/LF from a raw line
// read off a PTY.
func CleanLine(raw string) string {
	s := StripANSI(raw)
	return strings.TrimRight(s, "\r\n")
}
