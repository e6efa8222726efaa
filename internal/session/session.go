// Package session implements persistent shell sessions backed by a
// pseudo-terminal (PTY).
//
// Each session is a long-lived bash process attached to a real PTY, so
// child processes see isatty()=true and colored or interactive tools
// behave normally. Commands are delimited with UUID markers inside the
// continuous PTY byte stream, ANSI escapes are stripped from output,
// and shell state (working directory, environment, functions, aliases)
// persists between commands.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/ajaxzhan/agentsh/internal/logging"
	"github.com/ajaxzhan/agentsh/internal/output"
	"github.com/ajaxzhan/agentsh/internal/proc"
)

// maxOutputLines caps the output collected for one command.
const maxOutputLines = 100_000

// markerPrefix tags the UUID markers that delimit command output in the
// PTY stream.
const markerPrefix = "__AGENTSH_"

// defaultTimeoutSeconds bounds a command when the caller gives none.
const defaultTimeoutSeconds = 300

// startupDrainBudget bounds the whole startup drain. This is a total
// budget, not a per-read one: bash may emit bytes without a newline, so
// a per-read timer could never fire while a line read blocks forever.
const startupDrainBudget = 5 * time.Second

// errReadTimeout distinguishes a bounded read expiring from a real
// PTY failure.
var errReadTimeout = errors.New("pty read timed out")

// ExecResult is the outcome of one command inside a session.
type ExecResult struct {
	SessionID       string
	ExitCode        int
	DurationSeconds float64
	Lines           []string
	TimedOut        bool
}

// Session is one long-lived shell attached to a PTY.
//
// A pump goroutine owns all reads from the PTY master and forwards raw
// chunks over a channel; the session assembles lines from the chunk
// stream. That keeps every read bounded by a select instead of a
// blocking file read, and lets raw send mode consume bytes that never
// end in a newline.
type Session struct {
	cmd     *exec.Cmd
	ptmx    *os.File
	chunks  chan []byte
	pending []byte // bytes received but not yet consumed
	exited  chan struct{}
}

// New spawns a PTY-backed bash session.
func New(workingDirectory string) (*Session, error) {
	cmd := exec.Command("/bin/bash", "--norc", "--noprofile")
	cmd.Env = proc.SanitizedEnv()
	if workingDirectory != "" {
		cmd.Dir = workingDirectory
	}

	// Wide terminal to minimize auto-wrapping of long tool output.
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 250})
	if err != nil {
		return nil, fmt.Errorf("failed to spawn bash with PTY: %w", err)
	}

	s := &Session{
		cmd:    cmd,
		ptmx:   ptmx,
		chunks: make(chan []byte, 256),
		exited: make(chan struct{}),
	}

	go s.readPump()
	go func() {
		_ = cmd.Wait()
		close(s.exited)
	}()

	// Disable echo so our wrappers don't appear in the output, silence
	// the prompts, neutralize pagers, and enable alias expansion. The
	// PTY itself stays, so isatty()=true for children.
	if err := s.rawSend("stty -echo\n" +
		"export PS1='' PS2='' PROMPT_COMMAND=''\n" +
		"export PAGER=cat GIT_PAGER=cat\n" +
		"shopt -s expand_aliases\n"); err != nil {
		s.teardown()
		return nil, err
	}

	s.drainStartup()

	return s, nil
}

// rawSend writes text to the PTY (bash's stdin).
func (s *Session) rawSend(text string) error {
	if _, err := s.ptmx.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write to PTY: %w", err)
	}
	return nil
}

// readPump owns all reads from the PTY master and forwards chunks until
// the PTY is closed or the shell exits.
func (s *Session) readPump() {
	defer close(s.chunks)
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			c := make([]byte, n)
			copy(c, buf[:n])
			s.chunks <- c
		}
		if err != nil {
			return
		}
	}
}

// readLine returns the next newline-terminated line from the PTY,
// waiting at most until deadline. Returns errReadTimeout when the
// deadline passes and io.EOF when the PTY stream ends.
func (s *Session) readLine(deadline time.Time) (string, error) {
	for {
		if idx := bytes.IndexByte(s.pending, '\n'); idx >= 0 {
			line := string(s.pending[:idx+1])
			s.pending = s.pending[idx+1:]
			return line, nil
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return "", errReadTimeout
		}
		select {
		case c, ok := <-s.chunks:
			if !ok {
				return "", io.EOF
			}
			s.pending = append(s.pending, c...)
		case <-time.After(wait):
			return "", errReadTimeout
		}
	}
}

// drainStartup reads and discards bash startup output until a marker
// echo comes back, bounded by a total budget.
func (s *Session) drainStartup() {
	marker := markerPrefix + "DRAIN_" + uuid.NewString() + "__"
	if err := s.rawSend("echo '" + marker + "'\n"); err != nil {
		return
	}
	deadline := time.Now().Add(startupDrainBudget)
	for {
		line, err := s.readLine(deadline)
		if err != nil {
			return
		}
		if output.CleanLine(line) == marker {
			return
		}
	}
}

// Exec runs a command in this session and returns its output and exit
// status.
//
// The command is wrapped between UUID markers; a { } group (not a
// subshell) keeps cd/export/function/alias changes in the parent shell.
// Each read is bounded: by idleTimeoutSeconds once output has started
// (when configured), otherwise by the total timeout. On timeout the
// foreground job gets ^C and the stream is re-synced with a recovery
// marker; the shell itself survives.
func (s *Session) Exec(command string, timeoutSeconds, idleTimeoutSeconds int) (ExecResult, error) {
	start := time.Now()

	if err := proc.ValidateCommand(command); err != nil {
		return ExecResult{
			ExitCode:        -1,
			DurationSeconds: time.Since(start).Seconds(),
			Lines:           []string{err.Error()},
			TimedOut:        false,
		}, nil
	}

	cmdID := uuid.NewString()
	startMarker := markerPrefix + "START_" + cmdID + "__"
	endPrefix := markerPrefix + "END_" + cmdID + "_"

	wrapper := "echo '" + startMarker + "'\n" +
		"{ " + command + "; } 2>&1\n" +
		"__agentsh_ec=$?\n" +
		"echo '" + endPrefix + "'\"$__agentsh_ec\"'__'\n"

	if err := s.rawSend(wrapper); err != nil {
		return ExecResult{}, err
	}

	total := defaultTimeoutSeconds
	if timeoutSeconds > 0 {
		total = proc.ClampTimeout(timeoutSeconds)
	}

	var lines []string
	exitCode := -1
	foundStart := false
	timedOut := false

	for {
		bound := total
		if idleTimeoutSeconds > 0 && len(lines) > 0 {
			bound = idleTimeoutSeconds
		}
		line, err := s.readLine(time.Now().Add(time.Duration(bound) * time.Second))
		switch {
		case err == nil:
			cleaned := output.CleanLine(line)

			if !foundStart {
				// PTY noise before the start marker is dropped.
				if strings.Contains(cleaned, startMarker) {
					foundStart = true
				}
				continue
			}

			if idx := strings.Index(cleaned, endPrefix); idx >= 0 {
				code := cleaned[idx+len(endPrefix):]
				if j := strings.Index(code, "__"); j >= 0 {
					if n, perr := strconv.Atoi(strings.TrimSpace(code[:j])); perr == nil {
						exitCode = n
					}
				}
				return ExecResult{
					ExitCode:        exitCode,
					DurationSeconds: time.Since(start).Seconds(),
					Lines:           lines,
					TimedOut:        timedOut,
				}, nil
			}

			// Internal marker echoes are noise, not output.
			if strings.Contains(cleaned, markerPrefix) {
				continue
			}

			if len(lines) < maxOutputLines {
				lines = append(lines, cleaned)
			}

		case errors.Is(err, io.EOF):
			return ExecResult{}, errors.New("session shell process exited unexpectedly")

		case errors.Is(err, errReadTimeout):
			timedOut = true
			s.interruptAndResync(endPrefix, &lines)
			return ExecResult{
				ExitCode:        124,
				DurationSeconds: time.Since(start).Seconds(),
				Lines:           lines,
				TimedOut:        true,
			}, nil

		default:
			return ExecResult{}, fmt.Errorf("error reading PTY output: %w", err)
		}
	}
}

// interruptAndResync recovers a session whose command timed out: ^C the
// foreground job (twice, spaced out), then write a fresh marker and
// read until it or the original end marker appears so the next Exec
// starts from a clean stream.
func (s *Session) interruptAndResync(endPrefix string, lines *[]string) {
	_, _ = s.ptmx.Write([]byte{0x03})
	time.Sleep(200 * time.Millisecond)
	_, _ = s.ptmx.Write([]byte{0x03})
	time.Sleep(500 * time.Millisecond)

	recoveryMarker := markerPrefix + "RECOVER_" + uuid.NewString() + "__"
	if err := s.rawSend("\necho '" + recoveryMarker + "'\n"); err != nil {
		return
	}

	for {
		line, err := s.readLine(time.Now().Add(3 * time.Second))
		if err != nil {
			// Stream stalled or closed; give up on re-syncing.
			return
		}
		cleaned := output.CleanLine(line)
		if strings.Contains(cleaned, recoveryMarker) || strings.Contains(cleaned, endPrefix) {
			return
		}
		if cleaned == "" || strings.Contains(cleaned, markerPrefix) {
			continue
		}
		if len(*lines) < maxOutputLines {
			*lines = append(*lines, cleaned)
		}
	}
}

// Send drives the PTY without marker discipline, for full-screen or TUI
// programs. The input string (after escape expansion: \n \r \t \\ \xHH)
// is written raw, then output is read until it settles: no growth
// beyond 10 bytes for idleTimeoutSeconds, with a hard cap of
// max(5*idle, 30s). Returns the cleaned non-empty lines seen.
func (s *Session) Send(input string, idleTimeoutSeconds int) (ExecResult, error) {
	start := time.Now()

	if idleTimeoutSeconds <= 0 {
		idleTimeoutSeconds = 2
	}
	idle := time.Duration(idleTimeoutSeconds) * time.Second
	hard := 5 * idle
	if hard < 30*time.Second {
		hard = 30 * time.Second
	}

	if input != "" {
		if err := s.rawSend(expandEscapes(input)); err != nil {
			return ExecResult{}, err
		}
	}

	// Start from whatever is already pending, then collect chunks until
	// the stream settles.
	collected := s.pending
	s.pending = nil
	settleMark := len(collected)

	idleTimer := time.NewTimer(idle)
	defer idleTimer.Stop()
	hardTimer := time.NewTimer(hard)
	defer hardTimer.Stop()

collect:
	for {
		select {
		case c, ok := <-s.chunks:
			if !ok {
				break collect
			}
			collected = append(collected, c...)
			if len(collected)-settleMark > 10 {
				settleMark = len(collected)
				if !idleTimer.Stop() {
					<-idleTimer.C
				}
				idleTimer.Reset(idle)
			}
		case <-idleTimer.C:
			break collect
		case <-hardTimer.C:
			break collect
		}
	}

	var lines []string
	for _, raw := range strings.Split(string(collected), "\n") {
		if cleaned := output.CleanLine(raw); cleaned != "" {
			lines = append(lines, cleaned)
		}
	}

	return ExecResult{
		ExitCode:        0,
		DurationSeconds: time.Since(start).Seconds(),
		Lines:           lines,
		TimedOut:        false,
	}, nil
}

// expandEscapes interprets \n, \r, \t, \\ and \xHH sequences so callers
// can send control bytes (arrow keys, ^C, carriage returns) through a
// JSON string.
func expandEscapes(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '\\':
			b.WriteByte('\\')
		case 'x':
			if i+2 < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
					b.WriteByte(byte(v))
					i += 2
					continue
				}
			}
			b.WriteString(`\x`)
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Alive reports whether the bash process is still running, without
// blocking.
func (s *Session) Alive() bool {
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Close shuts the session down: ask bash to exit, then close the PTY
// master BEFORE waiting — closing the master sends SIGHUP to bash,
// which unblocks the wait. A shell still alive after the grace period
// gets SIGKILL.
func (s *Session) Close() {
	_ = s.rawSend("exit\n")
	s.teardown()
}

func (s *Session) teardown() {
	_ = s.ptmx.Close()

	select {
	case <-s.exited:
		return
	case <-time.After(2 * time.Second):
	}

	if s.cmd.Process != nil {
		pid := s.cmd.Process.Pid
		if err := unix.Kill(-pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
			logging.Warn("failed to kill session process group",
				logging.Int("pid", pid),
				logging.Err(err),
			)
		}
	}

	select {
	case <-s.exited:
	case <-time.After(1 * time.Second):
	}
}
