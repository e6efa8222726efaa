// Package proc implements the stateless process engine: command
// validation, one-shot /bin/sh execution with concurrent output
// capture, and the registry that tracks runs by ID.
package proc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/ajaxzhan/agentsh/internal/logging"
)

// Config describes one command to execute.
type Config struct {
	// Command is the shell command, passed to /bin/sh -c.
	Command string
	// WorkingDirectory for the command. Empty uses the server's cwd.
	WorkingDirectory string
	// TimeoutSeconds is the maximum execution time. Zero means no timeout.
	TimeoutSeconds int
}

// Result of a completed process execution.
type Result struct {
	// ExitCode is the process exit code, or -1 if killed or unknown.
	ExitCode int
	// DurationSeconds is the wall-clock execution time.
	DurationSeconds float64
	// Lines holds all captured output, stdout and stderr interleaved
	// in arrival order.
	Lines []string
	// TimedOut reports whether the process was killed due to timeout.
	TimedOut bool
}

// Run spawns a command and waits for it to complete, capturing all output.
//
// Output is captured line-by-line from both stdout and stderr into buf,
// which the caller may observe concurrently (for status checks while the
// command runs). Cancelling ctx kills the process group; the registry
// uses this for kill_command.
func Run(ctx context.Context, cfg *Config, buf *Buffer) Result {
	start := time.Now()

	if err := ValidateCommand(cfg.Command); err != nil {
		logging.Warn("dangerous command blocked",
			logging.String("command", cfg.Command),
			logging.Err(err),
		)
		buf.Append(err.Error())
		return Result{
			ExitCode:        -1,
			DurationSeconds: time.Since(start).Seconds(),
			Lines:           buf.Snapshot(),
			TimedOut:        false,
		}
	}

	cmd := exec.Command("/bin/sh", "-c", cfg.Command)
	cmd.Env = SanitizedEnv()
	// New session: detaches from the controlling terminal and makes the
	// child a process-group leader, so kill(-pid) reaps the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if cfg.WorkingDirectory != "" {
		cmd.Dir = cfg.WorkingDirectory
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		buf.Append(fmt.Sprintf("Failed to spawn process: %v", err))
		return spawnFailure(start, buf)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		buf.Append(fmt.Sprintf("Failed to spawn process: %v", err))
		return spawnFailure(start, buf)
	}

	if err := cmd.Start(); err != nil {
		buf.Append(fmt.Sprintf("Failed to spawn process: %v", err))
		return spawnFailure(start, buf)
	}

	pid := cmd.Process.Pid

	var timedOut atomic.Bool
	if cfg.TimeoutSeconds > 0 {
		timer := time.AfterFunc(time.Duration(cfg.TimeoutSeconds)*time.Second, func() {
			timedOut.Store(true)
			killGroup(pid)
		})
		defer timer.Stop()
	}

	// Watch for cancellation (kill_command) while the process runs.
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			killGroup(pid)
		case <-finished:
		}
	}()

	// Read stdout and stderr concurrently into the shared buffer.
	var g errgroup.Group
	g.Go(func() error { readLines(stdout, buf); return nil })
	g.Go(func() error { readLines(stderr, buf); return nil })
	_ = g.Wait()

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		exitCode = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
	}

	return Result{
		ExitCode:        exitCode,
		DurationSeconds: time.Since(start).Seconds(),
		Lines:           buf.Snapshot(),
		TimedOut:        timedOut.Load(),
	}
}

func spawnFailure(start time.Time, buf *Buffer) Result {
	return Result{
		ExitCode:        -1,
		DurationSeconds: time.Since(start).Seconds(),
		Lines:           buf.Snapshot(),
		TimedOut:        false,
	}
}

// readLines decodes lines from a pipe and appends them to the shared
// buffer. The buffer stops accepting past its cap but the pipe is
// drained to EOF regardless, so the child never blocks on a full pipe.
func readLines(r io.Reader, buf *Buffer) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		buf.Append(strings.ToValidUTF8(sc.Text(), "�"))
	}
	if err := sc.Err(); err != nil {
		logging.Debug("pipe read ended", logging.Err(err))
	}
	// The scanner stops early on an over-long line; keep draining.
	_, _ = io.Copy(io.Discard, r)
}

// killGroup sends SIGKILL to a child's process group. The child is its
// own group leader (Setsid), so -pid addresses the entire tree.
func killGroup(pid int) {
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		logging.Warn("failed to kill process group",
			logging.Int("pid", pid),
			logging.Err(err),
		)
	}
}
