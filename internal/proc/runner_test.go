package proc_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ajaxzhan/agentsh/internal/proc"
)

func run(t *testing.T, cfg proc.Config) proc.Result {
	t.Helper()
	return proc.Run(context.Background(), &cfg, proc.NewBuffer())
}

func TestRun_Echo(t *testing.T) {
	result := run(t, proc.Config{Command: "echo hello_world"})

	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if result.TimedOut {
		t.Error("TimedOut = true, want false")
	}
	if len(result.Lines) != 1 || result.Lines[0] != "hello_world" {
		t.Errorf("Lines = %v, want [hello_world]", result.Lines)
	}
	if result.DurationSeconds < 0 {
		t.Errorf("DurationSeconds = %f, want >= 0", result.DurationSeconds)
	}
}

func TestRun_ExitCode(t *testing.T) {
	result := run(t, proc.Config{Command: "exit 42"})
	if result.ExitCode != 42 {
		t.Errorf("ExitCode = %d, want 42", result.ExitCode)
	}
}

func TestRun_StderrCaptured(t *testing.T) {
	result := run(t, proc.Config{Command: "echo out; echo err >&2"})

	if result.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", result.ExitCode)
	}
	joined := strings.Join(result.Lines, "\n")
	if !strings.Contains(joined, "out") || !strings.Contains(joined, "err") {
		t.Errorf("Lines = %v, want both streams", result.Lines)
	}
}

func TestRun_StdoutOrderPreserved(t *testing.T) {
	result := run(t, proc.Config{Command: "seq 1 100"})

	if len(result.Lines) != 100 {
		t.Fatalf("len(Lines) = %d, want 100", len(result.Lines))
	}
	if result.Lines[0] != "1" || result.Lines[99] != "100" {
		t.Errorf("Lines[0]=%q Lines[99]=%q, want 1 and 100", result.Lines[0], result.Lines[99])
	}
}

func TestRun_Timeout(t *testing.T) {
	start := time.Now()
	result := run(t, proc.Config{Command: "sleep 30", TimeoutSeconds: 1})
	elapsed := time.Since(start)

	if !result.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if result.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", result.ExitCode)
	}
	if elapsed >= 5*time.Second {
		t.Errorf("elapsed = %v, want < 5s", elapsed)
	}
}

func TestRun_TimeoutKillsChildren(t *testing.T) {
	// The whole process group dies, including the shell's child sleep.
	start := time.Now()
	result := run(t, proc.Config{Command: "sh -c 'sleep 60' ", TimeoutSeconds: 1})
	if !result.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if elapsed := time.Since(start); elapsed >= 5*time.Second {
		t.Errorf("elapsed = %v, want < 5s", elapsed)
	}
}

func TestRun_BlockedCommand(t *testing.T) {
	start := time.Now()
	result := run(t, proc.Config{Command: "rm -rf /"})
	elapsed := time.Since(start)

	if result.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", result.ExitCode)
	}
	if result.TimedOut {
		t.Error("TimedOut = true, want false")
	}
	if len(result.Lines) != 1 || !strings.HasPrefix(result.Lines[0], "blocked:") {
		t.Errorf("Lines = %v, want single blocked: line", result.Lines)
	}
	// Nothing was spawned.
	if elapsed > 50*time.Millisecond {
		t.Errorf("elapsed = %v, want < 50ms", elapsed)
	}
}

func TestRun_SpawnFailure(t *testing.T) {
	result := run(t, proc.Config{
		Command:          "echo hi",
		WorkingDirectory: "/nonexistent/path/for/sure",
	})

	if result.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", result.ExitCode)
	}
	if len(result.Lines) != 1 || !strings.Contains(result.Lines[0], "Failed to spawn process") {
		t.Errorf("Lines = %v, want spawn failure line", result.Lines)
	}
}

func TestRun_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	result := run(t, proc.Config{Command: "pwd", WorkingDirectory: dir})

	if result.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", result.ExitCode)
	}
	if len(result.Lines) == 0 || !strings.Contains(result.Lines[0], dir) {
		t.Errorf("Lines = %v, want pwd containing %q", result.Lines, dir)
	}
}

func TestRun_SharedBufferObservableWhileRunning(t *testing.T) {
	buf := proc.NewBuffer()
	done := make(chan proc.Result, 1)
	go func() {
		cfg := proc.Config{Command: "echo first; sleep 2; echo second", TimeoutSeconds: 10}
		done <- proc.Run(context.Background(), &cfg, buf)
	}()

	deadline := time.After(2 * time.Second)
	for buf.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("no output observed in shared buffer while running")
		case <-time.After(50 * time.Millisecond):
		}
	}
	if snap := buf.Snapshot(); snap[0] != "first" {
		t.Errorf("Snapshot[0] = %q, want first", snap[0])
	}

	result := <-done
	if len(result.Lines) != 2 {
		t.Errorf("Lines = %v, want two lines", result.Lines)
	}
}

func TestRun_CancelKillsProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan proc.Result, 1)
	go func() {
		cfg := proc.Config{Command: "sleep 60"}
		done <- proc.Run(ctx, &cfg, proc.NewBuffer())
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case result := <-done:
		if result.ExitCode != -1 {
			t.Errorf("ExitCode = %d, want -1", result.ExitCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBuffer_Tail(t *testing.T) {
	buf := proc.NewBuffer()
	for i := 0; i < 50; i++ {
		buf.Append("x")
	}
	if got := len(buf.Tail(20)); got != 20 {
		t.Errorf("len(Tail(20)) = %d, want 20", got)
	}
	if got := len(buf.Tail(100)); got != 50 {
		t.Errorf("len(Tail(100)) = %d, want 50", got)
	}
}
