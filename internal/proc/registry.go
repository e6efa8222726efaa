package proc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ajaxzhan/agentsh/internal/output"
	"github.com/ajaxzhan/agentsh/pkg/types"
)

// completedTTL is how long completed entries are retained before
// automatic cleanup.
const completedTTL = 30 * time.Minute

// maxConcurrentProcesses caps simultaneously running entries. Prevents
// resource exhaustion from an agent calling start_command in a loop.
const maxConcurrentProcesses = 20

// maxSliceLines caps get_output responses.
const maxSliceLines = 500

// task is the handle to the background goroutine running a process.
// The result pointer is set before done is closed.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
	result *Result
}

// entry tracks one started or completed process.
type entry struct {
	command        string
	startTime      time.Time
	completedAt    time.Time // zero until completion
	buffer         *Buffer
	task           *task              // nil once taken by wait or kill
	cancel         context.CancelFunc // kills the run; kept after task is taken
	result         *Result
	maxOutputLines int
}

// Registry tracks running and completed processes by string ID. All
// methods are safe for concurrent use; the map mutex is never held
// across a wait on the underlying process.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// pruneLocked drops completed entries older than the TTL. Caller holds mu.
func (r *Registry) pruneLocked() {
	for id, e := range r.entries {
		if !e.completedAt.IsZero() && time.Since(e.completedAt) >= completedTTL {
			delete(r.entries, id)
		}
	}
}

// StoreResult inserts an already-completed entry so its output can be
// retrieved later. Used by the synchronous run_command path.
func (r *Registry) StoreResult(id, command string, result Result, maxOutputLines int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	r.entries[id] = &entry{
		command:        command,
		startTime:      time.Now(),
		completedAt:    time.Now(),
		buffer:         NewBuffer(),
		result:         &result,
		maxOutputLines: maxOutputLines,
	}
}

// Start launches a command in a background goroutine under the given ID.
// Rejects duplicate IDs and enforces the concurrency cap.
func (r *Registry) Start(id string, cfg Config, maxOutputLines int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()

	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("process with id '%s' %w", id, types.ErrDuplicateID)
	}

	running := 0
	for _, e := range r.entries {
		if e.result == nil {
			running++
		}
	}
	if running >= maxConcurrentProcesses {
		return fmt.Errorf("%w (%d/%d); wait for some to complete or kill running processes",
			types.ErrTooManyProcesses, running, maxConcurrentProcesses)
	}

	buf := NewBuffer()
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}

	go func() {
		res := Run(ctx, &cfg, buf)
		t.result = &res
		close(t.done)
	}()

	r.entries[id] = &entry{
		command:        cfg.Command,
		startTime:      time.Now(),
		buffer:         buf,
		task:           t,
		cancel:         cancel,
		maxOutputLines: maxOutputLines,
	}
	return nil
}

// Wait blocks until a started process completes and returns its result
// together with the max_output_lines configured at start time.
//
// The task handle is taken out of the entry under the lock; a second
// concurrent Wait on the same ID fails with ErrAlreadyWaiting. A
// timeout of the wait itself abandons the awaiter without killing the
// process. Once a result is cached, Wait returns it immediately.
func (r *Registry) Wait(id string, timeoutSeconds int) (Result, int, error) {
	r.mu.Lock()
	r.pruneLocked()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return Result{}, 0, fmt.Errorf("no process with id '%s': %w", id, types.ErrNotFound)
	}
	if e.result != nil {
		res := *e.result
		maxLines := e.maxOutputLines
		r.mu.Unlock()
		return res, maxLines, nil
	}
	t := e.task
	if t == nil {
		r.mu.Unlock()
		return Result{}, 0, fmt.Errorf("process '%s' is %w", id, types.ErrAlreadyWaiting)
	}
	e.task = nil
	maxLines := e.maxOutputLines
	r.mu.Unlock()

	if timeoutSeconds > 0 {
		select {
		case <-t.done:
		case <-time.After(time.Duration(timeoutSeconds) * time.Second):
			return Result{}, 0, fmt.Errorf("%w after %ds", types.ErrWaitTimeout, timeoutSeconds)
		}
	} else {
		<-t.done
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e.result == nil {
		e.result = t.result
		e.completedAt = time.Now()
	}
	// A kill may have stored a synthetic result while we were waiting;
	// the cached one wins either way.
	return *e.result, maxLines, nil
}

// Status returns a non-blocking snapshot of a tracked process. For
// completed entries the tail_lines carry the windowed interesting lines
// (tail then head); for running entries, the last 20 live buffer lines.
func (r *Registry) Status(id string) (types.StatusResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return types.StatusResponse{}, fmt.Errorf("no process with id '%s': %w", id, types.ErrNotFound)
	}

	if e.result != nil {
		w := output.MakeWindow(e.result.Lines, e.maxOutputLines)
		return types.StatusResponse{
			Status:         deriveStatus(e.result),
			RuntimeSeconds: e.result.DurationSeconds,
			TailLines:      append(w.Tail, w.Head...),
		}, nil
	}

	return types.StatusResponse{
		Status:         types.StatusRunning,
		RuntimeSeconds: time.Since(e.startTime).Seconds(),
		TailLines:      e.buffer.Tail(20),
	}, nil
}

// GetOutput returns a range of output lines from a completed or running
// command. Lines are 0-indexed; at most 500 per call.
func (r *Registry) GetOutput(id string, startLine, endLine *int) (types.OutputSlice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return types.OutputSlice{}, fmt.Errorf("no process with id '%s': %w", id, types.ErrNotFound)
	}

	var lines []string
	if e.result != nil {
		lines = e.result.Lines
	} else {
		lines = e.buffer.Snapshot()
	}
	total := len(lines)

	start := 0
	if startLine != nil {
		start = *startLine
	}
	if start > total {
		start = total
	}
	if start < 0 {
		start = 0
	}

	end := total
	if endLine != nil {
		end = *endLine
	}
	if end > total {
		end = total
	}
	if end < start {
		end = start
	}
	if end > start+maxSliceLines {
		end = start + maxSliceLines
	}

	slice := []string{}
	if start < end {
		slice = append(slice, lines[start:end]...)
	}

	return types.OutputSlice{
		ID:         id,
		StartLine:  start,
		EndLine:    end,
		TotalLines: total,
		Lines:      slice,
	}, nil
}

// Kill aborts a running process. The background task is cancelled
// (killing the process group), the live buffer is snapshotted, and a
// synthetic result is stored immediately so Kill never races with
// completion.
func (r *Registry) Kill(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("no process with id '%s': %w", id, types.ErrNotFound)
	}
	if e.result != nil {
		return fmt.Errorf("process '%s' has %w", id, types.ErrAlreadyCompleted)
	}

	// The task may already have been taken by a timed-out Wait; the
	// cancel func on the entry still reaches the run.
	e.task = nil
	if e.cancel != nil {
		e.cancel()
	}
	e.result = &Result{
		ExitCode:        -1,
		DurationSeconds: time.Since(e.startTime).Seconds(),
		Lines:           e.buffer.Snapshot(),
		TimedOut:        false,
	}
	e.completedAt = time.Now()
	return nil
}

// List returns a snapshot of all tracked processes.
func (r *Registry) List() []types.ProcessSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()

	summaries := make([]types.ProcessSummary, 0, len(r.entries))
	for id, e := range r.entries {
		status := types.StatusRunning
		runtime := time.Since(e.startTime).Seconds()
		if e.result != nil {
			status = deriveStatus(e.result)
			runtime = e.result.DurationSeconds
		}
		summaries = append(summaries, types.ProcessSummary{
			ID:             id,
			Command:        e.command,
			Status:         status,
			RuntimeSeconds: runtime,
		})
	}
	return summaries
}

func deriveStatus(res *Result) types.ProcessStatus {
	switch {
	case res.TimedOut:
		return types.StatusTimedOut
	case res.ExitCode == 0:
		return types.StatusCompleted
	default:
		return types.StatusFailed
	}
}
