package proc

import "sync"

// MaxOutputLines caps the number of lines kept per buffer. Prevents OOM
// from commands that produce unbounded output (yes, cat /dev/urandom).
const MaxOutputLines = 100_000

// Buffer is a mutex-guarded append-only line buffer shared between a
// running process's readers and callers observing its output.
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

// NewBuffer creates an empty shared buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds a line unless the buffer is at capacity. Readers keep
// draining their pipes past the cap so the child does not block; the
// surplus is discarded here.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) < MaxOutputLines {
		b.lines = append(b.lines, line)
	}
}

// Len returns the current number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Snapshot returns a copy of all buffered lines.
func (b *Buffer) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string{}, b.lines...)
}

// Tail returns a copy of the last n buffered lines.
func (b *Buffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.lines) {
		n = len(b.lines)
	}
	return append([]string{}, b.lines[len(b.lines)-n:]...)
}
