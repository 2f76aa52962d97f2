package bot

import (
	"context"
	"strings"
	"sync"

	"github.com/gobridge/ghrelay/bus"
)

// DefaultLogSize is the default number of lines a LogBuffer keeps.
const DefaultLogSize = 1000

// LogBuffer keeps the most recent log and error lines published on the bus.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewLogBuffer creates a buffer holding up to size lines.
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = DefaultLogSize
	}
	return &LogBuffer{lines: make([]string, size)}
}

// Subscribe records LogTopic and ErrorTopic payloads from d.
func (b *LogBuffer) Subscribe(d *bus.Dispatcher) (unsubscribe func()) {
	unsubLog := d.Subscribe(bus.LogTopic, func(ctx context.Context, p bus.Payload) error {
		b.Append("log " + p.Line())
		return nil
	})
	unsubErr := d.Subscribe(bus.ErrorTopic, func(ctx context.Context, p bus.Payload) error {
		b.Append("error " + strings.ReplaceAll(p.Line(), "\n", " "))
		return nil
	})
	return func() {
		unsubLog()
		unsubErr()
	}
}

// Append adds a line, evicting the oldest when full.
func (b *LogBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
}

// Len returns the number of stored lines.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.lines)
	}
	return b.next
}

// Recent returns up to n lines, newest first. n < 0 means all.
func (b *LogBuffer) Recent(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.next
	if b.full {
		size = len(b.lines)
	}
	if n < 0 || n > size {
		n = size
	}

	out := make([]string, n)
	for i := 0; i < n; i++ {
		idx := (b.next - 1 - i + len(b.lines)) % len(b.lines)
		out[i] = b.lines[idx]
	}
	return out
}
