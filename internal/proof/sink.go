package proof

import (
	"sync"

	"github.com/d3lta02/zklabubu-desktop/internal/clock"
)

// LogSink receives proof log lines in order.
type LogSink interface {
	Log(line string)
}

// SinkFunc adapts a function to LogSink.
type SinkFunc func(line string)

// Log calls f.
func (f SinkFunc) Log(line string) { f(line) }

// Timestamped prefixes every line with the wall-clock time as [HH:MM:SS].
func Timestamped(c clock.Clock, next LogSink) LogSink {
	if c == nil {
		c = clock.System{}
	}
	return SinkFunc(func(line string) {
		next.Log("[" + c.Now().Format("15:04:05") + "] " + line)
	})
}

// Buffer is a LogSink that keeps every line.
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

// Log appends line.
func (b *Buffer) Log(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	b.mu.Unlock()
}

// Lines returns a copy of the collected lines.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}
