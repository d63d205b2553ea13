package logs

import (
	"bytes"
	"sync"
	"time"

	"github.com/charliek/procio/internal/domain"
)

// MaxLineLength bounds a single entry; longer lines are split
const MaxLineLength = 64 * 1024

// LineSink turns a child's output chunks into one LogEntry per line. A
// trailing line without a newline is emitted when the stream closes. It
// satisfies stream.Sink.
type LineSink struct {
	job    string
	stream domain.Stream
	emit   func(domain.LogEntry)
	now    func() time.Time

	mu      sync.Mutex
	partial []byte
	closed  bool
}

// NewLineSink creates a sink that calls emit for every complete line
func NewLineSink(job string, s domain.Stream, emit func(domain.LogEntry)) *LineSink {
	return &LineSink{job: job, stream: s, emit: emit, now: time.Now}
}

// Data consumes one chunk
func (l *LineSink) Data(chunk []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			l.partial = append(l.partial, chunk...)
			for len(l.partial) >= MaxLineLength {
				l.emitLocked(l.partial[:MaxLineLength])
				l.partial = append(l.partial[:0], l.partial[MaxLineLength:]...)
			}
			return
		}

		line := chunk[:i]
		if len(l.partial) > 0 {
			line = append(l.partial, line...)
		}
		l.emitLocked(bytes.TrimSuffix(line, []byte{'\r'}))
		l.partial = l.partial[:0]
		chunk = chunk[i+1:]
	}
}

// Close flushes an unterminated last line
func (l *LineSink) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	if len(l.partial) > 0 {
		l.emitLocked(l.partial)
		l.partial = nil
	}
}

func (l *LineSink) emitLocked(line []byte) {
	l.emit(domain.LogEntry{
		Timestamp: l.now(),
		Job:       l.job,
		Stream:    l.stream,
		Line:      string(line),
	})
}
