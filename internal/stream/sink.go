// Package stream wraps the parent ends of a child's standard streams.
//
// Input channels read stdout/stderr on the reactor thread and hand every
// chunk to a Sink, the delivery policy chosen by the caller. The Output
// channel is the child's stdin and may be written from any goroutine
// without ever blocking.
package stream

import (
	"bytes"
	"sync"
)

// Sink is the delivery policy of an input channel. Both methods are called
// on the reactor thread and must not block.
type Sink interface {
	// Data receives one chunk in arrival order. The slice is owned by the sink.
	Data(chunk []byte)
	// Close is called once when the stream ends.
	Close()
}

// CallbackSink forwards chunks to a function.
type CallbackSink struct {
	onData  func([]byte)
	onClose func()
}

// Callback builds a sink that calls onData for every chunk and onClose, when
// not nil, at end of stream.
func Callback(onData func([]byte), onClose func()) *CallbackSink {
	return &CallbackSink{onData: onData, onClose: onClose}
}

func (s *CallbackSink) Data(chunk []byte) {
	if s.onData != nil {
		s.onData(chunk)
	}
}

func (s *CallbackSink) Close() {
	if s.onClose != nil {
		s.onClose()
	}
}

// DiscardSink drops everything it receives. It keeps the child from blocking
// on a full pipe while still letting the channel observe end of stream.
type DiscardSink struct{}

// Discard returns the discarding sink.
func Discard() Sink {
	return DiscardSink{}
}

func (DiscardSink) Data([]byte) {}
func (DiscardSink) Close()      {}

// BufferSink accumulates a whole stream. It is safe to read from other
// goroutines while the reactor is still writing to it.
type BufferSink struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	done chan struct{}
	once sync.Once
}

// NewBufferSink creates an empty BufferSink.
func NewBufferSink() *BufferSink {
	return &BufferSink{done: make(chan struct{})}
}

func (s *BufferSink) Data(chunk []byte) {
	s.mu.Lock()
	s.buf.Write(chunk)
	s.mu.Unlock()
}

func (s *BufferSink) Close() {
	s.once.Do(func() { close(s.done) })
}

// Done is closed once the stream has ended.
func (s *BufferSink) Done() <-chan struct{} {
	return s.done
}

// Bytes returns a copy of everything received so far.
func (s *BufferSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.buf.Bytes())
}

// String returns everything received so far.
func (s *BufferSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
