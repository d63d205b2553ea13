//go:build linux

package stream

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/charliek/procio/internal/constants"
	"github.com/charliek/procio/internal/reactor"
)

// Input is the read end of a child's stdout or stderr. All of its methods
// run on the reactor thread.
type Input struct {
	fd   int
	sink Sink
	buf  []byte
	eof  bool
}

// NewInput wraps a non-blocking read descriptor. A nil sink discards.
func NewInput(fd int, sink Sink, chunkSize int) *Input {
	if sink == nil {
		sink = Discard()
	}
	if chunkSize <= 0 {
		chunkSize = constants.DefaultReadChunkSize
	}
	return &Input{fd: fd, sink: sink, buf: make([]byte, chunkSize)}
}

// Fd returns the descriptor, or -1 once closed.
func (in *Input) Fd() int {
	return in.fd
}

// EOF reports whether the end of the stream has been observed.
func (in *Input) EOF() bool {
	return in.eof
}

// Interests watches the read end for data and hangup.
func (in *Input) Interests() []reactor.Interest {
	return []reactor.Interest{{Fd: in.fd, Events: reactor.Readable}}
}

// HandleEvent reads one chunk. End of stream, or any read failure other
// than would-block, closes the sink and removes the channel.
func (in *Input) HandleEvent(r *reactor.Reactor, fd int, ev reactor.Events) {
	if in.eof || in.fd < 0 {
		return
	}
	if !in.readOnce() {
		r.Remove(in)
	}
}

// Drain reads until the pipe is empty or the stream ends, bounded so that a
// descendant still holding the write end cannot pin the reactor.
func (in *Input) Drain() {
	for i := 0; i < constants.MaxDrainReads && !in.eof && in.fd >= 0; i++ {
		n, err := in.read()
		if n > 0 {
			in.deliver(n)
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			return
		}
		in.finish()
	}
}

// Detached closes the sink if the stream never reached EOF, then the fd.
func (in *Input) Detached() {
	in.finish()
	if in.fd >= 0 {
		unix.Close(in.fd)
		in.fd = -1
	}
}

// readOnce performs one read and reports whether the stream is still open.
func (in *Input) readOnce() bool {
	n, err := in.read()
	switch {
	case n > 0:
		in.deliver(n)
		return true
	case errors.Is(err, unix.EAGAIN):
		return true
	default:
		in.finish()
		return false
	}
}

func (in *Input) read() (int, error) {
	for {
		n, err := unix.Read(in.fd, in.buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

func (in *Input) deliver(n int) {
	chunk := make([]byte, n)
	copy(chunk, in.buf[:n])
	in.sink.Data(chunk)
}

func (in *Input) finish() {
	if in.eof {
		return
	}
	in.eof = true
	in.sink.Close()
}
