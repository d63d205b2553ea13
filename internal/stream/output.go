//go:build linux

package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/charliek/procio/internal/constants"
	"github.com/charliek/procio/internal/domain"
	"github.com/charliek/procio/internal/reactor"
)

// Output is the write end of a child's stdin. One Output is reused across
// the runs of a supervisor, so handles taken before a run stay valid.
//
// Write and RequestClose are safe to call from any goroutine while the
// reactor thread is servicing the same run.
type Output struct {
	mu       sync.Mutex
	fd       int
	reactor  *reactor.Reactor
	closing  bool
	pending  []byte
	closedCh chan struct{}

	bytesSent atomic.Uint64
	writable  chan struct{}
}

// NewOutput creates an Output with nothing attached; writes fail until a
// run attaches a descriptor.
func NewOutput() *Output {
	closed := make(chan struct{})
	close(closed)
	return &Output{
		fd:       -1,
		closedCh: closed,
		writable: make(chan struct{}, 1),
	}
}

// Attach binds the write end of a new run's stdin pipe. The descriptor must
// already be non-blocking. The reactor is used to flush a pending tail and
// to retire the descriptor on close.
func (o *Output) Attach(fd int, r *reactor.Reactor) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.fd = fd
	o.reactor = r
	o.closing = false
	o.pending = nil
	o.closedCh = make(chan struct{})
	select {
	case <-o.writable:
	default:
	}
}

// Write hands the whole buffer to the child without blocking. It returns
// false, counting nothing, when the pipe is full, when no run is attached or
// after close; the caller must resubmit the same bytes later.
//
// A write of at most PIPE_BUF bytes is atomic. When the kernel accepts only
// part of a larger buffer, the remainder is flushed by the reactor as the
// child reads, and later writes return false until it is gone.
func (o *Output) Write(b []byte) bool {
	o.mu.Lock()
	if o.fd < 0 || o.closing || len(o.pending) > 0 {
		o.mu.Unlock()
		return false
	}
	if len(b) == 0 {
		o.mu.Unlock()
		return true
	}

	n, err := o.writeLocked(b)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			o.mu.Unlock()
			return false
		}
		// EPIPE and friends: the child is gone, nothing more can be sent.
		o.closing = true
		r := o.reactor
		o.mu.Unlock()
		o.retire(r)
		return false
	}
	if n < len(b) {
		o.pending = append([]byte(nil), b[n:]...)
	}
	o.bytesSent.Add(uint64(len(b)))
	o.mu.Unlock()
	return true
}

// WriteAll writes data in chunks, waiting for the pipe to drain whenever it
// is full. Unlike Write it blocks the calling goroutine, never the reactor.
func (o *Output) WriteAll(ctx context.Context, data []byte) error {
	for len(data) > 0 {
		chunk := data
		if len(chunk) > constants.DefaultWriteChunkSize {
			chunk = chunk[:constants.DefaultWriteChunkSize]
		}
		if o.Write(chunk) {
			data = data[len(chunk):]
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, constants.WritableRetryInterval)
		err := o.WaitWritable(waitCtx)
		cancel()
		if err != nil && !(errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
			return err
		}
	}
	return nil
}

// RequestClose stops further writes. The descriptor is closed by the
// reactor once any pending tail has been flushed, and the child then reads
// end of file.
func (o *Output) RequestClose() {
	o.mu.Lock()
	if o.fd < 0 || o.closing {
		o.mu.Unlock()
		return
	}
	o.closing = true
	retire := len(o.pending) == 0
	r := o.reactor
	o.mu.Unlock()

	if retire {
		o.retire(r)
	}
}

// BytesSent returns the number of bytes accepted by Write over the life of
// this handle. A buffer counts in full once accepted, including a pending
// tail that is dropped if the child stops reading before the reactor
// flushes it.
func (o *Output) BytesSent() uint64 {
	return o.bytesSent.Load()
}

// Closed reports whether writes are currently refused for good.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fd < 0 || o.closing
}

// WaitWritable blocks until the reactor sees the pipe become writable, the
// channel closes, or ctx ends.
func (o *Output) WaitWritable(ctx context.Context) error {
	o.mu.Lock()
	fd, closedCh := o.fd, o.closedCh
	o.mu.Unlock()

	if fd < 0 {
		return domain.ErrStreamClosed
	}
	select {
	case <-o.writable:
		return nil
	case <-closedCh:
		return domain.ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interests watches the write end for writable edges.
func (o *Output) Interests() []reactor.Interest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return []reactor.Interest{{Fd: o.fd, Events: reactor.Writable | reactor.EdgeTriggered}}
}

// HandleEvent runs on each writable edge: it flushes a pending tail and
// retires the descriptor once a requested close can proceed.
func (o *Output) HandleEvent(r *reactor.Reactor, fd int, ev reactor.Events) {
	o.mu.Lock()
	if fd != o.fd {
		o.mu.Unlock()
		return
	}

	if ev.Has(reactor.Error) {
		o.closing = true
		o.pending = nil
	} else if len(o.pending) > 0 {
		n, err := o.writeLocked(o.pending)
		switch {
		case err == nil:
			o.pending = o.pending[n:]
		case !errors.Is(err, unix.EAGAIN):
			o.closing = true
			o.pending = nil
		}
	}
	if len(o.pending) == 0 {
		o.pending = nil
	}
	retire := o.closing && o.pending == nil
	o.mu.Unlock()

	o.signalWritable()
	if retire {
		r.Remove(o)
	}
}

// Detached closes the descriptor and wakes anyone waiting to write.
func (o *Output) Detached() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fd < 0 {
		return
	}
	unix.Close(o.fd)
	o.fd = -1
	o.closing = true
	o.pending = nil
	close(o.closedCh)
}

func (o *Output) writeLocked(b []byte) (int, error) {
	for {
		n, err := unix.Write(o.fd, b)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

// retire hands the descriptor back to the reactor, which closes it in
// Detached once it is out of the poll set.
func (o *Output) retire(r *reactor.Reactor) {
	if r == nil {
		o.Detached()
		return
	}
	r.Remove(o)
}

func (o *Output) signalWritable() {
	select {
	case o.writable <- struct{}{}:
	default:
	}
}
