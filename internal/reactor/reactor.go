//go:build linux

// Package reactor multiplexes readiness notifications for many file
// descriptors onto one dedicated OS thread.
//
// Handlers run synchronously on that thread. Registration may happen from
// any goroutine, while removals requested during a running loop are queued
// and applied only once the current dispatch pass has delivered every event
// it collected.
package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/charliek/procio/internal/constants"
	"github.com/charliek/procio/internal/domain"
)

type loopState int

const (
	stateIdle loopState = iota
	stateRunning
	stateClosed
)

type registration struct {
	name   string
	source Source
	fds    []int
}

type readyEvent struct {
	reg *registration
	fd  int
	ev  Events
}

// Reactor owns an epoll instance and the goroutine (locked to its own OS
// thread) that waits on it.
type Reactor struct {
	logger    *slog.Logger
	maxEvents int

	mu       sync.Mutex
	state    loopState
	stopping bool
	epfd     int
	wakefd   int
	byName   map[string]*registration
	bySource map[Source]*registration
	byFd     map[int]*registration
	removals []Source
	tasks    []func()

	// batch is only touched by the loop goroutine
	batch []readyEvent

	done         chan struct{}
	shutdownOnce sync.Once
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithLogger sets the logger used for loop diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reactor) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxEvents sets how many readiness events one pass may collect.
func WithMaxEvents(n int) Option {
	return func(r *Reactor) {
		if n > 0 {
			r.maxEvents = n
		}
	}
}

// New creates a reactor. It does not poll until Start is called.
func New(opts ...Option) (*Reactor, error) {
	r := &Reactor{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxEvents: constants.DefaultMaxEvents,
		epfd:      -1,
		wakefd:    -1,
		byName:    make(map[string]*registration),
		bySource:  make(map[Source]*registration),
		byFd:      make(map[int]*registration),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("creating epoll instance: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("creating wake eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("watching wake eventfd: %w", err)
	}

	r.epfd = epfd
	r.wakefd = wakefd
	return r, nil
}

// Register attaches every descriptor the source is interested in. Names and
// sources must be unique within a reactor.
func (r *Reactor) Register(name string, src Source) error {
	// Interests may take the source's own lock; never call it under r.mu.
	interests := src.Interests()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == stateClosed {
		return fmt.Errorf("registering %q: %w", name, domain.ErrReactorClosed)
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: name %q", domain.ErrDuplicateSource, name)
	}
	if existing, exists := r.bySource[src]; exists {
		return fmt.Errorf("%w: source already registered as %q", domain.ErrDuplicateSource, existing.name)
	}

	reg := &registration{name: name, source: src}
	for _, in := range interests {
		if owner, taken := r.byFd[in.Fd]; taken {
			r.unwatchLocked(reg)
			return fmt.Errorf("%w: fd %d already watched for %q", domain.ErrDuplicateSource, in.Fd, owner.name)
		}
		ev := unix.EpollEvent{Events: uint32(in.Events), Fd: int32(in.Fd)}
		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, in.Fd, &ev); err != nil {
			r.unwatchLocked(reg)
			return fmt.Errorf("watching fd %d for %q: %w", in.Fd, name, err)
		}
		reg.fds = append(reg.fds, in.Fd)
		r.byFd[in.Fd] = reg
	}

	r.byName[name] = reg
	r.bySource[src] = reg
	return nil
}

// Remove detaches a source. While the loop runs, the removal is queued and
// applied after the current dispatch pass; otherwise it happens at once.
// Removing a source that is not registered does nothing.
func (r *Reactor) Remove(src Source) {
	r.mu.Lock()
	if r.state == stateRunning {
		r.removals = append(r.removals, src)
		r.wakeLocked()
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.detach(src)
}

// Post runs fn on the reactor thread after the current pass and the
// removals queued before it. After Shutdown, fn runs immediately on the
// calling goroutine.
func (r *Reactor) Post(fn func()) {
	r.mu.Lock()
	if r.state == stateClosed {
		r.mu.Unlock()
		fn()
		return
	}
	r.tasks = append(r.tasks, fn)
	r.wakeLocked()
	r.mu.Unlock()
}

// Start launches the loop thread. Starting a running reactor is a no-op.
func (r *Reactor) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateRunning:
		return nil
	case stateClosed:
		return domain.ErrReactorClosed
	}
	r.state = stateRunning
	go r.loop()
	return nil
}

// Running reports whether the loop is active and not shutting down.
func (r *Reactor) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateRunning && !r.stopping
}

// Len returns the number of registered sources.
func (r *Reactor) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}

// Shutdown stops and joins the loop thread, then applies queued removals,
// runs queued tasks and detaches every remaining source. It is idempotent,
// and must not be called from a handler running on the reactor thread.
func (r *Reactor) Shutdown() {
	r.shutdownOnce.Do(r.shutdown)
}

func (r *Reactor) shutdown() {
	r.mu.Lock()
	started := r.state == stateRunning
	r.stopping = true
	r.wakeLocked()
	r.mu.Unlock()

	if started {
		<-r.done
	}

	r.mu.Lock()
	r.state = stateClosed
	removals, tasks := r.removals, r.tasks
	r.removals, r.tasks = nil, nil
	r.mu.Unlock()

	for _, src := range removals {
		r.detach(src)
	}
	for _, fn := range tasks {
		fn()
	}

	r.mu.Lock()
	remaining := make([]Source, 0, len(r.bySource))
	for src := range r.bySource {
		remaining = append(remaining, src)
	}
	r.mu.Unlock()
	for _, src := range remaining {
		r.detach(src)
	}

	r.mu.Lock()
	unix.Close(r.wakefd)
	unix.Close(r.epfd)
	r.wakefd, r.epfd = -1, -1
	r.mu.Unlock()
}

func (r *Reactor) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(r.done)

	events := make([]unix.EpollEvent, r.maxEvents)
	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			r.logger.Error("reactor wait failed, stopping loop", "error", err)
			return
		}
		r.dispatch(events[:n])
		if r.finishPass() {
			return
		}
	}
}

// dispatch delivers one pass of events. The lock is only held while the
// ready set is resolved, so handlers are free to register, remove and post.
func (r *Reactor) dispatch(events []unix.EpollEvent) {
	batch := r.batch[:0]

	r.mu.Lock()
	for _, e := range events {
		fd := int(e.Fd)
		if fd == r.wakefd {
			r.drainWakeLocked()
			continue
		}
		reg, ok := r.byFd[fd]
		if !ok {
			continue
		}
		batch = append(batch, readyEvent{reg: reg, fd: fd, ev: Events(e.Events)})
	}
	r.mu.Unlock()

	for _, re := range batch {
		re.reg.source.HandleEvent(r, re.fd, re.ev)
	}
	clear(batch)
	r.batch = batch
}

// finishPass applies queued removals then queued tasks, repeating until both
// queues are empty. It reports whether the loop should exit.
func (r *Reactor) finishPass() bool {
	for {
		r.mu.Lock()
		removals, tasks := r.removals, r.tasks
		r.removals, r.tasks = nil, nil
		stop := r.stopping
		r.mu.Unlock()

		if len(removals) == 0 && len(tasks) == 0 {
			return stop
		}
		for _, src := range removals {
			r.detach(src)
		}
		for _, fn := range tasks {
			fn()
		}
	}
}

func (r *Reactor) detach(src Source) {
	r.mu.Lock()
	reg, ok := r.bySource[src]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.bySource, src)
	delete(r.byName, reg.name)
	r.unwatchLocked(reg)
	r.mu.Unlock()

	if d, ok := src.(Detacher); ok {
		d.Detached()
	}
}

func (r *Reactor) unwatchLocked(reg *registration) {
	for _, fd := range reg.fds {
		if r.byFd[fd] != reg {
			continue
		}
		delete(r.byFd, fd)
		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil &&
			!errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
			r.logger.Warn("unwatching fd", "fd", fd, "source", reg.name, "error", err)
		}
	}
	reg.fds = nil
}

func (r *Reactor) wakeLocked() {
	if r.wakefd < 0 {
		return
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(r.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		r.logger.Warn("waking reactor", "error", err)
	}
}

func (r *Reactor) drainWakeLocked() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakefd, buf[:]); !errors.Is(err, unix.EINTR) {
			return
		}
	}
}
