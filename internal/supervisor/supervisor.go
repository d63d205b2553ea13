//go:build linux

// Package supervisor runs one child process at a time and exchanges data
// with its standard streams through a reactor.
//
// # Security Model
//
// A Command is started directly with execve, never through a shell, so
// arguments are passed verbatim. Callers that want shell syntax wrap the
// command in "sh -c" themselves.
package supervisor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/charliek/procio/internal/constants"
	"github.com/charliek/procio/internal/domain"
	"github.com/charliek/procio/internal/reactor"
	"github.com/charliek/procio/internal/stream"
)

// Supervisor owns at most one live child. It is registered on a reactor as
// the source of its termination notifications, and every state transition
// after a spawn happens on that reactor's thread.
type Supervisor struct {
	name      string
	logger    *slog.Logger
	chunkSize int

	reactor     *reactor.Reactor
	ownsReactor bool

	// stdin is handed out by StdIn and survives across runs
	stdin *stream.Output

	mu       sync.Mutex
	state    domain.RunState
	closed   bool
	notifyFd int
	pid      int
	reaped   bool
	// orphaned is set when the reactor went away under a live child
	orphaned    bool
	onTerminate func(domain.RunResult)
	stdout      *stream.Input
	stderr      *stream.Input
	result      domain.RunResult
	hasResult   bool
	done        chan struct{}
	runs        int
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithReactor attaches the supervisor to a caller-owned reactor under name.
// The caller starts and shuts down that reactor; name must be unique on it.
func WithReactor(r *reactor.Reactor, name string) Option {
	return func(s *Supervisor) {
		s.reactor = r
		if name != "" {
			s.name = name
		}
	}
}

// WithLogger sets the logger for spawn and reap diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithChunkSize sets how many bytes one stdout or stderr read may deliver.
func WithChunkSize(n int) Option {
	return func(s *Supervisor) {
		s.chunkSize = min(max(n, constants.MinReadChunkSize), constants.MaxReadChunkSize)
	}
}

// New creates an idle supervisor. Without WithReactor it creates, starts
// and owns a private reactor that Close shuts down.
func New(opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		name:      "supervisor",
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		chunkSize: constants.DefaultReadChunkSize,
		stdin:     stream.NewOutput(),
		state:     domain.RunStateIdle,
		notifyFd:  -1,
	}
	for _, opt := range opts {
		opt(s)
	}

	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("creating termination eventfd: %w", err)
	}
	s.notifyFd = fd

	if s.reactor == nil {
		r, err := reactor.New(reactor.WithLogger(s.logger))
		if err != nil {
			unix.Close(fd)
			return nil, err
		}
		s.reactor = r
		s.ownsReactor = true
	}

	if err := s.reactor.Register(s.name, s); err != nil {
		unix.Close(fd)
		if s.ownsReactor {
			s.reactor.Shutdown()
		}
		return nil, err
	}
	if s.ownsReactor {
		if err := s.reactor.Start(); err != nil {
			s.reactor.Shutdown()
			return nil, err
		}
	}
	return s, nil
}

// Run spawns cmd. Output is delivered to stdout and stderr on the reactor
// thread; a nil sink discards. onTerminate, if set, runs on the reactor
// thread exactly once with the outcome, including when the program could
// not be started at all. It must not block on this supervisor.
//
// Run fails only for misuse: a run already in flight, a closed supervisor
// or a reactor that is not running.
func (s *Supervisor) Run(cmd Command, onTerminate func(domain.RunResult), stdout, stderr stream.Sink) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return domain.ErrSupervisorClosed
	case s.state.IsActive():
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", s.name, domain.ErrAlreadyRunning)
	case !s.reactor.Running():
		s.mu.Unlock()
		return fmt.Errorf("%s: reactor not running: %w", s.name, domain.ErrReactorClosed)
	}

	if stdout == nil {
		stdout = stream.Discard()
	}
	if stderr == nil {
		stderr = stream.Discard()
	}

	prev := s.state
	s.state = domain.RunStateSpawning
	s.done = make(chan struct{})
	s.onTerminate = onTerminate
	s.result, s.hasResult = domain.RunResult{}, false
	s.reaped, s.orphaned = false, false
	s.runs++
	run := s.runs

	c, err := spawn(cmd)
	if err != nil {
		s.logger.Warn("spawn failed", "supervisor", s.name, "run", run, "cmd", cmd.String(), "error", err)
		result := domain.SpawnFailure(cmd.Name(), err)
		s.mu.Unlock()

		// Post may run inline on a reactor that just shut down, so s.mu is
		// released first.
		s.reactor.Post(func() {
			stdout.Close()
			stderr.Close()
			s.complete(result)
		})
		return nil
	}

	s.pid = c.pid
	s.state = domain.RunStateRunning
	s.stdin.Attach(c.stdin, s.reactor)
	s.stdout = stream.NewInput(c.stdout, stdout, s.chunkSize)
	s.stderr = stream.NewInput(c.stderr, stderr, s.chunkSize)

	if err := s.registerChannelsLocked(); err != nil {
		s.abandonLocked(c.pid, prev)
		s.mu.Unlock()
		return err
	}

	terminations.watch(c.pid, s)
	// SIGCHLD may have fired before the pid was watched.
	s.notifyLocked()
	s.logger.Debug("spawned", "supervisor", s.name, "run", run, "pid", c.pid, "cmd", cmd.String())
	s.mu.Unlock()
	return nil
}

// registerChannelsLocked puts the three stream channels on the reactor. On
// failure the channels already registered are removed and the rest closed.
func (s *Supervisor) registerChannelsLocked() error {
	channels := []struct {
		name string
		src  interface {
			reactor.Source
			reactor.Detacher
		}
	}{
		{s.name + "/stdin", s.stdin},
		{s.name + "/stdout", s.stdout},
		{s.name + "/stderr", s.stderr},
	}

	for i, ch := range channels {
		if err := s.reactor.Register(ch.name, ch.src); err != nil {
			for _, done := range channels[:i] {
				s.reactor.Remove(done.src)
			}
			for _, rest := range channels[i:] {
				rest.src.Detached()
			}
			return fmt.Errorf("%s: registering %s: %w", s.name, ch.name, err)
		}
	}
	return nil
}

// abandonLocked kills and collects a child whose channels could not be
// registered, and rolls the state back. No result is produced.
func (s *Supervisor) abandonLocked(pid int, prev domain.RunState) {
	if err := unix.Kill(pid, sigkill); err != nil {
		s.logger.Warn("killing unregistered child", "supervisor", s.name, "pid", pid, "error", err)
	}
	if _, err := waitBlocking(pid); err != nil {
		panic(fmt.Sprintf("supervisor %s: collecting pid %d: %v", s.name, pid, err))
	}
	s.state = prev
	s.stdout, s.stderr = nil, nil
	s.onTerminate = nil
	close(s.done)
}

// WaitTermination blocks until the current run has terminated. It returns
// at once if nothing was ever run. It must not be called from a callback.
func (s *Supervisor) WaitTermination() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// WaitTerminationContext is WaitTermination bounded by ctx.
func (s *Supervisor) WaitTerminationContext(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop asks the child to exit with SIGTERM and escalates to SIGKILL when
// ctx ends first. It returns once the run has terminated.
func (s *Supervisor) Stop(ctx context.Context) error {
	if err := s.Signal(sigterm); err != nil {
		s.WaitTermination()
		return nil
	}
	if err := s.WaitTerminationContext(ctx); err != nil {
		s.logger.Debug("child ignored SIGTERM, killing", "supervisor", s.name, "pid", s.ChildPid())
		_ = s.Signal(sigkill)
		s.WaitTermination()
	}
	return nil
}

// Signal delivers sig to the live child.
func (s *Supervisor) Signal(sig syscall.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.RunStateRunning || s.reaped {
		return domain.ErrNotRunning
	}
	if err := unix.Kill(s.pid, sig); err != nil {
		return fmt.Errorf("signalling pid %d: %w", s.pid, err)
	}
	return nil
}

// ChildPid returns the pid of the most recently spawned child, or 0.
func (s *Supervisor) ChildPid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// StdIn returns the channel feeding the child's stdin. The same handle is
// returned for every run.
func (s *Supervisor) StdIn() *stream.Output {
	return s.stdin
}

// State returns where the current run is in its lifecycle.
func (s *Supervisor) State() domain.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the outcome of the last completed run.
func (s *Supervisor) Result() (domain.RunResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.hasResult
}

// Close refuses further runs. A live child gets end of file on its stdin
// and is waited for. A private reactor is shut down; on a shared one the
// supervisor only removes itself.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	active := s.state.IsActive()
	s.mu.Unlock()

	if active {
		s.stdin.RequestClose()
		s.WaitTermination()
	}
	if s.ownsReactor {
		s.reactor.Shutdown()
	} else {
		s.reactor.Remove(s)
	}
	return nil
}

// Interests watches the termination eventfd.
func (s *Supervisor) Interests() []reactor.Interest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []reactor.Interest{{Fd: s.notifyFd, Events: reactor.Readable}}
}

// HandleEvent runs on the reactor thread after a termination notification.
func (s *Supervisor) HandleEvent(r *reactor.Reactor, fd int, ev reactor.Events) {
	s.mu.Lock()
	if s.notifyFd >= 0 {
		var buf [8]byte
		for {
			if _, err := unix.Read(s.notifyFd, buf[:]); !errors.Is(err, unix.EINTR) {
				break
			}
		}
	}
	s.mu.Unlock()

	s.reap()
}

// Detached closes the notification eventfd. If the reactor was shut down
// under a live child, the child is collected on a separate goroutine so
// that waiters are still released.
func (s *Supervisor) Detached() {
	s.mu.Lock()
	if s.notifyFd >= 0 {
		unix.Close(s.notifyFd)
		s.notifyFd = -1
	}
	orphan := s.state == domain.RunStateRunning && !s.reaped && !s.orphaned
	if orphan {
		s.orphaned = true
	}
	pid := s.pid
	s.mu.Unlock()

	if orphan {
		s.logger.Warn("reactor detached a live child, collecting it directly", "supervisor", s.name, "pid", pid)
		go s.collect(pid)
	}
}

// notifyTermination is called by the SIGCHLD watcher from any goroutine.
func (s *Supervisor) notifyTermination() {
	s.mu.Lock()
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *Supervisor) notifyLocked() {
	if s.notifyFd < 0 {
		return
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(s.notifyFd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		s.logger.Warn("notifying supervisor", "supervisor", s.name, "error", err)
	}
}

// reap checks the supervisor's own child without blocking. It runs on the
// reactor thread only.
func (s *Supervisor) reap() {
	s.mu.Lock()
	if s.state != domain.RunStateRunning || s.reaped || s.orphaned {
		s.mu.Unlock()
		return
	}

	var status unix.WaitStatus
	var pid int
	var err error
	for {
		pid, err = unix.Wait4(s.pid, &status, unix.WNOHANG, nil)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		s.mu.Unlock()
		// Someone else collected our child: every later result would be a lie.
		panic(fmt.Sprintf("supervisor %s: wait4(%d): %v", s.name, s.pid, err))
	}
	if pid == 0 {
		s.mu.Unlock()
		return
	}

	s.reaped = true
	stdout, stderr := s.stdout, s.stderr
	s.mu.Unlock()

	terminations.forget(pid)
	result := domain.ResultFromStatus(syscall.WaitStatus(status))
	s.logger.Debug("reaped", "supervisor", s.name, "pid", pid, "result", result.String())

	stdout.Drain()
	stderr.Drain()
	s.complete(result)
}

// collect waits for an orphaned child off the reactor thread.
func (s *Supervisor) collect(pid int) {
	terminations.forget(pid)
	status, err := waitBlocking(pid)
	if err != nil {
		panic(fmt.Sprintf("supervisor %s: collecting pid %d: %v", s.name, pid, err))
	}

	s.mu.Lock()
	s.reaped = true
	s.mu.Unlock()

	s.complete(domain.ResultFromStatus(syscall.WaitStatus(status)))
}

// complete records the result, reports it, retires the run's channels and
// schedules the final transition behind those removals.
func (s *Supervisor) complete(result domain.RunResult) {
	s.mu.Lock()
	s.result, s.hasResult = result, true
	onTerminate := s.onTerminate
	s.onTerminate = nil
	stdout, stderr := s.stdout, s.stderr
	s.mu.Unlock()

	if onTerminate != nil {
		onTerminate(result)
	}

	if stdout != nil {
		s.reactor.Remove(stdout)
	}
	if stderr != nil {
		s.reactor.Remove(stderr)
	}
	s.reactor.Remove(s.stdin)
	s.reactor.Post(s.terminated)
}

func (s *Supervisor) terminated() {
	s.mu.Lock()
	s.state = domain.RunStateTerminated
	s.stdout, s.stderr = nil, nil
	done := s.done
	s.mu.Unlock()

	close(done)
}
