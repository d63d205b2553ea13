//go:build linux

package supervisor

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// terminationRegistry turns the process-wide SIGCHLD into per-supervisor
// notifications. SIGCHLD carries no reliable pid, so every supervisor with
// a live child is told to check its own pid.
type terminationRegistry struct {
	once   sync.Once
	mu     sync.Mutex
	owners map[int]*Supervisor
}

var terminations = &terminationRegistry{owners: make(map[int]*Supervisor)}

// watch registers pid as owned by s, installing the SIGCHLD watcher on
// first use.
func (t *terminationRegistry) watch(pid int, s *Supervisor) {
	t.once.Do(t.start)

	t.mu.Lock()
	t.owners[pid] = s
	t.mu.Unlock()
}

func (t *terminationRegistry) forget(pid int) {
	t.mu.Lock()
	delete(t.owners, pid)
	t.mu.Unlock()
}

// live returns the number of watched pids.
func (t *terminationRegistry) live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.owners)
}

func (t *terminationRegistry) start() {
	// Coalescing is fine: one pending broadcast covers every exit before it.
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGCHLD)
	go func() {
		for range ch {
			t.broadcast()
		}
	}()
}

func (t *terminationRegistry) broadcast() {
	t.mu.Lock()
	owners := make([]*Supervisor, 0, len(t.owners))
	for _, s := range t.owners {
		owners = append(owners, s)
	}
	t.mu.Unlock()

	for _, s := range owners {
		s.notifyTermination()
	}
}
