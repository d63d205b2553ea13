//go:build linux

package reactor

import "golang.org/x/sys/unix"

// Events is a readiness mask as reported by epoll.
type Events uint32

const (
	Readable      Events = unix.EPOLLIN
	Writable      Events = unix.EPOLLOUT
	Hangup        Events = unix.EPOLLHUP
	Error         Events = unix.EPOLLERR
	EdgeTriggered Events = unix.EPOLLET
)

// Has reports whether any of the bits in e are set.
func (ev Events) Has(e Events) bool {
	return ev&e != 0
}

// Interest asks the reactor to watch one descriptor for the given events.
type Interest struct {
	Fd     int
	Events Events
}

// Source is anything the reactor can poll: it names the descriptors it wants
// watched and handles their readiness on the reactor thread.
//
// Sources are used as map keys and must be comparable, in practice pointers.
// HandleEvent must not block; it stalls every other source on the reactor.
type Source interface {
	Interests() []Interest
	HandleEvent(r *Reactor, fd int, ev Events)
}

// Detacher is implemented by sources that own their descriptors. Detached is
// called once, after the source's descriptors have been removed from the
// poll set, and is the place to close them.
type Detacher interface {
	Detached()
}
