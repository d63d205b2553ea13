package logs

import (
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/charliek/procio/internal/domain"
)

var subscriptionIDCounter atomic.Uint64

// Subscription delivers matching entries to one live reader
type Subscription struct {
	id      string
	ch      chan domain.LogEntry
	filter  *Filter
	closed  atomic.Bool
	dropped atomic.Uint64
}

func newSubscription(filter domain.LogFilter, bufferSize int) (*Subscription, error) {
	f, err := NewFilter(filter)
	if err != nil {
		return nil, err
	}

	return &Subscription{
		id:     "sub-" + strconv.FormatUint(subscriptionIDCounter.Add(1), 10),
		ch:     make(chan domain.LogEntry, bufferSize),
		filter: f,
	}, nil
}

// ID returns the subscription ID
func (s *Subscription) ID() string {
	return s.id
}

// Channel returns the channel for receiving log entries
func (s *Subscription) Channel() <-chan domain.LogEntry {
	return s.ch
}

// Dropped returns how many entries were lost to a full channel
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Send offers an entry without blocking. Output callbacks run on the
// reactor thread, so a slow reader loses entries instead of stalling it.
// Returns false if the entry was dropped or the subscription is closed.
func (s *Subscription) Send(entry domain.LogEntry) bool {
	if s.closed.Load() {
		return false
	}
	if !s.filter.Matches(entry) {
		return true
	}

	select {
	case s.ch <- entry:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Close closes the subscription
func (s *Subscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// SubscriptionManager fans entries out to subscriptions
type SubscriptionManager struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	bufferSize    int
	logger        *slog.Logger
}

// NewSubscriptionManager creates a new subscription manager
func NewSubscriptionManager(bufferSize int, logger *slog.Logger) *SubscriptionManager {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SubscriptionManager{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    bufferSize,
		logger:        logger,
	}
}

// Subscribe creates a new subscription
func (m *SubscriptionManager) Subscribe(filter domain.LogFilter) (*Subscription, error) {
	sub, err := newSubscription(filter, m.bufferSize)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.subscriptions[sub.id] = sub
	m.mu.Unlock()

	return sub, nil
}

// Unsubscribe removes and closes a subscription
func (m *SubscriptionManager) Unsubscribe(id string) {
	m.mu.Lock()
	sub, ok := m.subscriptions[id]
	delete(m.subscriptions, id)
	m.mu.Unlock()

	if ok {
		if n := sub.Dropped(); n > 0 {
			m.logger.Debug("subscription dropped entries", "subscription", id, "dropped", n)
		}
		sub.Close()
	}
}

// Broadcast sends an entry to all subscribers
func (m *SubscriptionManager) Broadcast(entry domain.LogEntry) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscriptions {
		sub.Send(entry)
	}
}

// Count returns the number of active subscriptions
func (m *SubscriptionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes all subscriptions
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	subs := m.subscriptions
	m.subscriptions = make(map[string]*Subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
