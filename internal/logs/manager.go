package logs

import (
	"log/slog"

	"github.com/charliek/procio/internal/domain"
)

// ManagerConfig holds configuration for the log manager
type ManagerConfig struct {
	BufferSize         int // Number of lines kept across all jobs
	SubscriptionBuffer int // Buffer size for subscription channels
	Logger             *slog.Logger
}

// DefaultManagerConfig returns the default configuration
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BufferSize:         DefaultBufferSize,
		SubscriptionBuffer: 100,
	}
}

// Manager stores the recent output lines of every job and streams new ones
// to subscribers.
type Manager struct {
	buffer        *RingBuffer[domain.LogEntry]
	subscriptions *SubscriptionManager
}

// NewManager creates a new log manager
func NewManager(config ManagerConfig) *Manager {
	defaults := DefaultManagerConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.SubscriptionBuffer <= 0 {
		config.SubscriptionBuffer = defaults.SubscriptionBuffer
	}

	return &Manager{
		buffer:        NewRingBuffer[domain.LogEntry](config.BufferSize),
		subscriptions: NewSubscriptionManager(config.SubscriptionBuffer, config.Logger),
	}
}

// Write stores an entry and broadcasts it to subscribers
func (m *Manager) Write(entry domain.LogEntry) {
	m.buffer.Write(entry)
	m.subscriptions.Broadcast(entry)
}

// Sink returns a stream sink that records the job's output on s line by line.
func (m *Manager) Sink(job string, s domain.Stream) *LineSink {
	return NewLineSink(job, s, m.Write)
}

// QueryLast returns the last n entries matching filter and the number of
// matches before trimming. n <= 0 returns every match.
func (m *Manager) QueryLast(filter domain.LogFilter, n int) ([]domain.LogEntry, int, error) {
	return FilterEntriesLast(m.buffer.Read(), filter, n)
}

// Subscribe creates a live subscription for entries matching filter
func (m *Manager) Subscribe(filter domain.LogFilter) (*Subscription, error) {
	return m.subscriptions.Subscribe(filter)
}

// Unsubscribe removes a subscription
func (m *Manager) Unsubscribe(id string) {
	m.subscriptions.Unsubscribe(id)
}

// Count returns the number of stored entries
func (m *Manager) Count() int {
	return m.buffer.Count()
}

// Close closes all subscriptions
func (m *Manager) Close() {
	m.subscriptions.Close()
}
