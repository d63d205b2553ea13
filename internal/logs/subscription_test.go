package logs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charliek/procio/internal/domain"
)

func TestSubscription_Send(t *testing.T) {
	sub, err := newSubscription(domain.LogFilter{}, 10)
	require.NoError(t, err)

	assert.True(t, sub.Send(makeEntry("hello")))
	received := <-sub.Channel()
	assert.Equal(t, "hello", received.Line)
}

func TestSubscription_Filter(t *testing.T) {
	sub, err := newSubscription(domain.LogFilter{Jobs: []string{"web"}}, 10)
	require.NoError(t, err)

	sub.Send(makeJobEntry("web", "hello"))
	assert.True(t, sub.Send(makeJobEntry("api", "hello")), "filtered entries are not failures")

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "web", msg.Job)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected to receive message")
	}
	assert.Len(t, sub.Channel(), 0)
}

func TestSubscription_FullChannelDrops(t *testing.T) {
	sub, err := newSubscription(domain.LogFilter{}, 2)
	require.NoError(t, err)

	assert.True(t, sub.Send(makeEntry("1")))
	assert.True(t, sub.Send(makeEntry("2")))
	assert.False(t, sub.Send(makeEntry("3")))
	assert.Equal(t, uint64(1), sub.Dropped())
}

func TestSubscription_Close(t *testing.T) {
	sub, err := newSubscription(domain.LogFilter{}, 10)
	require.NoError(t, err)

	sub.Close()
	sub.Close()

	assert.False(t, sub.Send(makeEntry("hello")))
	_, ok := <-sub.Channel()
	assert.False(t, ok)
}

func TestSubscriptionManager(t *testing.T) {
	m := NewSubscriptionManager(10, nil)

	a, err := m.Subscribe(domain.LogFilter{})
	require.NoError(t, err)
	b, err := m.Subscribe(domain.LogFilter{Jobs: []string{"api"}})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, m.Count())

	m.Broadcast(makeJobEntry("web", "x"))
	assert.Len(t, a.Channel(), 1)
	assert.Len(t, b.Channel(), 0)

	m.Unsubscribe(a.ID())
	assert.Equal(t, 1, m.Count())
	m.Unsubscribe("sub-does-not-exist")

	m.Close()
	assert.Equal(t, 0, m.Count())
	_, ok := <-b.Channel()
	assert.False(t, ok)
}

func TestSubscriptionManager_ConcurrentBroadcast(t *testing.T) {
	m := NewSubscriptionManager(1000, nil)
	sub, err := m.Subscribe(domain.LogFilter{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Broadcast(makeEntry("x"))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, sub.Channel(), 500)
	m.Close()
}
