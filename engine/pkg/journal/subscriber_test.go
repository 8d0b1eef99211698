package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/malbeclabs/lottery/engine/pkg/events"
	lotterytesting "github.com/malbeclabs/lottery/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signalingSource struct {
	*events.Bus
	subscribed chan struct{}
}

func (s *signalingSource) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	ch, err := s.Bus.Subscribe(ctx)
	close(s.subscribed)
	return ch, err
}

type mockAppender struct {
	mu         sync.Mutex
	AppendFunc func(evs ...events.Event) error
	stored     []events.Event
}

func (m *mockAppender) Append(_ context.Context, evs ...events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.AppendFunc(evs...); err != nil {
		return err
	}
	m.stored = append(m.stored, evs...)
	return nil
}

func (m *mockAppender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored)
}

func TestLottery_Journal_Subscriber_Run(t *testing.T) {
	t.Parallel()

	log := lotterytesting.NewLogger()
	bus, err := events.NewBus(events.BusConfig{Logger: log})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	src := &signalingSource{Bus: bus, subscribed: make(chan struct{})}

	var failures int
	store := &mockAppender{AppendFunc: func(evs ...events.Event) error {
		if failures == 0 {
			failures++
			return errors.New("connection refused")
		}
		return nil
	}}

	sub, err := NewSubscriber(SubscriberConfig{
		Logger:    log,
		Source:    src,
		Store:     store,
		NackDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()
	<-src.subscribed

	ev1, err := events.New(events.KindAutoRefillToggled, time.Now(), nil, events.AutoRefillToggled{Enabled: true})
	require.NoError(t, err)
	ev2, err := events.New(events.KindAutoRefillToggled, time.Now(), nil, events.AutoRefillToggled{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, ev1, ev2))

	require.Eventually(t, func() bool { return store.count() == 2 }, 5*time.Second, 10*time.Millisecond)
	store.mu.Lock()
	assert.Equal(t, ev1.ID, store.stored[0].ID)
	assert.Equal(t, ev2.ID, store.stored[1].ID)
	store.mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}

func TestLottery_Journal_IsTransient(t *testing.T) {
	t.Parallel()

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("syntax error at or near")))
	assert.True(t, IsTransient(errors.New("dial tcp: connection refused")))
	assert.True(t, IsTransient(errors.New("read: connection reset by peer")))
}
