package events

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	lotterytesting "github.com/malbeclabs/lottery/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLottery_Events_New(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 7200))
	round := uint64(4)
	ev, err := New(KindRewardClaimed, at, &round, RewardClaimed{
		Winner:        lotterytesting.Addr(1),
		WinningTicket: 3,
		Payout:        big.NewInt(100),
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.Equal(t, time.UTC, ev.OccurredAt.Location())
	assert.JSONEq(t, `{"winner":"0x0000000000000000000000000000000000001001","winning_ticket":3,"payout":100}`, string(ev.Data))
}

func TestLottery_Events_Bus(t *testing.T) {
	t.Parallel()

	bus, err := NewBus(BusConfig{Logger: lotterytesting.NewLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	round := uint64(0)
	ev, err := New(KindRoundCreated, time.Now(), &round, RoundCreated{Category: 2, TicketPrice: big.NewInt(100)})
	require.NoError(t, err)
	ev.Seq = 9
	require.NoError(t, bus.Publish(ctx, ev))

	select {
	case msg := <-msgs:
		got, err := Decode(msg)
		require.NoError(t, err)
		msg.Ack()
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, uint64(9), got.Seq)
		assert.Equal(t, KindRoundCreated, got.Kind)
		require.NotNil(t, got.RoundID)
		assert.Equal(t, uint64(0), *got.RoundID)
		assert.Equal(t, string(KindRoundCreated), msg.Metadata.Get("kind"))
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestLottery_Events_Discard(t *testing.T) {
	t.Parallel()
	require.NoError(t, Discard{}.Publish(context.Background(), Event{}))
}
