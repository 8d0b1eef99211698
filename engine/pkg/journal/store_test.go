package journal

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/malbeclabs/lottery/engine/pkg/events"
	lotterytesting "github.com/malbeclabs/lottery/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLottery_Journal_Store(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	log := lotterytesting.NewLogger()

	require.NoError(t, Migrate(log, db.ConnStr()))
	// Migrations are idempotent.
	require.NoError(t, Migrate(log, db.ConnStr()))

	pool, err := Connect(ctx, log, db.ConnStr())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = pool.Exec(ctx, "TRUNCATE engine_events")
	require.NoError(t, err)

	store, err := NewStore(StoreConfig{Logger: log, Pool: pool})
	require.NoError(t, err)
	require.NoError(t, store.Ping(ctx))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	round := uint64(7)
	mk := func(seq uint64, kind events.Kind, roundID *uint64, data any) events.Event {
		ev, err := events.New(kind, at, roundID, data)
		require.NoError(t, err)
		ev.Seq = seq
		return ev
	}
	created := mk(1, events.KindRoundCreated, &round, events.RoundCreated{Category: 2, TicketPrice: lotterytesting.Units(100)})
	toggled := mk(2, events.KindAutoRefillToggled, nil, events.AutoRefillToggled{Enabled: true})
	claimed := mk(3, events.KindRewardClaimed, &round, events.RewardClaimed{Winner: lotterytesting.Addr(1), WinningTicket: 4, Payout: big.NewInt(10)})

	require.NoError(t, store.Append(ctx, created, toggled))
	require.NoError(t, store.Append(ctx, claimed))
	require.NoError(t, store.Append(ctx, claimed), "redelivery is a no-op")

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{all[0].Seq, all[1].Seq, all[2].Seq})
	assert.Equal(t, created.ID, all[0].ID)
	assert.Equal(t, at, all[0].OccurredAt)
	require.NotNil(t, all[0].RoundID)
	assert.Equal(t, round, *all[0].RoundID)
	assert.Nil(t, all[1].RoundID)
	assert.JSONEq(t, string(created.Data), string(all[0].Data))

	byKind, err := store.List(ctx, Filter{Kind: events.KindAutoRefillToggled})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	assert.Equal(t, toggled.ID, byKind[0].ID)

	byRound, err := store.List(ctx, Filter{RoundID: &round, AfterSeq: 1})
	require.NoError(t, err)
	require.Len(t, byRound, 1)
	assert.Equal(t, claimed.ID, byRound[0].ID)

	limited, err := store.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
