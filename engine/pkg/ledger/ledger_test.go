package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	buyerA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	buyerB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	buyerC = common.HexToAddress("0x000000000000000000000000000000000000000c")
)

func TestLottery_Ledger_Append(t *testing.T) {
	t.Parallel()

	t.Run("cumulative totals", func(t *testing.T) {
		t.Parallel()
		l := New()
		total, err := l.Append(0, buyerA, 2)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), total)

		total, err = l.Append(0, buyerB, 3)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), total)

		assert.Equal(t, uint64(5), l.Purchased(0))
		assert.Equal(t, []Checkpoint{
			{Buyer: buyerA, Cumulative: 2},
			{Buyer: buyerB, Cumulative: 5},
		}, l.Checkpoints(0))
	})

	t.Run("zero amount", func(t *testing.T) {
		t.Parallel()
		l := New()
		_, err := l.Append(0, buyerA, 0)
		require.ErrorIs(t, err, ErrZeroTicketsAmount)
		assert.Equal(t, uint64(0), l.Rounds())
	})

	t.Run("exceeds capacity in one purchase", func(t *testing.T) {
		t.Parallel()
		l := New()
		_, err := l.Append(0, buyerA, Capacity+1)
		require.ErrorIs(t, err, ErrTicketsAmountExceeded)
		assert.Equal(t, uint64(0), l.Rounds())
	})

	t.Run("exceeds remaining capacity", func(t *testing.T) {
		t.Parallel()
		l := New()
		_, err := l.Append(0, buyerA, 8)
		require.NoError(t, err)
		_, err = l.Append(0, buyerB, 3)
		require.ErrorIs(t, err, ErrTicketsAmountExceeded)
		assert.Equal(t, uint64(8), l.Purchased(0))
		assert.Equal(t, 1, l.Len(0))
	})

	t.Run("fills exactly", func(t *testing.T) {
		t.Parallel()
		l := New()
		_, err := l.Append(0, buyerA, 4)
		require.NoError(t, err)
		total, err := l.Append(0, buyerB, 6)
		require.NoError(t, err)
		assert.Equal(t, uint64(Capacity), total)
	})

	t.Run("round ids must be dense", func(t *testing.T) {
		t.Parallel()
		l := New()
		_, err := l.Append(1, buyerA, 1)
		require.ErrorIs(t, err, ErrUnknownRound)
		_, err = l.Append(0, buyerA, 1)
		require.NoError(t, err)
		_, err = l.Append(1, buyerA, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), l.Rounds())
	})
}

func TestLottery_Ledger_OwnerOf(t *testing.T) {
	t.Parallel()

	l := New()
	_, err := l.Append(0, buyerA, 2)
	require.NoError(t, err)
	_, err = l.Append(0, buyerB, 3)
	require.NoError(t, err)
	_, err = l.Append(0, buyerC, 4)
	require.NoError(t, err)

	expected := []common.Address{buyerA, buyerA, buyerB, buyerB, buyerB, buyerC, buyerC, buyerC, buyerC}
	for i, want := range expected {
		got, ok := l.OwnerOf(0, uint64(i))
		require.True(t, ok, "index %d", i)
		assert.Equal(t, want, got, "index %d", i)
	}

	owner, ok := l.OwnerOf(0, 9)
	assert.False(t, ok)
	assert.Equal(t, common.Address{}, owner)

	_, ok = l.OwnerOf(7, 0)
	assert.False(t, ok)
}

func TestLottery_Ledger_Participants(t *testing.T) {
	t.Parallel()

	l := New()
	_, err := l.Append(0, buyerA, 2)
	require.NoError(t, err)
	_, err = l.Append(0, buyerB, 3)
	require.NoError(t, err)
	_, err = l.Append(0, buyerC, 4)
	require.NoError(t, err)

	want := Participants{buyerA, buyerA, buyerB, buyerB, buyerB, buyerC, buyerC, buyerC, buyerC, {}}
	if diff := cmp.Diff(want, l.Participants(0)); diff != "" {
		t.Fatalf("participants mismatch (-want +got):\n%s", diff)
	}

	for i := uint64(0); i < Capacity; i++ {
		owner, _ := l.OwnerOf(0, i)
		assert.Equal(t, owner, l.Participants(0)[i])
	}

	assert.Equal(t, Participants{}, l.Participants(3))
	assert.True(t, l.Holds(0, buyerB))
	assert.False(t, l.Holds(0, common.HexToAddress("0x01")))
}

func TestLottery_Ledger_Truncate(t *testing.T) {
	t.Parallel()

	l := New()
	_, err := l.Append(0, buyerA, 2)
	require.NoError(t, err)
	_, err = l.Append(0, buyerB, 3)
	require.NoError(t, err)
	_, err = l.Append(1, buyerC, 1)
	require.NoError(t, err)

	l.Truncate(0, 1)
	assert.Equal(t, uint64(2), l.Purchased(0))

	l.Truncate(1, 0)
	assert.Equal(t, uint64(1), l.Rounds())

	_, err = l.Append(1, buyerC, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(Capacity), l.Purchased(1))
}
