package oracle

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lottery/engine/pkg/randomness"
	"github.com/malbeclabs/lottery/engine/pkg/token"
	lotterytesting "github.com/malbeclabs/lottery/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner           = lotterytesting.Addr(1)
	engineAddr      = lotterytesting.Addr(2)
	stranger        = lotterytesting.Addr(3)
	coordinatorAddr = lotterytesting.Addr(4)
	linkToken       = lotterytesting.Addr(5)
	subID           = common.HexToHash("0x01")
)

type fixture struct {
	clock       *clockwork.FakeClock
	bank        *token.Ledger
	coordinator *Coordinator
	oracle      *Oracle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := lotterytesting.NewLogger()
	clock := clockwork.NewFakeClock()
	bank := token.NewLedger()
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Logger:       log,
		Clock:        clock,
		Bank:         bank,
		Address:      coordinatorAddr,
		FundingToken: linkToken,
	})
	require.NoError(t, err)
	o, err := New(Config{
		Logger:         log,
		Owner:          owner,
		Coordinator:    coordinator,
		SubscriptionID: subID,
		AllowedCallers: []common.Address{engineAddr},
	})
	require.NoError(t, err)
	return &fixture{clock: clock, bank: bank, coordinator: coordinator, oracle: o}
}

func TestLottery_Oracle_Config_Defaults(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.oracle.Params()
	assert.Equal(t, uint32(DefaultCallbackGasLimit), p.CallbackGasLimit)
	assert.Equal(t, uint16(DefaultRequestConfirmations), p.RequestConfirmations)
	assert.Equal(t, uint32(DefaultNumWords), p.NumWords)
	assert.Equal(t, subID, p.SubscriptionID)
}

func TestLottery_Oracle_RequestRandomWords(t *testing.T) {
	t.Parallel()

	t.Run("allowed caller gets sequential ids from 1", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		id, err := f.oracle.RequestRandomWords(context.Background(), engineAddr)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id)
		id, err = f.oracle.RequestRandomWords(context.Background(), engineAddr)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), id)

		status, err := f.oracle.Status(context.Background(), 1)
		require.NoError(t, err)
		assert.True(t, status.Exists)
		assert.False(t, status.Fulfilled)
		assert.Len(t, f.coordinator.Pending(), 2)
	})

	t.Run("caller not allowed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.oracle.RequestRandomWords(context.Background(), stranger)
		require.ErrorIs(t, err, ErrCallerNotAllowed)
		assert.Empty(t, f.coordinator.Pending())
	})

	t.Run("allow list is owner managed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.ErrorIs(t, f.oracle.SetAllowedCaller(stranger, stranger, true), ErrUnauthorized)
		require.ErrorIs(t, f.oracle.SetAllowedCaller(owner, common.Address{}, true), ErrZeroAddress)
		require.NoError(t, f.oracle.SetAllowedCaller(owner, stranger, true))
		_, err := f.oracle.RequestRandomWords(context.Background(), stranger)
		require.NoError(t, err)

		require.NoError(t, f.oracle.SetAllowedCaller(owner, stranger, false))
		assert.False(t, f.oracle.IsAllowed(stranger))
	})

	t.Run("unknown request has no record", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		status, err := f.oracle.Status(context.Background(), 7)
		require.NoError(t, err)
		assert.False(t, status.Exists)
	})
}

func TestLottery_Oracle_Fulfill(t *testing.T) {
	t.Parallel()

	t.Run("coordinator push records words", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		id, err := f.oracle.RequestRandomWords(context.Background(), engineAddr)
		require.NoError(t, err)

		require.NoError(t, f.coordinator.Fulfill(context.Background(), id, []*big.Int{big.NewInt(3)}))
		status, err := f.oracle.Status(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, status.Fulfilled)
		assert.Equal(t, []*big.Int{big.NewInt(3)}, status.Words)
		assert.Empty(t, f.coordinator.Pending())
	})

	t.Run("coordinator delivers at most once", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		id, err := f.oracle.RequestRandomWords(context.Background(), engineAddr)
		require.NoError(t, err)
		require.NoError(t, f.coordinator.Fulfill(context.Background(), id, []*big.Int{big.NewInt(3)}))
		err = f.coordinator.Fulfill(context.Background(), id, []*big.Int{big.NewInt(8)})
		require.ErrorIs(t, err, ErrUnknownRequest)
	})

	t.Run("duplicate callback does not overwrite", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		id, err := f.oracle.RequestRandomWords(context.Background(), engineAddr)
		require.NoError(t, err)
		require.NoError(t, f.oracle.FulfillRandomWords(context.Background(), coordinatorAddr, id, []*big.Int{big.NewInt(3)}))
		require.NoError(t, f.oracle.FulfillRandomWords(context.Background(), coordinatorAddr, id, []*big.Int{big.NewInt(9)}))

		status, err := f.oracle.Status(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(3), status.Words[0])
	})

	t.Run("only coordinator may fulfil", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		id, err := f.oracle.RequestRandomWords(context.Background(), engineAddr)
		require.NoError(t, err)
		err = f.oracle.FulfillRandomWords(context.Background(), stranger, id, []*big.Int{big.NewInt(3)})
		require.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown request", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		err := f.oracle.FulfillRandomWords(context.Background(), coordinatorAddr, 5, []*big.Int{big.NewInt(3)})
		require.ErrorIs(t, err, randomness.ErrRequestNotFound)
	})
}

func TestLottery_Oracle_Params_Bounds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	for _, v := range []uint32{150_000, 2_500_000} {
		require.ErrorIs(t, f.oracle.SetCallbackGasLimit(owner, v), ErrOutOfBounds, "gas %d", v)
	}
	for _, v := range []uint32{259_789, 1_564_765} {
		require.NoError(t, f.oracle.SetCallbackGasLimit(owner, v), "gas %d", v)
	}

	for _, v := range []uint16{2, 200} {
		require.ErrorIs(t, f.oracle.SetRequestConfirmations(owner, v), ErrOutOfBounds, "confirmations %d", v)
	}
	for _, v := range []uint16{3, 189} {
		require.NoError(t, f.oracle.SetRequestConfirmations(owner, v), "confirmations %d", v)
	}

	for _, v := range []uint32{0, 500} {
		require.ErrorIs(t, f.oracle.SetNumWords(owner, v), ErrOutOfBounds, "words %d", v)
	}
	for _, v := range []uint32{155, 7} {
		require.NoError(t, f.oracle.SetNumWords(owner, v), "words %d", v)
	}

	keyHash := common.HexToHash("0xabc")
	require.ErrorIs(t, f.oracle.SetKeyHash(stranger, keyHash), ErrUnauthorized)
	require.NoError(t, f.oracle.SetKeyHash(owner, keyHash))

	p := f.oracle.Params()
	assert.Equal(t, uint32(1_564_765), p.CallbackGasLimit)
	assert.Equal(t, uint16(189), p.RequestConfirmations)
	assert.Equal(t, uint32(7), p.NumWords)
	assert.Equal(t, keyHash, p.KeyHash)
}

func TestLottery_Oracle_Coordinator_Subscriptions(t *testing.T) {
	t.Parallel()

	t.Run("funding moves tokens", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.bank.Mint(linkToken, engineAddr, big.NewInt(50)))
		require.NoError(t, f.coordinator.FundSubscription(context.Background(), engineAddr, subID, big.NewInt(20)))
		assert.Equal(t, big.NewInt(20), f.coordinator.SubscriptionBalance(subID))
		assert.Equal(t, big.NewInt(30), f.bank.BalanceOf(linkToken, engineAddr))
		assert.Equal(t, big.NewInt(20), f.bank.BalanceOf(linkToken, f.coordinator.SubscriptionAccount(subID)))
		assert.Equal(t, 0, f.bank.BalanceOf(linkToken, coordinatorAddr).Sign())
	})

	t.Run("funding requires balance", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		err := f.coordinator.FundSubscription(context.Background(), engineAddr, subID, big.NewInt(1))
		require.ErrorIs(t, err, token.ErrInsufficientBalance)
		assert.Equal(t, 0, f.coordinator.SubscriptionBalance(subID).Sign())
		require.ErrorIs(t, f.coordinator.FundSubscription(context.Background(), engineAddr, subID, new(big.Int)), ErrInvalidFunding)
	})

	t.Run("min balance gates requests and fee is charged on request", func(t *testing.T) {
		t.Parallel()
		log := lotterytesting.NewLogger()
		bank := token.NewLedger()
		coordinator, err := NewCoordinator(CoordinatorConfig{
			Logger:        log,
			Bank:          bank,
			Address:       coordinatorAddr,
			FundingToken:  linkToken,
			MinBalance:    big.NewInt(10),
			FeePerRequest: big.NewInt(4),
		})
		require.NoError(t, err)
		o, err := New(Config{Logger: log, Owner: owner, Coordinator: coordinator, SubscriptionID: subID, AllowedCallers: []common.Address{engineAddr}})
		require.NoError(t, err)

		_, err = o.RequestRandomWords(context.Background(), engineAddr)
		require.ErrorIs(t, err, ErrInsufficientSubscriptionBalance)

		require.NoError(t, bank.Mint(linkToken, engineAddr, big.NewInt(10)))
		require.NoError(t, coordinator.FundSubscription(context.Background(), engineAddr, subID, big.NewInt(10)))
		id, err := o.RequestRandomWords(context.Background(), engineAddr)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(6), coordinator.SubscriptionBalance(subID))
		assert.Equal(t, big.NewInt(4), bank.BalanceOf(linkToken, coordinatorAddr))

		require.NoError(t, coordinator.Fulfill(context.Background(), id, []*big.Int{big.NewInt(1)}))
		assert.Equal(t, big.NewInt(6), coordinator.SubscriptionBalance(subID))

		_, err = o.RequestRandomWords(context.Background(), engineAddr)
		require.ErrorIs(t, err, ErrInsufficientSubscriptionBalance)
	})

	t.Run("funding reverts with the enclosing snapshot", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.bank.Mint(linkToken, engineAddr, big.NewInt(50)))

		snap := f.bank.Snapshot()
		require.NoError(t, f.coordinator.FundSubscription(context.Background(), engineAddr, subID, big.NewInt(20)))
		assert.Equal(t, big.NewInt(20), f.coordinator.SubscriptionBalance(subID))
		f.bank.RevertToSnapshot(snap)

		assert.Equal(t, 0, f.coordinator.SubscriptionBalance(subID).Sign())
		assert.Equal(t, big.NewInt(50), f.bank.BalanceOf(linkToken, engineAddr))
	})

	t.Run("subscriptions have distinct accounts", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		other := common.HexToHash("0x99")
		assert.NotEqual(t, f.coordinator.SubscriptionAccount(subID), f.coordinator.SubscriptionAccount(other))
		assert.NotEqual(t, coordinatorAddr, f.coordinator.SubscriptionAccount(subID))
	})
}

func TestLottery_Oracle_Fulfiller(t *testing.T) {
	t.Parallel()

	t.Run("fulfils pending requests with non-zero words", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.oracle.SetNumWords(owner, 2))
		id, err := f.oracle.RequestRandomWords(context.Background(), engineAddr)
		require.NoError(t, err)

		// First 32-byte block is all zeros and must be skipped.
		entropy := append(make([]byte, 32), bytes.Repeat([]byte{0x01}, 64)...)
		fl, err := NewFulfiller(FulfillerConfig{
			Logger:      lotterytesting.NewLogger(),
			Clock:       f.clock,
			Coordinator: f.coordinator,
			Interval:    time.Second,
			Entropy:     bytes.NewReader(entropy),
		})
		require.NoError(t, err)

		n, err := fl.Tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		status, err := f.oracle.Status(context.Background(), id)
		require.NoError(t, err)
		require.True(t, status.Fulfilled)
		require.Len(t, status.Words, 2)
		for _, w := range status.Words {
			assert.Equal(t, 1, w.Sign())
		}
	})

	t.Run("respects min age", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.oracle.RequestRandomWords(context.Background(), engineAddr)
		require.NoError(t, err)

		fl, err := NewFulfiller(FulfillerConfig{
			Logger:      lotterytesting.NewLogger(),
			Clock:       f.clock,
			Coordinator: f.coordinator,
			Interval:    time.Second,
			MinAge:      10 * time.Second,
			Entropy:     bytes.NewReader(bytes.Repeat([]byte{0x02}, 32)),
		})
		require.NoError(t, err)

		n, err := fl.Tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		f.clock.Advance(10 * time.Second)
		n, err = fl.Tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("entropy failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.oracle.RequestRandomWords(context.Background(), engineAddr)
		require.NoError(t, err)
		fl, err := NewFulfiller(FulfillerConfig{
			Logger:      lotterytesting.NewLogger(),
			Clock:       f.clock,
			Coordinator: f.coordinator,
			Interval:    time.Second,
			Entropy:     bytes.NewReader(nil),
		})
		require.NoError(t, err)
		_, err = fl.Tick(context.Background())
		require.Error(t, err)
		assert.Len(t, f.coordinator.Pending(), 1)
	})
}
