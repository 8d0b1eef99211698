package refill

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lottery/engine/pkg/exchange"
	"github.com/malbeclabs/lottery/engine/pkg/oracle"
	"github.com/malbeclabs/lottery/engine/pkg/token"
	lotterytesting "github.com/malbeclabs/lottery/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	custody         = lotterytesting.Addr(1)
	feeToken        = lotterytesting.Addr(2)
	bridgedToken    = lotterytesting.Addr(3)
	canonicalToken  = lotterytesting.Addr(4)
	routerAddr      = lotterytesting.Addr(5)
	bridgeAddr      = lotterytesting.Addr(6)
	coordinatorAddr = lotterytesting.Addr(7)
	lp              = lotterytesting.Addr(8)
	subID           = common.HexToHash("0x2a")
)

type fixture struct {
	bank        *token.Ledger
	exchange    *exchange.Exchange
	coordinator *oracle.Coordinator
	executor    *Executor
	config      SwapConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := lotterytesting.NewLogger()
	clock := clockwork.NewFakeClock()
	bank := token.NewLedger()

	x, err := exchange.New(exchange.Config{Logger: log, Clock: clock, Bank: bank, Address: routerAddr})
	require.NoError(t, err)
	require.NoError(t, bank.Mint(feeToken, lp, lotterytesting.Units(1_000_000)))
	require.NoError(t, bank.Mint(bridgedToken, lp, lotterytesting.Units(1_000_000)))
	require.NoError(t, x.AddLiquidity(lp, feeToken, bridgedToken, lotterytesting.Units(1_000_000), lotterytesting.Units(1_000_000)))

	bridge, err := exchange.NewBridge(exchange.BridgeConfig{
		Logger:  log,
		Bank:    bank,
		Address: bridgeAddr,
		Routes:  map[common.Address]common.Address{bridgedToken: canonicalToken},
	})
	require.NoError(t, err)
	require.NoError(t, bank.Mint(canonicalToken, bridgeAddr, lotterytesting.Units(1_000_000)))

	coordinator, err := oracle.NewCoordinator(oracle.CoordinatorConfig{
		Logger:       log,
		Clock:        clock,
		Bank:         bank,
		Address:      coordinatorAddr,
		FundingToken: canonicalToken,
	})
	require.NoError(t, err)

	executor, err := NewExecutor(ExecutorConfig{
		Logger: log,
		Clock:  clock,
		Bank:   bank,
		Registry: &Registry{
			InternalExchange: x,
			Routers:          map[common.Address]Router{routerAddr: x},
			Bridges:          map[common.Address]Bridge{bridgeAddr: bridge},
			Funders:          map[common.Address]Funder{coordinatorAddr: coordinator},
		},
	})
	require.NoError(t, err)

	return &fixture{
		bank:        bank,
		exchange:    x,
		coordinator: coordinator,
		executor:    executor,
		config: SwapConfig{
			Router:         routerAddr,
			Path:           []common.Address{feeToken, bridgedToken},
			AmountOutMin:   big.NewInt(1),
			Deadline:       5 * time.Minute,
			BridgeSwap:     bridgeAddr,
			Coordinator:    coordinatorAddr,
			BridgedToken:   bridgedToken,
			CanonicalToken: canonicalToken,
			SubscriptionID: subID,
		},
	}
}

func TestLottery_Refill_Executor_Execute(t *testing.T) {
	t.Parallel()

	t.Run("converts stored fee minus reserve into subscription funding", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		storedFee := lotterytesting.Units(10)
		require.NoError(t, f.bank.Mint(feeToken, custody, lotterytesting.Units(110)))

		out := f.executor.Execute(context.Background(), custody, feeToken, storedFee, f.config)
		require.True(t, out.Succeeded, "err: %v", out.Err)

		consumed := new(big.Int).Sub(storedFee, DefaultReserve)
		assert.Equal(t, consumed, out.Consumed)
		assert.Equal(t, 1, out.Funded.Sign())
		assert.Equal(t, out.Funded, f.coordinator.SubscriptionBalance(subID))
		assert.Equal(t, new(big.Int).Sub(lotterytesting.Units(110), consumed), f.bank.BalanceOf(feeToken, custody))
		assert.Equal(t, 0, f.bank.BalanceOf(bridgedToken, custody).Sign())
		assert.Equal(t, 0, f.bank.BalanceOf(canonicalToken, custody).Sign())
	})

	t.Run("internal exchange ignores router address", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.bank.Mint(feeToken, custody, lotterytesting.Units(10)))
		cfg := f.config
		cfg.Router = common.Address{}
		cfg.UseInternalExchange = true
		out := f.executor.Execute(context.Background(), custody, feeToken, lotterytesting.Units(10), cfg)
		require.True(t, out.Succeeded, "err: %v", out.Err)
	})

	failures := []struct {
		name    string
		mutate  func(cfg *SwapConfig)
		wantErr error
	}{
		{name: "unset config", mutate: func(cfg *SwapConfig) { *cfg = SwapConfig{} }, wantErr: ErrInvalidPath},
		{name: "unknown router", mutate: func(cfg *SwapConfig) { cfg.Router = lotterytesting.Addr(99) }, wantErr: ErrVenueNotFound},
		{name: "unknown bridge", mutate: func(cfg *SwapConfig) { cfg.BridgeSwap = lotterytesting.Addr(99) }, wantErr: ErrVenueNotFound},
		{name: "unknown coordinator", mutate: func(cfg *SwapConfig) { cfg.Coordinator = lotterytesting.Addr(99) }, wantErr: ErrVenueNotFound},
		{name: "unknown pair", mutate: func(cfg *SwapConfig) {
			other := lotterytesting.Addr(98)
			cfg.Path = []common.Address{feeToken, other}
			cfg.BridgedToken = other
		}, wantErr: exchange.ErrPairNotFound},
		{name: "min output not met", mutate: func(cfg *SwapConfig) { cfg.AmountOutMin = lotterytesting.Units(1_000) }, wantErr: exchange.ErrInsufficientOutputAmount},
		{name: "bridge route mismatch", mutate: func(cfg *SwapConfig) { cfg.CanonicalToken = feeToken }, wantErr: exchange.ErrUnsupportedRoute},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			require.NoError(t, f.bank.Mint(feeToken, custody, lotterytesting.Units(110)))
			cfg := f.config.Clone()
			tt.mutate(&cfg)

			out := f.executor.Execute(context.Background(), custody, feeToken, lotterytesting.Units(10), cfg)
			assert.False(t, out.Succeeded)
			require.ErrorIs(t, out.Err, tt.wantErr)
			assert.Nil(t, out.Consumed)
			assert.Equal(t, lotterytesting.Units(110), f.bank.BalanceOf(feeToken, custody))
			assert.Equal(t, 0, f.coordinator.SubscriptionBalance(subID).Sign())
		})
	}

	t.Run("drained pool reports missing liquidity", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.bank.Mint(feeToken, custody, lotterytesting.Units(110)))
		pair, err := f.exchange.Pair(feeToken, bridgedToken)
		require.NoError(t, err)
		require.NoError(t, f.bank.Transfer(bridgedToken, pair, lp, f.bank.BalanceOf(bridgedToken, pair)))

		out := f.executor.Execute(context.Background(), custody, feeToken, lotterytesting.Units(10), f.config)
		assert.False(t, out.Succeeded)
		require.ErrorIs(t, out.Err, exchange.ErrInsufficientLiquidity)
		assert.Equal(t, lotterytesting.Units(110), f.bank.BalanceOf(feeToken, custody))
		assert.Equal(t, 0, f.coordinator.SubscriptionBalance(subID).Sign())
	})

	t.Run("funding failure rolls back swap and bridge", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.bank.Mint(feeToken, custody, lotterytesting.Units(110)))
		failing := &mockFunder{fundFunc: func(context.Context, common.Address, common.Hash, *big.Int) error {
			return errors.New("subscription closed")
		}}
		f.executor.cfg.Registry.Funders[coordinatorAddr] = failing

		reserveBefore := f.bank.BalanceOf(canonicalToken, bridgeAddr)
		out := f.executor.Execute(context.Background(), custody, feeToken, lotterytesting.Units(10), f.config)
		assert.False(t, out.Succeeded)
		assert.Equal(t, lotterytesting.Units(110), f.bank.BalanceOf(feeToken, custody))
		assert.Equal(t, 0, f.bank.BalanceOf(canonicalToken, custody).Sign())
		assert.Equal(t, reserveBefore, f.bank.BalanceOf(canonicalToken, bridgeAddr))
	})

	t.Run("nothing above reserve", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		out := f.executor.Execute(context.Background(), custody, feeToken, new(big.Int).Set(DefaultReserve), f.config)
		require.ErrorIs(t, out.Err, ErrNothingToRefill)
	})

	t.Run("panicking venue is contained", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.bank.Mint(feeToken, custody, lotterytesting.Units(110)))
		f.executor.cfg.Registry.Funders[coordinatorAddr] = &mockFunder{fundFunc: func(context.Context, common.Address, common.Hash, *big.Int) error {
			panic("boom")
		}}
		out := f.executor.Execute(context.Background(), custody, feeToken, lotterytesting.Units(10), f.config)
		assert.False(t, out.Succeeded)
		require.Error(t, out.Err)
		assert.Equal(t, lotterytesting.Units(110), f.bank.BalanceOf(feeToken, custody))
	})
}

type mockFunder struct {
	fundFunc func(ctx context.Context, sender common.Address, subID common.Hash, amount *big.Int) error
}

func (m *mockFunder) FundSubscription(ctx context.Context, sender common.Address, subID common.Hash, amount *big.Int) error {
	return m.fundFunc(ctx, sender, subID, amount)
}
