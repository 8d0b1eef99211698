// Package refill converts retained protocol fees into randomness
// subscription funding. Execution is best effort: a failed attempt leaves
// every balance as it found it and reports the failure instead of
// returning an error.
package refill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lottery/engine/pkg/metrics"
)

// DefaultReserve is left behind in storedFee by every refill (1 gwei).
var DefaultReserve = big.NewInt(1_000_000_000)

var (
	ErrNothingToRefill = errors.New("stored fee does not exceed reserve")
	ErrVenueNotFound   = errors.New("venue not found")
	ErrInvalidPath     = errors.New("invalid swap path")
)

// Router swaps an exact input along a token path.
type Router interface {
	SwapExactTokensForTokens(ctx context.Context, sender common.Address, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline time.Time) (*big.Int, error)
}

// Bridge converts a bridged token into its canonical form 1:1.
type Bridge interface {
	Swap(ctx context.Context, sender common.Address, amount *big.Int, source, target common.Address) error
}

// Funder tops up a randomness subscription.
type Funder interface {
	FundSubscription(ctx context.Context, sender common.Address, subID common.Hash, amount *big.Int) error
}

// Bank provides all-or-nothing scopes over token balances.
type Bank interface {
	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}

// Registry resolves configured venue addresses to implementations.
type Registry struct {
	InternalExchange Router
	Routers          map[common.Address]Router
	Bridges          map[common.Address]Bridge
	Funders          map[common.Address]Funder
}

func (r *Registry) router(cfg SwapConfig) (Router, error) {
	if cfg.UseInternalExchange {
		if r.InternalExchange == nil {
			return nil, fmt.Errorf("%w: internal exchange", ErrVenueNotFound)
		}
		return r.InternalExchange, nil
	}
	if rt, ok := r.Routers[cfg.Router]; ok {
		return rt, nil
	}
	return nil, fmt.Errorf("%w: router %s", ErrVenueNotFound, cfg.Router.Hex())
}

func (r *Registry) bridge(addr common.Address) (Bridge, error) {
	if b, ok := r.Bridges[addr]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: bridge swap %s", ErrVenueNotFound, addr.Hex())
}

func (r *Registry) funder(addr common.Address) (Funder, error) {
	if f, ok := r.Funders[addr]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: coordinator %s", ErrVenueNotFound, addr.Hex())
}

type ExecutorConfig struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Bank     Bank
	Registry *Registry
	// Reserve is the part of storedFee a refill never consumes.
	Reserve *big.Int
}

func (cfg *ExecutorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Bank == nil {
		return errors.New("bank is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = &Registry{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Reserve == nil {
		cfg.Reserve = new(big.Int).Set(DefaultReserve)
	}
	return nil
}

// Outcome reports a refill attempt. Consumed is the amount of stored fee
// spent and is only set on success.
type Outcome struct {
	Succeeded bool
	Consumed  *big.Int
	Funded    *big.Int
	Err       error
}

type Executor struct {
	log *slog.Logger
	cfg ExecutorConfig
}

func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{log: cfg.Logger, cfg: cfg}, nil
}

// Execute converts storedFee minus the reserve, held by custody in
// feeToken, into subscription funding. It never returns an error: on any
// failure the bank is rolled back to its state at entry and the outcome
// carries the cause.
func (e *Executor) Execute(ctx context.Context, custody, feeToken common.Address, storedFee *big.Int, sc SwapConfig) Outcome {
	snap := e.cfg.Bank.Snapshot()
	consumed, funded, err := e.execute(ctx, custody, feeToken, storedFee, sc)
	if err != nil {
		e.cfg.Bank.RevertToSnapshot(snap)
		metrics.AutoRefillTotal.WithLabelValues("failed").Inc()
		e.log.Warn("refill: auto refill failed", "error", err)
		return Outcome{Err: err}
	}
	e.cfg.Bank.DiscardSnapshot(snap)
	metrics.AutoRefillTotal.WithLabelValues("succeeded").Inc()
	e.log.Info("refill: auto refill succeeded", "consumed", consumed.String(), "funded", funded.String())
	return Outcome{Succeeded: true, Consumed: consumed, Funded: funded}
}

func (e *Executor) execute(ctx context.Context, custody, feeToken common.Address, storedFee *big.Int, sc SwapConfig) (consumed, funded *big.Int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refill panicked: %v", r)
		}
	}()

	if storedFee == nil || storedFee.Cmp(e.cfg.Reserve) <= 0 {
		return nil, nil, ErrNothingToRefill
	}
	amount := new(big.Int).Sub(storedFee, e.cfg.Reserve)

	if len(sc.Path) < 2 || sc.Path[0] != feeToken || sc.Path[len(sc.Path)-1] != sc.BridgedToken {
		return nil, nil, ErrInvalidPath
	}
	router, err := e.cfg.Registry.router(sc)
	if err != nil {
		return nil, nil, err
	}
	bridge, err := e.cfg.Registry.bridge(sc.BridgeSwap)
	if err != nil {
		return nil, nil, err
	}
	funder, err := e.cfg.Registry.funder(sc.Coordinator)
	if err != nil {
		return nil, nil, err
	}

	minOut := sc.AmountOutMin
	if minOut == nil {
		minOut = new(big.Int)
	}
	deadline := e.cfg.Clock.Now().Add(sc.Deadline)

	out, err := router.SwapExactTokensForTokens(ctx, custody, amount, minOut, sc.Path, custody, deadline)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to swap stored fee: %w", err)
	}
	if err := bridge.Swap(ctx, custody, out, sc.BridgedToken, sc.CanonicalToken); err != nil {
		return nil, nil, fmt.Errorf("failed to bridge swap: %w", err)
	}
	if err := funder.FundSubscription(ctx, custody, sc.SubscriptionID, out); err != nil {
		return nil, nil, fmt.Errorf("failed to fund subscription: %w", err)
	}
	return amount, out, nil
}
