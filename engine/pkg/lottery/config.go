package lottery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lottery/engine/pkg/events"
	"github.com/malbeclabs/lottery/engine/pkg/fee"
	"github.com/malbeclabs/lottery/engine/pkg/refill"
)

// DefaultMinSettlementDelay is the time a full round waits before it can
// be claimed.
const DefaultMinSettlementDelay = 20 * time.Second

// Bank is the token ledger holding buyer funds, escrowed prizes and fees.
type Bank interface {
	Transfer(asset, from, to common.Address, amount *big.Int) error
	BalanceOf(asset, holder common.Address) *big.Int
	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}

// Randomness submits draw requests and reads their results.
type Randomness interface {
	Request(ctx context.Context) (uint64, error)
	RandomNumber(ctx context.Context, requestID uint64) (uint64, error)
}

// Refiller runs the best-effort auto refill after a claim batch.
type Refiller interface {
	Execute(ctx context.Context, custody, feeToken common.Address, storedFee *big.Int, sc refill.SwapConfig) refill.Outcome
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// Address is the custody account of the engine.
	Address      common.Address
	Owner        common.Address
	PaymentToken common.Address
	TicketPrices [NumCategories]*big.Int

	MinSettlementDelay time.Duration
	FeeInterest        uint64
	AutoRefillEnabled  bool
	SwapConfig         refill.SwapConfig

	Bank       Bank
	Treasury   fee.Treasury
	Randomness Randomness
	Refill     Refiller
	Events     events.Sink
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Bank == nil {
		return errors.New("bank is required")
	}
	if cfg.Treasury == nil {
		return errors.New("treasury is required")
	}
	if cfg.Randomness == nil {
		return errors.New("randomness is required")
	}
	if cfg.Address == (common.Address{}) {
		return errors.New("engine address is required")
	}
	if cfg.Owner == (common.Address{}) {
		return errors.New("owner is required")
	}
	for i, p := range cfg.TicketPrices {
		if p == nil || p.Sign() <= 0 {
			return fmt.Errorf("ticket price of category %d must be greater than 0", i)
		}
	}
	if cfg.FeeInterest > fee.MaxInterest {
		return fmt.Errorf("fee interest must be at most %d", fee.MaxInterest)
	}
	if cfg.MinSettlementDelay < 0 {
		return errors.New("min settlement delay must not be negative")
	}
	if cfg.MinSettlementDelay == 0 {
		cfg.MinSettlementDelay = DefaultMinSettlementDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}
	return nil
}
