package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var ErrUnsupportedRoute = errors.New("unsupported bridge route")

type BridgeConfig struct {
	Logger  *slog.Logger
	Bank    Bank
	Address common.Address
	// Routes maps a bridged token to its canonical token.
	Routes map[common.Address]common.Address
}

func (cfg *BridgeConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Bank == nil {
		return errors.New("bank is required")
	}
	if cfg.Address == (common.Address{}) {
		return errors.New("bridge address is required")
	}
	return nil
}

// Bridge swaps a bridged token for its canonical token 1:1 out of the
// canonical liquidity it holds.
type Bridge struct {
	log *slog.Logger
	cfg BridgeConfig
}

func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Bridge{log: cfg.Logger, cfg: cfg}, nil
}

func (b *Bridge) Address() common.Address {
	return b.cfg.Address
}

func (b *Bridge) Swap(ctx context.Context, sender common.Address, amount *big.Int, source, target common.Address) error {
	if canonical, ok := b.cfg.Routes[source]; !ok || canonical != target {
		return fmt.Errorf("%w: %s -> %s", ErrUnsupportedRoute, source.Hex(), target.Hex())
	}
	if err := b.cfg.Bank.Transfer(source, sender, b.cfg.Address, amount); err != nil {
		return fmt.Errorf("failed to take bridged token: %w", err)
	}
	if err := b.cfg.Bank.Transfer(target, b.cfg.Address, sender, amount); err != nil {
		return fmt.Errorf("failed to release canonical token: %w", err)
	}
	b.log.Debug("bridge: swapped", "sender", sender.Hex(), "amount", amount.String())
	return nil
}
