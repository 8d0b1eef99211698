package fee

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Bank moves fee tokens into the vault.
type Bank interface {
	Transfer(asset, from, to common.Address, amount *big.Int) error
	BalanceOf(asset, holder common.Address) *big.Int
}

type VaultConfig struct {
	Logger  *slog.Logger
	Bank    Bank
	Address common.Address
	Token   common.Address
}

func (cfg *VaultConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Bank == nil {
		return errors.New("bank is required")
	}
	if cfg.Address == (common.Address{}) {
		return errors.New("vault address is required")
	}
	return nil
}

// Vault is an in-process Treasury that takes custody of routed fees. Its
// holdings live in the bank so they roll back with the caller's snapshot.
type Vault struct {
	log *slog.Logger
	cfg VaultConfig
}

func NewVault(cfg VaultConfig) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Vault{log: cfg.Logger, cfg: cfg}, nil
}

func (v *Vault) Address() common.Address {
	return v.cfg.Address
}

func (v *Vault) DistributeFee(ctx context.Context, from common.Address, amount *big.Int, feeInterest uint64) error {
	if feeInterest > MaxInterest {
		return fmt.Errorf("fee interest %d exceeds %d", feeInterest, MaxInterest)
	}
	if err := v.cfg.Bank.Transfer(v.cfg.Token, from, v.cfg.Address, amount); err != nil {
		return fmt.Errorf("failed to collect fee: %w", err)
	}
	v.log.Debug("vault: fee distributed", "from", from.Hex(), "amount", amount.String(), "fee_interest", feeInterest)
	return nil
}

// Total returns the fees held by the vault.
func (v *Vault) Total() *big.Int {
	return v.cfg.Bank.BalanceOf(v.cfg.Token, v.cfg.Address)
}
