package lottery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/malbeclabs/lottery/engine/pkg/events"
	"github.com/malbeclabs/lottery/engine/pkg/fee"
	"github.com/malbeclabs/lottery/engine/pkg/refill"
)

func (e *Engine) onlyOwner(sender common.Address) error {
	if sender != e.cfg.Owner {
		return ErrUnauthorized
	}
	return nil
}

// Pause stops ticket sales in a category. Rounds in progress keep their
// tickets and resume on Unpause.
func (e *Engine) Pause(ctx context.Context, sender common.Address, category uint8) error {
	return e.exec(ctx, "pause", func(tx *txn) error {
		if err := e.onlyOwner(sender); err != nil {
			return err
		}
		if category >= NumCategories {
			return ErrInvalidRoundType
		}
		if !e.categories[category].pausedAt.IsZero() {
			return ErrRoundTypePaused
		}
		tx.touchCategory(category)
		e.categories[category].pausedAt = tx.now
		return tx.emit(events.KindRoundTypePaused, nil, events.RoundType{Category: category, At: tx.now})
	})
}

func (e *Engine) Unpause(ctx context.Context, sender common.Address, category uint8) error {
	return e.exec(ctx, "unpause", func(tx *txn) error {
		if err := e.onlyOwner(sender); err != nil {
			return err
		}
		if category >= NumCategories {
			return ErrInvalidRoundType
		}
		if e.categories[category].pausedAt.IsZero() {
			return ErrRoundTypeUnpaused
		}
		tx.touchCategory(category)
		e.categories[category].pausedAt = time.Time{}
		return tx.emit(events.KindRoundTypeUnpaused, nil, events.RoundType{Category: category, At: tx.now})
	})
}

// SetAutoRefillEnabled switches fee routing between the stored fee and
// the treasury.
func (e *Engine) SetAutoRefillEnabled(ctx context.Context, sender common.Address, enabled bool) error {
	return e.exec(ctx, "set_auto_refill", func(tx *txn) error {
		if err := e.onlyOwner(sender); err != nil {
			return err
		}
		prev := e.autoRefill
		e.autoRefill = enabled
		tx.onRevert(func() { e.autoRefill = prev })
		return tx.emit(events.KindAutoRefillToggled, nil, events.AutoRefillToggled{Enabled: enabled})
	})
}

func (e *Engine) SetSwapConfig(ctx context.Context, sender common.Address, sc refill.SwapConfig) error {
	return e.exec(ctx, "set_swap_config", func(tx *txn) error {
		if err := e.onlyOwner(sender); err != nil {
			return err
		}
		prev := e.swapConfig
		e.swapConfig = sc.Clone()
		tx.onRevert(func() { e.swapConfig = prev })
		return tx.emit(events.KindSwapConfigUpdated, nil, e.swapConfig)
	})
}

func (e *Engine) SetFeeInterest(ctx context.Context, sender common.Address, interest uint64) error {
	return e.exec(ctx, "set_fee_interest", func(tx *txn) error {
		if err := e.onlyOwner(sender); err != nil {
			return err
		}
		if interest > fee.MaxInterest {
			return ErrExceededMaxValue
		}
		prev := e.feeInterest
		e.feeInterest = interest
		tx.onRevert(func() { e.feeInterest = prev })
		return tx.emit(events.KindFeeInterestUpdated, nil, events.FeeInterestUpdated{FeeInterest: interest})
	})
}

// WithdrawExcess sends custody funds that are neither escrowed prizes nor
// stored fee to receiver. For assets other than the payment token the
// whole custody balance is excess.
func (e *Engine) WithdrawExcess(ctx context.Context, sender, asset common.Address, amount *big.Int, receiver common.Address) error {
	return e.exec(ctx, "withdraw_excess", func(tx *txn) error {
		if err := e.onlyOwner(sender); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if receiver == (common.Address{}) {
			return ErrZeroAddress
		}
		if amount.Cmp(e.excess(asset)) > 0 {
			return ErrExcessAbsent
		}
		if err := e.cfg.Bank.Transfer(asset, e.cfg.Address, receiver, amount); err != nil {
			return fmt.Errorf("failed to withdraw excess: %w", err)
		}
		return tx.emit(events.KindExcessWithdrawn, nil, events.Withdrawal{Asset: asset, Amount: amount, Receiver: receiver})
	})
}

// excess never goes negative.
func (e *Engine) excess(asset common.Address) *big.Int {
	bal := e.cfg.Bank.BalanceOf(asset, e.cfg.Address)
	if asset != e.cfg.PaymentToken {
		return bal
	}
	out := new(big.Int).Sub(bal, e.escrowed)
	out.Sub(out, e.storedFee)
	if out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}

// WithdrawStoredFee forwards part of the stored fee to the treasury. The
// amount must be strictly below the stored fee.
func (e *Engine) WithdrawStoredFee(ctx context.Context, sender common.Address, amount *big.Int) error {
	return e.exec(ctx, "withdraw_stored_fee", func(tx *txn) error {
		if err := e.onlyOwner(sender); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if amount.Cmp(e.storedFee) >= 0 {
			return ErrStoredFeeAbsent
		}
		tx.setStoredFee(new(big.Int).Sub(e.storedFee, amount))
		if err := e.cfg.Treasury.DistributeFee(ctx, e.cfg.Address, amount, e.feeInterest); err != nil {
			return fmt.Errorf("failed to distribute stored fee: %w", err)
		}
		return tx.emit(events.KindStoredFeeWithdrawn, nil, events.Withdrawal{Asset: e.cfg.PaymentToken, Amount: amount})
	})
}
