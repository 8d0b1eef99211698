package lottery

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/malbeclabs/lottery/engine/pkg/events"
	"github.com/malbeclabs/lottery/engine/pkg/fee"
	"github.com/malbeclabs/lottery/engine/pkg/metrics"
)

// ClaimRewards settles each listed round by paying its prize to the owner
// of the winning ticket. Anyone may claim any settled round. The batch is
// all or nothing. When auto refill is enabled one refill is attempted after
// the batch; its failure never undoes the payouts.
func (e *Engine) ClaimRewards(ctx context.Context, caller common.Address, roundIDs []uint64) (*ClaimResult, error) {
	var res *ClaimResult
	err := e.exec(ctx, "claim_rewards", func(tx *txn) error {
		var err error
		res, err = e.claim(ctx, tx, roundIDs)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("lottery: rewards claimed", "caller", caller.Hex(), "rounds", len(res.Claims))
	return res, nil
}

func (e *Engine) claim(ctx context.Context, tx *txn, roundIDs []uint64) (*ClaimResult, error) {
	if len(roundIDs) == 0 {
		return nil, ErrInvalidLotteryIDsLength
	}

	res := &ClaimResult{Claims: make([]Claim, 0, len(roundIDs))}
	for _, id := range roundIDs {
		c, err := e.settle(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		res.Claims = append(res.Claims, *c)
	}

	if e.autoRefill {
		report, err := e.refill(ctx, tx)
		if err != nil {
			return nil, err
		}
		res.Refill = report
	}
	return res, nil
}

func (e *Engine) settle(ctx context.Context, tx *txn, id uint64) (*Claim, error) {
	if id >= uint64(len(e.rounds)) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLotteryID, id)
	}
	r := e.rounds[id]
	if !r.Full() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLotteryID, id)
	}
	if r.Claimed {
		return nil, fmt.Errorf("%w: round %d", ErrAlreadyClaimed, id)
	}
	if tx.now.Before(r.EndTime.Add(e.cfg.MinSettlementDelay)) {
		return nil, fmt.Errorf("%w: round %d", ErrTooSoon, id)
	}

	winning, err := e.cfg.Randomness.RandomNumber(ctx, r.RequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to draw round %d: %w", id, err)
	}
	winner, ok := e.tickets.OwnerOf(id, winning)
	if !ok {
		return nil, fmt.Errorf("no owner for ticket %d of round %d", winning, id)
	}
	payout := fee.TicketCost(Capacity, r.TicketPrice)

	tx.touchRound(r)
	r.WinningTicket = winning
	r.Winner = winner
	r.Claimed = true

	if err := e.cfg.Bank.Transfer(e.cfg.PaymentToken, e.cfg.Address, winner, payout); err != nil {
		return nil, fmt.Errorf("failed to pay round %d: %w", id, err)
	}
	tx.setEscrowed(new(big.Int).Sub(e.escrowed, payout))
	label := strconv.Itoa(int(r.Category))
	tx.onCommit(func() { metrics.RewardsClaimedTotal.WithLabelValues(label).Inc() })

	if err := tx.emit(events.KindRewardClaimed, roundRef(id), events.RewardClaimed{
		Winner:        winner,
		WinningTicket: winning,
		Payout:        payout,
	}); err != nil {
		return nil, err
	}
	return &Claim{RoundID: id, WinningTicket: winning, Winner: winner, Payout: payout}, nil
}

func (e *Engine) refill(ctx context.Context, tx *txn) (*RefillReport, error) {
	if e.cfg.Refill == nil {
		report := &RefillReport{Reason: ErrRefillNotConfigured.Error()}
		return report, tx.emit(events.KindAutoRefillFailed, nil, events.AutoRefill{Reason: report.Reason})
	}

	out := e.cfg.Refill.Execute(ctx, e.cfg.Address, e.cfg.PaymentToken, new(big.Int).Set(e.storedFee), e.swapConfig.Clone())
	if !out.Succeeded {
		reason := "unknown"
		if out.Err != nil {
			reason = out.Err.Error()
		}
		report := &RefillReport{Reason: reason}
		return report, tx.emit(events.KindAutoRefillFailed, nil, events.AutoRefill{Reason: reason})
	}

	tx.setStoredFee(new(big.Int).Sub(e.storedFee, out.Consumed))
	report := &RefillReport{Succeeded: true, Consumed: out.Consumed, Funded: out.Funded}
	return report, tx.emit(events.KindAutoRefillSucceeded, nil, events.AutoRefill{
		Consumed: out.Consumed,
		Funded:   out.Funded,
	})
}
