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

// BuyTicket sells amount tickets of the given category to buyer. The buyer
// pays the ticket cost plus the protocol fee. When the purchase fills the
// round a randomness request is submitted for it.
func (e *Engine) BuyTicket(ctx context.Context, buyer common.Address, category uint8, amount uint64) (*Purchase, error) {
	var p *Purchase
	err := e.exec(ctx, "buy_ticket", func(tx *txn) error {
		var err error
		p, err = e.buy(ctx, tx, buyer, category, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Debug("lottery: tickets purchased", "round", p.RoundID, "category", p.Category, "buyer", buyer.Hex(), "tickets", p.Tickets, "filled", p.Filled)
	return p, nil
}

func (e *Engine) buy(ctx context.Context, tx *txn, buyer common.Address, category uint8, amount uint64) (*Purchase, error) {
	if category >= NumCategories {
		return nil, ErrInvalidRoundType
	}
	if !e.categories[category].pausedAt.IsZero() {
		return nil, ErrRoundTypePaused
	}
	if amount == 0 {
		return nil, ErrZeroTicketsAmount
	}
	if amount > Capacity {
		return nil, ErrTicketsAmountExceeded
	}
	if buyer == (common.Address{}) {
		return nil, ErrZeroAddress
	}

	round, err := e.openRound(tx, category)
	if err != nil {
		return nil, err
	}

	prevLen := e.tickets.Len(round.ID)
	cumulative, err := e.tickets.Append(round.ID, buyer, amount)
	if err != nil {
		return nil, err
	}
	tx.onRevert(func() { e.tickets.Truncate(round.ID, prevLen) })

	tx.touchRound(round)
	first := round.PurchasedTickets
	round.PurchasedTickets = cumulative

	cost := fee.TicketCost(amount, round.TicketPrice)
	protocolFee := fee.ProtocolFee(amount, round.TicketPrice)
	total := new(big.Int).Add(cost, protocolFee)
	if err := e.cfg.Bank.Transfer(e.cfg.PaymentToken, buyer, e.cfg.Address, total); err != nil {
		return nil, fmt.Errorf("failed to collect payment: %w", err)
	}
	tx.setEscrowed(new(big.Int).Add(e.escrowed, cost))

	if e.autoRefill {
		tx.setStoredFee(new(big.Int).Add(e.storedFee, protocolFee))
	} else if protocolFee.Sign() > 0 {
		if err := e.cfg.Treasury.DistributeFee(ctx, e.cfg.Address, protocolFee, e.feeInterest); err != nil {
			return nil, fmt.Errorf("failed to distribute fee: %w", err)
		}
	}

	p := &Purchase{
		RoundID:     round.ID,
		Category:    category,
		Tickets:     amount,
		FirstTicket: first,
		Cumulative:  cumulative,
		Cost:        cost,
		Fee:         protocolFee,
		FeeStored:   e.autoRefill,
	}
	if err := tx.emit(events.KindTicketsPurchased, roundRef(round.ID), events.TicketsPurchased{
		Buyer:      buyer,
		Category:   category,
		Tickets:    amount,
		Cumulative: cumulative,
		Cost:       cost,
		Fee:        protocolFee,
		FeeStored:  p.FeeStored,
	}); err != nil {
		return nil, err
	}
	label := strconv.Itoa(int(category))
	tx.onCommit(func() { metrics.TicketsSoldTotal.WithLabelValues(label).Add(float64(amount)) })

	if round.Full() {
		round.EndTime = tx.now
		// The request is the last step: nothing after it can fail.
		reqID, err := e.cfg.Randomness.Request(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to request randomness: %w", err)
		}
		round.RequestID = reqID
		p.Filled = true
		p.RequestID = reqID
		tx.onCommit(func() { metrics.RoundsFilledTotal.WithLabelValues(label).Inc() })
		if err := tx.emit(events.KindRoundFilled, roundRef(round.ID), events.RoundFilled{
			Category:  category,
			RequestID: reqID,
		}); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// openRound returns the active round of the category, creating a new one
// when there is none or the active one is full.
func (e *Engine) openRound(tx *txn, category uint8) (*Round, error) {
	c := &e.categories[category]
	if c.hasActive {
		if r := e.rounds[c.activeRound]; !r.Full() {
			return r, nil
		}
	}

	id := uint64(len(e.rounds))
	r := &Round{
		ID:          id,
		Category:    category,
		TicketPrice: c.price,
		StartTime:   tx.now,
	}
	e.rounds = append(e.rounds, r)
	tx.onRevert(func() { e.rounds = e.rounds[:id] })

	tx.touchCategory(category)
	c.activeRound = id
	c.hasActive = true

	label := strconv.Itoa(int(category))
	tx.onCommit(func() { metrics.RoundsCreatedTotal.WithLabelValues(label).Inc() })
	if err := tx.emit(events.KindRoundCreated, roundRef(id), events.RoundCreated{
		Category:    category,
		TicketPrice: c.price,
	}); err != nil {
		return nil, err
	}
	return r, nil
}
