package lottery

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/malbeclabs/lottery/engine/pkg/fee"
	"github.com/malbeclabs/lottery/engine/pkg/ledger"
	"github.com/malbeclabs/lottery/engine/pkg/refill"
)

func (e *Engine) Address() common.Address {
	return e.cfg.Address
}

func (e *Engine) Owner() common.Address {
	return e.cfg.Owner
}

func (e *Engine) PaymentToken() common.Address {
	return e.cfg.PaymentToken
}

func (e *Engine) MinSettlementDelay() time.Duration {
	return e.cfg.MinSettlementDelay
}

// TicketOwner returns the owner of ticket index in a round, or the zero
// address when the ticket is unsold or the round does not exist.
func (e *Engine) TicketOwner(roundID, index uint64) common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	owner, _ := e.tickets.OwnerOf(roundID, index)
	return owner
}

// Participants returns the owner of every slot of a round. Unsold slots
// hold the zero address.
func (e *Engine) Participants(roundID uint64) ledger.Participants {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tickets.Participants(roundID)
}

func (e *Engine) Checkpoints(roundID uint64) []ledger.Checkpoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tickets.Checkpoints(roundID)
}

// Holds reports whether user bought at least one ticket in a round.
func (e *Engine) Holds(roundID uint64, user common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tickets.Holds(roundID, user)
}

// ActiveRound returns the active round of a category. A category that
// never sold a ticket reports 0, which is also a valid round id; use
// ActiveRoundID to tell the two apart.
func (e *Engine) ActiveRound(category uint8) (uint64, error) {
	id, _, err := e.ActiveRoundID(category)
	return id, err
}

func (e *Engine) ActiveRoundID(category uint8) (uint64, bool, error) {
	if category >= NumCategories {
		return 0, false, ErrInvalidRoundType
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	c := e.categories[category]
	return c.activeRound, c.hasActive, nil
}

// Round returns a copy of a round.
func (e *Engine) Round(id uint64) (Round, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if id >= uint64(len(e.rounds)) {
		return Round{}, false
	}
	return e.rounds[id].clone(), true
}

// Rounds returns copies of up to limit rounds starting at offset.
func (e *Engine) Rounds(offset, limit uint64) []Round {
	e.mu.RLock()
	defer e.mu.RUnlock()
	total := uint64(len(e.rounds))
	if offset >= total {
		return nil
	}
	end := total
	if limit > 0 && limit < total-offset {
		end = offset + limit
	}
	out := make([]Round, 0, end-offset)
	for _, r := range e.rounds[offset:end] {
		out = append(out, r.clone())
	}
	return out
}

func (e *Engine) TotalRounds() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return uint64(len(e.rounds))
}

func (e *Engine) Category(category uint8) (Category, error) {
	if category >= NumCategories {
		return Category{}, ErrInvalidRoundType
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.category(category), nil
}

func (e *Engine) Categories() []Category {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Category, 0, NumCategories)
	for i := range e.categories {
		out = append(out, e.category(uint8(i)))
	}
	return out
}

func (e *Engine) category(idx uint8) Category {
	c := e.categories[idx]
	return Category{
		Index:       idx,
		TicketPrice: new(big.Int).Set(c.price),
		PausedAt:    c.pausedAt,
		ActiveRound: c.activeRound,
		HasActive:   c.hasActive,
	}
}

// ProtocolFee returns the fee charged on top of ticketsAmount tickets at
// ticketPrice.
func (e *Engine) ProtocolFee(ticketsAmount uint64, ticketPrice *big.Int) *big.Int {
	return fee.ProtocolFee(ticketsAmount, ticketPrice)
}

func (e *Engine) StoredFee() *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return new(big.Int).Set(e.storedFee)
}

func (e *Engine) AutoRefillEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.autoRefill
}

func (e *Engine) FeeInterest() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.feeInterest
}

func (e *Engine) SwapConfig() refill.SwapConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.swapConfig.Clone()
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		TotalRounds:       uint64(len(e.rounds)),
		StoredFee:         new(big.Int).Set(e.storedFee),
		EscrowedPrizes:    new(big.Int).Set(e.escrowed),
		AutoRefillEnabled: e.autoRefill,
		FeeInterest:       e.feeInterest,
	}
}
