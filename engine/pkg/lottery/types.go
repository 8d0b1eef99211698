package lottery

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/malbeclabs/lottery/engine/pkg/ledger"
)

// NumCategories is the number of round categories (ticket tiers).
const NumCategories = 4

// Capacity is the number of tickets that fill a round.
const Capacity = ledger.Capacity

// Round is one ticket sale and draw. Times are zero until set.
type Round struct {
	ID               uint64
	Category         uint8
	TicketPrice      *big.Int
	StartTime        time.Time
	EndTime          time.Time
	PurchasedTickets uint64
	RequestID        uint64
	WinningTicket    uint64
	Winner           common.Address
	Claimed          bool
}

// Full reports whether every ticket of the round has been sold.
func (r Round) Full() bool {
	return r.PurchasedTickets == Capacity
}

func (r Round) clone() Round {
	out := r
	out.TicketPrice = new(big.Int).Set(r.TicketPrice)
	return out
}

// Category is the state of one ticket tier.
type Category struct {
	Index       uint8
	TicketPrice *big.Int
	PausedAt    time.Time
	ActiveRound uint64
	HasActive   bool
}

func (c Category) Paused() bool {
	return !c.PausedAt.IsZero()
}

// Purchase describes a committed ticket purchase.
type Purchase struct {
	RoundID  uint64
	Category uint8
	Tickets  uint64
	// FirstTicket is the index of the first ticket bought.
	FirstTicket uint64
	Cumulative  uint64
	Cost        *big.Int
	Fee         *big.Int
	FeeStored   bool
	Filled      bool
	RequestID   uint64
}

// Claim is the payout of one round.
type Claim struct {
	RoundID       uint64
	WinningTicket uint64
	Winner        common.Address
	Payout        *big.Int
}

// RefillReport is the outcome of the auto refill run after a claim batch.
type RefillReport struct {
	Succeeded bool
	Consumed  *big.Int
	Funded    *big.Int
	Reason    string
}

type ClaimResult struct {
	Claims []Claim
	// Refill is nil when auto refill is disabled.
	Refill *RefillReport
}

// Stats is a summary of the engine's accounting.
type Stats struct {
	TotalRounds       uint64
	StoredFee         *big.Int
	EscrowedPrizes    *big.Int
	AutoRefillEnabled bool
	FeeInterest       uint64
}
