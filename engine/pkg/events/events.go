// Package events defines the records the engine publishes after every
// committed state change and the in-process bus that carries them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type Kind string

const (
	KindRoundCreated        Kind = "round_created"
	KindTicketsPurchased    Kind = "tickets_purchased"
	KindRoundFilled         Kind = "round_filled"
	KindRewardClaimed       Kind = "reward_claimed"
	KindAutoRefillSucceeded Kind = "auto_refill_succeeded"
	KindAutoRefillFailed    Kind = "auto_refill_failed"
	KindRoundTypePaused     Kind = "round_type_paused"
	KindRoundTypeUnpaused   Kind = "round_type_unpaused"
	KindAutoRefillToggled   Kind = "auto_refill_toggled"
	KindSwapConfigUpdated   Kind = "swap_config_updated"
	KindFeeInterestUpdated  Kind = "fee_interest_updated"
	KindExcessWithdrawn     Kind = "excess_withdrawn"
	KindStoredFeeWithdrawn  Kind = "stored_fee_withdrawn"
)

// Event is one committed state change. Seq is assigned by the engine and
// orders events from a single engine.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Seq        uint64          `json:"seq"`
	Kind       Kind            `json:"kind"`
	RoundID    *uint64         `json:"round_id,omitempty"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// New builds an event with a fresh id and data marshaled to JSON.
func New(kind Kind, at time.Time, roundID *uint64, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s event: %w", kind, err)
	}
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		RoundID:    roundID,
		Data:       raw,
		OccurredAt: at.UTC(),
	}, nil
}

// Sink receives committed events.
type Sink interface {
	Publish(ctx context.Context, evs ...Event) error
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Publish(context.Context, ...Event) error { return nil }

type RoundCreated struct {
	Category    uint8    `json:"category"`
	TicketPrice *big.Int `json:"ticket_price"`
}

type TicketsPurchased struct {
	Buyer      common.Address `json:"buyer"`
	Category   uint8          `json:"category"`
	Tickets    uint64         `json:"tickets"`
	Cumulative uint64         `json:"cumulative"`
	Cost       *big.Int       `json:"cost"`
	Fee        *big.Int       `json:"fee"`
	FeeStored  bool           `json:"fee_stored"`
}

type RoundFilled struct {
	Category  uint8  `json:"category"`
	RequestID uint64 `json:"request_id"`
}

type RewardClaimed struct {
	Winner        common.Address `json:"winner"`
	WinningTicket uint64         `json:"winning_ticket"`
	Payout        *big.Int       `json:"payout"`
}

type AutoRefill struct {
	Consumed *big.Int `json:"consumed,omitempty"`
	Funded   *big.Int `json:"funded,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

type RoundType struct {
	Category uint8     `json:"category"`
	At       time.Time `json:"at"`
}

type AutoRefillToggled struct {
	Enabled bool `json:"enabled"`
}

type FeeInterestUpdated struct {
	FeeInterest uint64 `json:"fee_interest"`
}

type Withdrawal struct {
	Asset    common.Address `json:"asset"`
	Amount   *big.Int       `json:"amount"`
	Receiver common.Address `json:"receiver"`
}
