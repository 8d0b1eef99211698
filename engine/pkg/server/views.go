package server

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/malbeclabs/lottery/engine/pkg/lottery"
	"github.com/malbeclabs/lottery/engine/pkg/token"
)

// Amounts are rendered as decimal token strings and addresses as hex.

type roundView struct {
	ID               uint64     `json:"id"`
	Category         uint8      `json:"category"`
	TicketPrice      string     `json:"ticket_price"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	PurchasedTickets uint64     `json:"purchased_tickets"`
	Full             bool       `json:"full"`
	RequestID        *uint64    `json:"request_id,omitempty"`
	WinningTicket    *uint64    `json:"winning_ticket,omitempty"`
	Winner           string     `json:"winner,omitempty"`
	Claimed          bool       `json:"claimed"`
}

func newRoundView(r lottery.Round) roundView {
	v := roundView{
		ID:               r.ID,
		Category:         r.Category,
		TicketPrice:      token.FormatUnits(r.TicketPrice),
		StartTime:        timePtr(r.StartTime),
		EndTime:          timePtr(r.EndTime),
		PurchasedTickets: r.PurchasedTickets,
		Full:             r.Full(),
		Claimed:          r.Claimed,
	}
	if r.Full() {
		v.RequestID = &r.RequestID
	}
	if r.Winner != (common.Address{}) {
		v.WinningTicket = &r.WinningTicket
		v.Winner = r.Winner.Hex()
	}
	return v
}

func newRoundViews(rounds []lottery.Round) []roundView {
	out := make([]roundView, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, newRoundView(r))
	}
	return out
}

type categoryView struct {
	Index       uint8      `json:"index"`
	TicketPrice string     `json:"ticket_price"`
	Paused      bool       `json:"paused"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	ActiveRound *uint64    `json:"active_round"`
}

func newCategoryView(c lottery.Category) categoryView {
	v := categoryView{
		Index:       c.Index,
		TicketPrice: token.FormatUnits(c.TicketPrice),
		Paused:      c.Paused(),
		PausedAt:    timePtr(c.PausedAt),
	}
	if c.HasActive {
		v.ActiveRound = &c.ActiveRound
	}
	return v
}

type purchaseView struct {
	RoundID     uint64  `json:"round_id"`
	Category    uint8   `json:"category"`
	Tickets     uint64  `json:"tickets"`
	FirstTicket uint64  `json:"first_ticket"`
	Cumulative  uint64  `json:"cumulative"`
	Cost        string  `json:"cost"`
	Fee         string  `json:"fee"`
	FeeStored   bool    `json:"fee_stored"`
	Filled      bool    `json:"filled"`
	RequestID   *uint64 `json:"request_id,omitempty"`
}

func newPurchaseView(p *lottery.Purchase) purchaseView {
	v := purchaseView{
		RoundID:     p.RoundID,
		Category:    p.Category,
		Tickets:     p.Tickets,
		FirstTicket: p.FirstTicket,
		Cumulative:  p.Cumulative,
		Cost:        token.FormatUnits(p.Cost),
		Fee:         token.FormatUnits(p.Fee),
		FeeStored:   p.FeeStored,
		Filled:      p.Filled,
	}
	if p.Filled {
		v.RequestID = &p.RequestID
	}
	return v
}

type claimView struct {
	RoundID       uint64 `json:"round_id"`
	WinningTicket uint64 `json:"winning_ticket"`
	Winner        string `json:"winner"`
	Payout        string `json:"payout"`
}

type refillView struct {
	Succeeded bool   `json:"succeeded"`
	Consumed  string `json:"consumed,omitempty"`
	Funded    string `json:"funded,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type claimResultView struct {
	Claims []claimView `json:"claims"`
	Refill *refillView `json:"refill,omitempty"`
}

func newClaimResultView(res *lottery.ClaimResult) claimResultView {
	v := claimResultView{Claims: make([]claimView, 0, len(res.Claims))}
	for _, c := range res.Claims {
		v.Claims = append(v.Claims, claimView{
			RoundID:       c.RoundID,
			WinningTicket: c.WinningTicket,
			Winner:        c.Winner.Hex(),
			Payout:        token.FormatUnits(c.Payout),
		})
	}
	if res.Refill != nil {
		v.Refill = &refillView{
			Succeeded: res.Refill.Succeeded,
			Reason:    res.Refill.Reason,
		}
		if res.Refill.Succeeded {
			v.Refill.Consumed = token.FormatUnits(res.Refill.Consumed)
			v.Refill.Funded = token.FormatUnits(res.Refill.Funded)
		}
	}
	return v
}

type statsView struct {
	TotalRounds         uint64 `json:"total_rounds"`
	StoredFee           string `json:"stored_fee"`
	EscrowedPrizes      string `json:"escrowed_prizes"`
	AutoRefillEnabled   bool   `json:"auto_refill_enabled"`
	FeeInterest         uint64 `json:"fee_interest"`
	TreasuryTotal       string `json:"treasury_total"`
	SubscriptionBalance string `json:"subscription_balance"`
	PendingRequests     int    `json:"pending_requests"`
}

type balanceView struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

type feeView struct {
	Tickets uint64 `json:"tickets"`
	Price   string `json:"price"`
	Cost    string `json:"cost"`
	Fee     string `json:"fee"`
}

type ownerView struct {
	RoundID uint64 `json:"round_id"`
	Index   uint64 `json:"index"`
	Owner   string `json:"owner,omitempty"`
}

type participantsView struct {
	RoundID     uint64           `json:"round_id"`
	Tickets     []string         `json:"tickets"`
	Checkpoints []checkpointView `json:"checkpoints"`
}

type checkpointView struct {
	Buyer      string `json:"buyer"`
	Cumulative uint64 `json:"cumulative"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
