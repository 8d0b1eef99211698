// Package reader answers paginated per-user queries over the engine's
// rounds. Every query windows the round id range [offset, offset+limit)
// clipped to the number of rounds.
package reader

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/malbeclabs/lottery/engine/pkg/lottery"
)

// Source is the read side of the engine.
type Source interface {
	Rounds(offset, limit uint64) []lottery.Round
	Holds(roundID uint64, user common.Address) bool
	TicketOwner(roundID, index uint64) common.Address
}

type Randomness interface {
	RandomNumber(ctx context.Context, requestID uint64) (uint64, error)
}

type Config struct {
	Logger     *slog.Logger
	Source     Source
	Randomness Randomness
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("source is required")
	}
	if cfg.Randomness == nil {
		return errors.New("randomness is required")
	}
	return nil
}

type Reader struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reader{log: cfg.Logger, cfg: cfg}, nil
}

// UnclaimedRounds returns rounds not yet claimed, open rounds included.
func (r *Reader) UnclaimedRounds(ctx context.Context, offset, limit uint64) []lottery.Round {
	return r.filter(offset, limit, func(round *lottery.Round) bool {
		return !round.Claimed
	})
}

// ParticipatedRounds returns rounds in which user holds a ticket.
func (r *Reader) ParticipatedRounds(ctx context.Context, user common.Address, offset, limit uint64) []lottery.Round {
	return r.filter(offset, limit, func(round *lottery.Round) bool {
		return r.cfg.Source.Holds(round.ID, user)
	})
}

// WonRounds returns claimed rounds won by user and full unclaimed rounds
// whose fulfilled randomness already designates user. For the latter the
// returned round carries the predicted winner and ticket.
func (r *Reader) WonRounds(ctx context.Context, user common.Address, offset, limit uint64) []lottery.Round {
	return r.filter(offset, limit, func(round *lottery.Round) bool {
		if round.Claimed {
			return round.Winner == user
		}
		return r.predict(ctx, round) && round.Winner == user
	})
}

// UnclaimedWonRounds returns the unclaimed subset of WonRounds.
func (r *Reader) UnclaimedWonRounds(ctx context.Context, user common.Address, offset, limit uint64) []lottery.Round {
	return r.filter(offset, limit, func(round *lottery.Round) bool {
		return !round.Claimed && r.predict(ctx, round) && round.Winner == user
	})
}

// predict fills in the winner of a full unclaimed round and reports
// whether its randomness is usable.
func (r *Reader) predict(ctx context.Context, round *lottery.Round) bool {
	if !round.Full() {
		return false
	}
	ticket, err := r.cfg.Randomness.RandomNumber(ctx, round.RequestID)
	if err != nil {
		if !errors.Is(err, lottery.ErrNotFulfilledRequest) {
			r.log.Debug("reader: randomness unavailable", "round", round.ID, "error", err)
		}
		return false
	}
	round.WinningTicket = ticket
	round.Winner = r.cfg.Source.TicketOwner(round.ID, ticket)
	return true
}

func (r *Reader) filter(offset, limit uint64, keep func(round *lottery.Round) bool) []lottery.Round {
	if limit == 0 {
		return []lottery.Round{}
	}
	out := []lottery.Round{}
	for _, round := range r.cfg.Source.Rounds(offset, limit) {
		if keep(&round) {
			out = append(out, round)
		}
	}
	return out
}
