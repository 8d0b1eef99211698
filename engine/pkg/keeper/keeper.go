// Package keeper claims settled rounds in the background so prizes reach
// winners without anyone calling claim.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lottery/engine/pkg/lottery"
	"github.com/malbeclabs/lottery/engine/pkg/metrics"
)

type Engine interface {
	Rounds(offset, limit uint64) []lottery.Round
	MinSettlementDelay() time.Duration
	ClaimRewards(ctx context.Context, caller common.Address, roundIDs []uint64) (*lottery.ClaimResult, error)
}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Engine   Engine
	Caller   common.Address
	Interval time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if cfg.Interval <= 0 {
		return errors.New("interval must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Keeper struct {
	log *slog.Logger
	cfg Config

	mu sync.Mutex
	// watermark is the lowest round id that may still be unclaimed.
	watermark uint64
}

func New(cfg Config) (*Keeper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Keeper{log: cfg.Logger, cfg: cfg}, nil
}

// Run blocks until ctx is done.
func (k *Keeper) Run(ctx context.Context) error {
	k.log.Info("keeper: starting loop", "interval", k.cfg.Interval)
	ticker := k.cfg.Clock.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			k.safeTick(ctx)
		}
	}
}

func (k *Keeper) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			k.log.Error("keeper: tick panicked", "panic", r)
			metrics.LoopRunsTotal.WithLabelValues("keeper", "panic").Inc()
			sentry.CurrentHub().Recover(r)
		}
	}()
	if _, err := k.Tick(ctx); err != nil {
		metrics.LoopRunsTotal.WithLabelValues("keeper", "error").Inc()
		k.log.Error("keeper: tick failed", "error", err)
		return
	}
	metrics.LoopRunsTotal.WithLabelValues("keeper", "success").Inc()
}

// Tick claims every full, unclaimed round whose settlement delay elapsed,
// one round per call. Rounds waiting for randomness are skipped. It
// returns the number of rounds claimed.
func (k *Keeper) Tick(ctx context.Context) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.cfg.Clock.Now()
	delay := k.cfg.Engine.MinSettlementDelay()
	var (
		claimed int
		errs    []error
	)
	// settled stays true while every round scanned so far is claimed.
	settled := true
	for _, r := range k.cfg.Engine.Rounds(k.watermark, 0) {
		if r.Claimed {
			if settled {
				k.watermark = r.ID + 1
			}
			continue
		}
		if !r.Full() || now.Before(r.EndTime.Add(delay)) {
			settled = false
			continue
		}

		_, err := k.cfg.Engine.ClaimRewards(ctx, k.cfg.Caller, []uint64{r.ID})
		switch {
		case err == nil:
			claimed++
			if settled {
				k.watermark = r.ID + 1
			}
			continue
		case errors.Is(err, lottery.ErrNotFulfilledRequest), errors.Is(err, lottery.ErrTooSoon):
			k.log.Debug("keeper: round not ready", "round", r.ID, "error", err)
		default:
			k.log.Warn("keeper: claim failed", "round", r.ID, "error", err)
			errs = append(errs, err)
		}
		settled = false
	}
	if claimed > 0 {
		k.log.Info("keeper: rounds claimed", "count", claimed, "watermark", k.watermark)
	}
	return claimed, errors.Join(errs...)
}

// Watermark returns the lowest round id that may still be unclaimed.
func (k *Keeper) Watermark() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.watermark
}
