package oracle

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lottery/engine/pkg/metrics"
)

type FulfillerConfig struct {
	Logger      *slog.Logger
	Clock       clockwork.Clock
	Coordinator *Coordinator
	Interval    time.Duration
	// MinAge delays fulfilment of a request until it is at least this old.
	MinAge  time.Duration
	Entropy io.Reader
}

func (cfg *FulfillerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Coordinator == nil {
		return errors.New("coordinator is required")
	}
	if cfg.Interval <= 0 {
		return errors.New("interval must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Entropy == nil {
		cfg.Entropy = rand.Reader
	}
	return nil
}

// Fulfiller plays the off-chain randomness provider for the in-process
// coordinator. Every interval it fulfils all pending requests with words
// read from Entropy.
type Fulfiller struct {
	log *slog.Logger
	cfg FulfillerConfig
}

func NewFulfiller(cfg FulfillerConfig) (*Fulfiller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Fulfiller{log: cfg.Logger, cfg: cfg}, nil
}

// Run blocks until ctx is done.
func (f *Fulfiller) Run(ctx context.Context) error {
	f.log.Info("fulfiller: starting loop", "interval", f.cfg.Interval)
	ticker := f.cfg.Clock.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			f.safeTick(ctx)
		}
	}
}

func (f *Fulfiller) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("fulfiller: tick panicked", "panic", r)
			metrics.LoopRunsTotal.WithLabelValues("fulfiller", "panic").Inc()
			sentry.CurrentHub().Recover(r)
		}
	}()
	if _, err := f.Tick(ctx); err != nil {
		metrics.LoopRunsTotal.WithLabelValues("fulfiller", "error").Inc()
		f.log.Error("fulfiller: tick failed", "error", err)
		return
	}
	metrics.LoopRunsTotal.WithLabelValues("fulfiller", "success").Inc()
}

// Tick fulfils every pending request old enough and returns how many were
// delivered.
func (f *Fulfiller) Tick(ctx context.Context) (int, error) {
	now := f.cfg.Clock.Now()
	var (
		delivered int
		errs      []error
	)
	for _, req := range f.cfg.Coordinator.Pending() {
		if now.Sub(req.RequestedAt) < f.cfg.MinAge {
			continue
		}
		words, err := f.words(req.Request.NumWords)
		if err != nil {
			return delivered, err
		}
		if err := f.cfg.Coordinator.Fulfill(ctx, req.ID, words); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

func (f *Fulfiller) words(n uint32) ([]*big.Int, error) {
	if n == 0 {
		n = 1
	}
	words := make([]*big.Int, 0, n)
	buf := make([]byte, 32)
	for uint32(len(words)) < n {
		if _, err := io.ReadFull(f.cfg.Entropy, buf); err != nil {
			return nil, fmt.Errorf("failed to read entropy: %w", err)
		}
		w := new(big.Int).SetBytes(buf)
		if w.Sign() == 0 {
			continue
		}
		words = append(words, w)
	}
	return words, nil
}
