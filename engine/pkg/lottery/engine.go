// Package lottery implements the multi-tier ticket lottery: ticket sales
// into fixed-size rounds, fee routing, randomness requests for full rounds
// and batched prize claims followed by a best-effort subscription refill.
//
// Every mutating call is atomic. Ledger and bank changes made by a call
// that returns an error are rolled back and its events are dropped.
package lottery

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/malbeclabs/lottery/engine/pkg/events"
	"github.com/malbeclabs/lottery/engine/pkg/ledger"
	"github.com/malbeclabs/lottery/engine/pkg/metrics"
	"github.com/malbeclabs/lottery/engine/pkg/refill"
)

type category struct {
	price       *big.Int
	pausedAt    time.Time
	activeRound uint64
	hasActive   bool
}

type Engine struct {
	log *slog.Logger
	cfg Config

	mu          sync.RWMutex
	categories  [NumCategories]category
	rounds      []*Round
	tickets     *ledger.Ledger
	storedFee   *big.Int
	escrowed    *big.Int
	autoRefill  bool
	feeInterest uint64
	swapConfig  refill.SwapConfig
	seq         uint64
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		log:         cfg.Logger,
		cfg:         cfg,
		tickets:     ledger.New(),
		storedFee:   new(big.Int),
		escrowed:    new(big.Int),
		autoRefill:  cfg.AutoRefillEnabled,
		feeInterest: cfg.FeeInterest,
		swapConfig:  cfg.SwapConfig.Clone(),
	}
	for i, p := range cfg.TicketPrices {
		e.categories[i].price = new(big.Int).Set(p)
	}
	return e, nil
}

// txn tracks the changes of one mutating call so they can be undone.
type txn struct {
	e        *Engine
	now      time.Time
	snapshot int
	undo     []func()
	commits  []func()
	events   []events.Event
}

func (tx *txn) onRevert(f func()) {
	tx.undo = append(tx.undo, f)
}

func (tx *txn) onCommit(f func()) {
	tx.commits = append(tx.commits, f)
}

func (tx *txn) emit(kind events.Kind, roundID *uint64, data any) error {
	ev, err := events.New(kind, tx.now, roundID, data)
	if err != nil {
		return err
	}
	tx.events = append(tx.events, ev)
	return nil
}

func (tx *txn) revert() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.e.cfg.Bank.RevertToSnapshot(tx.snapshot)
	tx.events = nil
}

func (tx *txn) commit() {
	tx.e.cfg.Bank.DiscardSnapshot(tx.snapshot)
	for i := range tx.events {
		tx.e.seq++
		tx.events[i].Seq = tx.e.seq
	}
	for _, f := range tx.commits {
		f()
	}
}

func (tx *txn) touchRound(r *Round) {
	prev := *r
	tx.onRevert(func() { *r = prev })
}

func (tx *txn) touchCategory(idx uint8) {
	prev := tx.e.categories[idx]
	tx.onRevert(func() { tx.e.categories[idx] = prev })
}

func (tx *txn) setStoredFee(v *big.Int) {
	prev := tx.e.storedFee
	tx.e.storedFee = v
	tx.onRevert(func() { tx.e.storedFee = prev })
}

func (tx *txn) setEscrowed(v *big.Int) {
	prev := tx.e.escrowed
	tx.e.escrowed = v
	tx.onRevert(func() { tx.e.escrowed = prev })
}

// exec runs fn under the write lock as a single atomic operation and
// publishes its events once the lock is released.
func (e *Engine) exec(ctx context.Context, op string, fn func(tx *txn) error) (err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation(op, start, err) }()

	e.mu.Lock()
	tx := &txn{e: e, now: e.cfg.Clock.Now(), snapshot: e.cfg.Bank.Snapshot()}
	err = e.run(tx, fn)
	if err != nil {
		tx.revert()
	} else {
		tx.commit()
	}
	evs := tx.events
	e.mu.Unlock()

	if err != nil {
		return err
	}
	if len(evs) > 0 {
		if perr := e.cfg.Events.Publish(ctx, evs...); perr != nil {
			e.log.Error("lottery: failed to publish events", "operation", op, "count", len(evs), "error", perr)
		}
	}
	return nil
}

func (e *Engine) run(tx *txn, fn func(tx *txn) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("lottery: operation panicked", "panic", r)
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return fn(tx)
}

func roundRef(id uint64) *uint64 {
	return &id
}
