package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lottery/engine/pkg/metrics"
)

var (
	ErrUnknownRequest                  = errors.New("unknown request")
	ErrInsufficientSubscriptionBalance = errors.New("insufficient subscription balance")
	ErrInvalidFunding                  = errors.New("invalid funding amount")
)

// Consumer receives fulfilled random words from the coordinator.
type Consumer interface {
	FulfillRandomWords(ctx context.Context, from common.Address, requestID uint64, words []*big.Int) error
}

// Request carries the parameters of a randomness request.
type Request struct {
	KeyHash              common.Hash
	SubscriptionID       common.Hash
	RequestConfirmations uint16
	CallbackGasLimit     uint32
	NumWords             uint32
}

// PendingRequest is a request waiting for fulfilment.
type PendingRequest struct {
	ID          uint64
	Request     Request
	RequestedAt time.Time
}

// Bank holds subscription balances and moves funding between accounts.
type Bank interface {
	Transfer(asset, from, to common.Address, amount *big.Int) error
	BalanceOf(asset, holder common.Address) *big.Int
}

type CoordinatorConfig struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Bank    Bank
	Address common.Address
	// FundingToken is the asset subscriptions are funded with.
	FundingToken common.Address
	// MinBalance is the subscription balance required to accept a request.
	MinBalance *big.Int
	// FeePerRequest is charged from the subscription when a request is
	// accepted.
	FeePerRequest *big.Int
}

func (cfg *CoordinatorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Bank == nil {
		return errors.New("bank is required")
	}
	if cfg.Address == (common.Address{}) {
		return errors.New("coordinator address is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MinBalance == nil {
		cfg.MinBalance = new(big.Int)
	}
	if cfg.FeePerRequest == nil {
		cfg.FeePerRequest = new(big.Int)
	}
	return nil
}

type pendingEntry struct {
	PendingRequest
	consumer Consumer
}

// Coordinator is an in-process randomness coordinator. It allocates request
// ids and pushes fulfilments to consumers. Subscription balances are bank
// balances of per-subscription accounts, so funding and fees roll back with
// the caller's bank snapshot.
type Coordinator struct {
	log *slog.Logger
	cfg CoordinatorConfig

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]pendingEntry
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		log:     cfg.Logger,
		cfg:     cfg,
		nextID:  1,
		pending: make(map[uint64]pendingEntry),
	}, nil
}

func (c *Coordinator) Address() common.Address {
	return c.cfg.Address
}

func (c *Coordinator) RequestRandomWords(ctx context.Context, consumer Consumer, req Request) (uint64, error) {
	if consumer == nil {
		return 0, errors.New("consumer is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	account := c.SubscriptionAccount(req.SubscriptionID)
	bal := c.cfg.Bank.BalanceOf(c.cfg.FundingToken, account)
	if bal.Cmp(c.cfg.MinBalance) < 0 {
		return 0, fmt.Errorf("%w: have %s, need %s", ErrInsufficientSubscriptionBalance, bal, c.cfg.MinBalance)
	}
	charge := new(big.Int).Set(c.cfg.FeePerRequest)
	if charge.Cmp(bal) > 0 {
		charge.Set(bal)
	}
	if err := c.cfg.Bank.Transfer(c.cfg.FundingToken, account, c.cfg.Address, charge); err != nil {
		return 0, fmt.Errorf("failed to charge subscription: %w", err)
	}

	id := c.nextID
	c.nextID++
	c.pending[id] = pendingEntry{
		PendingRequest: PendingRequest{ID: id, Request: req, RequestedAt: c.cfg.Clock.Now()},
		consumer:       consumer,
	}
	metrics.OracleRequestsTotal.Inc()
	c.log.Debug("coordinator: random words requested", "request_id", id, "num_words", req.NumWords)
	return id, nil
}

// Fulfill delivers words for a pending request to its consumer. A request
// is delivered at most once.
func (c *Coordinator) Fulfill(ctx context.Context, requestID uint64, words []*big.Int) error {
	c.mu.Lock()
	entry, ok := c.pending[requestID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownRequest, requestID)
	}
	delete(c.pending, requestID)
	c.mu.Unlock()

	if err := entry.consumer.FulfillRandomWords(ctx, c.cfg.Address, requestID, words); err != nil {
		metrics.OracleFulfilmentsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to deliver random words for request %d: %w", requestID, err)
	}
	metrics.OracleFulfilmentsTotal.WithLabelValues("success").Inc()
	c.log.Debug("coordinator: random words fulfilled", "request_id", requestID)
	return nil
}

// Pending returns the outstanding requests ordered by id.
func (c *Coordinator) Pending() []PendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingRequest, 0, len(c.pending))
	for _, e := range c.pending {
		out = append(out, e.PendingRequest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FundSubscription moves amount of the funding token from sender to the
// account of subID.
func (c *Coordinator) FundSubscription(ctx context.Context, sender common.Address, subID common.Hash, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidFunding
	}
	if err := c.cfg.Bank.Transfer(c.cfg.FundingToken, sender, c.SubscriptionAccount(subID), amount); err != nil {
		return fmt.Errorf("failed to transfer subscription funding: %w", err)
	}
	c.log.Info("coordinator: subscription funded", "subscription", subID.Hex(), "amount", amount.String())
	return nil
}

func (c *Coordinator) SubscriptionBalance(subID common.Hash) *big.Int {
	return c.cfg.Bank.BalanceOf(c.cfg.FundingToken, c.SubscriptionAccount(subID))
}

// SubscriptionAccount is the bank account holding the balance of subID.
func (c *Coordinator) SubscriptionAccount(subID common.Hash) common.Address {
	return common.BytesToAddress(crypto.Keccak256(c.cfg.Address.Bytes(), subID.Bytes()))
}
