// Package oracle provides the randomness oracle consumed by the lottery
// engine and an in-process coordinator that backs it.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/malbeclabs/lottery/engine/pkg/randomness"
)

const (
	DefaultCallbackGasLimit     = 200_000
	DefaultRequestConfirmations = 5
	DefaultNumWords             = 1

	minCallbackGasLimit     = 150_000
	maxCallbackGasLimit     = 2_500_000
	minRequestConfirmations = 3
	maxRequestConfirmations = 200
	maxNumWords             = 500
)

var (
	ErrUnauthorized     = errors.New("caller is not the owner")
	ErrCallerNotAllowed = errors.New("caller is not allowed")
	ErrForbidden        = errors.New("forbidden")
	ErrOutOfBounds      = errors.New("value out of bounds")
	ErrZeroAddress      = errors.New("zero address")
)

// CoordinatorClient is the coordinator API the oracle depends on.
type CoordinatorClient interface {
	Address() common.Address
	RequestRandomWords(ctx context.Context, consumer Consumer, req Request) (uint64, error)
}

type Config struct {
	Logger         *slog.Logger
	Owner          common.Address
	Coordinator    CoordinatorClient
	KeyHash        common.Hash
	SubscriptionID common.Hash

	CallbackGasLimit     uint32
	RequestConfirmations uint16
	NumWords             uint32
	AllowedCallers       []common.Address
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Coordinator == nil {
		return errors.New("coordinator is required")
	}
	if cfg.Owner == (common.Address{}) {
		return errors.New("owner is required")
	}
	if cfg.CallbackGasLimit == 0 {
		cfg.CallbackGasLimit = DefaultCallbackGasLimit
	}
	if cfg.RequestConfirmations == 0 {
		cfg.RequestConfirmations = DefaultRequestConfirmations
	}
	if cfg.NumWords == 0 {
		cfg.NumWords = DefaultNumWords
	}
	if err := validateCallbackGasLimit(cfg.CallbackGasLimit); err != nil {
		return err
	}
	if err := validateRequestConfirmations(cfg.RequestConfirmations); err != nil {
		return err
	}
	return validateNumWords(cfg.NumWords)
}

// Params is the current request configuration.
type Params struct {
	KeyHash              common.Hash `json:"key_hash"`
	SubscriptionID       common.Hash `json:"subscription_id"`
	CallbackGasLimit     uint32      `json:"callback_gas_limit"`
	RequestConfirmations uint16      `json:"request_confirmations"`
	NumWords             uint32      `json:"num_words"`
}

type requestRecord struct {
	fulfilled bool
	words     []*big.Int
}

// Oracle forwards allow-listed randomness requests to the coordinator and
// records the words it pushes back.
type Oracle struct {
	log *slog.Logger
	cfg Config

	mu       sync.RWMutex
	params   Params
	allowed  map[common.Address]bool
	requests map[uint64]*requestRecord
}

func New(cfg Config) (*Oracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Oracle{
		log: cfg.Logger,
		cfg: cfg,
		params: Params{
			KeyHash:              cfg.KeyHash,
			SubscriptionID:       cfg.SubscriptionID,
			CallbackGasLimit:     cfg.CallbackGasLimit,
			RequestConfirmations: cfg.RequestConfirmations,
			NumWords:             cfg.NumWords,
		},
		allowed:  make(map[common.Address]bool),
		requests: make(map[uint64]*requestRecord),
	}
	for _, c := range cfg.AllowedCallers {
		o.allowed[c] = true
	}
	return o, nil
}

func (o *Oracle) Owner() common.Address {
	return o.cfg.Owner
}

func (o *Oracle) Params() Params {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.params
}

func (o *Oracle) IsAllowed(caller common.Address) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.allowed[caller]
}

func (o *Oracle) SetAllowedCaller(sender, caller common.Address, allowed bool) error {
	if sender != o.cfg.Owner {
		return ErrUnauthorized
	}
	if caller == (common.Address{}) {
		return ErrZeroAddress
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if allowed {
		o.allowed[caller] = true
	} else {
		delete(o.allowed, caller)
	}
	o.log.Info("oracle: allowed caller updated", "caller", caller.Hex(), "allowed", allowed)
	return nil
}

func (o *Oracle) SetKeyHash(sender common.Address, keyHash common.Hash) error {
	return o.update(sender, func(p *Params) error {
		p.KeyHash = keyHash
		return nil
	})
}

func (o *Oracle) SetCallbackGasLimit(sender common.Address, v uint32) error {
	return o.update(sender, func(p *Params) error {
		if err := validateCallbackGasLimit(v); err != nil {
			return err
		}
		p.CallbackGasLimit = v
		return nil
	})
}

func (o *Oracle) SetRequestConfirmations(sender common.Address, v uint16) error {
	return o.update(sender, func(p *Params) error {
		if err := validateRequestConfirmations(v); err != nil {
			return err
		}
		p.RequestConfirmations = v
		return nil
	})
}

func (o *Oracle) SetNumWords(sender common.Address, v uint32) error {
	return o.update(sender, func(p *Params) error {
		if err := validateNumWords(v); err != nil {
			return err
		}
		p.NumWords = v
		return nil
	})
}

func (o *Oracle) update(sender common.Address, fn func(p *Params) error) error {
	if sender != o.cfg.Owner {
		return ErrUnauthorized
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	next := o.params
	if err := fn(&next); err != nil {
		return err
	}
	o.params = next
	return nil
}

// RequestRandomWords submits a request on behalf of an allow-listed caller.
func (o *Oracle) RequestRandomWords(ctx context.Context, caller common.Address) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.allowed[caller] {
		return 0, ErrCallerNotAllowed
	}
	id, err := o.cfg.Coordinator.RequestRandomWords(ctx, o, Request{
		KeyHash:              o.params.KeyHash,
		SubscriptionID:       o.params.SubscriptionID,
		RequestConfirmations: o.params.RequestConfirmations,
		CallbackGasLimit:     o.params.CallbackGasLimit,
		NumWords:             o.params.NumWords,
	})
	if err != nil {
		return 0, err
	}
	o.requests[id] = &requestRecord{}
	o.log.Info("oracle: request sent", "request_id", id, "caller", caller.Hex())
	return id, nil
}

// FulfillRandomWords is the coordinator's push callback. Only the configured
// coordinator may call it. Repeated fulfilment of a request is ignored.
func (o *Oracle) FulfillRandomWords(ctx context.Context, from common.Address, requestID uint64, words []*big.Int) error {
	if from != o.cfg.Coordinator.Address() {
		return ErrForbidden
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.requests[requestID]
	if !ok {
		return fmt.Errorf("%w: %d", randomness.ErrRequestNotFound, requestID)
	}
	if rec.fulfilled {
		o.log.Warn("oracle: duplicate fulfilment ignored", "request_id", requestID)
		return nil
	}
	rec.fulfilled = true
	rec.words = make([]*big.Int, len(words))
	for i, w := range words {
		rec.words[i] = new(big.Int).Set(w)
	}
	o.log.Info("oracle: request fulfilled", "request_id", requestID, "num_words", len(words))
	return nil
}

// Status returns the record of requestID. Unknown ids report Exists=false.
func (o *Oracle) Status(ctx context.Context, requestID uint64) (randomness.Status, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rec, ok := o.requests[requestID]
	if !ok {
		return randomness.Status{}, nil
	}
	words := make([]*big.Int, len(rec.words))
	for i, w := range rec.words {
		words[i] = new(big.Int).Set(w)
	}
	return randomness.Status{Exists: true, Fulfilled: rec.fulfilled, Words: words}, nil
}

func validateCallbackGasLimit(v uint32) error {
	if v <= minCallbackGasLimit || v >= maxCallbackGasLimit {
		return fmt.Errorf("%w: callback gas limit %d not in (%d, %d)", ErrOutOfBounds, v, minCallbackGasLimit, maxCallbackGasLimit)
	}
	return nil
}

func validateRequestConfirmations(v uint16) error {
	if v < minRequestConfirmations || v >= maxRequestConfirmations {
		return fmt.Errorf("%w: request confirmations %d not in [%d, %d)", ErrOutOfBounds, v, minRequestConfirmations, maxRequestConfirmations)
	}
	return nil
}

func validateNumWords(v uint32) error {
	if v == 0 || v >= maxNumWords {
		return fmt.Errorf("%w: num words %d not in [1, %d)", ErrOutOfBounds, v, maxNumWords)
	}
	return nil
}
