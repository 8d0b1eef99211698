// Package randomness is the engine's view of the external randomness oracle:
// submit a request, poll its fulfilment and reduce the delivered word to a
// ticket index.
package randomness

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrRequestNotFound     = errors.New("request not found")
	ErrNotFulfilledRequest = errors.New("not fulfilled request")
	ErrInvalidRandomValue  = errors.New("invalid random value")
)

// Status is the oracle's record of a request.
type Status struct {
	Exists    bool
	Fulfilled bool
	Words     []*big.Int
}

// Oracle is the randomness oracle consumed by the engine.
type Oracle interface {
	RequestRandomWords(ctx context.Context, caller common.Address) (uint64, error)
	Status(ctx context.Context, requestID uint64) (Status, error)
}

type ClientConfig struct {
	Oracle Oracle
	// Caller is the account the oracle allow-lists, normally the engine.
	Caller common.Address
	// Modulus is the number of ticket slots a word is reduced over.
	Modulus uint64
}

func (cfg *ClientConfig) Validate() error {
	if cfg.Oracle == nil {
		return errors.New("oracle is required")
	}
	if cfg.Modulus == 0 {
		return errors.New("modulus must be greater than 0")
	}
	return nil
}

type Client struct {
	cfg ClientConfig
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{cfg: cfg}, nil
}

// Request submits a new randomness request and returns its correlation id.
func (c *Client) Request(ctx context.Context) (uint64, error) {
	id, err := c.cfg.Oracle.RequestRandomWords(ctx, c.cfg.Caller)
	if err != nil {
		return 0, fmt.Errorf("failed to request random words: %w", err)
	}
	return id, nil
}

// RandomNumber returns the fulfilled word of requestID reduced modulo the
// configured modulus.
func (c *Client) RandomNumber(ctx context.Context, requestID uint64) (uint64, error) {
	status, err := c.cfg.Oracle.Status(ctx, requestID)
	if err != nil {
		return 0, fmt.Errorf("failed to get request status: %w", err)
	}
	if !status.Exists {
		return 0, ErrRequestNotFound
	}
	if !status.Fulfilled {
		return 0, ErrNotFulfilledRequest
	}
	if len(status.Words) == 0 {
		return 0, ErrInvalidRandomValue
	}
	return Reduce(status.Words[0], c.cfg.Modulus)
}

// Reduce maps a raw word to [0, modulus). A word of exactly zero is the
// unset sentinel and is rejected; a non-zero word that reduces to zero is
// valid.
func Reduce(word *big.Int, modulus uint64) (uint64, error) {
	if word == nil || word.Sign() <= 0 {
		return 0, ErrInvalidRandomValue
	}
	m := new(big.Int).SetUint64(modulus)
	return new(big.Int).Mod(word, m).Uint64(), nil
}
