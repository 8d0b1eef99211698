// Package exchange provides in-process conversion venues for the auto
// refill: a constant-product exchange and a 1:1 bridge swap. Pool reserves
// are token balances of the pool's own address, so a caller's bank
// snapshot rolls back swaps together with everything else.
package exchange

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jonboulle/clockwork"
)

const DefaultFeeBps = 30

var (
	ErrPairNotFound             = errors.New("pair not found")
	ErrPairExists               = errors.New("pair exists")
	ErrIdenticalTokens          = errors.New("identical tokens")
	ErrInsufficientLiquidity    = errors.New("insufficient liquidity")
	ErrInsufficientInputAmount  = errors.New("insufficient input amount")
	ErrInsufficientOutputAmount = errors.New("insufficient output amount")
	ErrExpired                  = errors.New("expired")
	ErrInvalidPath              = errors.New("invalid path")
)

var bpsDenominator = big.NewInt(10_000)

// Bank holds pool reserves.
type Bank interface {
	Transfer(asset, from, to common.Address, amount *big.Int) error
	BalanceOf(asset, holder common.Address) *big.Int
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Bank   Bank
	// Address identifies the exchange router.
	Address common.Address
	FeeBps  int64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Bank == nil {
		return errors.New("bank is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.FeeBps == 0 {
		cfg.FeeBps = DefaultFeeBps
	}
	if cfg.FeeBps < 0 || cfg.FeeBps >= 10_000 {
		return errors.New("fee bps must be below 10000")
	}
	return nil
}

type pairKey struct {
	token0, token1 common.Address
}

// Exchange is a constant-product (x*y=k) exchange with a router that swaps
// along multi-hop paths.
type Exchange struct {
	log *slog.Logger
	cfg Config

	mu    sync.RWMutex
	pairs map[pairKey]common.Address
}

func New(cfg Config) (*Exchange, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Exchange{
		log:   cfg.Logger,
		cfg:   cfg,
		pairs: make(map[pairKey]common.Address),
	}, nil
}

func (x *Exchange) Address() common.Address {
	return x.cfg.Address
}

// CreatePair registers a pool for tokenA/tokenB and returns its address.
func (x *Exchange) CreatePair(tokenA, tokenB common.Address) (common.Address, error) {
	key, err := sortTokens(tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.pairs[key]; ok {
		return common.Address{}, ErrPairExists
	}
	pair := pairAddress(x.cfg.Address, key)
	x.pairs[key] = pair
	x.log.Info("exchange: pair created", "token0", key.token0.Hex(), "token1", key.token1.Hex(), "pair", pair.Hex())
	return pair, nil
}

// pairInitCodeHash stands in for the pool's creation code hash.
var pairInitCodeHash = crypto.Keccak256([]byte("lottery/exchange/pair"))

// pairAddress derives the CREATE2 address of the pool for key under factory.
func pairAddress(factory common.Address, key pairKey) common.Address {
	salt := crypto.Keccak256Hash(key.token0.Bytes(), key.token1.Bytes())
	return crypto.CreateAddress2(factory, salt, pairInitCodeHash)
}

// Pair returns the pool address of tokenA/tokenB.
func (x *Exchange) Pair(tokenA, tokenB common.Address) (common.Address, error) {
	key, err := sortTokens(tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	pair, ok := x.pairs[key]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s/%s", ErrPairNotFound, tokenA.Hex(), tokenB.Hex())
	}
	return pair, nil
}

// AddLiquidity deposits amountA and amountB from provider into the pool,
// creating it if needed.
func (x *Exchange) AddLiquidity(provider, tokenA, tokenB common.Address, amountA, amountB *big.Int) error {
	pair, err := x.Pair(tokenA, tokenB)
	if errors.Is(err, ErrPairNotFound) {
		pair, err = x.CreatePair(tokenA, tokenB)
	}
	if err != nil {
		return err
	}
	if err := x.cfg.Bank.Transfer(tokenA, provider, pair, amountA); err != nil {
		return fmt.Errorf("failed to deposit %s: %w", tokenA.Hex(), err)
	}
	if err := x.cfg.Bank.Transfer(tokenB, provider, pair, amountB); err != nil {
		return fmt.Errorf("failed to deposit %s: %w", tokenB.Hex(), err)
	}
	return nil
}

// Reserves returns the pool balances of tokenIn and tokenOut.
func (x *Exchange) Reserves(tokenIn, tokenOut common.Address) (*big.Int, *big.Int, error) {
	pair, err := x.Pair(tokenIn, tokenOut)
	if err != nil {
		return nil, nil, err
	}
	return x.cfg.Bank.BalanceOf(tokenIn, pair), x.cfg.Bank.BalanceOf(tokenOut, pair), nil
}

// GetAmountOut applies the constant-product formula net of the swap fee.
func (x *Exchange) GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountIn.Sign() <= 0 {
		return nil, ErrInsufficientInputAmount
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	inWithFee := new(big.Int).Mul(amountIn, new(big.Int).Sub(bpsDenominator, big.NewInt(x.cfg.FeeBps)))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Add(new(big.Int).Mul(reserveIn, bpsDenominator), inWithFee)
	return num.Quo(num, den), nil
}

// GetAmountsOut quotes every hop of path for amountIn.
func (x *Exchange) GetAmountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, ErrInvalidPath
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		reserveIn, reserveOut, err := x.Reserves(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		out, err := x.GetAmountOut(amounts[i], reserveIn, reserveOut)
		if err != nil {
			return nil, err
		}
		amounts[i+1] = out
	}
	return amounts, nil
}

// SwapExactTokensForTokens sells amountIn of path[0] from sender for
// path[len-1] delivered to to. Every hop is quoted before any transfer.
func (x *Exchange) SwapExactTokensForTokens(ctx context.Context, sender common.Address, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline time.Time) (*big.Int, error) {
	if x.cfg.Clock.Now().After(deadline) {
		return nil, ErrExpired
	}
	amounts, err := x.GetAmountsOut(amountIn, path)
	if err != nil {
		return nil, err
	}
	out := amounts[len(amounts)-1]
	if out.Cmp(amountOutMin) < 0 || out.Sign() == 0 {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrInsufficientOutputAmount, out, amountOutMin)
	}

	firstPair, err := x.Pair(path[0], path[1])
	if err != nil {
		return nil, err
	}
	if err := x.cfg.Bank.Transfer(path[0], sender, firstPair, amountIn); err != nil {
		return nil, fmt.Errorf("failed to pay input: %w", err)
	}
	for i := 0; i < len(path)-1; i++ {
		pair, err := x.Pair(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		recipient := to
		if i < len(path)-2 {
			if recipient, err = x.Pair(path[i+1], path[i+2]); err != nil {
				return nil, err
			}
		}
		if err := x.cfg.Bank.Transfer(path[i+1], pair, recipient, amounts[i+1]); err != nil {
			return nil, fmt.Errorf("failed to pay hop %d: %w", i, err)
		}
	}
	x.log.Debug("exchange: swapped", "sender", sender.Hex(), "amount_in", amountIn.String(), "amount_out", out.String(), "hops", len(path)-1)
	return new(big.Int).Set(out), nil
}

func sortTokens(a, b common.Address) (pairKey, error) {
	switch bytes.Compare(a.Bytes(), b.Bytes()) {
	case 0:
		return pairKey{}, ErrIdenticalTokens
	case -1:
		return pairKey{token0: a, token1: b}, nil
	default:
		return pairKey{token0: b, token1: a}, nil
	}
}
