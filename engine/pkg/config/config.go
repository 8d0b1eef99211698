// Package config loads the daemon configuration. Sources are layered: a
// YAML file, then a .env file, then LOTTERY_* environment variables, then
// command line flags. Later sources override earlier ones.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/malbeclabs/lottery/engine/pkg/fee"
	"github.com/malbeclabs/lottery/engine/pkg/lottery"
	"github.com/malbeclabs/lottery/engine/pkg/refill"
	"github.com/malbeclabs/lottery/engine/pkg/token"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Verbose         bool          `yaml:"verbose"`
	Environment     string        `yaml:"environment"`
	SentryDSN       string        `yaml:"sentry_dsn"`
	// AdminToken guards the admin routes. Admin routes are disabled when
	// it is empty.
	AdminToken  string    `yaml:"admin_token"`
	CORSOrigins []string  `yaml:"cors_origins"`
	RateLimit   RateLimit `yaml:"rate_limit"`

	Postgres Postgres `yaml:"postgres"`
	Engine   Engine   `yaml:"engine"`
	Oracle   Oracle   `yaml:"oracle"`
	Refill   Refill   `yaml:"refill"`
	Keeper   Keeper   `yaml:"keeper"`
	Faucet   Faucet   `yaml:"faucet"`
}

type RateLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

type Postgres struct {
	// DSN enables the event journal when set.
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

type Engine struct {
	Address      common.Address `yaml:"address"`
	Owner        common.Address `yaml:"owner"`
	PaymentToken common.Address `yaml:"payment_token"`
	Treasury     common.Address `yaml:"treasury"`
	// TicketPrices are whole-token amounts, one per category.
	TicketPrices       []string      `yaml:"ticket_prices"`
	MinSettlementDelay time.Duration `yaml:"min_settlement_delay"`
	FeeInterest        uint64        `yaml:"fee_interest"`
	AutoRefill         bool          `yaml:"auto_refill"`
}

type Oracle struct {
	Address              common.Address `yaml:"address"`
	FundingToken         common.Address `yaml:"funding_token"`
	KeyHash              common.Hash    `yaml:"key_hash"`
	SubscriptionID       common.Hash    `yaml:"subscription_id"`
	CallbackGasLimit     uint32         `yaml:"callback_gas_limit"`
	RequestConfirmations uint16         `yaml:"request_confirmations"`
	NumWords             uint32         `yaml:"num_words"`
	FeePerRequest        string         `yaml:"fee_per_request"`
	FulfilInterval       time.Duration  `yaml:"fulfil_interval"`
	FulfilMinAge         time.Duration  `yaml:"fulfil_min_age"`
}

type Refill struct {
	Swap         refill.SwapConfig `yaml:"swap"`
	AmountOutMin string            `yaml:"amount_out_min"`
	Reserve      string            `yaml:"reserve"`
	// Liquidity seeds each side of the payment/bridged token pool.
	Liquidity string `yaml:"liquidity"`
}

type Keeper struct {
	Enabled  bool           `yaml:"enabled"`
	Interval time.Duration  `yaml:"interval"`
	Caller   common.Address `yaml:"caller"`
}

type Faucet struct {
	Enabled bool   `yaml:"enabled"`
	Amount  string `yaml:"amount"`
}

// Well-known addresses of the in-process venues.
var (
	DefaultEngineAddress    = common.HexToAddress("0x000000000000000000000000000000000000e001")
	DefaultPaymentToken     = common.HexToAddress("0x000000000000000000000000000000000000e002")
	DefaultBridgedToken     = common.HexToAddress("0x000000000000000000000000000000000000e003")
	DefaultCanonicalToken   = common.HexToAddress("0x000000000000000000000000000000000000e004")
	DefaultExchangeAddress  = common.HexToAddress("0x000000000000000000000000000000000000e005")
	DefaultBridgeAddress    = common.HexToAddress("0x000000000000000000000000000000000000e006")
	DefaultCoordinator      = common.HexToAddress("0x000000000000000000000000000000000000e007")
	DefaultTreasury         = common.HexToAddress("0x000000000000000000000000000000000000e008")
	DefaultLiquidityAccount = common.HexToAddress("0x000000000000000000000000000000000000e009")
	DefaultSubscriptionID   = common.HexToHash("0x01")
)

// Default returns a configuration that runs the whole system in process.
// Only the owner has no default.
func Default() *Config {
	return &Config{
		ListenAddr:      ":8080",
		MetricsAddr:     ":9090",
		ShutdownTimeout: 10 * time.Second,
		Environment:     "development",
		CORSOrigins:     []string{"*"},
		RateLimit:       RateLimit{RequestsPerMinute: 120, Burst: 20},
		Engine: Engine{
			Address:            DefaultEngineAddress,
			PaymentToken:       DefaultPaymentToken,
			Treasury:           DefaultTreasury,
			TicketPrices:       []string{"1", "10", "100", "1000"},
			MinSettlementDelay: lottery.DefaultMinSettlementDelay,
		},
		Oracle: Oracle{
			Address:        DefaultCoordinator,
			FundingToken:   DefaultCanonicalToken,
			SubscriptionID: DefaultSubscriptionID,
			FeePerRequest:  "0",
			FulfilInterval: 2 * time.Second,
			FulfilMinAge:   3 * time.Second,
		},
		Refill: Refill{
			Swap: refill.SwapConfig{
				Path:                []common.Address{DefaultPaymentToken, DefaultBridgedToken},
				Deadline:            5 * time.Minute,
				UseInternalExchange: true,
				BridgeSwap:          DefaultBridgeAddress,
				Coordinator:         DefaultCoordinator,
				BridgedToken:        DefaultBridgedToken,
				CanonicalToken:      DefaultCanonicalToken,
				SubscriptionID:      DefaultSubscriptionID,
			},
			AmountOutMin: "0",
			Reserve:      "0.000000001",
			Liquidity:    "1000000",
		},
		Keeper: Keeper{
			Enabled:  true,
			Interval: 5 * time.Second,
		},
		Faucet: Faucet{Amount: "10000"},
	}
}

// LoadFile merges a YAML file into cfg. Unknown keys are rejected.
func (cfg *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (cfg *Config) Validate() error {
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Engine.Owner == (common.Address{}) {
		return errors.New("engine owner is required")
	}
	if cfg.Engine.Address == (common.Address{}) {
		return errors.New("engine address is required")
	}
	if _, err := cfg.TicketPrices(); err != nil {
		return err
	}
	if cfg.Engine.FeeInterest > fee.MaxInterest {
		return fmt.Errorf("fee interest must be at most %d", fee.MaxInterest)
	}
	if cfg.Engine.MinSettlementDelay < 0 {
		return errors.New("min settlement delay must not be negative")
	}
	if cfg.Keeper.Enabled && cfg.Keeper.Interval <= 0 {
		return errors.New("keeper interval must be greater than 0")
	}
	if cfg.Oracle.FulfilInterval <= 0 {
		return errors.New("fulfil interval must be greater than 0")
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 || cfg.RateLimit.Burst <= 0 {
		return errors.New("rate limit must be greater than 0")
	}
	for name, s := range map[string]string{
		"oracle fee per request": cfg.Oracle.FeePerRequest,
		"refill amount out min":  cfg.Refill.AmountOutMin,
		"refill reserve":         cfg.Refill.Reserve,
		"refill liquidity":       cfg.Refill.Liquidity,
		"faucet amount":          cfg.Faucet.Amount,
	} {
		if _, err := Amount(s); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// TicketPrices parses the per-category prices into base units.
func (cfg *Config) TicketPrices() ([lottery.NumCategories]*big.Int, error) {
	var out [lottery.NumCategories]*big.Int
	if len(cfg.Engine.TicketPrices) != lottery.NumCategories {
		return out, fmt.Errorf("expected %d ticket prices, got %d", lottery.NumCategories, len(cfg.Engine.TicketPrices))
	}
	for i, s := range cfg.Engine.TicketPrices {
		p, err := token.ParseUnits(s)
		if err != nil {
			return out, fmt.Errorf("invalid ticket price of category %d: %w", i, err)
		}
		if p.Sign() <= 0 {
			return out, fmt.Errorf("ticket price of category %d must be greater than 0", i)
		}
		out[i] = p
	}
	return out, nil
}

// SwapConfig returns the configured swap route with its minimum output.
func (cfg *Config) SwapConfig() (refill.SwapConfig, error) {
	sc := cfg.Refill.Swap.Clone()
	minOut, err := Amount(cfg.Refill.AmountOutMin)
	if err != nil {
		return refill.SwapConfig{}, fmt.Errorf("invalid refill amount out min: %w", err)
	}
	sc.AmountOutMin = minOut
	return sc, nil
}

// Amount parses a whole-token amount. An empty string is zero.
func Amount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	return token.ParseUnits(s)
}

// MustAmount is Amount for values already checked by Validate.
func MustAmount(s string) *big.Int {
	v, err := Amount(s)
	if err != nil {
		panic(err)
	}
	return v
}
