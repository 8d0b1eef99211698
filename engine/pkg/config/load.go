package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "LOTTERY_"

// LookupEnv matches os.LookupEnv.
type LookupEnv func(key string) (string, bool)

// Load builds the configuration from args and the environment.
func Load(args []string, lookupEnv LookupEnv) (*Config, error) {
	cfg := Default()

	fset := flag.NewFlagSet("lotteryd", flag.ContinueOnError)
	configPath := fset.String("config", "", "path to a YAML config file (or set LOTTERY_CONFIG env var)")
	envFile := fset.String("env-file", ".env", "path to a .env file; ignored when missing")
	verbose := fset.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddr := fset.String("listen-addr", cfg.ListenAddr, "HTTP API listen address")
	metricsAddr := fset.String("metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (empty disables)")
	adminToken := fset.String("admin-token", "", "bearer token for admin routes (empty disables them)")
	owner := fset.String("owner", "", "engine owner address")
	postgresDSN := fset.String("postgres-dsn", "", "PostgreSQL DSN for the event journal (empty disables it)")
	postgresMigrate := fset.Bool("postgres-migrate", false, "run event journal migrations on startup")
	sentryDSN := fset.String("sentry-dsn", "", "Sentry DSN for error reporting")
	autoRefill := fset.Bool("auto-refill", false, "start with auto refill enabled")
	keeperInterval := fset.Duration("keeper-interval", cfg.Keeper.Interval, "interval between keeper claim passes")
	faucet := fset.Bool("faucet", false, "enable the admin faucet route")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if *configPath == "" {
		if v, ok := lookupEnv(EnvPrefix + "CONFIG"); ok {
			*configPath = v
		}
	}
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			return nil, err
		}
	}

	dotenv, err := godotenv.Read(*envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	// Real environment variables win over the .env file.
	lookup := func(key string) (string, bool) {
		if v, ok := lookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	var flagErr error
	fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "verbose":
			cfg.Verbose = *verbose
		case "listen-addr":
			cfg.ListenAddr = *listenAddr
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "admin-token":
			cfg.AdminToken = *adminToken
		case "owner":
			addr, err := parseAddress(*owner)
			if err != nil {
				flagErr = fmt.Errorf("invalid --owner: %w", err)
				return
			}
			cfg.Engine.Owner = addr
		case "postgres-dsn":
			cfg.Postgres.DSN = *postgresDSN
		case "postgres-migrate":
			cfg.Postgres.Migrate = *postgresMigrate
		case "sentry-dsn":
			cfg.SentryDSN = *sentryDSN
		case "auto-refill":
			cfg.Engine.AutoRefill = *autoRefill
		case "keeper-interval":
			cfg.Keeper.Interval = *keeperInterval
		case "faucet":
			cfg.Faucet.Enabled = *faucet
		}
	})
	if flagErr != nil {
		return nil, flagErr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup LookupEnv) error {
	strs := map[string]*string{
		"LISTEN_ADDR":   &cfg.ListenAddr,
		"METRICS_ADDR":  &cfg.MetricsAddr,
		"ENVIRONMENT":   &cfg.Environment,
		"SENTRY_DSN":    &cfg.SentryDSN,
		"ADMIN_TOKEN":   &cfg.AdminToken,
		"POSTGRES_DSN":  &cfg.Postgres.DSN,
		"FAUCET_AMOUNT": &cfg.Faucet.Amount,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"VERBOSE":          &cfg.Verbose,
		"POSTGRES_MIGRATE": &cfg.Postgres.Migrate,
		"AUTO_REFILL":      &cfg.Engine.AutoRefill,
		"KEEPER_ENABLED":   &cfg.Keeper.Enabled,
		"FAUCET_ENABLED":   &cfg.Faucet.Enabled,
	}
	for key, dst := range bools {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"MIN_SETTLEMENT_DELAY": &cfg.Engine.MinSettlementDelay,
		"KEEPER_INTERVAL":      &cfg.Keeper.Interval,
		"FULFIL_INTERVAL":      &cfg.Oracle.FulfilInterval,
		"SHUTDOWN_TIMEOUT":     &cfg.ShutdownTimeout,
	}
	for key, dst := range durations {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	if v, ok := lookup(EnvPrefix + "FEE_INTEREST"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sFEE_INTEREST: %w", EnvPrefix, err)
		}
		cfg.Engine.FeeInterest = n
	}
	if v, ok := lookup(EnvPrefix + "OWNER"); ok {
		addr, err := parseAddress(v)
		if err != nil {
			return fmt.Errorf("invalid %sOWNER: %w", EnvPrefix, err)
		}
		cfg.Engine.Owner = addr
	}
	return nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("not a hex address: %q", s)
	}
	return common.HexToAddress(s), nil
}
