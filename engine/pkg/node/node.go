// Package node assembles the engine and its in-process collaborators from
// a loaded configuration and runs their background loops.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lottery/engine/pkg/config"
	"github.com/malbeclabs/lottery/engine/pkg/events"
	"github.com/malbeclabs/lottery/engine/pkg/exchange"
	"github.com/malbeclabs/lottery/engine/pkg/fee"
	"github.com/malbeclabs/lottery/engine/pkg/journal"
	"github.com/malbeclabs/lottery/engine/pkg/keeper"
	"github.com/malbeclabs/lottery/engine/pkg/lottery"
	"github.com/malbeclabs/lottery/engine/pkg/oracle"
	"github.com/malbeclabs/lottery/engine/pkg/randomness"
	"github.com/malbeclabs/lottery/engine/pkg/reader"
	"github.com/malbeclabs/lottery/engine/pkg/refill"
	"github.com/malbeclabs/lottery/engine/pkg/token"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	App    *config.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.App == nil {
		return errors.New("app config is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return cfg.App.Validate()
}

type Node struct {
	log *slog.Logger
	cfg Config

	Bank        *token.Ledger
	Exchange    *exchange.Exchange
	Bridge      *exchange.Bridge
	Coordinator *oracle.Coordinator
	Oracle      *oracle.Oracle
	Randomness  *randomness.Client
	Vault       *fee.Vault
	Bus         *events.Bus
	Engine      *lottery.Engine
	Reader      *reader.Reader
	// Journal is nil when no PostgreSQL DSN is configured.
	Journal *journal.Store

	fulfiller  *oracle.Fulfiller
	keeper     *keeper.Keeper
	subscriber *journal.Subscriber
	pool       *pgxpool.Pool
}

func New(ctx context.Context, cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app := cfg.App
	log := cfg.Logger
	n := &Node{log: log, cfg: cfg, Bank: token.NewLedger()}

	if err := n.initVenues(); err != nil {
		return nil, err
	}
	if err := n.initOracle(); err != nil {
		return nil, err
	}

	vault, err := fee.NewVault(fee.VaultConfig{
		Logger:  log,
		Bank:    n.Bank,
		Address: app.Engine.Treasury,
		Token:   app.Engine.PaymentToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fee vault: %w", err)
	}
	n.Vault = vault

	executor, err := refill.NewExecutor(refill.ExecutorConfig{
		Logger: log,
		Clock:  cfg.Clock,
		Bank:   n.Bank,
		Registry: &refill.Registry{
			InternalExchange: n.Exchange,
			Routers:          map[common.Address]refill.Router{n.Exchange.Address(): n.Exchange},
			Bridges:          map[common.Address]refill.Bridge{n.Bridge.Address(): n.Bridge},
			Funders:          map[common.Address]refill.Funder{n.Coordinator.Address(): n.Coordinator},
		},
		Reserve: config.MustAmount(app.Refill.Reserve),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create refill executor: %w", err)
	}

	bus, err := events.NewBus(events.BusConfig{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	n.Bus = bus

	prices, err := app.TicketPrices()
	if err != nil {
		return nil, err
	}
	swap, err := app.SwapConfig()
	if err != nil {
		return nil, err
	}
	engine, err := lottery.New(lottery.Config{
		Logger:             log,
		Clock:              cfg.Clock,
		Address:            app.Engine.Address,
		Owner:              app.Engine.Owner,
		PaymentToken:       app.Engine.PaymentToken,
		TicketPrices:       prices,
		MinSettlementDelay: app.Engine.MinSettlementDelay,
		FeeInterest:        app.Engine.FeeInterest,
		AutoRefillEnabled:  app.Engine.AutoRefill,
		SwapConfig:         swap,
		Bank:               n.Bank,
		Treasury:           vault,
		Randomness:         n.Randomness,
		Refill:             executor,
		Events:             bus,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	n.Engine = engine

	n.Reader, err = reader.New(reader.Config{Logger: log, Source: engine, Randomness: n.Randomness})
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}

	if app.Keeper.Enabled {
		caller := app.Keeper.Caller
		if caller == (common.Address{}) {
			caller = app.Engine.Owner
		}
		n.keeper, err = keeper.New(keeper.Config{
			Logger:   log,
			Clock:    cfg.Clock,
			Engine:   engine,
			Caller:   caller,
			Interval: app.Keeper.Interval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create keeper: %w", err)
		}
	}

	if app.Postgres.DSN != "" {
		if err := n.initJournal(ctx); err != nil {
			return nil, err
		}
	}

	log.Info("node: initialized",
		"engine", app.Engine.Address.Hex(),
		"owner", app.Engine.Owner.Hex(),
		"auto_refill", app.Engine.AutoRefill,
		"keeper", app.Keeper.Enabled,
		"journal", n.Journal != nil,
	)
	return n, nil
}

// initVenues creates the exchange and bridge the refill converts through
// and seeds their liquidity.
func (n *Node) initVenues() error {
	app := n.cfg.App
	swap := app.Refill.Swap
	liquidity := config.MustAmount(app.Refill.Liquidity)

	x, err := exchange.New(exchange.Config{
		Logger:  n.log,
		Clock:   n.cfg.Clock,
		Bank:    n.Bank,
		Address: config.DefaultExchangeAddress,
	})
	if err != nil {
		return fmt.Errorf("failed to create exchange: %w", err)
	}
	n.Exchange = x

	bridge, err := exchange.NewBridge(exchange.BridgeConfig{
		Logger:  n.log,
		Bank:    n.Bank,
		Address: swap.BridgeSwap,
		Routes:  map[common.Address]common.Address{swap.BridgedToken: swap.CanonicalToken},
	})
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}
	n.Bridge = bridge

	if liquidity.Sign() == 0 {
		return nil
	}
	lp := config.DefaultLiquidityAccount
	if err := n.Bank.Mint(app.Engine.PaymentToken, lp, liquidity); err != nil {
		return err
	}
	if err := n.Bank.Mint(swap.BridgedToken, lp, liquidity); err != nil {
		return err
	}
	if err := x.AddLiquidity(lp, app.Engine.PaymentToken, swap.BridgedToken, liquidity, liquidity); err != nil {
		return fmt.Errorf("failed to seed exchange liquidity: %w", err)
	}
	if err := n.Bank.Mint(swap.CanonicalToken, bridge.Address(), liquidity); err != nil {
		return err
	}
	return nil
}

func (n *Node) initOracle() error {
	app := n.cfg.App
	coordinator, err := oracle.NewCoordinator(oracle.CoordinatorConfig{
		Logger:        n.log,
		Clock:         n.cfg.Clock,
		Bank:          n.Bank,
		Address:       app.Oracle.Address,
		FundingToken:  app.Oracle.FundingToken,
		FeePerRequest: config.MustAmount(app.Oracle.FeePerRequest),
	})
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	n.Coordinator = coordinator

	orc, err := oracle.New(oracle.Config{
		Logger:               n.log,
		Owner:                app.Engine.Owner,
		Coordinator:          coordinator,
		KeyHash:              app.Oracle.KeyHash,
		SubscriptionID:       app.Oracle.SubscriptionID,
		CallbackGasLimit:     app.Oracle.CallbackGasLimit,
		RequestConfirmations: app.Oracle.RequestConfirmations,
		NumWords:             app.Oracle.NumWords,
		AllowedCallers:       []common.Address{app.Engine.Address},
	})
	if err != nil {
		return fmt.Errorf("failed to create oracle: %w", err)
	}
	n.Oracle = orc

	n.Randomness, err = randomness.NewClient(randomness.ClientConfig{
		Oracle:  orc,
		Caller:  app.Engine.Address,
		Modulus: lottery.Capacity,
	})
	if err != nil {
		return fmt.Errorf("failed to create randomness client: %w", err)
	}

	n.fulfiller, err = oracle.NewFulfiller(oracle.FulfillerConfig{
		Logger:      n.log,
		Clock:       n.cfg.Clock,
		Coordinator: coordinator,
		Interval:    app.Oracle.FulfilInterval,
		MinAge:      app.Oracle.FulfilMinAge,
	})
	if err != nil {
		return fmt.Errorf("failed to create fulfiller: %w", err)
	}
	return nil
}

func (n *Node) initJournal(ctx context.Context) error {
	app := n.cfg.App
	if app.Postgres.Migrate {
		if err := journal.Migrate(n.log, app.Postgres.DSN); err != nil {
			return err
		}
	}
	pool, err := journal.Connect(ctx, n.log, app.Postgres.DSN)
	if err != nil {
		return err
	}
	n.pool = pool

	n.Journal, err = journal.NewStore(journal.StoreConfig{Logger: n.log, Pool: pool})
	if err != nil {
		return fmt.Errorf("failed to create journal store: %w", err)
	}
	n.subscriber, err = journal.NewSubscriber(journal.SubscriberConfig{
		Logger: n.log,
		Clock:  n.cfg.Clock,
		Source: n.Bus,
		Store:  n.Journal,
	})
	if err != nil {
		return fmt.Errorf("failed to create journal subscriber: %w", err)
	}
	return nil
}

// Run starts the background loops and blocks until ctx is done or one of
// them fails.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.fulfiller.Run(ctx) })
	if n.keeper != nil {
		g.Go(func() error { return n.keeper.Run(ctx) })
	}
	if n.subscriber != nil {
		g.Go(func() error { return n.subscriber.Run(ctx) })
	}
	return g.Wait()
}

// FulfilPending fulfils the pending randomness requests old enough to be
// delivered without waiting for the next fulfiller tick.
func (n *Node) FulfilPending(ctx context.Context) (int, error) {
	return n.fulfiller.Tick(ctx)
}

// Ready reports whether the node can serve traffic.
func (n *Node) Ready(ctx context.Context) error {
	if n.Journal != nil {
		if err := n.Journal.Ping(ctx); err != nil {
			return fmt.Errorf("journal unavailable: %w", err)
		}
	}
	return nil
}

func (n *Node) Close() error {
	err := n.Bus.Close()
	if n.pool != nil {
		n.pool.Close()
	}
	return err
}
