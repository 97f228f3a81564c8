package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"godshand-relief/internal/agent"
	"godshand-relief/internal/config"
	"godshand-relief/internal/ledger"
	"godshand-relief/internal/logging"
	"godshand-relief/internal/raffle"
	"godshand-relief/internal/rates"
	"godshand-relief/internal/scheduler"
	"godshand-relief/internal/settlement"
	"godshand-relief/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) newLedger() (ledger.Client, error) {
	return ledger.NewEVM(ledger.EVMOptions{
		RPCURL:          a.Config.Ethereum.RPCURL,
		ContractAddress: a.Config.Ethereum.ContractAddress,
		PrivateKey:      a.Config.Ethereum.PrivateKey,
		ChainID:         a.Config.Ethereum.ChainID,
		RequestTimeout:  a.Config.Ethereum.RequestTimeout,
		ConfirmTimeout:  a.Config.Ethereum.ConfirmTimeout,
	}, a.Logger)
}

func (a *App) newOracle() rates.PriceFetcher {
	return rates.NewOracle(rates.OracleOptions{
		BaseURL:    a.Config.Oracle.BaseURL,
		TokenID:    a.Config.Oracle.TokenID,
		VsCurrency: a.Config.Oracle.VsCurrency,
		Timeout:    a.Config.Oracle.RequestTimeout,
		UserAgent:  a.Config.Oracle.UserAgent,
	}, a.Logger)
}

func (a *App) newAgent() agent.Prompter {
	return agent.New(agent.Options{
		BaseURL: a.Config.Agent.BaseURL,
		APIKey:  a.Config.Agent.APIKey,
		Model:   a.Config.Agent.Model,
		Timeout: a.Config.Agent.RequestTimeout,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is required")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newEngine(store *storage.Store) (*settlement.Engine, error) {
	chain, err := a.newLedger()
	if err != nil {
		return nil, err
	}
	return settlement.New(store, chain, a.newOracle(), a.newAgent(), a.Logger), nil
}

// Run executes the long-running raffle scheduler.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	chain, err := a.newLedger()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:      a.Config.Raffle.Interval,
		RetryInterval: a.Config.Raffle.RetryInterval,
		StartupDelay:  a.Config.Raffle.StartupDelay,
	}, a.Logger)

	runner := raffle.New(raffle.Options{
		TriggerThreshold: a.Config.Raffle.TriggerThreshold,
		LotteryDuration:  a.Config.Raffle.LotteryDuration,
		AdvisoryLockKey:  a.Config.Raffle.AdvisoryLockKey,
	}, store, chain, store, sched, a.Logger)

	a.Logger.Info().
		Dur("interval", a.Config.Raffle.Interval).
		Dur("trigger_threshold", a.Config.Raffle.TriggerThreshold).
		Msg("starting raffle scheduler")

	err = runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("raffle scheduler terminated with error")
		return err
	}

	a.Logger.Info().Msg("raffle scheduler stopped")
	return nil
}

// Settle applies one vote decision to a claim and returns the outcome.
func (a *App) Settle(ctx context.Context, claimID, disasterHash string, decision settlement.Decision) (settlement.Outcome, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return settlement.Outcome{}, err
	}
	defer closeStore()

	engine, err := a.newEngine(store)
	if err != nil {
		return settlement.Outcome{}, err
	}

	return engine.Process(ctx, claimID, disasterHash, decision)
}

// Reconcile retries the ledger step for claims stuck between vote and
// settlement.
func (a *App) Reconcile(ctx context.Context) ([]settlement.Outcome, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	engine, err := a.newEngine(store)
	if err != nil {
		return nil, err
	}

	return engine.Reconcile(ctx)
}

// ReportOptions hold parameters for the disbursement report.
type ReportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
