package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pool-price-alerts/internal/alerting"
	"pool-price-alerts/internal/chain"
	"pool-price-alerts/internal/config"
	"pool-price-alerts/internal/metrics"
	"pool-price-alerts/internal/pricing"
	"pool-price-alerts/internal/sampler"
	"pool-price-alerts/internal/scheduler"
	"pool-price-alerts/internal/service"
	"pool-price-alerts/internal/storage"
	"pool-price-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newPair() *chain.Pair {
	return chain.NewPair(chain.PairOptions{
		RPCURL:      a.Config.Ethereum.RPCURL,
		PairAddress: a.Config.Ethereum.PairAddress,
		Timeout:     a.Config.Ethereum.RequestTimeout,
	}, a.Logger)
}

// resolvePair reads token addresses and metadata once and fixes the price orientation.
func (a *App) resolvePair(ctx context.Context, pair *chain.Pair) (pricing.Pair, error) {
	addr0, addr1, err := pair.Tokens(ctx)
	if err != nil {
		return pricing.Pair{}, fmt.Errorf("read pair tokens: %w", err)
	}
	meta0, err := pair.TokenMeta(ctx, addr0)
	if err != nil {
		return pricing.Pair{}, fmt.Errorf("read token0 metadata: %w", err)
	}
	meta1, err := pair.TokenMeta(ctx, addr1)
	if err != nil {
		return pricing.Pair{}, fmt.Errorf("read token1 metadata: %w", err)
	}

	resolved := pricing.Resolve(
		pricing.Token{Address: meta0.Address, Symbol: meta0.Symbol, Decimals: meta0.Decimals},
		pricing.Token{Address: meta1.Address, Symbol: meta1.Symbol, Decimals: meta1.Decimals},
		a.Config.Pool.BaseSymbol,
		a.Config.Pool.QuoteSymbol,
	)
	if !resolved.Recognised() {
		a.Logger.Warn().
			Str("token0", meta0.Symbol).
			Str("token1", meta1.Symbol).
			Msg("pair symbols not recognised; pricing token1 per token0 without reserve deltas")
	}
	return resolved, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if path := a.Config.Database.MigrationsPath; path != "" {
		if err := store.Migrate(ctx, path); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	return store, store.Close, nil
}

func (a *App) openRedisMirror(ctx context.Context) (*storage.RedisMirror, func(), error) {
	cfg := a.Config.Redis
	if cfg.Addr == "" {
		return nil, nil, nil
	}
	client, err := storage.NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	mirror := storage.NewRedisMirror(client, storage.RedisMirrorOptions{
		KeyPrefix: cfg.KeyPrefix,
		Pool:      a.Config.Ethereum.PairAddress,
		Retention: cfg.Retention,
		TTL:       cfg.TTL,
	})
	return mirror, func() { _ = client.Close() }, nil
}

func (a *App) serviceOptions() service.Options {
	m := a.Config.Monitor
	return service.Options{
		Pool:   a.Config.Ethereum.PairAddress,
		Window: m.WindowBlocks,
		Rule: alerting.Rule{
			ThresholdPct: decimal.NewFromFloat(m.ThresholdPct),
			MinActivity:  decimal.NewFromFloat(m.MinActivity),
		},
		Quiet:         m.Quiet,
		BaseLabel:     a.Config.Pool.BaseLabel,
		QuoteLabel:    a.Config.Pool.QuoteLabel,
		BaseSymbol:    a.Config.Pool.BaseSymbol,
		QuoteSymbol:   a.Config.Pool.QuoteSymbol,
		AlertsEnabled: a.Config.Alerting.Enabled,
		Channels:      a.Config.Alerting.Channels,
		Cooldown:      a.Config.Alerting.Cooldown,
	}
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.ValidateRuntime(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pair := a.newPair()
	defer pair.Close()

	chainID, err := pair.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", a.Config.Ethereum.RPCURL, err)
	}
	resolved, err := a.resolvePair(ctx, pair)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var sinks []storage.Sink
	var alertStore storage.AlertStore
	if store == nil {
		a.Logger.Debug().Msg("database.dsn not configured; postgres sink disabled")
	} else {
		unlock, acquired, err := store.TryAdvisoryLock(ctx, a.Config.Monitor.AdvisoryLockKey)
		if err != nil {
			return err
		}
		if !acquired {
			return fmt.Errorf("another monitor holds advisory lock %d", a.Config.Monitor.AdvisoryLockKey)
		}
		defer unlock()
		sinks = append(sinks, store)
		alertStore = store
	}

	csvLog := storage.NewCSVLog(a.Config.Sink.CSVPath)
	if err := csvLog.EnsureHeader(); err != nil {
		return err
	}
	sinks = append([]storage.Sink{csvLog}, sinks...)

	mirror, closeMirror, err := a.openRedisMirror(ctx)
	if err != nil {
		return err
	}
	if mirror != nil {
		defer closeMirror()
		sinks = append(sinks, mirror)
	}

	var m *metrics.Metrics
	if a.Config.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		if _, err := metrics.StartAsync(ctx, a.Config.Metrics.ListenAddr, reg, a.Logger); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Monitor.Interval(),
		Backoff:      a.Config.Monitor.FailureBackoff,
		StartupDelay: a.Config.Monitor.StartupDelay,
	}, a.Logger)

	svc := service.New(a.serviceOptions(), service.Dependencies{
		Scheduler:  sched,
		Sampler:    sampler.New(pair, m),
		Pair:       resolved,
		Sinks:      sinks,
		AlertStore: alertStore,
		Notifier:   a.newNotifier(),
		Metrics:    m,
		Out:        a.Out,
	}, a.Logger)

	a.printBanner(chainID, pair.Address().Hex(), resolved)

	a.Logger.Info().Str("version", version.String()).Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func (a *App) printBanner(chainID *big.Int, pairAddr string, p pricing.Pair) {
	m := a.Config.Monitor
	fmt.Fprintf(a.Out, "Network chain id: %s\n", chainID.String())
	fmt.Fprintf(a.Out, "Pair: %s (%s/%s)\n", pairAddr, p.Token0.Symbol, p.Token1.Symbol)
	fmt.Fprintf(a.Out, "Pricing: %s per %s\n", p.QuoteToken().Symbol, p.BaseToken().Symbol)
	fmt.Fprintf(a.Out, "Settings: interval=%gs threshold=%g%% window=%d blocks min_activity=%g quiet=%t csv=%s\n",
		m.IntervalSeconds, m.ThresholdPct, m.WindowBlocks, m.MinActivity, m.Quiet, a.Config.Sink.CSVPath)
}
