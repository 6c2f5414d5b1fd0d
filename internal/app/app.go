package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"otc-risk-shield/internal/alerting"
	"otc-risk-shield/internal/clock"
	"otc-risk-shield/internal/config"
	"otc-risk-shield/internal/fetcher"
	"otc-risk-shield/internal/history"
	"otc-risk-shield/internal/metrics"
	"otc-risk-shield/internal/mev"
	"otc-risk-shield/internal/pricecache"
	"otc-risk-shield/internal/risk"
	"otc-risk-shield/internal/sampler"
	"otc-risk-shield/internal/scheduler"
	"otc-risk-shield/internal/service"
	"otc-risk-shield/internal/simulator"
	"otc-risk-shield/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	// prices replaces the configured provider chain when set.
	prices fetcher.PriceSource
	clock  clock.Clock
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
		clock:  clock.Real{},
	}
}

func (a *App) tokenDirectory() fetcher.Directory {
	dir := make(fetcher.Directory, len(a.Config.Tokens))
	for symbol, tok := range a.Config.Tokens {
		dir[symbol] = fetcher.Token{
			Symbol:        symbol,
			CoinGeckoID:   tok.CoinGeckoID,
			Mint:          tok.Mint,
			ChainlinkFeed: tok.ChainlinkFeed,
		}
	}
	return dir
}

// newPriceSource builds the provider chain in configured order, each provider wrapped in
// transport-level retries.
func (a *App) newPriceSource() (fetcher.PriceSource, error) {
	if a.prices != nil {
		return a.prices, nil
	}

	ps := a.Config.PriceSource
	dir := a.tokenDirectory()
	httpOpts := func(p config.HTTPProviderConfig) fetcher.HTTPOptions {
		return fetcher.HTTPOptions{
			BaseURL:   p.BaseURL,
			APIKey:    p.APIKey,
			Timeout:   ps.RequestTimeout,
			UserAgent: ps.UserAgent,
		}
	}

	named := make([]fetcher.Named, 0, len(ps.Providers))
	for _, name := range ps.Providers {
		var src fetcher.PriceSource
		switch name {
		case config.ProviderCryptoCompare:
			src = fetcher.NewCryptoCompare(httpOpts(ps.CryptoCompare), a.Logger)
		case config.ProviderCoinGecko:
			src = fetcher.NewCoinGecko(httpOpts(ps.CoinGecko), dir, a.Logger)
		case config.ProviderJupiter:
			src = fetcher.NewJupiter(httpOpts(ps.Jupiter), dir, a.Logger)
		case config.ProviderChainlink:
			src = fetcher.NewChainlink(fetcher.ChainlinkOptions{
				RPCURL:       ps.Chainlink.RPCURL,
				Timeout:      ps.RequestTimeout,
				MaxStaleness: ps.Chainlink.MaxStaleness,
			}, dir, a.Logger)
		default:
			return nil, fmt.Errorf("unknown price provider %q", name)
		}
		named = append(named, fetcher.Named{
			Name:   name,
			Source: fetcher.NewRetrying(src, ps.MaxRetries, ps.RetryDelay),
		})
	}
	return fetcher.NewChain(a.Logger, named...), nil
}

// newReferenceSource wraps source in the configured reference-price cache.
func (a *App) newReferenceSource(source fetcher.PriceSource) (fetcher.PriceSource, func(), error) {
	noop := func() {}
	c := a.Config.Cache
	switch c.Backend {
	case config.CacheNone, "":
		return source, noop, nil
	case config.CacheMemory:
		return pricecache.NewSource(source, pricecache.NewMemory(c.TTL, a.clock), a.Logger), noop, nil
	case config.CacheRedis:
		cache := pricecache.NewRedis(pricecache.RedisOptions{
			Addr:     c.Redis.Addr,
			Username: c.Redis.Username,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
			TTL:      c.TTL,
		})
		closer := func() {
			if err := cache.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close redis cache")
			}
		}
		return pricecache.NewSource(source, cache, a.Logger), closer, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", c.Backend)
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newCalculator(reference fetcher.PriceSource) *mev.Calculator {
	params := mev.DefaultParams()
	params.GasUnits = a.Config.Costs.GasUnits
	params.SlippageTolerance = a.Config.Costs.SlippageTolerance
	params.AnnualRate = a.Config.Costs.AnnualRate
	params.FallbackReferencePrice = a.Config.Costs.FallbackReferencePrice
	params.ReferenceSymbol = a.Config.Costs.ReferenceSymbol
	return mev.NewCalculator(params, reference, a.Logger)
}

// engine is a wired simulator plus the pieces callers reach into directly.
type engine struct {
	sim     *simulator.Simulator
	alerts  *alerting.System
	metrics *metrics.Metrics
	close   func()
}

// newEngine wires every simulation component. A nil registerer disables metrics.
func (a *App) newEngine(reg prometheus.Registerer) (*engine, error) {
	prices, err := a.newPriceSource()
	if err != nil {
		return nil, err
	}
	reference, closeRef, err := a.newReferenceSource(prices)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg, a.Config.Metrics.Namespace)
	}

	var alerts *alerting.System
	var threshold float64
	if a.Config.Alerting.Enabled {
		alerts = alerting.NewSystem(a.clock, a.Logger)
		threshold = a.Config.Alerting.Threshold()
	}

	trackerOpts := history.DefaultOptions()
	trackerOpts.Retention = a.Config.History.Retention
	trackerOpts.TrendWindow = a.Config.History.TrendWindow
	trackerOpts.Clock = a.clock

	sim, err := simulator.New(simulator.Deps{
		Sampler:    sampler.New(prices, sampler.Options{Interval: a.Config.Simulation.SampleInterval, Clock: a.clock}, a.Logger),
		Detector:   risk.NewDetector(nil, nil, a.Logger),
		Calculator: a.newCalculator(reference),
		Tracker:    history.NewTracker(trackerOpts, a.Logger),
		Scorer:     risk.NewScorer(nil, a.Logger),
		Alerts:     alerts,
		Notifier:   a.newNotifier(),
		Metrics:    m,
		Clock:      a.clock,
	}, simulator.Options{
		Tokens:         a.Config.TokenSymbols(),
		Workers:        a.Config.Batch.Workers,
		IterationPause: a.Config.Simulation.IterationPause,
		AlertThreshold: threshold,
		AlertChannels:  a.Config.Alerting.Channels,
	}, a.Logger)
	if err != nil {
		closeRef()
		return nil, err
	}

	return &engine{sim: sim, alerts: alerts, metrics: m, close: closeRef}, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	if dir := a.Config.Database.MigrationsPath; dir != "" {
		if _, statErr := os.Stat(dir); statErr == nil {
			applied, err := storage.Migrate(ctx, pool, dir)
			if err != nil {
				pool.Close()
				return nil, nil, err
			}
			a.Logger.Debug().Strs("files", applied).Msg("migrations applied")
		}
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// defaultSpec is the configured trial.
func (a *App) defaultSpec() simulator.TrialSpec {
	s := a.Config.Simulation
	return simulator.TrialSpec{Token: s.Token, Amount: s.Amount, Delay: s.Delay, Threshold: s.Threshold}
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng, err := a.newEngine(reg)
	if err != nil {
		return err
	}
	defer eng.close()

	if a.Config.Metrics.Enabled {
		go metrics.Serve(ctx, a.Config.Metrics.Addr, reg, a.Logger)
	}

	var trialStore storage.TrialStore
	var alertStore storage.AlertStore
	if store != nil {
		trialStore = store
		alertStore = store
	}

	tokens := a.Config.Batch.Tokens
	if len(tokens) == 0 {
		tokens = a.Config.TokenSymbols()
	}

	svc := service.New(sched, eng.sim, trialStore, alertStore, eng.alerts, eng.metrics, service.Options{
		Base:            a.defaultSpec(),
		Tokens:          tokens,
		Channels:        a.Config.Alerting.Channels,
		ResetAlerts:     a.Config.Alerting.ResetEachRound,
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
		AlertRetention:  a.Config.History.Retention,
	}, a.Logger)

	a.Logger.Info().Strs("tokens", tokens).Dur("interval", a.Config.Scheduler.Interval).Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// SimulateOptions configure a one-off simulation. Zero values fall back to the simulation section.
type SimulateOptions struct {
	Token      string
	Amount     float64
	Delay      time.Duration
	Threshold  float64
	Iterations int
	OutputPath string
	Save       bool
}

// BatchOptions configure an enhanced batch run.
type BatchOptions struct {
	Tokens     []string
	Delays     []time.Duration
	Amount     float64
	Threshold  float64
	OutputPath string
}

// AlertOptions configure simulate-alert.
type AlertOptions struct {
	Token        string
	Previous     float64
	Current      float64
	ThresholdPct float64
	Direction    string
}

// BreakEvenOptions configure the breakeven command. A zero Price is fetched live.
type BreakEvenOptions struct {
	Token  string
	Amount float64
	Price  float64
	Delay  time.Duration
}

// ExportOptions hold parameters for exporting persisted trials.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	Window    time.Duration
	Token     string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
	Token  string
}
