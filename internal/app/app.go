package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"streamwatcher/internal/alerting"
	"streamwatcher/internal/cache"
	"streamwatcher/internal/chain"
	"streamwatcher/internal/config"
	"streamwatcher/internal/httpapi"
	"streamwatcher/internal/risk"
	"streamwatcher/internal/scheduler"
	"streamwatcher/internal/service"
	"streamwatcher/internal/storage"
	"streamwatcher/internal/version"
	"streamwatcher/internal/workflow"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClassifier() *risk.Classifier {
	return risk.NewClassifier(a.Config.RiskPolicy())
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

	store := storage.NewStore(pool, a.Logger)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// requireStore is openStore for commands that cannot run without a database.
func (a *App) requireStore(ctx context.Context, purpose string) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn 未配置，无法" + purpose)
	}
	return store, closeStore, nil
}

// openCache connects the overview cache when redis.url is set. Connection failures only disable caching.
func (a *App) openCache(ctx context.Context) *cache.OverviewCache {
	if a.Config.Redis.URL == "" {
		return nil
	}
	client, err := cache.Connect(ctx, a.Config.Redis.URL)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("redis unavailable; overview cache disabled")
		return nil
	}
	return cache.NewOverviewCache(client, a.Config.Redis.TTL, a.Config.Redis.KeyPrefix, a.Logger)
}

// snapshotSource returns the store, decorated with the on-chain vault cross-check when enabled.
func (a *App) snapshotSource(store workflow.SnapshotSource, reg prometheus.Registerer) (workflow.SnapshotSource, func()) {
	if !a.Config.Chain.Enabled {
		return store, func() {}
	}
	reader := chain.NewRPCReader(chain.Options{
		RPCURL:     a.Config.Chain.RPCURL,
		Commitment: a.Config.Chain.Commitment,
		Timeout:    a.Config.Chain.RequestTimeout,
	}, a.Logger)
	verifying := chain.NewVerifyingSource(store, reader, chain.VerifyOptions{}, reg, a.Logger)
	return verifying, reader.Close
}

func (a *App) newWorkflow(source workflow.SnapshotSource, sink workflow.AlertSink, metrics *workflow.Metrics, orgOverride string) *workflow.Workflow {
	orgID := a.Config.Workflow.OrganizationID
	if orgOverride != "" {
		orgID = orgOverride
	}
	return workflow.New(source, sink, a.newClassifier(), workflow.Options{
		Concurrency:    a.Config.Workflow.Concurrency,
		UpsertTimeout:  a.Config.Workflow.UpsertTimeout,
		OrganizationID: orgID,
	}, metrics, a.Logger)
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Run executes the long-running monitoring service and, when enabled, the HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.requireStore(ctx, "启动监控服务")
	if err != nil {
		return err
	}
	defer closeStore()

	reg := newRegistry()
	source, closeSource := a.snapshotSource(store, reg)
	defer closeSource()

	wf := a.newWorkflow(source, store, workflow.NewMetrics(reg), "")

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   true,
	}, a.Logger)

	overviewCache := a.openCache(ctx)
	var invalidator service.CacheInvalidator
	if overviewCache != nil {
		invalidator = overviewCache
		defer overviewCache.Close()
	}

	svc := service.New(a.Config, sched, wf, store, a.newNotifier(), invalidator, a.Logger)

	a.Logger.Info().
		Str("version", version.String()).
		Dur("interval", a.Config.Scheduler.Interval).
		Bool("http", a.Config.HTTP.Enabled).
		Bool("chain_verification", a.Config.Chain.Enabled).
		Msg("starting monitoring service")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	if a.Config.HTTP.Enabled {
		srv := &http.Server{
			Addr:         a.Config.HTTP.Addr,
			Handler:      a.newAPI(store, svc, overviewCache, reg).Handler(),
			ReadTimeout:  a.Config.HTTP.ReadTimeout,
			WriteTimeout: a.Config.HTTP.WriteTimeout,
		}
		g.Go(func() error {
			return httpapi.ListenAndServe(gctx, srv, a.Config.HTTP.ShutdownTimeout, a.Logger)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func (a *App) newAPI(store *storage.Store, svc *service.Service, overviewCache *cache.OverviewCache, reg *prometheus.Registry) *httpapi.Server {
	loc, _ := a.Config.Location()
	opts := httpapi.Options{
		Classifier:      a.newClassifier(),
		EligibilityDays: a.Config.Policy.WithdrawalEligibilityDays,
		Location:        loc,
		Generator:       svc,
		Gatherer:        reg,
		Database:        store,
	}
	if overviewCache != nil {
		opts.Cache = overviewCache
	}
	return httpapi.New(store, opts, a.Logger)
}

// ScanOptions configure a one-shot alert run.
type ScanOptions struct {
	OrganizationID string
	DryRun         bool
}

// ReportOptions select what overview, accrual and countdown print.
type ReportOptions struct {
	OrganizationID string
	StreamID       string
	EmployeeID     string
	JSON           bool
}

// AlertsOptions configure alert listing.
type AlertsOptions struct {
	OrganizationID string
	Status         string
	Limit          int
}

// ProjectOptions configure an accrual projection.
type ProjectOptions struct {
	StreamID string
	From     time.Time
	To       time.Time
	Step     time.Duration
}

// ExportOptions hold parameters for exporting stream state.
type ExportOptions struct {
	OrganizationID string
	PNGPath        string
	CSVPath        string
	MaxRows        int
}

// SimulateOptions configure a fixture-driven dry run.
type SimulateOptions struct {
	FixturePath string
	Notify      bool
}
