package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/courtside-data/cbbdx/app/ingest/controller"
	"github.com/courtside-data/cbbdx/pkg/api"
	"github.com/courtside-data/cbbdx/pkg/catalog"
	"github.com/courtside-data/cbbdx/pkg/checkpoint"
	"github.com/courtside-data/cbbdx/pkg/config"
	"github.com/courtside-data/cbbdx/pkg/db/clickhouse"
	"github.com/courtside-data/cbbdx/pkg/db/postgres"
	"github.com/courtside-data/cbbdx/pkg/lake"
	"github.com/courtside-data/cbbdx/pkg/logging"
	"github.com/courtside-data/cbbdx/pkg/metrics"
	"github.com/courtside-data/cbbdx/pkg/normalize"
	"github.com/courtside-data/cbbdx/pkg/redis"
	"github.com/courtside-data/cbbdx/pkg/utils"
	"github.com/courtside-data/cbbdx/pkg/validate"
)

// App holds every long-lived dependency of the ingestion engine.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Lake        *lake.Lake
	Checkpoints *checkpoint.Guard
	API         *api.HTTPClient
	Registry    *Registry
	Units       *UnitRunner
	Pipeline    *Pipeline

	// Optional backends
	ClickHouse *clickhouse.Client
	Catalog    catalog.Registrar
	Redis      *redis.Client

	// HTTP Server
	Server    *http.Server
	Scheduler *Scheduler
	// Requests consumes on-demand run requests when Redis is enabled.
	Requests *redis.StreamConsumer

	closers []func() error
}

// Initialize builds the App from cfg and exits the process when a required backend is
// unreachable.
func Initialize(ctx context.Context, cfg *config.Config) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}
	app, err := New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Unable to initialize cbbdx", zap.Error(err))
	}
	return app
}

// New builds the App. Redis is optional unless it backs checkpoints.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}
	fail := func(err error) (*App, error) {
		_ = app.Close()
		return nil, err
	}

	l, err := newLake(cfg.Lake, logger)
	if err != nil {
		return fail(fmt.Errorf("lake: %w", err))
	}
	if err := l.Init(ctx); err != nil {
		return fail(fmt.Errorf("lake: %w", err))
	}
	app.Lake = l

	if cfg.Checkpoint.Backend == "redis" || utils.EnvBool("REDIS_ENABLED", false) {
		app.Redis, err = redis.NewClient(ctx, logger)
		switch {
		case err != nil && cfg.Checkpoint.Backend == "redis":
			return fail(fmt.Errorf("redis: %w", err))
		case err != nil:
			logger.Warn("Failed to initialize Redis client - run events will not be published", zap.Error(err))
			app.Redis = nil
		default:
			app.closers = append(app.closers, app.Redis.Close)
		}
	}

	store, err := app.newCheckpointStore(ctx)
	if err != nil {
		return fail(fmt.Errorf("checkpoint store: %w", err))
	}
	app.Checkpoints = checkpoint.NewGuard(store, cfg.Checkpoint.Degraded, logging.Component(logger, "checkpoint"))
	app.closers = append(app.closers, app.Checkpoints.Close)

	if cfg.Catalog.Enabled {
		ch, err := clickhouse.New(ctx, logging.Component(logger, "catalog"), cfg.Catalog.DSN, "")
		if err != nil {
			return fail(fmt.Errorf("clickhouse: %w", err))
		}
		app.ClickHouse = &ch
		app.closers = append(app.closers, app.ClickHouse.Close)
		app.Catalog = catalog.NewCached(catalog.NewClickHouseRegistrar(app.ClickHouse, catalog.ClickHouseOptions{
			AccessKey: cfg.Lake.AccessKey,
			SecretKey: cfg.Lake.SecretKey,
			Logger:    logging.Component(logger, "catalog"),
		}))
	}

	app.API = api.NewHTTPWithOpts(api.Opts{
		BaseURL:        cfg.API.BaseURL,
		Token:          cfg.API.Token,
		Timeout:        cfg.API.Timeout,
		RPS:            cfg.API.RateLimitPerSec,
		Burst:          cfg.API.Burst,
		MaxConcurrency: cfg.API.MaxConcurrency,
		Retry:          cfg.API.Retry.Backoff(),
		Logger:         logging.Component(logger, "api"),
	})

	if app.Registry, err = BuildRegistry(cfg); err != nil {
		return fail(err)
	}

	mode := normalize.Strict
	if !cfg.Ingest.StrictSchemas {
		mode = normalize.Permissive
	}
	app.Units = &UnitRunner{
		API:          app.API,
		Lake:         app.Lake,
		Silver:       normalize.New(normalize.DefaultRegistry(), mode, logging.Component(logger, "normalize")),
		Bronze:       normalize.New(nil, normalize.Permissive, logging.Component(logger, "normalize")),
		Catalog:      app.Catalog,
		Database:     cfg.Catalog.Database,
		LocationBase: cfg.Catalog.S3URL,
		Logger:       logging.Component(logger, "unit"),
	}
	app.Pipeline = &Pipeline{
		Registry:          app.Registry,
		Units:             app.Units,
		Lake:              app.Lake,
		Checkpoints:       app.Checkpoints,
		Logger:            logging.Component(logger, "pipeline"),
		ChunkDays:         cfg.Ingest.ChunkDays,
		WindowDays:        cfg.Ingest.RollingWindowDays,
		OverlapDays:       cfg.Ingest.IncrementalOverlap,
		FanoutConcurrency: cfg.Ingest.FanoutConcurrency,
	}
	if app.Redis != nil {
		app.Pipeline.Events = app.Redis
	}
	return app, nil
}

// BuildRegistry returns the built-in endpoints, extended by $CBBDX_ENDPOINTS_FILE when set,
// with the config overrides applied.
func BuildRegistry(cfg *config.Config) (*Registry, error) {
	r := DefaultRegistry()
	if path := utils.Env("CBBDX_ENDPOINTS_FILE", ""); path != "" {
		if err := r.LoadRegistryFile(path); err != nil {
			return nil, err
		}
	}
	if err := r.Apply(cfg.Endpoints); err != nil {
		return nil, err
	}
	return r, nil
}

func newLake(cfg config.LakeConfig, logger *zap.Logger) (*lake.Lake, error) {
	var store lake.ObjectStore
	switch cfg.Backend {
	case "s3":
		s3, err := lake.NewS3Store(lake.S3Config{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
			UseSSL:          cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		store = s3
	default:
		store = lake.NewLocalStore(cfg.Root)
	}
	prefixes := lake.DefaultPrefixes()
	for k, v := range cfg.Prefixes {
		prefixes[lake.Layer(k)] = v
	}
	return lake.New(store, lake.Options{
		Bucket:   cfg.Bucket,
		Prefixes: prefixes,
		Logger:   logging.Component(logger, "lake"),
	}), nil
}

func (a *App) newCheckpointStore(ctx context.Context) (checkpoint.Store, error) {
	cfg := a.Config.Checkpoint
	switch cfg.Backend {
	case "redis":
		return checkpoint.NewRedisStore(a.Redis.GetClient(), cfg.KeyPrefix), nil
	case "postgres":
		pg, err := postgres.New(ctx, logging.Component(a.Logger, "postgres"), cfg.DSN, postgres.DefaultPoolConfig())
		if err != nil {
			return nil, err
		}
		store := checkpoint.NewPostgresStore(pg.Pool, cfg.Table, pg.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return store, nil
	default:
		a.Logger.Warn("Using in-memory checkpoints - progress is lost when the process exits")
		return checkpoint.NewMemoryStore(), nil
	}
}

// Seasons returns the configured seasons.
func (a *App) Seasons() ([]int, error) { return a.Config.Seasons.List() }

// Validator returns a partition validator configured from the validate section.
func (a *App) Validator(layer lake.Layer) (*validate.Validator, error) {
	seasons, err := a.Seasons()
	if err != nil {
		return nil, err
	}
	return validate.New(a.Lake, a.Logger, validate.Options{
		Layer:         layer,
		Seasons:       seasons,
		Excluded:      a.Config.Seasons.Excluded,
		TableExcluded: a.Config.Validation.Excluded,
		DropRatio:     a.Config.Validation.DropRatio,
	}), nil
}

// LastRun implements controller.Runs.
func (a *App) LastRun(ctx context.Context) (any, bool, error) {
	if m := a.Pipeline.Last(); m != nil {
		return m, true, nil
	}
	m, err := LoadLastManifest(ctx, a.Lake)
	if errors.Is(err, lake.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Trigger implements controller.Runs by starting a run over the configured seasons.
func (a *App) Trigger(mode string) error {
	m, err := ParseMode(mode)
	if err != nil {
		return err
	}
	if m == ModeOne {
		return errors.New("mode one is not available on demand")
	}
	seasons, err := a.Seasons()
	if err != nil {
		return err
	}
	if !a.Pipeline.running.TryLock() {
		return controller.ErrBusy
	}
	a.Pipeline.running.Unlock()
	go func() {
		if _, err := a.Pipeline.Run(context.Background(), RunOptions{Mode: m, Seasons: seasons}); err != nil {
			a.Logger.Error("triggered run failed", zap.Error(err))
		}
	}()
	return nil
}

// HandleRunRequest triggers the run a stream entry asks for. The mode field defaults to
// server.mode. Requests that cannot start are logged and acknowledged.
func (a *App) HandleRunRequest(_ context.Context, msg redis.Message) error {
	mode := msg.Field("mode")
	if mode == "" {
		mode = a.Config.Server.Mode
	}
	err := a.Trigger(mode)
	switch {
	case errors.Is(err, controller.ErrBusy):
		a.Logger.Info("Run request dropped, a run is in progress", zap.String("id", msg.ID))
	case err != nil:
		a.Logger.Warn("Invalid run request", zap.String("id", msg.ID), zap.String("mode", mode), zap.Error(err))
	default:
		a.Logger.Info("Run requested", zap.String("id", msg.ID), zap.String("mode", mode))
	}
	return nil
}

// SetupServer builds the operator HTTP server and the run scheduler.
func (a *App) SetupServer(ctx context.Context) error {
	checks := map[string]controller.ReadyCheck{
		"lake": func(ctx context.Context) error {
			_, err := a.Lake.ListMeta(ctx, "run_id=")
			return err
		},
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis.Health
	}
	if a.ClickHouse != nil {
		checks["clickhouse"] = func(ctx context.Context) error { return a.ClickHouse.Db.Ping(ctx) }
	}
	ctler := &controller.Controller{
		Checkpoints: a.Checkpoints,
		Runs:        a,
		ReadyChecks: checks,
		Gatherer:    metrics.Registry,
		Logger:      logging.Component(a.Logger, "http"),
	}
	a.Server = &http.Server{
		Addr:              a.Config.Server.Addr,
		Handler:           ctler.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if a.Redis != nil {
		host, _ := os.Hostname()
		consumer, err := redis.NewStreamConsumer(a.Redis, redis.StreamConsumerConfig{
			Stream:   redis.RunRequestsStream,
			Group:    "cbbdx",
			Consumer: utils.Env("HOSTNAME", host),
			Logger:   logging.Component(a.Logger, "requests"),
		})
		if err != nil {
			return err
		}
		a.Requests = consumer
	}

	if a.Config.Server.Cron == "" {
		return nil
	}
	mode, err := ParseMode(a.Config.Server.Mode)
	if err != nil {
		return err
	}
	a.Scheduler, err = NewScheduler(ctx, a.Config.Server.Cron, logging.Component(a.Logger, "scheduler"), func(ctx context.Context) error {
		seasons, err := a.Seasons()
		if err != nil {
			return err
		}
		_, err = a.Pipeline.Run(ctx, RunOptions{Mode: mode, Seasons: seasons})
		if errors.Is(err, ErrRunInProgress) {
			return nil
		}
		return err
	})
	return err
}

// Start serves HTTP and runs the scheduler until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	if a.Scheduler != nil {
		a.Scheduler.Start()
	}
	if a.Requests != nil {
		go func() {
			if err := a.Requests.Run(ctx, a.HandleRunRequest); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error("run request consumer stopped", zap.Error(err))
			}
		}()
	}
	go func() {
		a.Logger.Info("Starting server", zap.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()
	a.Stop()
}

// Stop shuts down the server, waits for a scheduled run and closes every backend.
func (a *App) Stop() {
	if a.Server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error("server shutdown", zap.Error(err))
		}
	}
	if a.Scheduler != nil {
		a.Logger.Info("Stopping scheduler")
		a.Scheduler.Stop()
	}
	if err := a.Close(); err != nil {
		a.Logger.Error("closing backends", zap.Error(err))
	}
	_ = a.Logger.Sync()
}

// Close releases backend connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
