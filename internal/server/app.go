// Package server builds the search-fetch object graph from configuration and
// runs it either as a one-shot CLI run or as the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-fetch/internal/api"
	"github.com/JakeFAU/search-fetch/internal/clock/system"
	"github.com/JakeFAU/search-fetch/internal/config"
	"github.com/JakeFAU/search-fetch/internal/crawler"
	"github.com/JakeFAU/search-fetch/internal/fetcher/auto"
	collyfetcher "github.com/JakeFAU/search-fetch/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/search-fetch/internal/fetcher/headless"
	"github.com/JakeFAU/search-fetch/internal/hash/sha256"
	"github.com/JakeFAU/search-fetch/internal/headless/detector"
	"github.com/JakeFAU/search-fetch/internal/id/uuid"
	"github.com/JakeFAU/search-fetch/internal/logging"
	"github.com/JakeFAU/search-fetch/internal/output"
	"github.com/JakeFAU/search-fetch/internal/pipeline"
	"github.com/JakeFAU/search-fetch/internal/progress"
	"github.com/JakeFAU/search-fetch/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/search-fetch/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/search-fetch/internal/publisher/pubsub"
	"github.com/JakeFAU/search-fetch/internal/search"
	gcsstorage "github.com/JakeFAU/search-fetch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/search-fetch/internal/storage/local"
	memorystorage "github.com/JakeFAU/search-fetch/internal/storage/memory"
	pgstore "github.com/JakeFAU/search-fetch/internal/storage/postgres"
	"github.com/JakeFAU/search-fetch/internal/telemetry"
	"github.com/JakeFAU/search-fetch/internal/transform"
	"github.com/JakeFAU/search-fetch/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Options tunes Build for the caller's mode.
type Options struct {
	// Logger replaces the configured zap logger when set.
	Logger *zap.Logger
	// Progress receives one line per progress event when non-nil.
	Progress io.Writer
	// Registerer exports run metrics when non-nil.
	Registerer prometheus.Registerer
	// PerRunPrefix nests each run's artifacts under its run ID.
	PerRunPrefix bool
	// HTTPClient overrides the outbound client used by the search providers.
	HTTPClient *http.Client
}

// App holds the wired dependencies and everything that needs closing.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	worker    *worker.Worker
	apiServer *api.Server
	emitter   *progress.Fanout
	blobs     crawler.BlobStore
	closers   []func(context.Context) error
}

// Build wires the application from cfg. On error every resource acquired so
// far is released.
func Build(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeResources(context.WithoutCancel(ctx))
		}
	}()

	if cfg.Telemetry.Enabled {
		tp, tErr := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRatio: cfg.Telemetry.SampleRatio,
			LogSpans:    cfg.Telemetry.LogSpans,
		}, logger.Named("telemetry"))
		if tErr != nil {
			return nil, fmt.Errorf("tracer init failed: %w", tErr)
		}
		app.addCloser(tp.Shutdown)
	}

	provider, err := search.New(cfg.Search.Provider, search.Options{
		APIKey:     cfg.Search.APIKey,
		SerpAPIURL: cfg.Search.SerpAPIURL,
		Engine:     cfg.Search.Engine,
		SearXNGURL: cfg.Search.SearXNGURL,
		Static:     cfg.StaticRecords(),
		Client:     opts.HTTPClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("search provider init failed: %w", err)
	}

	fetcher, err := app.setupFetcher()
	if err != nil {
		return nil, err
	}

	app.emitter = setupProgress(logger, opts)
	app.addCloser(app.emitter.Close)

	pipe, err := pipeline.New(pipeline.Options{
		Provider:        provider,
		Fetcher:         fetcher,
		Transformer:     transformer(cfg, logger),
		FetchConfig:     cfg.TaskFetchConfig(),
		TransformConfig: cfg.TaskTransformConfig(),
		Concurrency:     cfg.Pipeline.Concurrency,
		Emitter:         app.emitter,
		IDGen:           uuid.New(),
		Clock:           system.New(),
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	blobPrefix, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	writer, err := output.NewWriter(app.blobs, sha256.New(), logger)
	if err != nil {
		return nil, fmt.Errorf("output writer init failed: %w", err)
	}

	runStore, err := app.setupDatabase(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	deps := worker.Deps{
		Searcher:  pipe,
		Writer:    writer,
		Publisher: publisher,
		Clock:     system.New(),
	}
	if runStore != nil {
		deps.RunStore = runStore
	}
	app.worker, err = worker.New(deps, worker.Config{
		BlobPrefix:   blobPrefix,
		PerRunPrefix: opts.PerRunPrefix,
		Topic:        cfg.PubSub.TopicName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("worker init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.worker, app.ready, cfg, logger.Named("api"))
	logger.Info("application built",
		zap.String("provider", cfg.Search.Provider),
		zap.String("engine", cfg.Fetch.Engine),
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("concurrency", cfg.Pipeline.Concurrency),
	)
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Worker returns the run executor.
func (a *App) Worker() *worker.Worker {
	return a.worker
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// BlobStore returns the artifact store.
func (a *App) BlobStore() crawler.BlobStore {
	return a.blobs
}

// Serve runs the HTTP API until ctx is canceled or SIGINT/SIGTERM arrives,
// then drains in-flight requests and closes the application.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
		close(errCh)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	if err := <-errCh; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return closeErr
}

// Close releases every resource in reverse acquisition order.
func (a *App) Close(ctx context.Context) error {
	a.closeResources(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeResources(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("resource close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) addCloser(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.worker == nil {
		return errors.New("worker not initialized")
	}
	return nil
}

func (a *App) setupFetcher() (crawler.Fetcher, error) {
	primary := collyfetcher.New(collyfetcher.Config{
		RequestTimeout: a.cfg.HTTPTimeout(),
		Logger:         a.logger,
	})
	if a.cfg.Fetch.Engine == config.EngineColly {
		a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.Fetch.UserAgent))
		return primary, nil
	}

	headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		RobotsClient:      &http.Client{Timeout: a.cfg.HTTPTimeout()},
		Logger:            a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	a.addCloser(func(context.Context) error {
		headless.Close()
		return nil
	})
	a.logger.Info("headless fetcher ready", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	if a.cfg.Fetch.Engine == config.EngineHeadless {
		return headless, nil
	}

	promoted, err := auto.New(primary, headless, detector.NewHeuristic(a.cfg.Headless.PromotionThreshold), a.logger)
	if err != nil {
		return nil, fmt.Errorf("auto fetcher init failed: %w", err)
	}
	a.logger.Info("using auto fetcher", zap.Int("promotion_threshold", a.cfg.Headless.PromotionThreshold))
	return promoted, nil
}

func (a *App) setupStorage(ctx context.Context) (string, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		}, a.logger)
		if err != nil {
			return "", fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.addCloser(func(context.Context) error { return store.Close() })
		a.blobs = store
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		// The GCS store applies the prefix itself.
		return "", nil
	case config.BackendMemory:
		a.blobs = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory storage backend")
	default:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Output.Dir})
		if err != nil {
			return "", fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = store
		a.logger.Info("using local storage backend", zap.String("dir", a.cfg.Output.Dir))
	}
	return a.cfg.Storage.Prefix, nil
}

func (a *App) setupDatabase(ctx context.Context) (*pgstore.RunStore, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no database DSN configured, run archive disabled")
		return nil, nil
	}
	store, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:             a.cfg.DB.DSN,
		RunsTable:       a.cfg.DB.RunsTable,
		PagesTable:      a.cfg.DB.PagesTable,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.ConnLifetime(),
	})
	if err != nil {
		return nil, fmt.Errorf("run store init failed: %w", err)
	}
	a.addCloser(func(context.Context) error {
		store.Close()
		return nil
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("run store schema: %w", err)
	}
	a.logger.Info("run archive initialized", zap.String("runs_table", a.cfg.DB.RunsTable))
	return store, nil
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := pubsubpublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.addCloser(func(context.Context) error { return pub.Close() })
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func setupProgress(logger *zap.Logger, opts Options) *progress.Fanout {
	sinkList := []progress.Sink{sinks.NewLogSink(logger)}
	if opts.Progress != nil {
		sinkList = append(sinkList, sinks.NewWriterSink(opts.Progress))
	}
	if opts.Registerer != nil {
		promSink, err := sinks.NewPrometheusSink(opts.Registerer)
		if err != nil {
			logger.Warn("prometheus progress sink disabled", zap.Error(err))
		} else {
			sinkList = append(sinkList, promSink)
		}
	}
	return progress.NewFanout(logger, sinkList...)
}

func transformer(cfg config.Config, logger *zap.Logger) *transform.Transformer {
	return transform.New(transform.Config{Extractor: cfg.Transform.Extractor, Logger: logger})
}
