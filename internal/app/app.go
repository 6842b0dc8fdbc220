package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"invoice-harvester-go/internal/ai"
	"invoice-harvester-go/internal/clock"
	"invoice-harvester-go/internal/config"
	"invoice-harvester-go/internal/converter"
	"invoice-harvester-go/internal/fetcher"
	"invoice-harvester-go/internal/handlers"
	"invoice-harvester-go/internal/ledger"
	"invoice-harvester-go/internal/metrics"
	"invoice-harvester-go/internal/models"
	"invoice-harvester-go/internal/pipeline"
	"invoice-harvester-go/internal/ratelimit"
	"invoice-harvester-go/internal/scheduler"
	"invoice-harvester-go/internal/server"
	"invoice-harvester-go/internal/storage"
	"invoice-harvester-go/internal/store"
	"invoice-harvester-go/internal/validator"
)

// App holds the wired service
type App struct {
	cfg       *config.Config
	log       *logrus.Logger
	db        *gorm.DB
	source    fetcher.MessageSource
	ledger    ledger.Ledger
	runs      *store.RunLogRepository
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	runner    *scheduler.Runner
	scheduler *scheduler.Scheduler
}

// NewLogger builds the process logger from the log settings
func NewLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// Load reads and validates the configuration
func Load() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// New connects every component described by cfg
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	dbConn, err := store.Open(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetricsWith(registry)

	source, err := fetcher.New(ctx, cfg.Gmail, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create message source: %w", err)
	}

	blobs, err := storage.New(cfg.Storage, log)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("failed to create file storage: %w", err)
	}

	policy := validator.Policy{
		Aliases:            cfg.Issuer.Aliases,
		MarketingKeywords:  cfg.Issuer.MarketingKeywords,
		NonInvoicePatterns: cfg.Issuer.NonInvoicePatterns,
		InvoiceKeywords:    cfg.Issuer.InvoiceKeywords,
	}
	gate, err := validator.New(policy)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("invalid issuer policy: %w", err)
	}
	early, err := validator.NewEarlyRejecter(policy)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("invalid issuer policy: %w", err)
	}
	dupes, err := validator.NewDuplicateChecker(policy)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("invalid issuer policy: %w", err)
	}

	clk := clock.Real{}
	limiter := ratelimit.New(cfg.AI.MaxCallsPerMin, clk, log)
	limiter.OnWait(m.RateLimitWait)

	extractor := ai.NewClient(ai.Config{
		Endpoint:         cfg.AI.Endpoint,
		APIKey:           cfg.AI.APIKey,
		Temperature:      cfg.AI.Temperature,
		MaxRetries:       cfg.AI.MaxRetries,
		CallTimeout:      cfg.AI.CallTimeout,
		ExtractionBudget: cfg.AI.ExtractionBudget,
		MaxTextChars:     cfg.AI.MaxTextChars,
		InlineMaxBytes:   cfg.AI.InlineMaxBytes,
		RateLimitMaxWait: cfg.AI.RateLimitMaxWait,
		PromptTemplate:   cfg.AI.PromptTemplate,
	}, limiter, gate, log, ai.WithClock(clk), ai.WithObserver(m))

	book := ledger.NewWorkbook(cfg.Ledger.Path, cfg.Ledger.Sheet, log)

	pipe := pipeline.New(pipeline.Config{
		MessageBudget:  cfg.Budget.Message,
		ExtractTimeout: cfg.Converter.Timeout,
		RecentWindow:   cfg.Ledger.RecentLimit,
		MarkRead:       cfg.Gmail.MarkRead,
	}, pipeline.Deps{
		Source:    source,
		Extractor: extractor,
		Early:     early,
		Dupes:     dupes,
		Converter: converter.New(cfg.Converter, log),
		Blobs:     blobs,
		Ledger:    book,
		Clock:     clk,
		Log:       log,
		Observer:  m,
	})

	kv := store.NewGormKV(dbConn)
	runs := store.NewRunLogRepository(dbConn)
	runner := scheduler.NewRunner(scheduler.NewRunnerConfig(cfg), source, pipe, kv, runs, clk, log, m)

	return &App{
		cfg:       cfg,
		log:       log,
		db:        dbConn,
		source:    source,
		ledger:    book,
		runs:      runs,
		metrics:   m,
		registry:  registry,
		runner:    runner,
		scheduler: scheduler.NewScheduler(&cfg.Scheduler, runner, log),
	}, nil
}

// RunOnce runs in the foreground, following continuations up to the
// configured limit
func (a *App) RunOnce(ctx context.Context) ([]*models.RunSummary, error) {
	return scheduler.RunLoop(ctx, a.runner, a.cfg.Scheduler.MaxContinuations, clock.Real{}, a.log)
}

// Serve starts the HTTP API and the scheduler and blocks until ctx is done
func (a *App) Serve(ctx context.Context) error {
	h := handlers.NewHandlers(a.db, a.scheduler, a.runs, a.ledger, a.registry)
	router := server.SetupRouter(h, a.log)
	srv := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	if a.cfg.Scheduler.AutoStart {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Infof("Starting HTTP server on port %s", a.cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		a.log.WithError(err).Error("HTTP server error")
	}

	a.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if serr := a.scheduler.Stop(); serr != nil {
		a.log.Errorf("Failed to stop scheduler: %v", serr)
	}
	a.scheduler.Wait()

	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		a.log.Errorf("HTTP server shutdown error: %v", serr)
	}

	a.log.Info("Server stopped gracefully")
	return err
}

// Close releases the mailbox connection and the database
func (a *App) Close() error {
	if err := a.source.Close(); err != nil {
		a.log.Errorf("Failed to close message source: %v", err)
	}
	if sqlDB, err := a.db.DB(); err == nil {
		return sqlDB.Close()
	}
	return nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Run initializes and serves the application until interrupted
func Run() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.Log)
	log.Info("Starting Invoice Harvester Service")

	ctx, stop := SignalContext()
	defer stop()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(ctx)
}
