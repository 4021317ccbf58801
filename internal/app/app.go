// Package app initializes and holds long-lived services, acting as the
// composition root for the monitor.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"casawatch/internal/api"
	"casawatch/internal/archive"
	"casawatch/internal/clock/system"
	"casawatch/internal/config"
	"casawatch/internal/cycle"
	"casawatch/internal/dedup"
	"casawatch/internal/extract"
	"casawatch/internal/fetch"
	"casawatch/internal/id/uuid"
	"casawatch/internal/logging"
	"casawatch/internal/metrics"
	"casawatch/internal/monitor"
	"casawatch/internal/notify"
	"casawatch/internal/policy/retry"
	"casawatch/internal/scheduler"
	"casawatch/internal/storage/memory"
	"casawatch/internal/storage/postgres"
	"casawatch/internal/targets"
)

// listingBackend is what the app needs from a storage implementation.
type listingBackend interface {
	monitor.ListingStore
	monitor.ListingBrowser
}

// App wires the monitor's services together and owns their lifecycle.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store      listingBackend
	pg         *postgres.ListingStore
	renderer   *fetch.Renderer
	aggregator *cycle.Aggregator

	httpServer *http.Server
	trigger    chan struct{}

	mu         sync.RWMutex
	lastReport *monitor.CycleReport
}

// New initializes every service from configuration, failing fast when a
// critical dependency cannot be reached.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{
		cfg:     cfg,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}

	pages, err := archive.NewLocal(archive.LocalConfig{BaseDir: cfg.Archive.Dir})
	if err != nil {
		return nil, fmt.Errorf("init page archive: %w", err)
	}

	fetcher, err := a.initFetcher()
	if err != nil {
		return nil, err
	}

	coordinator := dedup.New(a.store, system.New(), cfg.Monitor.MinPrice, logger)
	policy := retry.New(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
	})

	sched := scheduler.New(
		fetcher,
		extract.Default(),
		coordinator,
		policy,
		fetch.NewDisguisePool(),
		pages,
		scheduler.Config{
			Concurrency: cfg.Monitor.Concurrency,
			StaggerMin:  time.Duration(cfg.Monitor.StaggerMinMs) * time.Millisecond,
			StaggerMax:  time.Duration(cfg.Monitor.StaggerMaxMs) * time.Millisecond,
			MinPrice:    cfg.Monitor.MinPrice,
		},
		logger,
	)

	a.aggregator = cycle.New(sched, uuid.NewGenerator(), a.initNotifier(), system.New(), logger)
	a.initHTTPServer()

	logger.Info("services initialized",
		zap.Bool("postgres", a.pg != nil),
		zap.Bool("headless", a.renderer != nil),
		zap.Int("concurrency", cfg.Monitor.Concurrency),
	)
	return a, nil
}

// initStore connects Postgres when a DSN is configured, waiting for the
// database to come up, and falls back to the in-memory store otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no db.dsn configured, using in-memory store")
		a.store = memory.NewListingStore()
		return nil
	}

	deadline := time.Now().Add(time.Duration(a.cfg.DB.WaitSeconds) * time.Second)
	var lastErr error
	for {
		store, err := postgres.NewListingStore(ctx, postgres.ListingStoreConfig{
			DSN:             a.cfg.DB.DSN,
			Table:           a.cfg.DB.Table,
			MaxConns:        int32(a.cfg.DB.MaxConns),
			MinConns:        int32(a.cfg.DB.MinConns),
			MaxConnLifetime: time.Duration(a.cfg.DB.ConnLifetimeMin) * time.Minute,
		})
		if err == nil {
			if err = store.Migrate(ctx); err != nil {
				store.Close()
				return fmt.Errorf("migrate listings table: %w", err)
			}
			a.pg = store
			a.store = store
			return nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			return fmt.Errorf("database not reachable after %ds: %w", a.cfg.DB.WaitSeconds, lastErr)
		}
		a.logger.Warn("database not ready, retrying", zap.Error(err))
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return fmt.Errorf("waiting for database: %w", ctx.Err())
		}
	}
}

func (a *App) initFetcher() (monitor.Fetcher, error) {
	probe := fetch.NewProbe(fetch.ProbeConfig{
		Timeout: time.Duration(a.cfg.Fetch.TimeoutSeconds) * time.Second,
	})

	var renderer *fetch.Renderer
	if a.cfg.Fetch.Headless.Enabled {
		var err error
		renderer, err = fetch.NewRenderer(fetch.RendererConfig{
			MaxParallel:       a.cfg.Fetch.Headless.MaxParallel,
			NavigationTimeout: time.Duration(a.cfg.Fetch.Headless.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(a.cfg.Fetch.Headless.SettleMs) * time.Millisecond,
			ScrollSteps:       a.cfg.Fetch.Headless.ScrollSteps,
			ScrollPause:       time.Duration(a.cfg.Fetch.Headless.ScrollPauseMs) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("init headless renderer: %w", err)
		}
		a.renderer = renderer
	}

	limiter := fetch.NewDomainLimiter(fetch.LimiterConfig{
		RPS:   a.cfg.Fetch.RateRPS,
		Burst: a.cfg.Fetch.RateBurst,
	})

	var rendererPort monitor.Fetcher
	if renderer != nil {
		rendererPort = renderer
	}
	return fetch.NewClient(probe, rendererPort, fetch.NewDetector(0), limiter, a.logger), nil
}

func (a *App) initNotifier() monitor.Notifier {
	if a.cfg.Telegram.Token == "" || a.cfg.Telegram.ChatID == "" {
		a.logger.Info("telegram credentials missing, notifications disabled")
		return notify.Noop{}
	}
	notifier, err := notify.NewTelegram(notify.TelegramConfig{
		Token:  a.cfg.Telegram.Token,
		ChatID: a.cfg.Telegram.ChatID,
	}, a.logger)
	if err != nil {
		a.logger.Warn("telegram notifier unavailable", zap.Error(err))
		return notify.Noop{}
	}
	return notifier
}

func (a *App) initHTTPServer() {
	var pinger api.Pinger
	if a.pg != nil {
		pinger = a.pg
	}
	server := api.NewServer(a.store, a, a, pinger, api.Config{
		APIKey:         a.cfg.Server.APIKey,
		RequestTimeout: time.Duration(a.cfg.Server.TimeoutSeconds) * time.Second,
	}, a.logger)
	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// LastReport implements api.ReportSource.
func (a *App) LastReport() *monitor.CycleReport {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastReport
}

// TriggerCycle implements api.Trigger.
func (a *App) TriggerCycle() bool {
	select {
	case a.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunOnce executes a single monitoring cycle and returns its report.
func (a *App) RunOnce(ctx context.Context) (*monitor.CycleReport, error) {
	targetList, badURLs, err := targets.Load(a.cfg.Monitor.LinksFile)
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}
	for _, badURL := range badURLs {
		a.logger.Warn("skipping malformed target", zap.Error(badURL))
	}
	if len(targetList) == 0 {
		a.logger.Warn("no valid targets configured", zap.String("links_file", a.cfg.Monitor.LinksFile))
	}

	cycleCtx, cancel := context.WithTimeout(ctx, a.cfg.CycleDeadline())
	defer cancel()

	report := a.aggregator.Run(cycleCtx, targetList)
	a.mu.Lock()
	a.lastReport = report
	a.mu.Unlock()
	return report, nil
}

// Run starts the ops server and loops cycles until the context ends. An
// API trigger cuts the wait between cycles short.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("ops server listening", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	interval := a.cfg.Interval()
	for {
		if _, err := a.RunOnce(ctx); err != nil {
			a.logger.Error("cycle aborted", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return a.shutdownServer()
		case err := <-serverErr:
			return fmt.Errorf("ops server failed: %w", err)
		case <-a.trigger:
			a.logger.Info("cycle triggered via API")
		case <-time.After(interval):
		}
	}
}

func (a *App) shutdownServer() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown ops server: %w", err)
	}
	return nil
}

// Close releases browser and database resources and flushes logs.
func (a *App) Close() {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	_ = a.logger.Sync()
}

// Logger exposes the shared logger for command wiring.
func (a *App) Logger() *zap.Logger {
	return a.logger
}
