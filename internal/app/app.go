package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"cfm-engine/internal/alerts"
	"cfm-engine/internal/api"
	"cfm-engine/internal/config"
	"cfm-engine/internal/exec"
	"cfm-engine/internal/market"
	"cfm-engine/internal/metrics"
	"cfm-engine/internal/state"
	"cfm-engine/internal/state/redis"
	"cfm-engine/internal/state/sqlite"
	"cfm-engine/internal/timescale"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	codec     state.Codec
	registry  *market.Registry
	executor  *exec.Executor
	prom      *metrics.Prometheus
	alerts    *alerts.Telegram
	timescale *timescale.Writer
	hub       *api.Hub
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	store, err := openStore(ctx, cfg.State)
	if err != nil {
		return nil, err
	}
	a, err := newApp(ctx, cfg, log, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger, store state.Store) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	codec, err := state.CodecByName(cfg.State.Codec)
	if err != nil {
		return nil, err
	}
	registry := market.NewRegistry()
	for _, mc := range cfg.MarketConfigs() {
		m, err := loadMarket(ctx, store, mc, log)
		if err != nil {
			return nil, err
		}
		if err := registry.Add(m); err != nil {
			return nil, err
		}
	}

	executor := exec.New(registry, store, codec, log)
	a := &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		codec:    codec,
		registry: registry,
		executor: executor,
		hub:      api.NewHub(log),
	}
	if cfg.Metrics.EnabledValue() {
		a.prom = metrics.NewPrometheus()
		executor.SetMetrics(a.prom.Metrics)
	}
	a.alerts = alerts.NewTelegram(cfg.Telegram, log)
	if a.alerts.Enabled() {
		executor.SetNotifier(a.alerts)
	}
	if cfg.Timescale.Enabled {
		writer, err := timescale.New(cfg.Timescale, log)
		if err != nil {
			log.Warn("timescale disabled", zap.Error(err))
		} else {
			a.timescale = writer
		}
	}
	for _, m := range registry.All() {
		a.hub.Track(m)
		a.timescale.Track(m)
	}
	if counter, ok := store.(interface {
		Count(ctx context.Context, kind string) (int, error)
	}); ok {
		if n, err := counter.Count(ctx, "receipt"); err == nil {
			log.Info("state store opened", zap.String("backend", cfg.State.Backend), zap.Int("receipts", n))
		}
	}
	return a, nil
}

func openStore(ctx context.Context, cfg config.StateConfig) (state.Store, error) {
	switch cfg.Backend {
	case "redis":
		return redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	case "sqlite", "":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		return sqlite.New(cfg.SQLitePath)
	}
	return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
}

// loadMarket restores a market from its stored record, or builds a fresh one
// when nothing was stored or the record no longer matches the configuration.
func loadMarket(ctx context.Context, store state.Store, cfg market.Config, log *zap.Logger) (*market.Market, error) {
	rec, ok, err := state.LoadMarketRecord(ctx, store, cfg.ID)
	if err != nil {
		log.Warn("failed to load market record", zap.String("market", cfg.ID), zap.Error(err))
	}
	if ok {
		m, err := market.Restore(cfg, rec, log)
		if err == nil {
			log.Info("market restored",
				zap.String("market", cfg.ID),
				zap.String("phase", string(m.Phase())),
				zap.Int("snapshots", len(rec.History)),
			)
			return m, nil
		}
		log.Warn("stored market record rejected, starting fresh", zap.String("market", cfg.ID), zap.Error(err))
	}
	return market.New(cfg, log)
}

func (a *App) Registry() *market.Registry {
	return a.registry
}

func (a *App) Executor() *exec.Executor {
	return a.executor
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)
	a.timescale.Start(ctx)
	a.alerts.Start(ctx)

	g.Go(func() error {
		a.recordLoop(ctx)
		return nil
	})
	if a.prom != nil {
		mux := http.NewServeMux()
		mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
		a.serve(ctx, g, "metrics", a.cfg.Metrics.Address, mux)
	}
	if a.cfg.API.Enabled {
		srv := api.NewServer(a.executor, a.hub, a.cfg.API.JWTSecret, a.cfg.Simulator, a.log)
		a.serve(ctx, g, "api", a.cfg.API.Address, srv.Router())
	}
	for _, m := range a.registry.All() {
		a.log.Info("market ready",
			zap.String("market", m.ID()),
			zap.String("phase", string(m.Phase())),
			zap.Int("projects", len(m.ListProjects())),
			zap.Int("accounts", len(m.Accounts())),
		)
	}

	err := g.Wait()
	a.persistAll()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) recordLoop(ctx context.Context) {
	if a.cfg.History.Interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(a.cfg.History.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.executor.RecordSnapshots(ctx)
		}
	}
}

func (a *App) serve(ctx context.Context, g *errgroup.Group, name, addr string, h http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	g.Go(func() error {
		a.log.Info("http server listening", zap.String("server", name), zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) persistAll() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, m := range a.registry.All() {
		_ = a.executor.Persist(ctx, m)
	}
}

func (a *App) close() {
	if err := a.timescale.Close(); err != nil {
		a.log.Warn("timescale close failed", zap.Error(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("state store close failed", zap.Error(err))
		}
	}
}
