// Package app wires configuration into the running service: store, source
// registry, collection strategies, pipeline, worker pool and sweeper.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FranksOps/gleaner/internal/collector"
	"github.com/FranksOps/gleaner/internal/config"
	"github.com/FranksOps/gleaner/internal/deep"
	"github.com/FranksOps/gleaner/internal/fingerprint"
	"github.com/FranksOps/gleaner/internal/llm"
	"github.com/FranksOps/gleaner/internal/pipeline"
	"github.com/FranksOps/gleaner/internal/registry"
	"github.com/FranksOps/gleaner/internal/scraper"
	"github.com/FranksOps/gleaner/internal/sources"
	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/FranksOps/gleaner/internal/storage/postgres"
	"github.com/FranksOps/gleaner/internal/storage/sqlite"
	"github.com/FranksOps/gleaner/internal/tasks"
	"github.com/FranksOps/gleaner/pkg/proxy"
	"github.com/FranksOps/gleaner/pkg/ratelimit"
	"github.com/FranksOps/gleaner/pkg/useragent"
)

// Source types served by the built-in strategies besides search.
const (
	WebsiteTag = "website"
	SitemapTag = "sitemap"
)

// App holds the wired components.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store        storage.Store
	Registry     *registry.Registry
	Sources      *sources.Service
	Orchestrator *collector.Orchestrator
	Pipeline     *pipeline.Pipeline
	Pool         *tasks.Pool
	Tasks        *tasks.Service
	Sweeper      *tasks.Sweeper
	Analyzer     *llm.Analyzer
	Deep         *deep.Service

	fetch   scraper.FetchConfig
	limiter *ratelimit.Limiter
}

// OpenStore opens the configured backend.
func OpenStore(ctx context.Context, cfg config.Storage) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.New(cfg.DSN)
	case "postgres":
		return postgres.New(ctx, cfg.DSN)
	}
	return nil, fmt.Errorf("app: unknown storage driver %q", cfg.Driver)
}

// New wires every component. ctx bounds opening the store only; workers
// live until Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	a, err := NewWithStore(ctx, cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// NewWithStore wires every component around an already open store, which
// the App then owns.
func NewWithStore(ctx context.Context, cfg *config.Config, store storage.Store, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Store: store}

	fp, err := fingerprint.ParseProfile(cfg.Fetch.Fingerprint)
	if err != nil {
		return nil, err
	}
	proxies := proxy.NewPool(proxy.Config{})
	if err := proxies.Add(cfg.Fetch.Proxies...); err != nil {
		return nil, fmt.Errorf("app: proxies: %w", err)
	}
	if cfg.Fetch.ProxyFile != "" {
		if err := proxies.LoadFile(cfg.Fetch.ProxyFile); err != nil {
			return nil, fmt.Errorf("app: proxy file: %w", err)
		}
	}
	a.limiter = ratelimit.NewLimiter(cfg.Fetch.RequestsPerSecond, cfg.Fetch.Jitter)
	a.fetch = scraper.FetchConfig{
		Timeout:     cfg.Fetch.Timeout,
		Fingerprint: fp,
		Limiter:     a.limiter,
	}
	if proxies.Len() > 0 {
		a.fetch.ProxyPool = proxies
	}
	if len(cfg.Fetch.UserAgents) > 0 {
		a.fetch.Profiles = useragent.FromUserAgents(cfg.Fetch.UserAgents)
	}

	shared, err := scraper.NewFetcher(a.fetch)
	if err != nil {
		return nil, fmt.Errorf("app: fetcher: %w", err)
	}

	a.Registry = registry.New(store, cfg.Collector.RegistryTTL, logger)
	a.Sources = sources.NewService(store, a.Registry, logger)

	a.Orchestrator = collector.New(a.Registry, logger, collector.WithPlaceholder(cfg.Collector.Placeholder))
	a.Orchestrator.Register(cfg.Search.Tag, collector.NewSearchStrategy(a.SearchFetcher, nil, logger))
	a.Orchestrator.Register(WebsiteTag, collector.NewWebsiteStrategy(shared, cfg.Fetch.RespectRobots, cfg.Fetch.RobotsAgent, cfg.Collector.WebsiteConcurrency, logger))
	a.Orchestrator.Register(SitemapTag, collector.NewSitemapStrategy(shared, logger))

	a.Pipeline = pipeline.New(store, a.Orchestrator, logger, pipeline.Config{SourceDelay: cfg.Pipeline.SourceDelay})
	a.Pool = tasks.NewPool(a.Pipeline, cfg.Workers.Count, cfg.Workers.QueueSize, logger)
	a.Tasks = tasks.NewService(store, a.Pool, logger)
	a.Sweeper = tasks.NewSweeper(store, cfg.Sweeper.Threshold, cfg.Sweeper.Interval, logger)

	var completer llm.Completer
	if cfg.LLM.APIKey != "" {
		completer = &llm.AnthropicCompleter{APIKey: cfg.LLM.APIKey}
	}
	a.Analyzer = llm.NewAnalyzer(completer, cfg.LLM.Models)

	deepCfg := deep.Config{RespectRobots: cfg.Fetch.RespectRobots, UserAgent: cfg.Fetch.RobotsAgent}
	if completer != nil {
		deepCfg.Analyzer = a.Analyzer
	}
	a.Deep = deep.NewService(store, shared, deepCfg, logger)

	logger.Debug("app wired", "storage", cfg.Storage.Driver, "strategies", a.Orchestrator.Registered(), "models", len(cfg.LLM.Models))
	return a, nil
}

// SearchFetcher builds a cookie-keeping Fetcher for one search source, using
// the source's timeout.
func (a *App) SearchFetcher(src *storage.Source) (*scraper.Fetcher, error) {
	fc := a.fetch
	fc.UseCookieJar = true
	if src.Timeout > 0 {
		fc.Timeout = src.Timeout
	}
	return scraper.NewFetcher(fc)
}

// StartBackground runs the stale task sweeper until ctx is done.
func (a *App) StartBackground(ctx context.Context) {
	go a.Sweeper.Start(ctx)
}

// Close drains the worker pool, then closes the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Pool != nil {
		if err := a.Pool.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: pool: %w", err))
		}
	}
	a.limiter.Stop()
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("app: store: %w", err))
	}
	return errors.Join(errs...)
}
