package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"digitaltwin/internal/cache"
	"digitaltwin/internal/config"
	"digitaltwin/internal/domain"
	"digitaltwin/internal/interview"
	"digitaltwin/internal/knowledge"
	"digitaltwin/internal/observability"
	"digitaltwin/internal/provider"
	"digitaltwin/internal/rag"
	"digitaltwin/internal/retrieval"
	"digitaltwin/internal/security"
	"digitaltwin/internal/store"
	"digitaltwin/internal/twin"
)

// app holds every wired component for one process.
type app struct {
	cfg       *config.Config
	selector  *provider.Selector
	retriever domain.Retriever
	indexers  []domain.Indexer
	store     *store.Store
	cache     *cache.AnswerCache
	tracing   *observability.Tracing
	registry  *interview.Registry
	twin      *twin.Service

	pingers map[string]func(context.Context) error
	closers []func()
}

// loadConfig reads .env files and the config file.
func loadConfig() (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		logger.Warn("dotenv load failed", "err", err)
	}
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config: %w", err)
	}
	return cfg, cfgPath, nil
}

// setupLogger replaces the global logger per general.logLevel and general.logFile.
func setupLogger(cfg *config.Config) (func(), error) {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closeFn, nil
}

// buildApp wires providers, retrieval, the store, cache, guard and the twin service.
func buildApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, pingers: map[string]func(context.Context) error{}}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	tracing, err := observability.NewTracing(observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	a.tracing = tracing
	a.closers = append(a.closers, tracing.Shutdown)

	selector, err := provider.NewFactory(cfg.Providers, logger).Selector()
	if err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}
	a.selector = selector

	if cfg.Store.Enabled {
		st, err := store.Open(cfg.Store.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		a.store = st
		a.closers = append(a.closers, func() { st.Close() })
		a.pingers["sqlite"] = func(ctx context.Context) error { return st.DB().PingContext(ctx) }
	}

	if err := a.buildRetrieval(); err != nil {
		return nil, err
	}

	if cfg.Cache.Enabled {
		c := cache.New(cache.Config{
			Address:  cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			TTL:      time.Duration(cfg.Cache.TTLSeconds) * time.Second,
			Logger:   logger,
		})
		a.cache = c
		a.closers = append(a.closers, func() { c.Close() })
		a.pingers["redis"] = c.Ping
	}

	registry := interview.NewRegistry()
	if cfg.Interview.ContextsFile != "" {
		if registry, err = interview.LoadRegistry(cfg.Interview.ContextsFile, logger); err != nil {
			return nil, fmt.Errorf("interview contexts: %w", err)
		}
	}
	a.registry = registry

	guard, err := security.NewGuard(cfg.Security, config.Secrets(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("security guard: %w", err)
	}

	pipeline, err := rag.NewPipeline(rag.PipelineConfig{
		Enhancer: rag.NewEnhancer(rag.EnhancerConfig{
			Provider: selector,
			Options:  stageOptions(cfg.Generation.Enhancement),
			Logger:   logger,
		}),
		Formatter: rag.NewFormatter(rag.FormatterConfig{
			Provider: selector,
			Options:  stageOptions(cfg.Generation.Formatting),
			Logger:   logger,
		}),
		Registry:  registry,
		Retriever: a.retriever,
		TopK:      cfg.Retrieval.TopK,
		Tracer:    tracing.Provider(),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	svcCfg := twin.ServiceConfig{
		Pipeline:  pipeline,
		Guard:     guard,
		Retriever: a.retriever,
		Registry:  registry,
		Logger:    logger,
	}
	// Typed nils must not leak into the interfaces.
	if a.cache != nil {
		svcCfg.Cache = a.cache
	}
	if a.store != nil {
		svcCfg.QueryLog = a.store
		svcCfg.Sections = a.store
	}
	if a.twin, err = twin.NewService(svcCfg); err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// buildRetrieval picks the search backend. Every configured backend is also an
// ingest target so the stores stay in step.
func (a *app) buildRetrieval() error {
	cfg := a.cfg
	switch cfg.Retrieval.Backend {
	case config.BackendUpstash:
		u, err := retrieval.NewUpstash(retrieval.UpstashConfig{
			URL:    cfg.Retrieval.Upstash.URL,
			Token:  cfg.Retrieval.Upstash.Token,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		a.retriever = u
		a.indexers = append(a.indexers, u)
		a.pingers["upstash"] = func(ctx context.Context) error {
			_, err := u.Info(ctx)
			return err
		}
	case config.BackendElasticsearch:
		es, err := retrieval.NewElasticsearch(retrieval.ElasticsearchConfig{
			Addresses: cfg.Retrieval.Elasticsearch.Addresses,
			Username:  cfg.Retrieval.Elasticsearch.Username,
			Password:  cfg.Retrieval.Elasticsearch.Password,
			Index:     cfg.Retrieval.Elasticsearch.Index,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		a.retriever = es
		a.indexers = append(a.indexers, es)
		a.pingers["elasticsearch"] = es.Ping
	case config.BackendSQLite:
		if a.store == nil {
			return errors.New("retrieval backend sqlite requires the store")
		}
		a.retriever = a.store
	default:
		return fmt.Errorf("unknown retrieval backend: %s", cfg.Retrieval.Backend)
	}
	if a.store != nil {
		a.indexers = append(a.indexers, a.store)
	}
	return nil
}

func stageOptions(s config.StageOptions) domain.GenerationOptions {
	return domain.GenerationOptions{Temperature: s.Temperature, MaxTokens: s.MaxTokens}
}

func (a *app) knowledgeEngine() *knowledge.Engine {
	return knowledge.NewEngine(knowledge.EngineConfig{
		Indexers:  a.indexers,
		ChunkSize: a.cfg.Knowledge.ChunkSize,
		Overlap:   a.cfg.Knowledge.ChunkOverlap,
		Logger:    logger,
	})
}

// health reports provider reachability plus every pingable dependency.
func (a *app) health(ctx context.Context) map[string]error {
	out := a.selector.Status(ctx)
	for name, ping := range a.pingers {
		out[name] = ping(ctx)
	}
	return out
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func healthSummary(statuses map[string]error) string {
	var parts []string
	for name, err := range statuses {
		if err != nil {
			parts = append(parts, name+"=down")
			continue
		}
		parts = append(parts, name+"=ok")
	}
	return strings.Join(parts, " ")
}
