package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mnemo-ai/mnemo-go/internal/audit"
	"github.com/mnemo-ai/mnemo-go/internal/cache"
	"github.com/mnemo-ai/mnemo-go/internal/config"
	"github.com/mnemo-ai/mnemo-go/internal/conflict"
	"github.com/mnemo-ai/mnemo-go/internal/embedding"
	"github.com/mnemo-ai/mnemo-go/internal/health"
	"github.com/mnemo-ai/mnemo-go/internal/logging"
	"github.com/mnemo-ai/mnemo-go/internal/progress"
	"github.com/mnemo-ai/mnemo-go/internal/provider"
	"github.com/mnemo-ai/mnemo-go/internal/similarity"
)

// disposeTimeout bounds provider teardown at process exit.
const disposeTimeout = 5 * time.Second

// app bundles the wired capability layer used by every subcommand.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	tracker  *progress.Tracker
	registry *provider.Registry
	cache    *cache.Manager
	embedder *embedding.Service
	detector *conflict.Detector
	promReg  *prometheus.Registry
	metrics  *health.Metrics
	monitor  *health.Monitor
}

// buildApp loads configuration and wires the full stack. The returned
// cleanup function disposes providers and closes the cache; callers must
// defer it.
func buildApp(command string) (*app, func(), error) {
	cfg, loadedPath, err := config.Load(configPath, slog.Default())
	if err != nil {
		return nil, nil, err
	}

	log := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(log)

	audit.LogCommandStart(log, command, loadedPath)

	tracker := progress.NewTracker()
	ollama := provider.NewOllamaProvider(provider.OllamaConfig{
		Host:       cfg.Provider.Ollama.Host,
		ChatModel:  cfg.Provider.Ollama.ChatModel,
		EmbedModel: cfg.Provider.Ollama.EmbedModel,
		AutoPull:   cfg.Provider.Ollama.AutoPull,
		Tracker:    tracker,
	})
	registry := provider.NewRegistry(log, ollama)

	store := openStore(cfg, log)
	mgr, err := cache.NewManager(cache.Config{
		Capacity: cfg.Cache.Capacity,
		TTL:      cfg.Cache.TTL.Std(),
	}, store, log)
	if err != nil {
		return nil, nil, err
	}

	promReg := prometheus.NewRegistry()
	metrics := health.NewMetrics(promReg)
	monitor := health.NewMonitor(health.Config{}, registry, metrics, log)

	embedder := embedding.NewService(embedding.Config{
		Preferred:     cfg.Provider.Preferred,
		ModelName:     cfg.Embedding.Model,
		Dimension:     cfg.Embedding.Dimension,
		MaxRetries:    cfg.Embedding.MaxRetries,
		MaxParallel:   cfg.Embedding.MaxParallel,
		RatePerSecond: cfg.Embedding.RatePerSecond,
		Burst:         cfg.Embedding.Burst,
	}, registry, mgr, tracker, metrics, log)

	detector := conflict.NewDetector(similarity.NewEngine(), nil, conflict.Thresholds{
		Duplicate:          cfg.Conflict.DuplicateThreshold,
		ContradictionFloor: cfg.Conflict.ContradictionFloor,
	}, log)

	a := &app{
		cfg:      cfg,
		log:      log,
		tracker:  tracker,
		registry: registry,
		cache:    mgr,
		embedder: embedder,
		detector: detector,
		promReg:  promReg,
		metrics:  metrics,
		monitor:  monitor,
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
		defer cancel()
		if err := registry.DisposeAll(ctx); err != nil {
			log.Warn("teardown: dispose providers", slog.Any("error", err))
		}
		if err := mgr.Close(); err != nil {
			log.Warn("teardown: close cache", slog.Any("error", err))
		}
	}
	return a, cleanup, nil
}

// openStore opens the durable cache tier, degrading to nil (in-process tier
// only) when the path is disabled or the database cannot be opened.
func openStore(cfg *config.Config, log *slog.Logger) *cache.Store {
	if cfg.Cache.Path == "disabled" {
		return nil
	}
	path := cfg.Cache.Path
	if path == "" {
		var err error
		path, err = cache.DefaultStorePath()
		if err != nil {
			log.Warn("cache: no home directory, durable tier disabled", slog.Any("error", err))
			return nil
		}
	}
	store, err := cache.OpenStore(path)
	if err != nil {
		log.Warn("cache: durable tier unavailable, continuing in-process only",
			slog.String("path", path),
			slog.Any("error", err),
		)
		return nil
	}
	return store
}

// watchProgress mirrors model download/load progress to stderr so long first
// runs are not silent. Returns the subscription cancel function.
func watchProgress(tracker *progress.Tracker) func() {
	return tracker.Subscribe(func(ev progress.Event) {
		switch {
		case ev.Percent < 0:
			fmt.Fprintf(os.Stderr, "%s: %s\n", ev.Stage, ev.Message)
		case ev.Message != "":
			fmt.Fprintf(os.Stderr, "%s: %s (%d%%)\n", ev.Stage, ev.Message, ev.Percent)
		default:
			fmt.Fprintf(os.Stderr, "%s: %d%%\n", ev.Stage, ev.Percent)
		}
	})
}
