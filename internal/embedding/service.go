// Package embedding wraps the local embedding-model runtime behind a
// cache-checked, rate-limited, retrying service. The model is loaded lazily
// on first use; concurrent callers during loading share one in-flight load.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/mnemo-ai/mnemo-go/internal/cache"
	"github.com/mnemo-ai/mnemo-go/internal/progress"
	"github.com/mnemo-ai/mnemo-go/internal/provider"
	"github.com/mnemo-ai/mnemo-go/internal/vecmath"
)

// Defaults for Config zero values.
const (
	defaultModelName   = "nomic-embed-text"
	defaultMaxRetries  = 3
	defaultMaxParallel = 4
	defaultRatePerSec  = 32
	defaultRateBurst   = 8
)

// Config holds Service tuning.
type Config struct {
	// Preferred names the provider to try first during lazy selection.
	// Empty uses the registry's fallback order.
	Preferred string
	// ModelName is recorded on cache entries; a cached vector from a
	// different model is ignored. Defaults to defaultModelName.
	ModelName string
	// Dimension is the expected vector width. Zero learns it from the
	// first successful embedding; non-zero enforces it.
	Dimension int
	// MaxRetries bounds retry attempts on transient backend faults.
	MaxRetries int
	// MaxParallel bounds EmbedBatch fan-out.
	MaxParallel int
	// RatePerSecond and Burst shape the token bucket protecting the local
	// runtime from bursts of embed calls.
	RatePerSecond float64
	Burst         int
}

// Options tunes a single Embed call.
type Options struct {
	// SkipCache bypasses the cache lookup (the result is still written
	// back). The zero value uses the cache.
	SkipCache bool
}

// Info is the service's introspection snapshot.
type Info struct {
	// Ready means the model is loaded and embeds will not trigger a load.
	Ready bool
	// Loading means a load is in flight.
	Loading bool
	// ModelName is the configured model identifier.
	ModelName string
	// Dimension is the vector width, 0 until known.
	Dimension int
}

// Observer receives operation timings. The health package's metrics
// implement it; a nil Observer disables observation.
type Observer interface {
	// ObserveEmbed records one embed computation (cache hits excluded).
	ObserveEmbed(d time.Duration)
	// ObserveCacheLookup records a cache consultation outcome.
	ObserveCacheLookup(hit bool)
	// ObserveModelLoad records a completed lazy load.
	ObserveModelLoad(d time.Duration)
}

// Service produces fixed-dimension L2-normalized vectors from text. Safe
// for concurrent use.
type Service struct {
	log      *slog.Logger
	cfg      Config
	registry *provider.Registry
	cache    *cache.Manager // may be nil
	tracker  *progress.Tracker
	observer Observer // may be nil

	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	loads   singleflight.Group

	rngMu sync.Mutex
	rng   *rand.Rand

	mu       sync.RWMutex
	prov     provider.Provider
	loading  bool
	dimKnown int
}

// NewService constructs a Service. registry is required; cacheMgr, tracker,
// and observer may be nil.
func NewService(cfg Config, registry *provider.Registry, cacheMgr *cache.Manager, tracker *progress.Tracker, observer Observer, log *slog.Logger) *Service {
	if cfg.ModelName == "" {
		cfg.ModelName = defaultModelName
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = defaultRatePerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultRateBurst
	}
	if log == nil {
		log = slog.Default()
	}
	if tracker == nil {
		tracker = progress.NewTracker()
	}

	s := &Service{
		log:      log,
		cfg:      cfg,
		registry: registry,
		cache:    cacheMgr,
		tracker:  tracker,
		observer: observer,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		dimKnown: cfg.Dimension,
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding-backend",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("embedding: circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return s
}

// Tracker returns the progress tracker load events are published to.
func (s *Service) Tracker() *progress.Tracker { return s.tracker }

// Initialize loads the model eagerly. Optional: the first Embed call loads
// lazily. Concurrent initializations share one load (single-flight).
func (s *Service) Initialize(ctx context.Context) error {
	_, err := s.ensureReady(ctx)
	return err
}

// Ready reports whether the model is loaded.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prov != nil && s.prov.State() == provider.StateReady
}

// Info returns the introspection snapshot.
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		Ready:     s.prov != nil && s.prov.State() == provider.StateReady,
		Loading:   s.loading,
		ModelName: s.cfg.ModelName,
		Dimension: s.dimKnown,
	}
}

// Embed converts text into an L2-normalized vector. The cache is consulted
// before the backend unless opts.SkipCache is set, and populated after a
// successful computation. Cache-layer failures degrade to compute-fresh.
func (s *Service) Embed(ctx context.Context, text string, opts Options) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("embedding: %w", provider.ErrInvalidInput)
	}

	if s.cache != nil && !opts.SkipCache {
		if e, ok := s.cache.Get(ctx, trimmed); ok && e.ModelID == s.cfg.ModelName {
			s.observeCache(true)
			return cloneVector(e.Vector), nil
		}
		s.observeCache(false)
	}

	p, err := s.ensureReady(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding: rate limit wait: %w", err)
	}

	start := time.Now()
	vec, err := s.embedWithRetry(ctx, p, trimmed)
	if err != nil {
		return nil, err
	}
	if s.observer != nil {
		s.observer.ObserveEmbed(time.Since(start))
	}

	vecmath.Normalize(vec)
	if err := s.checkDimension(vec); err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, trimmed, cache.Record{
			Vector:    vec,
			ModelID:   s.cfg.ModelName,
			CreatedAt: time.Now(),
		})
	}
	return cloneVector(vec), nil
}

// EmbedBatch embeds every text with bounded parallelism. Output order
// matches input order even though computations complete out of order. All
// inputs are validated up front so a bad element fails fast.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("embedding: input %d: %w", i, provider.ErrInvalidInput)
		}
	}

	results := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxParallel)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := s.Embed(gctx, text, Options{})
			if err != nil {
				return fmt.Errorf("embedding: input %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ensureReady selects and initializes the embed-capable provider exactly
// once across concurrent callers. Load progress is published to the tracker
// with a terminal ready event.
func (s *Service) ensureReady(ctx context.Context) (provider.Provider, error) {
	s.mu.RLock()
	if p := s.prov; p != nil && p.State() == provider.StateReady {
		s.mu.RUnlock()
		return p, nil
	}
	s.mu.RUnlock()

	v, err, _ := s.loads.Do("load", func() (any, error) {
		// A caller can lose the race between the fast path above and Do;
		// re-check so a completed load is not repeated.
		s.mu.RLock()
		if p := s.prov; p != nil && p.State() == provider.StateReady {
			s.mu.RUnlock()
			return p, nil
		}
		s.mu.RUnlock()

		s.setLoading(true)
		defer s.setLoading(false)

		s.tracker.Publish(progress.Event{Stage: "load", Percent: 0, Message: s.cfg.ModelName})
		start := time.Now()

		p, err := s.registry.Select(ctx, s.cfg.Preferred, provider.CapabilityEmbed)
		if err != nil {
			s.tracker.Publish(progress.Event{Stage: "load", Percent: -1, Message: err.Error(), Done: true})
			return nil, fmt.Errorf("embedding: model load: %w", err)
		}

		s.mu.Lock()
		s.prov = p
		s.mu.Unlock()

		if s.observer != nil {
			s.observer.ObserveModelLoad(time.Since(start))
		}
		s.tracker.Publish(progress.Event{Stage: "ready", Percent: 100, Done: true})
		s.log.Info("embedding: model ready",
			slog.String("provider", p.Name()),
			slog.String("model", s.cfg.ModelName),
			slog.Duration("load_time", time.Since(start)),
		)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(provider.Provider), nil
}

// embedWithRetry runs the backend call through the circuit breaker,
// retrying transient faults with exponential backoff plus jitter. Caller
// errors (invalid input, not initialized, unsupported capability) propagate
// immediately with their kind preserved.
func (s *Service) embedWithRetry(ctx context.Context, p provider.Provider, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.backoff(attempt)
			s.log.Debug("embedding: retrying after backoff",
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := s.breaker.Execute(func() (any, error) {
			return p.Embed(ctx, text)
		})
		if err == nil {
			return result.([]float32), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, fmt.Errorf("embedding: backend circuit open: %w", err)
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("embedding: failed after %d attempts: %w", s.cfg.MaxRetries, lastErr)
}

// isRetryable reports whether err is a transient backend fault. All other
// kinds are caller or programmer errors and must surface unchanged.
func isRetryable(err error) bool {
	var backendErr *provider.BackendError
	return errors.As(err, &backendErr)
}

// backoff computes 100ms * 2^(attempt-1) plus up to 50ms of jitter.
func (s *Service) backoff(attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt-1))) * 100 * time.Millisecond
	s.rngMu.Lock()
	jitter := time.Duration(s.rng.Intn(50)) * time.Millisecond
	s.rngMu.Unlock()
	return base + jitter
}

// checkDimension enforces (or learns) the vector width.
func (s *Service) checkDimension(vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimKnown == 0 {
		s.dimKnown = len(vec)
		return nil
	}
	if len(vec) != s.dimKnown {
		return fmt.Errorf("embedding: %w", &vecmath.DimensionMismatchError{LenA: len(vec), LenB: s.dimKnown})
	}
	return nil
}

func (s *Service) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

func (s *Service) observeCache(hit bool) {
	if s.observer != nil {
		s.observer.ObserveCacheLookup(hit)
	}
}

// cloneVector copies v so cached backing arrays never leak to callers.
func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
