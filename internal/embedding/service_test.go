package embedding

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo-go/internal/cache"
	"github.com/mnemo-ai/mnemo-go/internal/progress"
	"github.com/mnemo-ai/mnemo-go/internal/provider"
	"github.com/mnemo-ai/mnemo-go/internal/vecmath"
)

// countingProvider wraps a StaticProvider and counts Embed calls, so tests
// can tell cache hits from backend computations.
type countingProvider struct {
	*provider.StaticProvider
	embeds atomic.Int64
}

func (c *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embeds.Add(1)
	return c.StaticProvider.Embed(ctx, text)
}

func newTestService(t *testing.T, cfg provider.StaticConfig) (*Service, *countingProvider) {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	cp := &countingProvider{StaticProvider: provider.NewStaticProvider(cfg)}
	reg := provider.NewRegistry(log, cp)
	mgr, err := cache.NewManager(cache.Config{Capacity: 64}, nil, log)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	svc := NewService(Config{ModelName: "test-model"}, reg, mgr, nil, nil, log)
	return svc, cp
}

// --- Embed ---

func TestEmbed_ReturnsNormalizedVector(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, provider.StaticConfig{Dimension: 8})

	vec, err := svc.Embed(context.Background(), "the quick brown fox", Options{})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("dimension = %d, want 8", len(vec))
	}
	if mag := vecmath.Magnitude(vec); mag < 0.999 || mag > 1.001 {
		t.Errorf("magnitude = %v, want ~1.0", mag)
	}
}

func TestEmbed_Deterministic(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, provider.StaticConfig{Dimension: 8})
	ctx := context.Background()

	a, err := svc.Embed(ctx, "repeatable input", Options{SkipCache: true})
	if err != nil {
		t.Fatalf("first Embed: %v", err)
	}
	b, err := svc.Embed(ctx, "repeatable input", Options{SkipCache: true})
	if err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestEmbed_EmptyInputRejected(t *testing.T) {
	t.Parallel()
	svc, cp := newTestService(t, provider.StaticConfig{})

	for _, input := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Embed(context.Background(), input, Options{}); !errors.Is(err, provider.ErrInvalidInput) {
			t.Errorf("Embed(%q) error = %v, want ErrInvalidInput", input, err)
		}
	}
	if n := cp.embeds.Load(); n != 0 {
		t.Errorf("backend called %d times for invalid input, want 0", n)
	}
}

func TestEmbed_SecondCallServedFromCache(t *testing.T) {
	t.Parallel()
	svc, cp := newTestService(t, provider.StaticConfig{Dimension: 8})
	ctx := context.Background()

	first, err := svc.Embed(ctx, "cache me", Options{})
	if err != nil {
		t.Fatalf("first Embed: %v", err)
	}
	second, err := svc.Embed(ctx, "cache me", Options{})
	if err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	if n := cp.embeds.Load(); n != 1 {
		t.Errorf("backend called %d times, want 1", n)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at %d", i)
		}
	}
}

func TestEmbed_KeyNormalizationSharesCacheEntry(t *testing.T) {
	t.Parallel()
	svc, cp := newTestService(t, provider.StaticConfig{Dimension: 8})
	ctx := context.Background()

	if _, err := svc.Embed(ctx, "Hello World", Options{}); err != nil {
		t.Fatalf("first Embed: %v", err)
	}
	if _, err := svc.Embed(ctx, "hello   world", Options{}); err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	if n := cp.embeds.Load(); n != 1 {
		t.Errorf("backend called %d times, want 1 (keys should normalize to the same entry)", n)
	}
}

func TestEmbed_SkipCacheBypassesLookup(t *testing.T) {
	t.Parallel()
	svc, cp := newTestService(t, provider.StaticConfig{Dimension: 8})
	ctx := context.Background()

	if _, err := svc.Embed(ctx, "skip", Options{}); err != nil {
		t.Fatalf("first Embed: %v", err)
	}
	if _, err := svc.Embed(ctx, "skip", Options{SkipCache: true}); err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	if n := cp.embeds.Load(); n != 2 {
		t.Errorf("backend called %d times, want 2", n)
	}
}

func TestEmbed_ReturnedVectorDoesNotAliasCache(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, provider.StaticConfig{Dimension: 8})
	ctx := context.Background()

	vec, err := svc.Embed(ctx, "mutate me", Options{})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	vec[0] = 42

	again, err := svc.Embed(ctx, "mutate me", Options{})
	if err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	if again[0] == 42 {
		t.Error("caller mutation leaked into the cached vector")
	}
}

// --- EmbedBatch ---

func TestEmbedBatch_PreservesInputOrder(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, provider.StaticConfig{Dimension: 8, Delay: time.Millisecond})
	ctx := context.Background()

	texts := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	batch, err := svc.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(batch) != len(texts) {
		t.Fatalf("len(batch) = %d, want %d", len(batch), len(texts))
	}
	for i, text := range texts {
		want, err := svc.Embed(ctx, text, Options{})
		if err != nil {
			t.Fatalf("Embed(%q): %v", text, err)
		}
		for j := range want {
			if batch[i][j] != want[j] {
				t.Fatalf("batch[%d] does not match Embed(%q)", i, text)
			}
		}
	}
}

func TestEmbedBatch_EmptyElementFailsFast(t *testing.T) {
	t.Parallel()
	svc, cp := newTestService(t, provider.StaticConfig{Dimension: 8})

	_, err := svc.EmbedBatch(context.Background(), []string{"ok", "  ", "also ok"})
	if !errors.Is(err, provider.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
	if n := cp.embeds.Load(); n != 0 {
		t.Errorf("backend called %d times, want 0", n)
	}
}

func TestEmbedBatch_EmptySliceIsNoop(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, provider.StaticConfig{})

	batch, err := svc.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if batch != nil {
		t.Errorf("batch = %v, want nil", batch)
	}
}

// --- lazy loading ---

func TestInitialize_SingleFlightUnderConcurrency(t *testing.T) {
	t.Parallel()
	log := slog.New(slog.DiscardHandler)
	var inits atomic.Int64
	cp := &countingProvider{StaticProvider: provider.NewStaticProvider(provider.StaticConfig{
		Dimension: 8,
		Delay:     10 * time.Millisecond,
	})}
	reg := provider.NewRegistry(log, cp)
	svc := NewService(Config{ModelName: "test-model"}, reg, nil, nil, nil, log)

	tracker := svc.Tracker()
	cancel := tracker.Subscribe(func(ev progress.Event) {
		if ev.Stage == "ready" && ev.Done {
			inits.Add(1)
		}
	})
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = svc.Initialize(context.Background())
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Initialize[%d]: %v", i, err)
		}
	}
	if !svc.Ready() {
		t.Fatal("service not ready after Initialize")
	}
	if n := inits.Load(); n != 1 {
		t.Errorf("observed %d terminal ready events, want 1", n)
	}
}

func TestEmbed_TriggersLazyLoad(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, provider.StaticConfig{Dimension: 8})

	if svc.Ready() {
		t.Fatal("service ready before first use")
	}
	if _, err := svc.Embed(context.Background(), "first touch", Options{}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if !svc.Ready() {
		t.Error("service not ready after first Embed")
	}
}

func TestInitialize_FailureSurfacesAndAllowsRetry(t *testing.T) {
	t.Parallel()
	log := slog.New(slog.DiscardHandler)
	boom := errors.New("model file corrupt")
	p := provider.NewStaticProvider(provider.StaticConfig{Dimension: 8, InitErr: boom})
	reg := provider.NewRegistry(log, p)
	svc := NewService(Config{ModelName: "test-model"}, reg, nil, nil, nil, log)

	var noProv *provider.NoProviderAvailableError
	err := svc.Initialize(context.Background())
	if !errors.As(err, &noProv) {
		t.Fatalf("error = %v, want NoProviderAvailableError", err)
	}
	if svc.Ready() {
		t.Error("service reports ready after failed load")
	}

	// A later call retries the load instead of latching the failure.
	if _, err := svc.Embed(context.Background(), "still broken", Options{}); err == nil {
		t.Fatal("Embed succeeded against a broken provider")
	}
}

// --- progress events ---

func TestInitialize_PublishesLoadAndReadyEvents(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, provider.StaticConfig{Dimension: 8})

	var mu sync.Mutex
	var stages []string
	cancel := svc.Tracker().Subscribe(func(ev progress.Event) {
		mu.Lock()
		stages = append(stages, ev.Stage)
		mu.Unlock()
	})
	defer cancel()

	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stages) < 2 {
		t.Fatalf("got %d events, want at least load and ready", len(stages))
	}
	if stages[0] != "load" {
		t.Errorf("first stage = %q, want load", stages[0])
	}
	if stages[len(stages)-1] != "ready" {
		t.Errorf("last stage = %q, want ready", stages[len(stages)-1])
	}
}

// --- retries ---

func TestEmbed_BackendFaultExhaustsRetries(t *testing.T) {
	t.Parallel()
	svc, cp := newTestService(t, provider.StaticConfig{
		Dimension: 8,
		EmbedErr:  errors.New("runtime hiccup"),
	})

	_, err := svc.Embed(context.Background(), "flaky", Options{})
	if err == nil {
		t.Fatal("Embed succeeded against a failing backend")
	}
	var backendErr *provider.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("error = %v, want wrapped BackendError", err)
	}
	if n := cp.embeds.Load(); n != defaultMaxRetries {
		t.Errorf("backend called %d times, want %d", n, defaultMaxRetries)
	}
}

// --- Info ---

func TestInfo_ReflectsLifecycle(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, provider.StaticConfig{Dimension: 8})

	before := svc.Info()
	if before.Ready || before.Loading {
		t.Errorf("Info before load = %+v, want idle", before)
	}
	if before.ModelName != "test-model" {
		t.Errorf("ModelName = %q, want test-model", before.ModelName)
	}
	if before.Dimension != 0 {
		t.Errorf("Dimension before first embed = %d, want 0", before.Dimension)
	}

	if _, err := svc.Embed(context.Background(), "probe", Options{}); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	after := svc.Info()
	if !after.Ready {
		t.Error("Info.Ready false after successful embed")
	}
	if after.Dimension != 8 {
		t.Errorf("Dimension = %d, want 8", after.Dimension)
	}
}
