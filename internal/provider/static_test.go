package provider

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Lifecycle state machine
// ---------------------------------------------------------------------------

// TestStaticProvider_Lifecycle walks the happy path:
// uninitialized -> initializing -> ready -> disposed.
func TestStaticProvider_Lifecycle(t *testing.T) {
	t.Parallel()

	p := NewStaticProvider(StaticConfig{})
	if got := p.State(); got != StateUninitialized {
		t.Fatalf("fresh provider state = %s, want %s", got, StateUninitialized)
	}

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := p.State(); got != StateReady {
		t.Fatalf("post-init state = %s, want %s", got, StateReady)
	}

	if err := p.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}
	if got := p.State(); got != StateDisposed {
		t.Fatalf("post-dispose state = %s, want %s", got, StateDisposed)
	}
}

// TestStaticProvider_DisposeIdempotent verifies that disposing twice is a
// no-op, not an error.
func TestStaticProvider_DisposeIdempotent(t *testing.T) {
	t.Parallel()

	p := NewStaticProvider(StaticConfig{})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := p.Dispose(context.Background()); err != nil {
		t.Fatalf("first Dispose failed: %v", err)
	}
	if err := p.Dispose(context.Background()); err != nil {
		t.Fatalf("second Dispose failed: %v", err)
	}
}

// TestStaticProvider_NotInitialized verifies that Chat and Embed outside
// ready fail with ErrNotInitialized.
func TestStaticProvider_NotInitialized(t *testing.T) {
	t.Parallel()

	p := NewStaticProvider(StaticConfig{})

	if _, err := p.Chat(context.Background(), "hello", nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Chat before Initialize: got %v, want ErrNotInitialized", err)
	}
	if _, err := p.Embed(context.Background(), "hello"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Embed before Initialize: got %v, want ErrNotInitialized", err)
	}
}

// TestStaticProvider_InitFailure verifies the error transition and that a
// retry from StateError is permitted.
func TestStaticProvider_InitFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("backend exploded")
	p := NewStaticProvider(StaticConfig{InitErr: boom})

	err := p.Initialize(context.Background())
	var initErr *InitializationError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected *InitializationError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("cause not preserved through wrapping: %v", err)
	}
	if got := p.State(); got != StateError {
		t.Fatalf("post-failure state = %s, want %s", got, StateError)
	}

	// Clearing the injected failure lets a retry succeed.
	p.cfg.InitErr = nil
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("retry from error state failed: %v", err)
	}
	if got := p.State(); got != StateReady {
		t.Fatalf("post-retry state = %s, want %s", got, StateReady)
	}
}

// TestStaticProvider_UnsupportedCapability verifies that an undeclared
// operation fails with ErrUnsupportedCapability.
func TestStaticProvider_UnsupportedCapability(t *testing.T) {
	t.Parallel()

	p := NewStaticProvider(StaticConfig{Capabilities: CapabilityEmbed})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if _, err := p.Chat(context.Background(), "hello", nil); !errors.Is(err, ErrUnsupportedCapability) {
		t.Errorf("Chat on embed-only provider: got %v, want ErrUnsupportedCapability", err)
	}
}

// ---------------------------------------------------------------------------
// Deterministic behavior
// ---------------------------------------------------------------------------

// TestStaticProvider_ScriptedOutputs verifies exact-match scripted chat and
// embedding responses.
func TestStaticProvider_ScriptedOutputs(t *testing.T) {
	t.Parallel()

	p := NewStaticProvider(StaticConfig{
		Responses:  map[string]string{"ping": "pong"},
		Embeddings: map[string][]float32{"cat": {1, 0, 0}},
	})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	reply, err := p.Chat(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if reply != "pong" {
		t.Errorf("scripted chat = %q, want %q", reply, "pong")
	}

	vec, err := p.Embed(context.Background(), "cat")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 1 {
		t.Errorf("scripted embedding = %v, want [1 0 0]", vec)
	}
}

// TestStaticProvider_DeterministicEmbeddings verifies that unscripted text
// yields bit-identical normalized vectors on every call.
func TestStaticProvider_DeterministicEmbeddings(t *testing.T) {
	t.Parallel()

	p := NewStaticProvider(StaticConfig{Dimension: 16})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	a, err := p.Embed(context.Background(), "the same text")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	b, err := p.Embed(context.Background(), "the same text")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if len(a) != 16 {
		t.Fatalf("embedding dimension = %d, want 16", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embeddings differ at index %d: %v vs %v", i, a[i], b[i])
		}
	}

	var mag float64
	for _, x := range a {
		mag += float64(x) * float64(x)
	}
	if math.Abs(mag-1) > 1e-5 {
		t.Errorf("embedding magnitude^2 = %v, want 1", mag)
	}
}

// TestStaticProvider_EmptyInput verifies ErrInvalidInput for blank text.
func TestStaticProvider_EmptyInput(t *testing.T) {
	t.Parallel()

	p := NewStaticProvider(StaticConfig{})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if _, err := p.Embed(context.Background(), "   \n\t"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Embed(blank) = %v, want ErrInvalidInput", err)
	}
}

// TestStaticProvider_DelayHonorsContext verifies that an injected delay is
// interruptible by cancellation.
func TestStaticProvider_DelayHonorsContext(t *testing.T) {
	t.Parallel()

	p := NewStaticProvider(StaticConfig{Delay: 5 * time.Second})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Embed(ctx, "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Embed under timeout = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v, delay was not interruptible", elapsed)
	}
}

// ---------------------------------------------------------------------------
// Health snapshot caching
// ---------------------------------------------------------------------------

// TestStaticProvider_HealthFromState verifies state-derived snapshots.
func TestStaticProvider_HealthFromState(t *testing.T) {
	t.Parallel()

	p := NewStaticProvider(StaticConfig{HealthTTL: time.Nanosecond})

	if snap := p.HealthCheck(context.Background()); snap.Status != StatusReady {
		t.Errorf("uninitialized double health = %s, want %s (always available)", snap.Status, StatusReady)
	}

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := p.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}
	time.Sleep(time.Millisecond) // let the nanosecond TTL lapse
	if snap := p.HealthCheck(context.Background()); snap.Status != StatusUnavailable {
		t.Errorf("disposed health = %s, want %s", snap.Status, StatusUnavailable)
	}
}

// TestStaticProvider_HealthCaching verifies that snapshots within the
// freshness window are served from cache.
func TestStaticProvider_HealthCaching(t *testing.T) {
	t.Parallel()

	forced := Snapshot{Status: StatusNeedsDownload, Message: "model missing"}
	p := NewStaticProvider(StaticConfig{Health: &forced, HealthTTL: time.Hour})

	first := p.HealthCheck(context.Background())
	if first.Status != StatusNeedsDownload {
		t.Fatalf("forced health = %s, want %s", first.Status, StatusNeedsDownload)
	}

	// Mutating the forced snapshot must not show through: the cached result
	// is served until the TTL lapses.
	forced.Status = StatusReady
	p.cfg.Health = &forced
	second := p.HealthCheck(context.Background())
	if second.Status != StatusNeedsDownload {
		t.Errorf("within-TTL health = %s, want cached %s", second.Status, StatusNeedsDownload)
	}
	if !second.CheckedAt.Equal(first.CheckedAt) {
		t.Errorf("cached snapshot was re-stamped: %v vs %v", second.CheckedAt, first.CheckedAt)
	}
}
