package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// newTestRegistry builds a registry over the given providers with a quiet
// logger.
func newTestRegistry(providers ...Provider) *Registry {
	return NewRegistry(nil, providers...)
}

// TestRegistry_SelectPreferred verifies that a healthy preferred provider is
// chosen and initialized.
func TestRegistry_SelectPreferred(t *testing.T) {
	t.Parallel()

	a := NewStaticProvider(StaticConfig{Name: "a"})
	b := NewStaticProvider(StaticConfig{Name: "b"})
	r := newTestRegistry(a, b)

	got, err := r.Select(context.Background(), "b", CapabilityEmbed)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got.Name() != "b" {
		t.Errorf("selected %s, want b", got.Name())
	}
	if got.State() != StateReady {
		t.Errorf("selected provider state = %s, want %s", got.State(), StateReady)
	}
	if a.State() != StateUninitialized {
		t.Errorf("non-selected provider was initialized (state %s); selection must be side-effect-light", a.State())
	}
}

// TestRegistry_FallbackOrder verifies that an unhealthy preferred provider
// falls through to the registration order.
func TestRegistry_FallbackOrder(t *testing.T) {
	t.Parallel()

	down := NewStaticProvider(StaticConfig{
		Name:   "down",
		Health: &Snapshot{Status: StatusUnavailable, Message: "not on this device"},
	})
	up := NewStaticProvider(StaticConfig{Name: "up"})
	r := newTestRegistry(down, up)

	got, err := r.Select(context.Background(), "down", CapabilityEmbed)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got.Name() != "up" {
		t.Errorf("selected %s, want up", got.Name())
	}
}

// TestRegistry_NoProviderAvailable verifies the aggregated failure: the
// error carries one snapshot per attempted provider and renders an
// actionable message.
func TestRegistry_NoProviderAvailable(t *testing.T) {
	t.Parallel()

	downloading := NewStaticProvider(StaticConfig{
		Name:   "local",
		Health: &Snapshot{Status: StatusNeedsDownload, Message: "model nomic-embed-text not installed"},
	})
	missing := NewStaticProvider(StaticConfig{
		Name:   "remote",
		Health: &Snapshot{Status: StatusUnavailable},
	})
	r := newTestRegistry(downloading, missing)

	_, err := r.Select(context.Background(), "", CapabilityEmbed)
	var noneErr *NoProviderAvailableError
	if !errors.As(err, &noneErr) {
		t.Fatalf("expected *NoProviderAvailableError, got %v", err)
	}
	if len(noneErr.Snapshots) != 2 {
		t.Fatalf("error carries %d snapshots, want 2", len(noneErr.Snapshots))
	}
	if noneErr.Snapshots["local"].Status != StatusNeedsDownload {
		t.Errorf("local snapshot = %s, want %s", noneErr.Snapshots["local"].Status, StatusNeedsDownload)
	}

	msg := noneErr.Error()
	if !strings.Contains(msg, "downloading") || !strings.Contains(msg, "unavailable on this device") {
		t.Errorf("message is not actionable: %q", msg)
	}
}

// TestRegistry_CapabilityFilter verifies that providers lacking the needed
// capability are skipped entirely (not even health-checked).
func TestRegistry_CapabilityFilter(t *testing.T) {
	t.Parallel()

	chatOnly := NewStaticProvider(StaticConfig{Name: "chat-only", Capabilities: CapabilityChat})
	embedder := NewStaticProvider(StaticConfig{Name: "embedder", Capabilities: CapabilityEmbed})
	r := newTestRegistry(chatOnly, embedder)

	got, err := r.Select(context.Background(), "", CapabilityEmbed)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got.Name() != "embedder" {
		t.Errorf("selected %s, want embedder", got.Name())
	}
}

// TestRegistry_ReselectionAfterError verifies that a cached winner that
// moved to error triggers a fresh scan rather than being handed back.
func TestRegistry_ReselectionAfterError(t *testing.T) {
	t.Parallel()

	// Tiny health TTL so the post-fault rescan sees fresh snapshots.
	first := NewStaticProvider(StaticConfig{Name: "first", HealthTTL: time.Nanosecond})
	second := NewStaticProvider(StaticConfig{Name: "second", HealthTTL: time.Nanosecond})
	r := newTestRegistry(first, second)

	got, err := r.Select(context.Background(), "", CapabilityEmbed)
	if err != nil {
		t.Fatalf("first Select failed: %v", err)
	}
	if got.Name() != "first" {
		t.Fatalf("selected %s, want first", got.Name())
	}

	// The selected provider suffers an unrecoverable fault.
	first.fault(errors.New("runtime crashed"))
	time.Sleep(time.Millisecond)

	got, err = r.Select(context.Background(), "", CapabilityEmbed)
	if err != nil {
		t.Fatalf("re-Select failed: %v", err)
	}
	if got.Name() != "second" {
		t.Errorf("re-selection returned %s, want second", got.Name())
	}
}

// TestRegistry_CachedSelection verifies that a still-ready winner is reused
// without another scan or re-initialization.
func TestRegistry_CachedSelection(t *testing.T) {
	t.Parallel()

	p := NewStaticProvider(StaticConfig{Name: "only"})
	r := newTestRegistry(p)

	a, err := r.Select(context.Background(), "", CapabilityEmbed)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	b, err := r.Select(context.Background(), "", CapabilityEmbed)
	if err != nil {
		t.Fatalf("repeat Select failed: %v", err)
	}
	if a != b {
		t.Error("repeat selection returned a different instance")
	}
}

// slowInitProvider counts Initialize calls and holds each one long enough
// for concurrent selections to overlap.
type slowInitProvider struct {
	*StaticProvider
	inits atomic.Int64
}

func (p *slowInitProvider) Initialize(context.Context) error {
	already, err := p.beginInitialize()
	if err != nil {
		return err
	}
	if already {
		return nil
	}
	p.inits.Add(1)
	time.Sleep(20 * time.Millisecond)
	p.finishInitialize(nil)
	return nil
}

// TestRegistry_ConcurrentSelectSharesInit verifies that selections racing a
// slow initialization all wait for the attempt in flight and succeed, and
// that the provider is initialized exactly once.
func TestRegistry_ConcurrentSelectSharesInit(t *testing.T) {
	t.Parallel()

	p := &slowInitProvider{StaticProvider: NewStaticProvider(StaticConfig{Name: "slow"})}
	r := newTestRegistry(p)

	// Warm the health snapshot so every caller scans the same ready status
	// and the race lands on the initialization step.
	p.HealthCheck(context.Background())

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Select(context.Background(), "", CapabilityEmbed)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: Select failed: %v", i, err)
		}
	}
	if got := p.inits.Load(); got != 1 {
		t.Errorf("Initialize ran %d times, want 1", got)
	}
}

// TestRegistry_DisposeAll verifies teardown disposes every provider and
// clears the cached selection.
func TestRegistry_DisposeAll(t *testing.T) {
	t.Parallel()

	a := NewStaticProvider(StaticConfig{Name: "a"})
	b := NewStaticProvider(StaticConfig{Name: "b"})
	r := newTestRegistry(a, b)

	if _, err := r.Select(context.Background(), "", CapabilityEmbed); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if err := r.DisposeAll(context.Background()); err != nil {
		t.Fatalf("DisposeAll failed: %v", err)
	}
	if a.State() != StateDisposed || b.State() != StateDisposed {
		t.Errorf("providers not disposed: a=%s b=%s", a.State(), b.State())
	}
}
