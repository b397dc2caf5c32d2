package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultHealthTTL is the freshness window for cached health snapshots.
// A snapshot older than this is refreshed before being trusted for a
// selection decision.
const DefaultHealthTTL = 10 * time.Second

// Base supplies the lifecycle state machine and health-snapshot caching
// shared by every concrete provider. Concrete types embed Base and call the
// transition helpers around their own resource acquisition.
type Base struct {
	name      string
	caps      Capability
	healthTTL time.Duration

	mu      sync.Mutex
	state   State
	lastErr error
	health  Snapshot
}

// NewBase constructs a Base in StateUninitialized. healthTTL <= 0 falls back
// to DefaultHealthTTL.
func NewBase(name string, caps Capability, healthTTL time.Duration) *Base {
	if healthTTL <= 0 {
		healthTTL = DefaultHealthTTL
	}
	return &Base{
		name:      name,
		caps:      caps,
		healthTTL: healthTTL,
		state:     StateUninitialized,
	}
}

// Name returns the provider's registry identity.
func (b *Base) Name() string { return b.name }

// Capabilities returns the declared capability set.
func (b *Base) Capabilities() Capability { return b.caps }

// State returns the current lifecycle phase.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastError returns the fault that moved the provider to StateError, or nil.
func (b *Base) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// beginInitialize transitions to StateInitializing.
// Returns (true, nil) when the provider is already ready so Initialize can
// no-op, or an error when initialization is not permitted from the current
// state (disposed, or already in flight).
func (b *Base) beginInitialize() (already bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateReady:
		return true, nil
	case StateDisposed:
		return false, fmt.Errorf("provider %s: disposed", b.name)
	case StateInitializing:
		return false, fmt.Errorf("provider %s: initialization already in flight", b.name)
	default: // uninitialized or error: retry is allowed
		b.state = StateInitializing
		b.lastErr = nil
		return false, nil
	}
}

// finishInitialize records the outcome of an Initialize attempt. A nil err
// moves the provider to ready; otherwise it moves to error with err retained.
// Either way the cached health snapshot is invalidated so the next probe
// reflects the new state. A provider never remains in initializing.
func (b *Base) finishInitialize(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.state = StateError
		b.lastErr = err
	} else {
		b.state = StateReady
	}
	b.health = Snapshot{}
}

// fault moves the provider to StateError from any state, recording err.
func (b *Base) fault(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateError
	b.lastErr = err
	b.health = Snapshot{}
}

// beginDispose transitions to StateDisposed. Returns false when the provider
// was already disposed, in which case Dispose must no-op.
func (b *Base) beginDispose() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateDisposed {
		return false
	}
	b.state = StateDisposed
	b.health = Snapshot{}
	return true
}

// requireReady guards Chat and Embed: the capability must be declared and
// the provider must be ready.
func (b *Base) requireReady(need Capability) error {
	if !b.caps.Has(need) {
		return ErrUnsupportedCapability
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateReady {
		return fmt.Errorf("%w (state %s)", ErrNotInitialized, b.state)
	}
	return nil
}

// cachedHealth returns the cached snapshot when it is still fresh; otherwise
// it runs probe, stamps and caches the result. A panicking probe is absorbed
// into a StatusError snapshot because HealthCheck must be safe to call from
// any state. Lifecycle state is never mutated here.
func (b *Base) cachedHealth(ctx context.Context, probe func(ctx context.Context) Snapshot) Snapshot {
	now := time.Now()

	b.mu.Lock()
	if b.health.Fresh(now, b.healthTTL) {
		snap := b.health
		b.mu.Unlock()
		return snap
	}
	b.mu.Unlock()

	snap := b.safeProbe(ctx, probe)
	if snap.CheckedAt.IsZero() {
		snap.CheckedAt = now
	}

	b.mu.Lock()
	b.health = snap
	b.mu.Unlock()
	return snap
}

// safeProbe runs probe, converting a panic into an error snapshot.
func (b *Base) safeProbe(ctx context.Context, probe func(ctx context.Context) Snapshot) (snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			snap = Snapshot{
				Status:    StatusError,
				Message:   fmt.Sprintf("health probe panicked: %v", r),
				CheckedAt: time.Now(),
			}
		}
	}()
	return probe(ctx)
}

// stateSnapshot derives a snapshot from lifecycle state alone, used by
// probes for the phases where no backend round-trip is meaningful.
// Returns ok=false when the provider is in a state that requires a real
// probe (uninitialized or ready).
func (b *Base) stateSnapshot() (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case StateDisposed:
		return Snapshot{Status: StatusUnavailable, Message: "provider disposed", CheckedAt: now}, true
	case StateInitializing:
		return Snapshot{Status: StatusInitializing, CheckedAt: now}, true
	case StateError:
		msg := ""
		if b.lastErr != nil {
			msg = b.lastErr.Error()
		}
		return Snapshot{Status: StatusError, Message: msg, CheckedAt: now}, true
	default:
		return Snapshot{}, false
	}
}
