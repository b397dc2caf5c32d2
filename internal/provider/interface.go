// Package provider defines the capability-provider contract for pluggable
// local AI backends (chat and/or embedding), a Base implementation carrying
// the shared lifecycle state machine and health-snapshot caching, the
// concrete backends (the on-device Ollama runtime and a deterministic
// in-memory double for tests), and the Registry that selects an available
// provider by name or fallback order.
package provider

import (
	"context"
	"time"
)

// Capability is a bit set of operations a provider declares support for.
type Capability uint8

const (
	// CapabilityChat marks a provider that can answer chat messages.
	CapabilityChat Capability = 1 << iota
	// CapabilityEmbed marks a provider that can produce embedding vectors.
	CapabilityEmbed
)

// Has reports whether c declares every capability in want.
func (c Capability) Has(want Capability) bool { return c&want == want }

// State is a provider's lifecycle phase.
type State string

const (
	// StateUninitialized is the phase before the first Initialize call.
	StateUninitialized State = "uninitialized"
	// StateInitializing is the phase while Initialize is in flight.
	StateInitializing State = "initializing"
	// StateReady is the operational phase; Chat and Embed are permitted.
	StateReady State = "ready"
	// StateDisposed is the terminal phase after Dispose.
	StateDisposed State = "disposed"
	// StateError is entered when initialization or an unrecoverable fault
	// fails the provider. Initialize may be retried from this state.
	StateError State = "error"
)

// Status is the health classification reported by HealthCheck.
type Status string

const (
	// StatusReady means the backend is reachable and usable now.
	StatusReady Status = "ready"
	// StatusInitializing means the backend is starting up or mid-load.
	StatusInitializing Status = "initializing"
	// StatusNeedsDownload means the backend is reachable but its model
	// must be downloaded before use.
	StatusNeedsDownload Status = "needs-download"
	// StatusUnavailable means the backend is not reachable on this device.
	StatusUnavailable Status = "unavailable"
	// StatusError means the last probe or operation failed.
	StatusError Status = "error"
)

// Snapshot is a point-in-time health report. Snapshots older than the
// provider's freshness window are refreshed before being trusted for a
// selection decision; callers must still expect a subsequent operation to
// fail despite a recent ready snapshot.
type Snapshot struct {
	// Status is the health classification.
	Status Status
	// Message is an optional human-readable detail (e.g. the missing model).
	Message string
	// CheckedAt is when the probe ran.
	CheckedAt time.Time
}

// Fresh reports whether the snapshot is younger than window as of now.
func (s Snapshot) Fresh(now time.Time, window time.Duration) bool {
	return !s.CheckedAt.IsZero() && now.Sub(s.CheckedAt) < window
}

// Provider is the contract every backend implements. Implementations must
// be safe to call from multiple goroutines.
//
// Lifecycle: uninitialized --Initialize--> initializing --> ready
// --Dispose--> disposed; any state may fall to error on an unrecoverable
// fault, and Initialize may be retried from error.
type Provider interface {
	// Name returns the registry identity, e.g. "ollama".
	Name() string

	// Capabilities returns the declared capability set. Calling an
	// undeclared operation fails with ErrUnsupportedCapability.
	Capabilities() Capability

	// State returns the current lifecycle phase.
	State() State

	// Initialize transitions the provider to ready, acquiring whatever
	// resources the backend needs (sessions, model handles). A failure
	// leaves the provider in StateError and returns an
	// *InitializationError; the provider never sticks in initializing.
	Initialize(ctx context.Context) error

	// Dispose releases held resources. Idempotent: a second call is a
	// no-op, not an error.
	Dispose(ctx context.Context) error

	// Chat answers message, optionally grounded on prior context snippets.
	// Fails with ErrNotInitialized outside ready, ErrUnsupportedCapability
	// when chat is not declared, or a *BackendError on transient faults.
	Chat(ctx context.Context, message string, notes []string) (string, error)

	// Embed converts text to a fixed-dimension vector. Fails with
	// ErrNotInitialized, ErrUnsupportedCapability, ErrInvalidInput for
	// empty input, or a *BackendError on transient faults.
	Embed(ctx context.Context, text string) ([]float32, error)

	// HealthCheck reports backend health from any lifecycle state. It never
	// panics and never returns an error; failures are encoded in the
	// snapshot status. Results are cached for the provider's freshness
	// window so selection scans do not hammer a slow backend. Probing does
	// not mutate lifecycle state.
	HealthCheck(ctx context.Context) Snapshot
}
