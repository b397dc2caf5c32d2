package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotInitialized is returned when Chat or Embed is called outside the
// ready state. This is a programmer error: the caller must Initialize first.
var ErrNotInitialized = errors.New("provider: not initialized")

// ErrUnsupportedCapability is returned when an operation the provider never
// declared is invoked. This is a programmer error: the wrong provider was
// chosen for the requested operation.
var ErrUnsupportedCapability = errors.New("provider: capability not supported")

// ErrInvalidInput is returned for empty or whitespace-only text.
var ErrInvalidInput = errors.New("provider: empty input")

// InitializationError reports that a backend failed to start. Recoverable:
// callers may retry Initialize or fall back to another provider.
type InitializationError struct {
	// Provider is the name of the backend that failed.
	Provider string
	// Err is the underlying cause.
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("provider %s: initialization failed: %v", e.Provider, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// BackendError wraps a transient fault from the underlying backend. Eligible
// for retry with backoff; the cause is preserved for errors.Is/As.
type BackendError struct {
	// Provider is the name of the backend that failed.
	Provider string
	// Op is the operation that failed, e.g. "chat", "embed".
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// NoProviderAvailableError is returned by Registry.Select when no scanned
// provider reported ready. It carries every collected health snapshot so the
// caller can explain to the user why selection failed: a backend that needs
// to finish downloading reads differently from one that is absent entirely.
type NoProviderAvailableError struct {
	// Snapshots holds the health snapshot collected for each attempted
	// provider, keyed by provider name.
	Snapshots map[string]Snapshot
}

func (e *NoProviderAvailableError) Error() string {
	if len(e.Snapshots) == 0 {
		return "provider: no backend configured"
	}

	names := make([]string, 0, len(e.Snapshots))
	for name := range e.Snapshots {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		snap := e.Snapshots[name]
		part := fmt.Sprintf("%s: %s", name, describeStatus(snap.Status))
		if snap.Message != "" {
			part += " (" + snap.Message + ")"
		}
		parts = append(parts, part)
	}
	return "provider: no backend available: " + strings.Join(parts, "; ")
}

// describeStatus renders a status as an actionable phrase for end users.
func describeStatus(s Status) string {
	switch s {
	case StatusNeedsDownload:
		return "needs to finish downloading its model"
	case StatusUnavailable:
		return "unavailable on this device"
	case StatusInitializing:
		return "still starting up"
	case StatusError:
		return "failed its last health check"
	default:
		return string(s)
	}
}
