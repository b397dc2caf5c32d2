package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Registry owns the set of known providers and selects an available one by
// name or by registration-order fallback. Selection is side-effect-light:
// scanning only health-checks; the eventual winner alone is initialized.
// Safe for concurrent use.
type Registry struct {
	log *slog.Logger

	mu        sync.Mutex
	providers map[string]Provider
	order     []string
	// selected caches the last winner so repeat selections are cheap. It is
	// discarded as soon as the provider leaves StateReady, which forces a
	// fresh fallback scan instead of handing back a failed instance.
	selected Provider

	// init collapses concurrent initializations of the same provider so a
	// selection racing an in-flight Initialize waits for its outcome instead
	// of counting the provider as failed.
	init singleflight.Group
}

// NewRegistry constructs a Registry over the given providers. Fallback order
// is the argument order.
func NewRegistry(log *slog.Logger, providers ...Provider) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		log:       log,
		providers: make(map[string]Provider, len(providers)),
	}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds p to the fallback list. Registering an existing name
// replaces the provider but keeps its fallback position.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// Names returns the fallback order. Used by diagnostics and the CLI.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Get returns the provider registered under name, or nil.
func (r *Registry) Get(name string) Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.providers[name]
}

// Select returns a ready provider declaring every capability in need.
//
// When preferred is non-empty that provider is health-checked first; if it
// is not ready the scan falls through the registration order. The first
// provider reporting ready is initialized and returned. When none qualifies
// the returned error is a *NoProviderAvailableError carrying one snapshot
// per attempted provider for diagnostics.
func (r *Registry) Select(ctx context.Context, preferred string, need Capability) (Provider, error) {
	if p := r.cachedSelection(preferred, need); p != nil {
		return p, nil
	}

	snapshots := make(map[string]Snapshot)
	for _, p := range r.scanList(preferred) {
		if !p.Capabilities().Has(need) {
			continue
		}

		snap := p.HealthCheck(ctx)
		snapshots[p.Name()] = snap
		// An initializing provider is joinable: the initialize step below
		// waits on the attempt in flight instead of skipping the provider.
		if snap.Status != StatusReady && snap.Status != StatusInitializing {
			r.log.Debug("registry: provider not ready, falling through",
				slog.String("provider", p.Name()),
				slog.String("status", string(snap.Status)),
				slog.String("message", snap.Message),
			)
			continue
		}

		if p.State() != StateReady {
			if err := r.initialize(ctx, p); err != nil {
				r.log.Warn("registry: provider reported ready but failed to initialize",
					slog.String("provider", p.Name()),
					slog.String("error", err.Error()),
				)
				snapshots[p.Name()] = Snapshot{
					Status:    StatusError,
					Message:   err.Error(),
					CheckedAt: snap.CheckedAt,
				}
				continue
			}
		}

		r.mu.Lock()
		r.selected = p
		r.mu.Unlock()
		r.log.Info("registry: provider selected", slog.String("provider", p.Name()))
		return p, nil
	}

	return nil, &NoProviderAvailableError{Snapshots: snapshots}
}

// initialize brings p to ready, collapsing concurrent attempts on the same
// provider into one Initialize call whose result every waiter shares. The
// re-check inside the flight covers the waiter that arrives after a previous
// flight already finished.
func (r *Registry) initialize(ctx context.Context, p Provider) error {
	_, err, _ := r.init.Do(p.Name(), func() (any, error) {
		if p.State() == StateReady {
			return nil, nil
		}
		return nil, p.Initialize(ctx)
	})
	return err
}

// DisposeAll disposes every registered provider, typically at process
// teardown, and drops the cached selection. The first error is returned but
// disposal continues for the remaining providers.
func (r *Registry) DisposeAll(ctx context.Context) error {
	r.mu.Lock()
	providers := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		providers = append(providers, r.providers[name])
	}
	r.selected = nil
	r.mu.Unlock()

	var firstErr error
	for _, p := range providers {
		if err := p.Dispose(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("registry: dispose %s: %w", p.Name(), err)
		}
	}
	return firstErr
}

// cachedSelection returns the previous winner when it still satisfies the
// request and is still ready; otherwise nil (and the cache is dropped when
// the provider degraded).
func (r *Registry) cachedSelection(preferred string, need Capability) Provider {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.selected == nil {
		return nil
	}
	if preferred != "" && r.selected.Name() != preferred {
		return nil
	}
	if !r.selected.Capabilities().Has(need) {
		return nil
	}
	if r.selected.State() != StateReady {
		r.selected = nil
		return nil
	}
	return r.selected
}

// scanList returns the providers to attempt, preferred first when set.
func (r *Registry) scanList(preferred string) []Provider {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]Provider, 0, len(r.order))
	if preferred != "" {
		if p, ok := r.providers[preferred]; ok {
			list = append(list, p)
		}
	}
	for _, name := range r.order {
		if name == preferred {
			continue
		}
		list = append(list, r.providers[name])
	}
	return list
}
