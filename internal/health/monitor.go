package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo-go/internal/provider"
)

// Default Monitor tuning for Config zero values.
const (
	defaultInterval     = 30 * time.Second
	defaultProbeTimeout = 5 * time.Second
)

// ChangeListener is notified when a provider's health classification
// changes between two consecutive checks. Called from the monitor's
// goroutine; implementations must not block.
type ChangeListener func(name string, from, to provider.Status)

// Config tunes a Monitor.
type Config struct {
	// Interval between periodic sweeps when Run is used.
	Interval time.Duration
	// ProbeTimeout bounds each individual provider probe.
	ProbeTimeout time.Duration
}

// Monitor periodically health-checks every registered provider, keeps the
// latest snapshots for on-demand inspection, exports them as metrics, and
// notifies listeners on status transitions. Probes never mutate provider
// lifecycle state. Safe for concurrent use.
type Monitor struct {
	log      *slog.Logger
	cfg      Config
	registry *provider.Registry
	metrics  *Metrics // may be nil

	mu        sync.Mutex
	latest    map[string]provider.Snapshot
	listeners map[int]ChangeListener
	nextID    int
}

// NewMonitor constructs a Monitor over registry. metrics may be nil.
func NewMonitor(cfg Config, registry *provider.Registry, metrics *Metrics, log *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		log:       log,
		cfg:       cfg,
		registry:  registry,
		metrics:   metrics,
		latest:    make(map[string]provider.Snapshot),
		listeners: make(map[int]ChangeListener),
	}
}

// Subscribe registers fn for status-transition notifications. The returned
// cancel function removes the subscription.
func (m *Monitor) Subscribe(fn ChangeListener) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Check probes every registered provider once and returns the snapshots
// keyed by provider name. Transitions fire listeners and update metrics.
func (m *Monitor) Check(ctx context.Context) map[string]provider.Snapshot {
	results := make(map[string]provider.Snapshot)
	for _, name := range m.registry.Names() {
		p := m.registry.Get(name)
		if p == nil {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		snap := p.HealthCheck(probeCtx)
		cancel()
		results[name] = snap
		m.record(name, snap)
	}
	return results
}

// Latest returns the snapshots from the most recent check of each provider.
// Providers never probed are absent.
func (m *Monitor) Latest() map[string]provider.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]provider.Snapshot, len(m.latest))
	for name, snap := range m.latest {
		out[name] = snap
	}
	return out
}

// Ready reports whether at least one provider's latest snapshot is ready.
func (m *Monitor) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snap := range m.latest {
		if snap.Status == provider.StatusReady {
			return true
		}
	}
	return false
}

// Run sweeps all providers immediately and then on every interval tick
// until ctx is canceled. Blocks; run it in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// record stores snap, updates metrics, and fires listeners on a status
// transition.
func (m *Monitor) record(name string, snap provider.Snapshot) {
	m.mu.Lock()
	prev, seen := m.latest[name]
	m.latest[name] = snap
	var fire []ChangeListener
	if seen && prev.Status != snap.Status {
		fire = make([]ChangeListener, 0, len(m.listeners))
		for _, fn := range m.listeners {
			fire = append(fire, fn)
		}
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetProviderStatus(name, snap.Status)
	}
	if len(fire) > 0 {
		m.log.Info("health: provider status changed",
			slog.String("provider", name),
			slog.String("from", string(prev.Status)),
			slog.String("to", string(snap.Status)),
		)
		for _, fn := range fire {
			fn(name, prev.Status, snap.Status)
		}
	}
}
