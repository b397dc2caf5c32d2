// Package progress provides a minimal publish/subscribe tracker for
// long-running operations such as model downloads. Producers publish
// discrete Events; any number of listeners receive them in publish order.
package progress

import (
	"sync"
)

// Event is a single progress report.
type Event struct {
	// Stage is a short machine-readable phase label, e.g. "download",
	// "load", "ready".
	Stage string
	// Percent is the completion percentage for the current stage, 0-100.
	// Negative means unknown.
	Percent int
	// Message is an optional human-readable detail.
	Message string
	// Done marks the terminal event of the operation.
	Done bool
}

// Listener receives progress events. Listeners are invoked synchronously on
// the publishing goroutine and must not block.
type Listener func(Event)

// Tracker fans published events out to all subscribed listeners.
// The zero value is not usable; construct with NewTracker.
// Safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
	last      *Event
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{listeners: make(map[int]Listener)}
}

// Subscribe registers fn and returns a cancel function that removes it.
// A listener subscribing mid-operation immediately receives the most
// recently published event, if any, so late subscribers see current state.
func (t *Tracker) Subscribe(fn Listener) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	replay := t.last
	t.mu.Unlock()

	if replay != nil {
		fn(*replay)
	}

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Publish delivers ev to every current listener. Delivery order across
// listeners is unspecified. The event is retained for replay to late
// subscribers.
func (t *Tracker) Publish(ev Event) {
	t.mu.Lock()
	t.last = &ev
	fns := make([]Listener, 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len returns the number of active listeners. Used by tests and diagnostics.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.listeners)
}
