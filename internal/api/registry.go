package api

import (
	"sync"
	"time"

	"github.com/berniyo/mpesa-lambda/internal/flow"
)

// Registry keeps one flow controller per wallet client.
type Registry struct {
	newController func() *flow.Controller
	now           func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	ctrl     *flow.Controller
	lastSeen time.Time
}

// NewRegistry builds controllers on demand with newController.
func NewRegistry(newController func() *flow.Controller) *Registry {
	return &Registry{
		newController: newController,
		now:           time.Now,
		entries:       make(map[string]*entry),
	}
}

// Get returns the controller for clientID, creating it on first use.
func (r *Registry) Get(clientID string) *flow.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[clientID]
	if !ok {
		e = &entry{ctrl: r.newController()}
		r.entries[clientID] = e
	}
	e.lastSeen = r.now()
	return e.ctrl
}

// Len returns the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep closes controllers idle for longer than maxIdle, except those
// with a payment in flight. It returns how many were removed.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	removed := 0
	for id, e := range r.entries {
		if e.lastSeen.After(cutoff) {
			continue
		}
		switch e.ctrl.State().Phase {
		case flow.PhaseSubmitting, flow.PhaseWaiting:
			continue
		}
		e.ctrl.Close()
		delete(r.entries, id)
		removed++
	}
	return removed
}

// Close closes every controller.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		e.ctrl.Close()
		delete(r.entries, id)
	}
}
