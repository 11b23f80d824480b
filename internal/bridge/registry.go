package bridge

import (
	"sort"
	"sync"

	"github.com/terpasaurus/pulse-bridge/internal/pulse"
)

// Registry holds the hub inventory produced by the most recent
// discovery cycle. The discovery job writes it, the state job reads
// it; neither holds any other shared state. The external broker and
// Home Assistant own all durable state.
type Registry struct {
	mu   sync.Mutex
	hubs map[int]*pulse.Hub
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{hubs: make(map[int]*pulse.Hub)}
}

// Store records or replaces one hub's details. Last write wins.
func (r *Registry) Store(hub *pulse.Hub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hubs[hub.ID] = hub
}

// Snapshot returns the known hubs ordered by ID. The slice is a copy;
// callers iterate it without holding the registry lock.
func (r *Registry) Snapshot() []*pulse.Hub {
	r.mu.Lock()
	defer r.mu.Unlock()

	hubs := make([]*pulse.Hub, 0, len(r.hubs))
	for _, h := range r.hubs {
		hubs = append(hubs, h)
	}
	sort.Slice(hubs, func(i, j int) bool { return hubs[i].ID < hubs[j].ID })
	return hubs
}

// Len reports how many hubs have been discovered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubs)
}
