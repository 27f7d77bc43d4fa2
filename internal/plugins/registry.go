package plugins

import (
	"sort"
	"sync"

	"github.com/opencode-studio/gateway/internal/model"
)

// Registry holds the most recently discovered plugin set. Discovery
// re-derives the whole map on each run rather than patching it incrementally
// so a stale entry can never outlive its manifest.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]model.PluginRecord
	byIDRaw map[string]*Manifest
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:    map[string]model.PluginRecord{},
		byIDRaw: map[string]*Manifest{},
	}
}

// Replace swaps the registry contents wholesale.
func (r *Registry) Replace(records map[string]model.PluginRecord, manifests map[string]*Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = records
	r.byIDRaw = manifests
}

// Get returns the record and parsed manifest for id.
func (r *Registry) Get(id string) (model.PluginRecord, *Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return model.PluginRecord{}, nil, false
	}
	return rec, r.byIDRaw[id], true
}

// List returns every discovered plugin, sorted by id.
func (r *Registry) List() []model.PluginRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PluginRecord, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
