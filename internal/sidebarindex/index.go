// Package sidebarindex implements the process-wide directory session index:
// a concurrent map from session id to (directory, summary, runtime phase)
// used for fast sidebar queries, recent/running projections, and tombstone
// tracking across patch-bus polling cycles.
package sidebarindex

import (
	"sort"
	"sync"
	"time"

	"github.com/opencode-studio/gateway/internal/model"
)

// RecentEntry is one row of the recent-sessions projection.
type RecentEntry struct {
	SessionID     string `json:"sessionId"`
	DirectoryID   string `json:"directoryId"`
	DirectoryPath string `json:"directoryPath"`
	UpdatedAt     int64  `json:"updatedAt"`
}

const tombstoneTTL = 30 * time.Second

// Index is the in-memory session summary + runtime cache. All methods are
// synchronous, cheap, and never hold their mutex across a channel send, so
// callers may invoke them from within select statements.
type Index struct {
	mu sync.RWMutex

	summaries map[string]model.SessionSummary
	runtime   map[string]model.SessionRuntime

	// id -> path and path -> id, rebuilt atomically on each snapshot build.
	dirIDToPath map[string]string
	dirPathToID map[string]string

	tombstones map[string]time.Time
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		summaries:   map[string]model.SessionSummary{},
		runtime:     map[string]model.SessionRuntime{},
		dirIDToPath: map[string]string{},
		dirPathToID: map[string]string{},
		tombstones:  map[string]time.Time{},
	}
}

// UpsertSummary inserts or replaces a session summary, clearing any
// tombstone for its id.
func (x *Index) UpsertSummary(s model.SessionSummary) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.summaries[s.ID] = s
	delete(x.tombstones, s.ID)
}

// RemoveSummary removes id from the index.
func (x *Index) RemoveSummary(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.summaries, id)
	delete(x.runtime, id)
}

// RemoveRecentSessionEntry records a short-TTL tombstone for id so that the
// patch bus does not resurrect it from a stale upstream or JSON-store read
// within the next few polling cycles.
func (x *Index) RemoveRecentSessionEntry(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.summaries, id)
	delete(x.runtime, id)
	x.tombstones[id] = time.Now().Add(tombstoneTTL)
}

// IsRecentlyDeleted reports whether id was tombstoned within the TTL.
func (x *Index) IsRecentlyDeleted(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	exp, ok := x.tombstones[id]
	return ok && time.Now().Before(exp)
}

// RecentSessionsSnapshot returns every indexed session sorted by updated
// desc, tie-broken by id.
func (x *Index) RecentSessionsSnapshot() []RecentEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]RecentEntry, 0, len(x.summaries))
	for id, s := range x.summaries {
		out = append(out, RecentEntry{
			SessionID:     id,
			DirectoryID:   x.dirPathToID[s.Directory],
			DirectoryPath: s.Directory,
			UpdatedAt:     s.Time.Updated,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// RuntimeSnapshotJSON returns the runtime map keyed by session id.
func (x *Index) RuntimeSnapshotJSON() map[string]model.SessionRuntime {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]model.SessionRuntime, len(x.runtime))
	for k, v := range x.runtime {
		out[k] = v
	}
	return out
}

// UpsertRuntimePhase sets the runtime phase for a session, preserving
// other fields if the phase is unchanged.
func (x *Index) UpsertRuntimePhase(id string, phase model.SessionRuntimePhase) {
	x.mu.Lock()
	defer x.mu.Unlock()
	r, ok := x.runtime[id]
	if !ok || r.Type != phase {
		r = model.SessionRuntime{Type: phase}
	}
	x.runtime[id] = r
}

// ReconcileRuntimePhaseMap merges an upstream activity-manager snapshot
// into the local runtime map: upstream entries win, but locally-observed
// entries absent from upstream are preserved.
func (x *Index) ReconcileRuntimePhaseMap(external map[string]model.SessionRuntime) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for id, r := range external {
		x.runtime[id] = r
	}
}

// MergeRuntimeStatusMap is an alias of ReconcileRuntimePhaseMap used by the
// status-fallback path, which merges a narrower { type } map.
func (x *Index) MergeRuntimeStatusMap(external map[string]model.SessionRuntime) {
	x.ReconcileRuntimePhaseMap(external)
}

// ReplaceDirectoryMappings atomically rebuilds the id<->path two-way map.
func (x *Index) ReplaceDirectoryMappings(dirs []model.DirectoryEntry) {
	idToPath := make(map[string]string, len(dirs))
	pathToID := make(map[string]string, len(dirs))
	for _, d := range dirs {
		idToPath[d.ID] = d.Path
		pathToID[d.Path] = d.ID
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.dirIDToPath = idToPath
	x.dirPathToID = pathToID
}

// GetSummary returns the indexed summary for id, if present.
func (x *Index) GetSummary(id string) (model.SessionSummary, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s, ok := x.summaries[id]
	return s, ok
}

// GetSessionSummary implements sessionstore.LastKnownGood.
func (x *Index) GetSessionSummary(id string) (model.SessionSummary, bool) {
	return x.GetSummary(id)
}

// SnapshotSummaries returns a copy of every indexed summary keyed by id.
func (x *Index) SnapshotSummaries() map[string]model.SessionSummary {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]model.SessionSummary, len(x.summaries))
	for k, v := range x.summaries {
		out[k] = v
	}
	return out
}

// DirectoryPathForID returns the configured path for a directory id.
func (x *Index) DirectoryPathForID(id string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	p, ok := x.dirIDToPath[id]
	return p, ok
}
