package sidebar

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opencode-studio/gateway/internal/concurrency"
	"github.com/opencode-studio/gateway/internal/logger"
	"github.com/opencode-studio/gateway/internal/model"
	"github.com/opencode-studio/gateway/internal/sessionstore"
	"github.com/opencode-studio/gateway/internal/sidebarindex"
)

// SessionLister is the narrow session-store surface the snapshot builder
// needs.
type SessionLister interface {
	List(ctx context.Context, q sessionstore.Query) (*sessionstore.Result, error)
}

// ActivitySource supplies the upstream's own runtime-phase snapshot, which
// the builder reconciles with locally-observed phases. Nil-safe: a nil
// source simply contributes nothing.
type ActivitySource interface {
	Snapshot(ctx context.Context) map[string]model.SessionRuntime
}

const snapshotBuildConcurrency = 6

// Builder composes directory entries, per-directory session pages, and the
// runtime map into a SidebarSnapshot.
type Builder struct {
	dirs     *DirectoryStore
	store    SessionLister
	index    *sidebarindex.Index
	activity ActivitySource

	coldStartSeedLimit int
}

// NewBuilder returns a Builder wired to its collaborators.
func NewBuilder(dirs *DirectoryStore, store SessionLister, index *sidebarindex.Index, activity ActivitySource) *Builder {
	return &Builder{dirs: dirs, store: store, index: index, activity: activity, coldStartSeedLimit: 20}
}

// BuildMetrics reports per-build timings and the indexed session count.
type BuildMetrics struct {
	SnapshotMs      int64
	IndexUpdateMs   int64
	IndexedSessions int
}

// Build composes a snapshot for the given limitPerDirectory and set of
// expanded directory ids (nil meaning "all", a non-nil empty slice meaning
// "none"): refresh directory
// mappings, fetch expanded directories' root sessions, seed collapsed
// directories on cold start, reconcile runtime, compose.
func (b *Builder) Build(ctx context.Context, limitPerDirectory int, expandedDirectoryIDs []string) (*model.SidebarSnapshot, BuildMetrics, error) {
	start := time.Now()

	dirs := b.dirs.List()
	b.index.ReplaceDirectoryMappings(dirs)

	expanded := expandedSet(dirs, expandedDirectoryIDs)

	indexStart := time.Now()
	indexed := b.fetchAndIndex(ctx, dirs, expanded, limitPerDirectory)

	if len(b.index.RecentSessionsSnapshot()) == 0 {
		b.seedColdStart(ctx, dirs, expanded)
	}

	if b.activity != nil {
		b.index.ReconcileRuntimePhaseMap(b.activity.Snapshot(ctx))
	}
	indexMs := time.Since(indexStart).Milliseconds()

	snap := b.compose(dirs, expanded)

	return snap, BuildMetrics{
		SnapshotMs:      time.Since(start).Milliseconds(),
		IndexUpdateMs:   indexMs,
		IndexedSessions: indexed,
	}, nil
}

// expandedSet builds the expanded-directory membership map. A nil ids slice
// means "all directories"; an empty non-nil slice means "none".
func expandedSet(dirs []model.DirectoryEntry, ids []string) map[string]bool {
	if ids == nil {
		out := make(map[string]bool, len(dirs))
		for _, d := range dirs {
			out[d.ID] = true
		}
		return out
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func (b *Builder) fetchAndIndex(ctx context.Context, dirs []model.DirectoryEntry, expanded map[string]bool, limitPerDirectory int) int {
	limiter := concurrency.NewLimiter(ctx, snapshotBuildConcurrency)
	var mu sync.Mutex
	indexed := 0

	for _, d := range dirs {
		if !expanded[d.ID] {
			continue
		}
		d := d
		limiter.Go(func() error {
			res, err := b.store.List(ctx, sessionstore.Query{
				Directory: d.Path, Scope: sessionstore.ScopeDirectory,
				Roots: true, IncludeChildren: true, Limit: limitPerDirectory,
			})
			if err != nil {
				logger.Sidebar().Warn().Err(err).Str("directory", d.Path).Msg("failed to list sessions for directory")
				return nil
			}
			mu.Lock()
			for _, s := range res.Sessions {
				// Store reads lag live deletes by up to a poll cycle; a
				// tombstoned id must not be revived from them.
				if b.index.IsRecentlyDeleted(s.ID) {
					continue
				}
				b.index.UpsertSummary(s)
				indexed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = limiter.Wait()
	return indexed
}

func (b *Builder) seedColdStart(ctx context.Context, dirs []model.DirectoryEntry, expanded map[string]bool) {
	for _, d := range dirs {
		if expanded[d.ID] {
			continue
		}
		res, err := b.store.List(ctx, sessionstore.Query{
			Directory: d.Path, Scope: sessionstore.ScopeDirectory,
			Roots: true, IncludeChildren: true, Limit: b.coldStartSeedLimit,
		})
		if err != nil {
			continue
		}
		for _, s := range res.Sessions {
			if b.index.IsRecentlyDeleted(s.ID) {
				continue
			}
			b.index.UpsertSummary(s)
		}
	}
}

func (b *Builder) compose(dirs []model.DirectoryEntry, expanded map[string]bool) *model.SidebarSnapshot {
	snap := model.NewSidebarSnapshot()
	for _, d := range dirs {
		snap.Directories.Set(d.ID, d)
	}

	summaries := b.index.SnapshotSummaries()
	ordered := make([]model.SessionSummary, 0, len(summaries))
	for _, s := range summaries {
		if expanded[directoryIDFor(dirs, s.Directory)] {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Time.Updated != ordered[j].Time.Updated {
			return ordered[i].Time.Updated > ordered[j].Time.Updated
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, s := range ordered {
		snap.Sessions.Set(s.ID, s)
	}

	runtime := b.index.RuntimeSnapshotJSON()
	snap.Sessions.Range(func(id string, _ model.SessionSummary) bool {
		if r, ok := runtime[id]; ok {
			snap.Runtime.Set(id, r)
		}
		return true
	})

	return snap
}

func directoryIDFor(dirs []model.DirectoryEntry, path string) string {
	for _, d := range dirs {
		if d.Path == path {
			return d.ID
		}
	}
	return ""
}
