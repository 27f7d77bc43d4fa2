package sidebar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencode-studio/gateway/internal/apperrors"
	"github.com/opencode-studio/gateway/internal/logger"
	"github.com/opencode-studio/gateway/internal/model"
	"github.com/opencode-studio/gateway/internal/sessionstore"
	"github.com/opencode-studio/gateway/internal/sidebarindex"
)

const (
	directorySessionsCacheTTL = 1200 * time.Millisecond
	indexViewCacheTTL         = 400 * time.Millisecond
	sseHeartbeatInterval      = 15 * time.Second
	sseIdleTimeout            = 25 * time.Second
)

// Handlers exposes the sidebar HTTP surface.
type Handlers struct {
	dirs    *DirectoryStore
	store   SessionLister
	index   *sidebarindex.Index
	builder *Builder
	bus     *Bus
	poller  *Poller
	cache   *ResponseCache
	prefs   PreferencesReader
}

// SetPreferencesReader wires an optional preferences source into the state
// fan-out. Without one, every directory is treated as expanded.
func (h *Handlers) SetPreferencesReader(p PreferencesReader) {
	h.prefs = p
}

// NewHandlers wires the sidebar route handlers to their collaborators.
func NewHandlers(dirs *DirectoryStore, store SessionLister, index *sidebarindex.Index, builder *Builder, bus *Bus, poller *Poller, cache *ResponseCache) *Handlers {
	return &Handlers{dirs: dirs, store: store, index: index, builder: builder, bus: bus, poller: poller, cache: cache}
}

// RegisterRoutes mounts the sidebar endpoints under router.
func (h *Handlers) RegisterRoutes(router gin.IRouter) {
	router.GET("/bootstrap", h.GetBootstrap)
	router.GET("/events", h.GetEvents)
	router.GET("/directories", h.GetDirectories)
	router.GET("/directories/:id/sessions", h.GetDirectorySessions)
	router.GET("/recent-index", h.GetRecentIndex)
	router.GET("/running-index", h.GetRunningIndex)
	router.GET("/state", h.GetState)
	router.GET("/sessions/summaries", h.GetSessionsSummaries)
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryCSV(c *gin.Context, key string) []string {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetBootstrap handles GET bootstrap?limitPerDirectory&expandedDirectoryIds.
func (h *Handlers) GetBootstrap(c *gin.Context) {
	limit := queryInt(c, "limitPerDirectory", 20)
	expanded := queryCSV(c, "expandedDirectoryIds")

	seq := h.bus.CurrentSeq()
	snap, _, err := h.builder.Build(c.Request.Context(), limit, expanded)
	if err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.CategoryUnknownInternal, "failed to build sidebar snapshot", err))
		return
	}

	byDir := map[string][]model.SessionSummary{}
	snap.Sessions.Range(func(id string, s model.SessionSummary) bool {
		dirID := directoryIDForPath(snap.Directories, s.Directory)
		byDir[dirID] = append(byDir[dirID], s)
		return true
	})

	runtime := map[string]model.SessionRuntime{}
	snap.Runtime.Range(func(id string, r model.SessionRuntime) bool {
		runtime[id] = r
		return true
	})

	c.JSON(http.StatusOK, gin.H{
		"directoryEntries":              snap.Directories,
		"sessionSummariesByDirectoryId": byDir,
		"runtimeBySessionId":            runtime,
		"seq":                           seq,
	})
}

func directoryIDForPath(dirs *model.OrderedMap[model.DirectoryEntry], path string) string {
	var id string
	dirs.Range(func(k string, d model.DirectoryEntry) bool {
		if d.Path == path {
			id = k
			return false
		}
		return true
	})
	return id
}

// GetEvents handles GET events?limitPerDirectory (SSE).
func (h *Handlers) GetEvents(c *gin.Context) {
	limit := queryInt(c, "limitPerDirectory", 20)

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = c.Error(apperrors.Internal("streaming unsupported"))
		return
	}

	ctx := c.Request.Context()
	_, unsubscribe := h.poller.Subscribe(ctx, limit)
	defer unsubscribe()

	seqAtSubscribe := h.bus.CurrentSeq()
	lastEventID := c.GetHeader("Last-Event-ID")
	sinceSeq := seqAtSubscribe
	if lastEventID != "" {
		if n, err := strconv.ParseInt(lastEventID, 10, 64); err == nil {
			sinceSeq = n
		}
	}

	// The emit floor only ever advances: replayed events, forced resyncs,
	// and live events all move it forward, so no seq is emitted twice.
	lastSeq := sinceSeq
	if events, ok := h.bus.Replay(sinceSeq); ok {
		for _, ev := range events {
			writeSSEPatch(w, ev)
			lastSeq = ev.Seq
		}
	} else if full := h.bus.FullUpsertEvent(seqAtSubscribe, time.Now()); full != nil {
		writeSSEPatch(w, *full)
		lastSeq = seqAtSubscribe
	} else {
		lastSeq = seqAtSubscribe
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()
	idleTimer := time.NewTimer(sseIdleTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idleTimer.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
			idleTimer.Reset(sseIdleTimeout)
		case <-heartbeat.C:
			fmt.Fprintf(w, "event: heartbeat\ndata: {}\n\n")
			flusher.Flush()
		case <-poll.C:
			events, ok := h.bus.Replay(lastSeq)
			if !ok {
				cur := h.bus.CurrentSeq()
				if full := h.bus.FullUpsertEvent(cur, time.Now()); full != nil {
					writeSSEPatch(w, *full)
					flusher.Flush()
				}
				lastSeq = cur
				idleTimer.Reset(sseIdleTimeout)
				continue
			}
			if len(events) == 0 {
				continue
			}
			for _, ev := range events {
				writeSSEPatch(w, ev)
				lastSeq = ev.Seq
			}
			flusher.Flush()
			idleTimer.Reset(sseIdleTimeout)
		}
	}
}

func writeSSEPatch(w http.ResponseWriter, ev model.PatchEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: patch\nid: %d\ndata: %s\n\n", ev.Seq, b)
}

// GetDirectories handles GET directories?offset&limit&query.
func (h *Handlers) GetDirectories(c *gin.Context) {
	offset := queryInt(c, "offset", 0)
	limit := queryInt(c, "limit", 50)
	query := c.Query("query")

	entries, total := h.dirs.Filter(query, offset, limit)
	c.JSON(http.StatusOK, gin.H{"directories": entries, "total": total, "offset": offset, "limit": limit})
}

// GetDirectorySessions handles GET directories/<id>/sessions?...
func (h *Handlers) GetDirectorySessions(c *gin.Context) {
	dirID := c.Param("id")
	path, ok := h.index.DirectoryPathForID(dirID)
	if !ok {
		for _, d := range h.dirs.List() {
			if d.ID == dirID {
				path = d.Path
				ok = true
				break
			}
		}
	}
	if !ok {
		_ = c.Error(apperrors.NotFound("unknown directory id"))
		return
	}

	q := sessionstore.Query{
		Directory:       path,
		Scope:           sessionstore.ScopeDirectory,
		Roots:           c.Query("roots") == "true",
		IncludeChildren: c.Query("includeChildren") == "true",
		Search:          c.Query("query"),
		Offset:          queryInt(c, "offset", 0),
		Limit:           queryInt(c, "limit", 50),
		IncludeTotal:    c.Query("includeTotal") == "true",
		IDs:             queryCSV(c, "ids"),
		FocusSessionID:  c.Query("focusSessionId"),
	}

	cacheable := q.Roots && q.IncludeChildren && len(q.IDs) == 0
	cacheKey := ""
	if cacheable {
		cacheKey = directorySessionsCacheKey(dirID, q, h.bus.CurrentSeq())
		if cached, ok := h.cache.Get(c.Request.Context(), cacheKey); ok {
			c.Data(http.StatusOK, "application/json", cached)
			return
		}
	}

	res, err := h.store.List(c.Request.Context(), q)
	if err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.CategoryUnknownInternal, "failed to list sessions", err))
		return
	}

	payload := gin.H{
		"sessions":    res.Sessions,
		"total":       res.Total,
		"offset":      res.Offset,
		"limit":       res.Limit,
		"hasMore":     res.HasMore,
		"nextOffset":  res.NextOffset,
		"consistency": res.Consistency,
	}
	if cacheable {
		payload["treeHint"] = buildTreeHint(res.Sessions)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.CategoryUnknownInternal, "failed to encode response", err))
		return
	}
	if cacheable {
		h.cache.Set(c.Request.Context(), cacheKey, b, directorySessionsCacheTTL)
	}
	c.Data(http.StatusOK, "application/json", b)
}

func directorySessionsCacheKey(dirID string, q sessionstore.Query, seq int64) string {
	return fmt.Sprintf("dirsessions:%s:%s:%d:%d:%s:%d", dirID, q.Search, q.Offset, q.Limit, q.FocusSessionID, seq)
}

func buildTreeHint(sessions []model.SessionSummary) gin.H {
	byID := make(map[string]model.SessionSummary, len(sessions))
	for _, s := range sessions {
		byID[s.ID] = s
	}

	var roots []string
	children := map[string][]string{}
	for _, s := range sessions {
		if s.ParentID == "" {
			roots = append(roots, s.ID)
			continue
		}
		if _, parentPresent := byID[s.ParentID]; parentPresent {
			children[s.ParentID] = append(children[s.ParentID], s.ID)
		} else {
			roots = append(roots, s.ID)
		}
	}

	sort.Strings(roots)
	for k := range children {
		ids := dedupe(children[k])
		sort.Strings(ids)
		children[k] = ids
	}

	return gin.H{"rootSessionIds": roots, "childrenByParentSessionId": children}
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// GetRecentIndex handles GET recent-index.
func (h *Handlers) GetRecentIndex(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	cacheKey := fmt.Sprintf("recent-index:%d:%d", limit, h.bus.CurrentSeq())
	if cached, ok := h.cache.Get(c.Request.Context(), cacheKey); ok {
		c.Data(http.StatusOK, "application/json", cached)
		return
	}

	entries := h.index.RecentSessionsSnapshot()
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	b, _ := json.Marshal(gin.H{"entries": entries})
	h.cache.Set(c.Request.Context(), cacheKey, b, indexViewCacheTTL)
	c.Data(http.StatusOK, "application/json", b)
}

// GetRunningIndex handles GET running-index.
func (h *Handlers) GetRunningIndex(c *gin.Context) {
	cacheKey := fmt.Sprintf("running-index:%d", h.bus.CurrentSeq())
	if cached, ok := h.cache.Get(c.Request.Context(), cacheKey); ok {
		c.Data(http.StatusOK, "application/json", cached)
		return
	}

	runtime := h.index.RuntimeSnapshotJSON()
	running := make(map[string]model.SessionRuntime, len(runtime))
	for id, r := range runtime {
		if r.Type == model.PhaseBusy {
			running[id] = r
		}
	}
	b, _ := json.Marshal(gin.H{"running": running})
	h.cache.Set(c.Request.Context(), cacheKey, b, indexViewCacheTTL)
	c.Data(http.StatusOK, "application/json", b)
}

// PreferencesReader supplies the per-user collapsed-directory and
// per-directory-page preferences the state fan-out needs. An external
// collaborator (settings/cookie store) may implement this; when none is
// wired, no directory is collapsed.
type PreferencesReader interface {
	CollapsedDirectoryIDs(ctx context.Context) []string
	DirectoryPage(ctx context.Context, directoryID string) (offset, limit int)
}

// GetState handles GET state?...: a convenience fan-out composing bootstrap,
// recent, and running views behind the caller's stored preferences.
func (h *Handlers) GetState(c *gin.Context) {
	limit := queryInt(c, "limitPerDirectory", 20)
	seq := h.bus.CurrentSeq()

	collapsed := map[string]bool{}
	var collapsedIDs []string
	if h.prefs != nil {
		collapsedIDs = h.prefs.CollapsedDirectoryIDs(c.Request.Context())
		for _, id := range collapsedIDs {
			collapsed[id] = true
		}
	}
	if collapsedIDs == nil {
		collapsedIDs = []string{}
	}

	allDirs := h.dirs.List()
	expanded := []string{}
	for _, d := range allDirs {
		if !collapsed[d.ID] {
			expanded = append(expanded, d.ID)
		}
	}

	snap, _, err := h.builder.Build(c.Request.Context(), limit, expanded)
	if err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.CategoryUnknownInternal, "failed to build sidebar state", err))
		return
	}

	sessionPages := map[string][]model.SessionSummary{}
	snap.Sessions.Range(func(id string, s model.SessionSummary) bool {
		dirID := directoryIDForPath(snap.Directories, s.Directory)
		sessionPages[dirID] = append(sessionPages[dirID], s)
		return true
	})

	runtime := map[string]model.SessionRuntime{}
	snap.Runtime.Range(func(id string, r model.SessionRuntime) bool {
		runtime[id] = r
		return true
	})

	recent := h.index.RecentSessionsSnapshot()
	runningMap := map[string]model.SessionRuntime{}
	for id, r := range h.index.RuntimeSnapshotJSON() {
		if r.Type == model.PhaseBusy {
			runningMap[id] = r
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"preferences":               gin.H{"collapsedDirectoryIds": collapsedIDs},
		"seq":                       seq,
		"directoriesPage":           snap.Directories,
		"sessionPagesByDirectoryId": sessionPages,
		"runtimeBySessionId":        runtime,
		"recentPage":                recent,
		"runningPage":               runningMap,
	})
}

// GetSessionsSummaries handles GET sessions/summaries?ids=a,b,c.
func (h *Handlers) GetSessionsSummaries(c *gin.Context) {
	ids := queryCSV(c, "ids")
	if len(ids) == 0 {
		c.JSON(http.StatusOK, gin.H{"summaries": []model.SessionSummary{}, "missingIds": []string{}})
		return
	}

	found := make(map[string]model.SessionSummary, len(ids))
	var missing []string
	for _, id := range ids {
		if s, ok := h.index.GetSummary(id); ok {
			found[id] = s
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		for _, d := range h.dirs.List() {
			res, err := h.store.List(c.Request.Context(), sessionstore.Query{
				Directory: d.Path, Scope: sessionstore.ScopeDirectory, IDs: missing,
			})
			if err != nil {
				continue
			}
			for _, s := range res.Sessions {
				found[s.ID] = s
			}
			remaining := missing[:0:0]
			for _, id := range missing {
				if _, ok := found[id]; !ok {
					remaining = append(remaining, id)
				}
			}
			missing = remaining
			if len(missing) == 0 {
				break
			}
		}
	}

	summaries := make([]model.SessionSummary, 0, len(ids))
	for _, id := range ids {
		if s, ok := found[id]; ok {
			summaries = append(summaries, s)
		}
	}

	if missing == nil {
		missing = []string{}
	}
	logger.Sidebar().Debug().Int("requested", len(ids)).Int("missing", len(missing)).Msg("sessions summaries lookup")
	c.JSON(http.StatusOK, gin.H{"summaries": summaries, "missingIds": missing})
}
