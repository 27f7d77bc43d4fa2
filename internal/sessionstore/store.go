package sessionstore

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/opencode-studio/gateway/internal/apperrors"
	"github.com/opencode-studio/gateway/internal/logger"
	"github.com/opencode-studio/gateway/internal/model"
	"github.com/opencode-studio/gateway/internal/pathutil"
	"github.com/opencode-studio/gateway/internal/sanitize"
)

// Store reads session summaries from SQL-first, JSON-fallback storage.
type Store struct {
	dataDir    string
	db         *sql.DB
	projectIDs *ProjectIDResolver
	lkg        LastKnownGood
	settings   sanitize.Settings
	background context.Context
}

// New returns a Store rooted at dataDir, backed by db. db may be nil to
// operate in JSON-only mode.
func New(dataDir string, db *sql.DB, lkg LastKnownGood) *Store {
	return &Store{
		dataDir:    dataDir,
		db:         db,
		projectIDs: NewProjectIDResolver(dataDir),
		lkg:        lkg,
		settings:   sanitize.DefaultSettings(),
		background: context.Background(),
	}
}

func (s *Store) ctx() context.Context {
	if s.background != nil {
		return s.background
	}
	return context.Background()
}

// List reads session summaries for a query: SQL first, JSON fallback,
// directory/project scoping, search and start filtering, then flat or
// roots/children pagination.
func (s *Store) List(ctx context.Context, q Query) (*Result, error) {
	if q.Limit < 0 || (q.Limit == 0 && len(q.IDs) == 0) {
		return nil, apperrors.BadRequest("limit must be greater than zero")
	}
	if q.Offset < 0 {
		return nil, apperrors.BadRequest("offset must be non-negative")
	}
	if q.Start < 0 {
		return nil, apperrors.BadRequest("start must be non-negative")
	}

	projectID := "global"
	if q.Directory != "" {
		projectID = s.projectIDs.Resolve(ctx, q.Directory)
	}

	raws, cons, err := s.loadRaws(ctx, q, projectID)
	if err != nil {
		return nil, err
	}

	if q.Directory != "" && q.Scope != ScopeProject {
		raws = filterByDirectory(raws, q.Directory)
	}
	if q.Start > 0 {
		raws = filterByStart(raws, q.Start)
	}
	if q.Search != "" {
		raws = filterBySearch(raws, q.Search)
	}

	if len(q.IDs) > 0 {
		raws = filterAndOrderByIDs(raws, q.IDs)
	} else {
		sortRaws(raws)
	}

	if q.Roots {
		return s.buildRootsResult(raws, q, cons)
	}

	return s.buildFlatResult(raws, q, cons)
}

func (s *Store) loadRaws(ctx context.Context, q Query, projectID string) ([]rawSession, Consistency, error) {
	var cons Consistency

	sqlRows, hit, err := s.querySQLSessions(ctx, projectID)
	if err == nil && hit {
		return sqlRows, cons, nil
	}
	if s.db != nil {
		cons.IOSkips++
	}

	jsonRows, jsonCons := s.scanProjectBucket(projectID, s.lkg)
	cons.merge(jsonCons)

	if len(jsonRows) == 0 && cons.IOSkips > 0 {
		cons.TransientSkips++
		cons.RetryAfterMs = 1000
		cons.Degraded = true
	}

	return jsonRows, cons, nil
}

func filterByDirectory(raws []rawSession, directory string) []rawSession {
	out := raws[:0:0]
	for _, r := range raws {
		if pathutil.Equal(r.Directory, directory) {
			out = append(out, r)
		}
	}
	return out
}

func filterByStart(raws []rawSession, start int64) []rawSession {
	out := raws[:0:0]
	for _, r := range raws {
		if r.Updated >= start {
			out = append(out, r)
		}
	}
	return out
}

func filterBySearch(raws []rawSession, search string) []rawSession {
	needle := strings.ToLower(search)
	out := raws[:0:0]
	for _, r := range raws {
		if strings.Contains(strings.ToLower(r.Title), needle) ||
			strings.Contains(strings.ToLower(r.Slug), needle) ||
			strings.Contains(r.ID, search) {
			out = append(out, r)
		}
	}
	return out
}

func filterAndOrderByIDs(raws []rawSession, ids []string) []rawSession {
	byID := make(map[string]rawSession, len(raws))
	for _, r := range raws {
		byID[r.ID] = r
	}
	out := make([]rawSession, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

func sortRaws(raws []rawSession) {
	sort.SliceStable(raws, func(i, j int) bool {
		if raws[i].Updated != raws[j].Updated {
			return raws[i].Updated > raws[j].Updated
		}
		return raws[i].ID < raws[j].ID
	})
}

func (s *Store) narrow(r rawSession) model.SessionSummary {
	return sanitize.Session(sanitize.SessionInput{
		ID: r.ID, ParentID: r.ParentID, Directory: r.Directory, Title: r.Title,
		Slug: r.Slug, Created: r.Created, Updated: r.Updated, ShareURL: r.ShareURL,
		RevertMessageID: r.RevertMessageID, RevertDiff: r.RevertDiff,
	})
}

func (s *Store) buildFlatResult(raws []rawSession, q Query, cons Consistency) (*Result, error) {
	total := len(raws)
	offset := q.Offset
	if offset > total {
		offset = total
	}
	limit := q.Limit
	if limit <= 0 {
		limit = total
	}

	end := offset + limit
	if end > total {
		end = total
	}

	page := raws[offset:end]
	summaries := make([]model.SessionSummary, len(page))
	for i, r := range page {
		summaries[i] = s.narrow(r)
	}

	res := &Result{
		Sessions: summaries,
		Offset:   offset,
		Limit:    q.Limit,
		HasMore:  end < total,
	}
	if end < total {
		next := end
		res.NextOffset = &next
	}
	if q.IncludeTotal {
		res.Total = total
	}
	if cons.Degraded {
		c := cons
		res.Consistency = &c
	}
	return res, nil
}

func (s *Store) buildRootsResult(raws []rawSession, q Query, cons Consistency) (*Result, error) {
	byID := make(map[string]rawSession, len(raws))
	for _, r := range raws {
		byID[r.ID] = r
	}

	var roots []rawSession
	for _, r := range raws {
		if r.ParentID == "" {
			roots = append(roots, r)
			continue
		}
		if _, ok := byID[r.ParentID]; !ok {
			roots = append(roots, r)
		}
	}
	sortRaws(roots)

	offset := q.Offset
	if q.FocusSessionID != "" && q.Offset == 0 {
		if idx, rootID := findFocusRootIndex(roots, byID, q.FocusSessionID); idx >= 0 {
			limit := q.Limit
			if limit <= 0 {
				limit = 1
			}
			offset = (idx / limit) * limit
			_ = rootID
		}
	}

	total := len(roots)
	if offset > total {
		offset = total
	}
	limit := q.Limit
	if limit <= 0 {
		limit = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := roots[offset:end]
	summaries := make([]model.SessionSummary, 0, len(page))
	for _, r := range page {
		summaries = append(summaries, s.narrow(r))
		if q.IncludeChildren {
			children := childrenOf(r.ID, raws)
			sortRaws(children)
			for _, c := range children {
				summaries = append(summaries, s.narrow(c))
			}
		}
	}

	res := &Result{
		Sessions: summaries,
		Offset:   offset,
		Limit:    q.Limit,
		HasMore:  end < total,
	}
	if end < total {
		next := end
		res.NextOffset = &next
	}
	if q.IncludeTotal {
		res.Total = total
	}
	if q.FocusSessionID != "" {
		if idx, rootID := findFocusRootIndex(roots, byID, q.FocusSessionID); idx >= 0 {
			res.FocusRootID = rootID
			fi := idx
			res.FocusRootIndex = &fi
		}
	}
	if cons.Degraded {
		c := cons
		res.Consistency = &c
	}

	logger.SessionStore().Debug().Int("roots", total).Int("returned", len(summaries)).Msg("built roots result")
	return res, nil
}

func findFocusRootIndex(roots []rawSession, byID map[string]rawSession, focus string) (int, string) {
	cur, ok := byID[focus]
	if !ok {
		return -1, ""
	}
	for cur.ParentID != "" {
		parent, ok := byID[cur.ParentID]
		if !ok {
			break
		}
		cur = parent
	}
	for i, r := range roots {
		if r.ID == cur.ID {
			return i, r.ID
		}
	}
	return -1, ""
}

func childrenOf(rootID string, raws []rawSession) []rawSession {
	var direct []rawSession
	seen := map[string]bool{rootID: true}
	changed := true
	for changed {
		changed = false
		for _, r := range raws {
			if seen[r.ID] {
				continue
			}
			if r.ParentID != "" && seen[r.ParentID] {
				direct = append(direct, r)
				seen[r.ID] = true
				changed = true
			}
		}
	}
	return direct
}
