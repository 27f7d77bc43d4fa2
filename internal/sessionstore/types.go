// Package sessionstore reads session/message/part records from a SQL
// database first, falling back to a JSON directory tree, with bounded
// concurrency and degraded-consistency reporting when either source is
// partially unavailable.
package sessionstore

import (
	"github.com/opencode-studio/gateway/internal/model"
)

// Scope restricts a query to one directory or to the whole project.
type Scope string

const (
	ScopeDirectory Scope = "directory"
	ScopeProject   Scope = "project"
)

// Query describes a session listing request.
type Query struct {
	Directory       string
	Scope           Scope
	Roots           bool
	IncludeChildren bool
	Start           int64
	Search          string
	Offset          int
	Limit           int
	IncludeTotal    bool
	IDs             []string
	FocusSessionID  string
}

// Consistency reports how degraded a response is relative to its storage
// sources.
type Consistency struct {
	Degraded       bool  `json:"degraded,omitempty"`
	IOSkips        int   `json:"ioSkips,omitempty"`
	StaleReads     int   `json:"staleReads,omitempty"`
	TransientSkips int   `json:"transientSkips,omitempty"`
	ParseSkips     int   `json:"parseSkips,omitempty"`
	RetryAfterMs   int64 `json:"retryAfterMs,omitempty"`
}

// merge folds other's counters into c, setting Degraded if any counter is
// nonzero.
func (c *Consistency) merge(other Consistency) {
	c.IOSkips += other.IOSkips
	c.StaleReads += other.StaleReads
	c.TransientSkips += other.TransientSkips
	c.ParseSkips += other.ParseSkips
	if other.RetryAfterMs > c.RetryAfterMs {
		c.RetryAfterMs = other.RetryAfterMs
	}
	if c.IOSkips+c.StaleReads+c.TransientSkips+c.ParseSkips > 0 {
		c.Degraded = true
	}
}

// Result is the paged response shape for a session listing.
type Result struct {
	Sessions       []model.SessionSummary `json:"sessions"`
	Total          int                    `json:"total,omitempty"`
	Offset         int                    `json:"offset"`
	Limit          int                    `json:"limit"`
	HasMore        bool                   `json:"hasMore"`
	NextOffset     *int                   `json:"nextOffset,omitempty"`
	FocusRootID    string                 `json:"focusRootId,omitempty"`
	FocusRootIndex *int                   `json:"focusRootIndex,omitempty"`
	Consistency    *Consistency           `json:"consistency,omitempty"`
}

// rawSession is the pre-sanitization internal representation read from
// either backend.
type rawSession struct {
	ID              string
	ParentID        string
	Directory       string
	ProjectID       string
	Title           string
	Slug            string
	Created         int64
	Updated         int64
	ShareURL        string
	RevertMessageID string
	RevertDiff      string
}
