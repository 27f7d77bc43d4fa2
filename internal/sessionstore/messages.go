package sessionstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/opencode-studio/gateway/internal/model"
	"github.com/opencode-studio/gateway/internal/sanitize"
)

// MessagePage is a paged set of messages with their sanitized parts.
type MessagePage struct {
	Messages    []model.Message `json:"messages"`
	Offset      int             `json:"offset"`
	Limit       int             `json:"limit"`
	HasMore     bool            `json:"hasMore"`
	Consistency *Consistency    `json:"consistency,omitempty"`
}

// ListMessages pages messages for sessionID ordered by time.created asc,
// loading all parts for each and sanitizing them.
func (s *Store) ListMessages(ctx context.Context, sessionID string, offset, limit int) (*MessagePage, error) {
	msgs, cons := s.loadMessages(ctx, sessionID)

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Info.Time.Created < msgs[j].Info.Time.Created
	})

	total := len(msgs)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	page := msgs[offset:end]
	for i := range page {
		parts := make([]model.Part, 0, len(page[i].Parts))
		for _, p := range page[i].Parts {
			if sanitize.KeepPart(p, s.settings) {
				parts = append(parts, sanitize.Part(p, s.settings))
			}
		}
		page[i].Parts = parts
	}

	res := &MessagePage{
		Messages: page,
		Offset:   offset,
		Limit:    limit,
		HasMore:  end < total,
	}
	if cons.Degraded {
		c := cons
		res.Consistency = &c
	}
	return res, nil
}

// loadMessages prefers the SQL backend, falling back to directory
// enumeration under storage/message/<sessionID> when SQL misses.
func (s *Store) loadMessages(ctx context.Context, sessionID string) ([]model.Message, Consistency) {
	var cons Consistency

	if msgs, hit, err := s.querySQLMessages(ctx, sessionID); err == nil && hit {
		for i := range msgs {
			msgs[i].Parts = s.loadParts(ctx, msgs[i].Info.ID)
		}
		return msgs, cons
	} else if s.db != nil {
		cons.IOSkips++
	}

	dir := filepath.Join(s.dataDir, "storage", "message", sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, cons
	}

	var out []model.Message
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			cons.TransientSkips++
			continue
		}
		var m model.Message
		if err := json.Unmarshal(b, &m); err != nil {
			cons.ParseSkips++
			continue
		}
		m.Parts = s.loadParts(ctx, m.Info.ID)
		out = append(out, m)
	}
	if cons.TransientSkips+cons.ParseSkips > 0 {
		cons.Degraded = true
	}
	return out, cons
}

func (s *Store) loadParts(ctx context.Context, messageID string) []model.Part {
	if parts, hit, err := s.querySQLParts(ctx, messageID); err == nil && hit {
		return parts
	}

	dir := filepath.Join(s.dataDir, "storage", "part", messageID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []model.Part
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var p model.Part
		if err := json.Unmarshal(b, &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
