package sanitize

import "github.com/opencode-studio/gateway/internal/model"

// SessionInput is the set of fields a session source (SQL row, JSON file,
// upstream payload) must supply before narrowing.
type SessionInput struct {
	ID              string
	ParentID        string
	Directory       string
	Title           string
	Slug            string
	Created         int64
	Updated         int64
	ShareURL        string
	RevertMessageID string
	RevertDiff      string
}

// Session narrows a raw session to the client-facing whitelist: { id,
// title, slug, directory, parentID, time:{created,updated}?, share:{url}?,
// revert:{messageID,diff}? }.
func Session(in SessionInput) model.SessionSummary {
	s := model.SessionSummary{
		ID:        in.ID,
		ParentID:  in.ParentID,
		Directory: in.Directory,
		Title:     in.Title,
		Slug:      in.Slug,
		Time: model.TimeInfo{
			Created: in.Created,
			Updated: in.Updated,
		},
	}
	if in.ShareURL != "" {
		s.Share = &model.ShareInfo{URL: in.ShareURL}
	}
	if in.RevertMessageID != "" {
		s.Revert = &model.RevertInfo{MessageID: in.RevertMessageID, Diff: in.RevertDiff}
	}
	return s
}

// SessionFromValue narrows a loosely-typed session payload (an upstream
// event's info object) to a summary. ok is false when the payload carries no
// usable id.
func SessionFromValue(v map[string]interface{}) (model.SessionSummary, bool) {
	in := SessionInput{}
	in.ID, _ = v["id"].(string)
	if in.ID == "" {
		return model.SessionSummary{}, false
	}
	in.ParentID, _ = v["parentID"].(string)
	in.Directory, _ = v["directory"].(string)
	in.Title, _ = v["title"].(string)
	in.Slug, _ = v["slug"].(string)
	if t, ok := v["time"].(map[string]interface{}); ok {
		if created, ok := t["created"].(float64); ok {
			in.Created = int64(created)
		}
		if updated, ok := t["updated"].(float64); ok {
			in.Updated = int64(updated)
		}
	}
	if share, ok := v["share"].(map[string]interface{}); ok {
		in.ShareURL, _ = share["url"].(string)
	}
	if revert, ok := v["revert"].(map[string]interface{}); ok {
		in.RevertMessageID, _ = revert["messageID"].(string)
		in.RevertDiff, _ = revert["diff"].(string)
	}
	return Session(in), true
}
