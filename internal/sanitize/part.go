package sanitize

import (
	"encoding/json"

	"github.com/opencode-studio/gateway/internal/model"
)

// toolSummaryPriority is the field priority order used to pick one "summary
// candidate" for unknown tools.
var toolSummaryPriority = []string{
	"description", "command", "argv", "query", "pattern", "path", "filePath",
	"url", "name", "title", "prompt",
}

// KeepPart reports whether part should be forwarded at all: text and file
// parts drop when synthetic or ignored, tool parts gate on the allow lists,
// reasoning and justification gate on their user toggles, everything else
// gates on its category.
func KeepPart(p model.Part, s Settings) bool {
	switch p.Type {
	case model.PartText:
		return p.Text != "" && !p.Synthetic && !p.Ignored
	case model.PartFile:
		return !p.Synthetic && !p.Ignored
	case model.PartTool:
		if !s.AllowedCategories["tool"] {
			return false
		}
		if s.AllowedToolIDs[p.Tool] {
			return true
		}
		return s.AllowUnknownTools && !s.KnownToolIDs[p.Tool]
	case model.PartReasoning:
		return s.ReasoningEnabled && p.Text != ""
	case model.PartJustification:
		return s.JustificationEnabled && p.Text != ""
	default:
		return s.AllowedCategories[string(p.Type)]
	}
}

// Part narrows and applies the lazy-detail policy to a kept part, returning
// the part reduced to its fixed key set.
func Part(p model.Part, s Settings) model.Part {
	out := model.Part{ID: p.ID, Type: p.Type}

	switch p.Type {
	case model.PartText, model.PartReasoning, model.PartJustification:
		out.Text = truncateText(p.Text, s.TruncateAt, isExpanded(p, s))
		out.OcTruncated = p.OcTruncated || len(p.Text) > len(out.Text)
		out.OcLazy = !isExpanded(p, s)
	case model.PartTool:
		out.Tool = p.Tool
		out.State = lazyToolState(p, s)
		out.OcLazy = !isExpanded(p, s)
	case model.PartPatch:
		out.FileCount = countFiles(p.Files)
		if out.FileCount == 0 {
			out.FileCount = p.FileCount
		}
	default:
		out.Text = p.Text
	}

	return out
}

func isExpanded(p model.Part, s Settings) bool {
	if s.ExpandedTypes[string(p.Type)] {
		return true
	}
	if p.Type == model.PartTool && s.ExpandedToolIDs[p.Tool] {
		return true
	}
	return false
}

func truncateText(text string, limit int, expanded bool) string {
	if expanded || limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit]
}

func lazyToolState(p model.Part, s Settings) *model.ToolState {
	if p.State == nil {
		return nil
	}
	st := *p.State
	if !isExpanded(p, s) {
		st.Output = nil
		st.Metadata = nil
		st.Result = nil
		st.Error = nil
	}
	return &st
}

func countFiles(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return 0
	}
	return len(arr)
}

// ToolInputSummary produces the collapsed-row summary for a tool part's
// input: canonical tools get a dedicated field, unknown tools fall back to
// the priority-ordered candidate list.
func ToolInputSummary(toolID string, input map[string]interface{}) string {
	switch toolID {
	case "bash":
		if v, ok := input["command"].(string); ok {
			return firstLine(v)
		}
	case "read", "edit", "write":
		if v, ok := input["filePath"].(string); ok {
			return v
		}
		if v, ok := input["path"].(string); ok {
			return v
		}
	case "glob":
		if v, ok := input["pattern"].(string); ok {
			return v
		}
	case "webfetch":
		if v, ok := input["url"].(string); ok {
			return v
		}
	}

	for _, field := range toolSummaryPriority {
		if v, ok := input[field].(string); ok && v != "" {
			if field == "command" {
				return firstLine(v)
			}
			return v
		}
	}
	return ""
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
