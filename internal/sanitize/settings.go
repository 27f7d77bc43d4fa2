// Package sanitize implements the whitelist-based response sanitizer shared
// by the session store reader and the upstream event proxy: schema-narrowing
// for sessions, messages, parts, and events, plus the lazy-detail and
// tool-input-summarization policies.
package sanitize

// Settings carries the user-controlled toggles that drive sanitization
// decisions: which part categories are allowed, which tool ids are always
// kept in full, and which part types/tool ids are in the "expanded" set
// exempt from lazy-detail truncation.
type Settings struct {
	AllowedCategories    map[string]bool
	AllowUnknownTools    bool
	AllowedToolIDs       map[string]bool
	KnownToolIDs         map[string]bool
	ReasoningEnabled     bool
	JustificationEnabled bool
	ExpandedTypes        map[string]bool
	ExpandedToolIDs      map[string]bool
	TruncateAt           int
}

// DefaultSettings returns a permissive default: every category allowed,
// unknown tools allowed, nothing expanded, so lazy-detail truncation
// applies everywhere until a caller overrides the expanded sets.
func DefaultSettings() Settings {
	return Settings{
		AllowedCategories: map[string]bool{
			"text": true, "file": true, "tool": true, "reasoning": true,
			"justification": true, "step-start": true, "step-finish": true,
			"snapshot": true, "patch": true, "agent": true, "retry": true,
			"compaction": true,
		},
		AllowUnknownTools:    true,
		AllowedToolIDs:       map[string]bool{},
		KnownToolIDs: map[string]bool{
			"bash": true, "read": true, "edit": true, "write": true,
			"glob": true, "grep": true, "webfetch": true, "task": true,
			"todowrite": true, "todoread": true, "patch": true,
		},
		ReasoningEnabled:     true,
		JustificationEnabled: true,
		ExpandedTypes:        map[string]bool{},
		ExpandedToolIDs:      map[string]bool{},
		TruncateAt:           256,
	}
}
