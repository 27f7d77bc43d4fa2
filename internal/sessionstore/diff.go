package sessionstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/opencode-studio/gateway/internal/model"
)

type patchFile struct {
	Path string `json:"path"`
	Diff string `json:"diff"`
}

// ReconstructDiff rebuilds a unified diff for a session from the raw (not
// sanitizer-narrowed) patch parts of its messages, ordered chronologically,
// used to fill in when the upstream diff endpoint is unavailable or
// degraded.
func (s *Store) ReconstructDiff(ctx context.Context, sessionID string) (string, error) {
	msgs, _ := s.loadMessages(ctx, sessionID)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Info.Time.Created < msgs[j].Info.Time.Created
	})

	latestBySFile := map[string]string{}
	var order []string

	for _, m := range msgs {
		for _, part := range m.Parts {
			if part.Type != model.PartPatch || len(part.Files) == 0 {
				continue
			}
			var files []patchFile
			if err := json.Unmarshal(part.Files, &files); err != nil {
				continue
			}
			for _, f := range files {
				if _, seen := latestBySFile[f.Path]; !seen {
					order = append(order, f.Path)
				}
				latestBySFile[f.Path] = f.Diff
			}
		}
	}

	sort.Strings(order)
	var b strings.Builder
	for _, path := range order {
		b.WriteString(latestBySFile[path])
		if !strings.HasSuffix(latestBySFile[path], "\n") {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
