package sessionstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencode-studio/gateway/internal/model"
)

func writeMessage(t *testing.T, dataDir, sessionID string, msg model.Message) {
	t.Helper()
	dir := filepath.Join(dataDir, "storage", "message", sessionID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, msg.Info.ID+".json"), b, 0o644))
}

func writePatchPart(t *testing.T, dataDir, messageID, partID string, files []patchFile) {
	t.Helper()
	dir := filepath.Join(dataDir, "storage", "part", messageID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	raw, err := json.Marshal(files)
	require.NoError(t, err)
	part := model.Part{ID: partID, Type: model.PartPatch, Files: raw}
	b, err := json.Marshal(part)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, partID+".json"), b, 0o644))
}

func TestReconstructDiffPrefersLastSeenHeaderPerPath(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, nil, nil)

	writeMessage(t, dir, "s1", model.Message{Info: model.MessageInfo{ID: "m1", SessionID: "s1", Time: model.TimeInfo{Created: 1}}})
	writePatchPart(t, dir, "m1", "p1", []patchFile{{Path: "a.go", Diff: "--- a/a.go\n+++ b/a.go\n@@ old\n"}})

	writeMessage(t, dir, "s1", model.Message{Info: model.MessageInfo{ID: "m2", SessionID: "s1", Time: model.TimeInfo{Created: 2}}})
	writePatchPart(t, dir, "m2", "p2", []patchFile{{Path: "a.go", Diff: "--- a/a.go\n+++ b/a.go\n@@ new\n"}})

	out, err := store.ReconstructDiff(context.Background(), "s1")
	require.NoError(t, err)
	require.Contains(t, out, "@@ new")
	require.NotContains(t, out, "@@ old")
}

func TestReconstructDiffOrdersMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, nil, nil)

	writeMessage(t, dir, "s1", model.Message{Info: model.MessageInfo{ID: "m1", SessionID: "s1", Time: model.TimeInfo{Created: 1}}})
	writePatchPart(t, dir, "m1", "p1", []patchFile{
		{Path: "z.go", Diff: "diff --git a/z.go b/z.go\n"},
		{Path: "a.go", Diff: "diff --git a/a.go b/a.go\n"},
	})

	out, err := store.ReconstructDiff(context.Background(), "s1")
	require.NoError(t, err)
	require.Less(t, indexOf(out, "a.go"), indexOf(out, "z.go"))
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
