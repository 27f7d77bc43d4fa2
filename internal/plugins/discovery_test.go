package plugins

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencode-studio/gateway/internal/model"
)

func writePluginDir(t *testing.T, root, manifestJSON string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "studio.manifest.json"), []byte(manifestJSON), 0o644))
}

func TestDiscoverResolvesFileSpec(t *testing.T) {
	cwd := t.TempDir()
	pluginRoot := filepath.Join(cwd, "my-plugin")
	writePluginDir(t, pluginRoot, `{"displayName":"My Plugin","bridge":"./bridge.js"}`)

	d := NewDiscoverer(cwd)
	records, manifests := d.Discover(context.Background(), []string{"file:my-plugin"})

	require.Len(t, records, 1)
	for id, rec := range records {
		require.Equal(t, model.PluginReady, rec.Status)
		require.Equal(t, "My Plugin", rec.DisplayName)
		require.NotNil(t, manifests[id])
	}
}

func TestDiscoverMarksManifestMissing(t *testing.T) {
	cwd := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cwd, "empty-plugin"), 0o755))

	d := NewDiscoverer(cwd)
	records, _ := d.Discover(context.Background(), []string{"file:empty-plugin"})

	require.Len(t, records, 1)
	for _, rec := range records {
		require.Equal(t, model.PluginManifestMissing, rec.Status)
	}
}

func TestDiscoverRenamesCollidingIDs(t *testing.T) {
	cwd := t.TempDir()
	writePluginDir(t, filepath.Join(cwd, "dup", "a"), `{"displayName":"A"}`)
	writePluginDir(t, filepath.Join(cwd, "dup", "b"), `{"displayName":"B"}`)

	used := map[string]bool{}
	first := uniqueID(used, "dup")
	used[first] = true
	second := uniqueID(used, "dup")

	require.Equal(t, "dup", first)
	require.Equal(t, "dup-2", second)

	records, _ := NewDiscoverer(cwd).Discover(context.Background(), []string{"dup@file:dup/a", "dup@file:dup/b"})
	require.Contains(t, records, "dup")
	require.Contains(t, records, "dup-2")
}

func TestResolveRootPathLike(t *testing.T) {
	cwd := t.TempDir()
	d := NewDiscoverer(cwd)
	root, hint, err := d.resolveRoot("./plugins/foo")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cwd, "plugins/foo"), root)
	require.Empty(t, hint)
}
