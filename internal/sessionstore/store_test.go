package sessionstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSessionFile(t *testing.T, dataDir, projectID string, f jsonSessionFile) {
	t.Helper()
	dir := filepath.Join(dataDir, "storage", "session", projectID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	b, err := json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, f.ID+".json"), b, 0o644))
}

func TestListFlatSortAndPage(t *testing.T) {
	dir := t.TempDir()
	writeSessionFile(t, dir, "global", jsonSessionFile{ID: "a", Directory: "/work", Title: "A", Time: struct {
		Created int64 `json:"created"`
		Updated int64 `json:"updated"`
	}{Created: 1, Updated: 100}})
	writeSessionFile(t, dir, "global", jsonSessionFile{ID: "b", Directory: "/work", Title: "B", Time: struct {
		Created int64 `json:"created"`
		Updated int64 `json:"updated"`
	}{Created: 1, Updated: 50}})

	store := New(dir, nil, nil)
	res, err := store.List(context.Background(), Query{Directory: "/work", Offset: 0, Limit: 10, IncludeTotal: true})
	require.NoError(t, err)
	require.Len(t, res.Sessions, 2)
	require.Equal(t, "a", res.Sessions[0].ID)
	require.Equal(t, "b", res.Sessions[1].ID)
	require.Equal(t, 2, res.Total)
}

func TestListRootsWithChildren(t *testing.T) {
	dir := t.TempDir()
	mk := func(id, parent string, updated int64) jsonSessionFile {
		return jsonSessionFile{ID: id, ParentID: parent, Directory: "/work", Title: id, Time: struct {
			Created int64 `json:"created"`
			Updated int64 `json:"updated"`
		}{Created: updated, Updated: updated}}
	}
	writeSessionFile(t, dir, "global", mk("root1", "", 200))
	writeSessionFile(t, dir, "global", mk("child1", "root1", 150))
	writeSessionFile(t, dir, "global", mk("root2", "", 100))

	store := New(dir, nil, nil)
	res, err := store.List(context.Background(), Query{
		Directory: "/work", Roots: true, IncludeChildren: true, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, res.Sessions, 3)
	require.Equal(t, "root1", res.Sessions[0].ID)
	require.Equal(t, "child1", res.Sessions[1].ID)
	require.Equal(t, "root2", res.Sessions[2].ID)
}

func TestListRejectsBadLimit(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, nil, nil)
	_, err := store.List(context.Background(), Query{Offset: 0, Limit: 0})
	require.Error(t, err)
	_, err = store.List(context.Background(), Query{Offset: 0, Limit: -1})
	require.Error(t, err)
	_, err = store.List(context.Background(), Query{Offset: -1, Limit: 5})
	require.Error(t, err)
}
