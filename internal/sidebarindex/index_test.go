package sidebarindex

import (
	"testing"

	"github.com/opencode-studio/gateway/internal/model"
)

func TestUpsertAndTombstone(t *testing.T) {
	idx := New()
	idx.UpsertSummary(model.SessionSummary{ID: "s1", Directory: "/a", Title: "one", Time: model.TimeInfo{Updated: 10}})

	if _, ok := idx.GetSummary("s1"); !ok {
		t.Fatal("expected s1 to be indexed")
	}

	idx.RemoveRecentSessionEntry("s1")
	if _, ok := idx.GetSummary("s1"); ok {
		t.Fatal("expected s1 to be removed")
	}
	if !idx.IsRecentlyDeleted("s1") {
		t.Fatal("expected s1 to be tombstoned")
	}
}

func TestRecentSessionsSnapshotOrder(t *testing.T) {
	idx := New()
	idx.ReplaceDirectoryMappings([]model.DirectoryEntry{{ID: "dir1", Path: "/a"}})
	idx.UpsertSummary(model.SessionSummary{ID: "s1", Directory: "/a", Time: model.TimeInfo{Updated: 10}})
	idx.UpsertSummary(model.SessionSummary{ID: "s2", Directory: "/a", Time: model.TimeInfo{Updated: 20}})

	snap := idx.RecentSessionsSnapshot()
	if len(snap) != 2 || snap[0].SessionID != "s2" || snap[0].DirectoryID != "dir1" {
		t.Fatalf("unexpected snapshot order: %+v", snap)
	}
}
