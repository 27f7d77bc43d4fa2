package sidebar

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencode-studio/gateway/internal/model"
	"github.com/opencode-studio/gateway/internal/pathutil"
)

// DirectoryStore persists the configured workspace directories to a JSON
// file, atomic-rename-on-write, mirroring the registry persistence idiom
// the terminal manager uses for its own sessions.json.
type DirectoryStore struct {
	path string
	mu   sync.Mutex
	byID map[string]model.DirectoryEntry
}

// NewDirectoryStore loads (or initializes) the directory list under
// dataDir.
func NewDirectoryStore(dataDir string) *DirectoryStore {
	s := &DirectoryStore{
		path: filepath.Join(dataDir, "directories.json"),
		byID: map[string]model.DirectoryEntry{},
	}
	s.load()
	return s
}

func (s *DirectoryStore) load() {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var entries []model.DirectoryEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return
	}
	for _, e := range entries {
		s.byID[e.ID] = e
	}
}

func (s *DirectoryStore) save() {
	entries := s.list()
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(s.path), 0o755)
	_ = os.Rename(tmp, s.path)
}

func (s *DirectoryStore) list() []model.DirectoryEntry {
	out := make([]model.DirectoryEntry, 0, len(s.byID))
	for _, e := range s.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt < out[j].AddedAt })
	return out
}

// List returns the configured directories sorted by AddedAt.
func (s *DirectoryStore) List() []model.DirectoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

// Paths returns the configured directory paths, satisfying
// upstream.DirectoryLister for the session-locate fallback walk.
func (s *DirectoryStore) Paths() []string {
	entries := s.List()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

// Add registers a new directory path, returning its entry. Re-adding an
// already-configured path (after normalization) returns the existing entry.
func (s *DirectoryStore) Add(path string) model.DirectoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	norm := pathutil.Normalize(path)
	for _, e := range s.byID {
		if pathutil.Equal(e.Path, norm) {
			return e
		}
	}

	entry := model.DirectoryEntry{
		ID:      uuid.NewString(),
		Path:    path,
		AddedAt: time.Now().UnixMilli(),
	}
	s.byID[entry.ID] = entry
	s.save()
	return entry
}

// TouchOpened updates LastOpenedAt for id.
func (s *DirectoryStore) TouchOpened(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byID[id]; ok {
		e.LastOpenedAt = time.Now().UnixMilli()
		s.byID[id] = e
		s.save()
	}
}

// Remove deletes id from the configured directories.
func (s *DirectoryStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	s.save()
}

// Filter returns directories whose id or path contains query as a
// case-insensitive substring, paged by offset/limit.
func (s *DirectoryStore) Filter(query string, offset, limit int) ([]model.DirectoryEntry, int) {
	all := s.List()
	if query != "" {
		q := strings.ToLower(query)
		filtered := all[:0:0]
		for _, e := range all {
			if strings.Contains(strings.ToLower(e.ID), q) || strings.Contains(strings.ToLower(e.Path), q) {
				filtered = append(filtered, e)
			}
		}
		all = filtered
	}
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total
}
