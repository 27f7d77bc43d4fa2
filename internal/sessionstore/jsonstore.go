package sessionstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/opencode-studio/gateway/internal/concurrency"
	"github.com/opencode-studio/gateway/internal/logger"
	"github.com/opencode-studio/gateway/internal/model"
)

// jsonSessionFile is the on-disk shape of
// storage/session/<project_id>/<id>.json.
type jsonSessionFile struct {
	ID              string `json:"id"`
	ParentID        string `json:"parentID"`
	Directory       string `json:"directory"`
	Title           string `json:"title"`
	Slug            string `json:"slug"`
	Time            struct {
		Created int64 `json:"created"`
		Updated int64 `json:"updated"`
	} `json:"time"`
	Share struct {
		URL string `json:"url"`
	} `json:"share"`
	Revert struct {
		MessageID string `json:"messageID"`
		Diff      string `json:"diff"`
	} `json:"revert"`
}

// LastKnownGood resolves a previously observed, already-narrowed session
// summary by id, used by the JSON fallback reader when a file fails to
// parse mid-write (typically backed by the directory session index).
type LastKnownGood interface {
	GetSessionSummary(id string) (model.SessionSummary, bool)
}

// scanProjectBucket concurrently parses every *.json file under
// <dataDir>/storage/session/<projectID>/, bounding in-flight file reads at
// jsonScanConcurrency.
func (s *Store) scanProjectBucket(projectID string, lkg LastKnownGood) ([]rawSession, Consistency) {
	dir := filepath.Join(s.dataDir, "storage", "session", projectID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, Consistency{}
	}

	var (
		mu      sync.Mutex
		results []rawSession
		cons    Consistency
	)

	limiter := concurrency.NewLimiter(s.ctx(), jsonScanConcurrency)
	for _, entry := range entries {
		entry := entry
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		limiter.Go(func() error {
			raw, c, ok := s.parseSessionFile(filepath.Join(dir, entry.Name()), lkg)
			mu.Lock()
			defer mu.Unlock()
			cons.merge(c)
			if ok {
				results = append(results, raw)
			}
			return nil
		})
	}
	_ = limiter.Wait()

	return results, cons
}

const jsonScanConcurrency = 12

func (s *Store) parseSessionFile(path string, lkg LastKnownGood) (rawSession, Consistency, bool) {
	id := trimJSONExt(filepath.Base(path))

	b, err := os.ReadFile(path)
	if err != nil {
		return s.recoverParseFailure(id, lkg, Consistency{TransientSkips: 1})
	}

	var f jsonSessionFile
	if err := json.Unmarshal(b, &f); err != nil {
		logger.SessionStore().Warn().Str("path", path).Err(err).Msg("failed to parse session file")
		return s.recoverParseFailure(id, lkg, Consistency{ParseSkips: 1})
	}

	return rawSession{
		ID:              f.ID,
		ParentID:        f.ParentID,
		Directory:       f.Directory,
		Title:           f.Title,
		Slug:            f.Slug,
		Created:         f.Time.Created,
		Updated:         f.Time.Updated,
		ShareURL:        f.Share.URL,
		RevertMessageID: f.Revert.MessageID,
		RevertDiff:      f.Revert.Diff,
	}, Consistency{}, true
}

func (s *Store) recoverParseFailure(id string, lkg LastKnownGood, onFailure Consistency) (rawSession, Consistency, bool) {
	if lkg != nil {
		if summary, ok := lkg.GetSessionSummary(id); ok {
			raw := rawSession{
				ID: summary.ID, ParentID: summary.ParentID, Directory: summary.Directory,
				Title: summary.Title, Slug: summary.Slug,
				Created: summary.Time.Created, Updated: summary.Time.Updated,
			}
			if summary.Share != nil {
				raw.ShareURL = summary.Share.URL
			}
			if summary.Revert != nil {
				raw.RevertMessageID = summary.Revert.MessageID
				raw.RevertDiff = summary.Revert.Diff
			}
			return raw, Consistency{StaleReads: 1}, true
		}
	}
	return rawSession{}, onFailure, false
}

func trimJSONExt(name string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}
