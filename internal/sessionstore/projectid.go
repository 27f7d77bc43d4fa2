package sessionstore

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opencode-studio/gateway/internal/logger"
	"github.com/opencode-studio/gateway/internal/pathutil"
)

// ProjectIDResolver resolves a directory to a git-root-derived project id,
// caching results to a file under the data directory.
type ProjectIDResolver struct {
	cachePath string
	mu        sync.Mutex
	cache     map[string]string
}

// NewProjectIDResolver returns a resolver backed by a cache file under
// dataDir.
func NewProjectIDResolver(dataDir string) *ProjectIDResolver {
	r := &ProjectIDResolver{
		cachePath: filepath.Join(dataDir, ".projectid-cache.json"),
		cache:     map[string]string{},
	}
	r.load()
	return r
}

func (r *ProjectIDResolver) load() {
	b, err := os.ReadFile(r.cachePath)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, &r.cache)
}

func (r *ProjectIDResolver) save() {
	b, err := json.Marshal(r.cache)
	if err != nil {
		return
	}
	tmp := r.cachePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, r.cachePath)
}

// Resolve returns the project id for directory: the root commit hash of its
// git history, or "global" for non-git directories. Results are cached by
// normalized directory path.
func (r *ProjectIDResolver) Resolve(ctx context.Context, directory string) string {
	key := pathutil.Normalize(directory)

	r.mu.Lock()
	if id, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return id
	}
	r.mu.Unlock()

	id := r.resolveUncached(ctx, directory)

	r.mu.Lock()
	r.cache[key] = id
	r.save()
	r.mu.Unlock()

	return id
}

func (r *ProjectIDResolver) resolveUncached(ctx context.Context, directory string) string {
	cctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, "git", "-C", directory, "rev-list", "--max-parents=0", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		logger.SessionStore().Debug().Str("directory", directory).Msg("not a git directory, using global project id")
		return "global"
	}

	lines := strings.Fields(string(out))
	if len(lines) == 0 {
		return "global"
	}
	return lines[len(lines)-1]
}
