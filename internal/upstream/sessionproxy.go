package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencode-studio/gateway/internal/apperrors"
	"github.com/opencode-studio/gateway/internal/logger"
	"github.com/opencode-studio/gateway/internal/sidebarindex"
)

const worktreeListTimeout = 4 * time.Second

// DirectoryLister supplies the configured workspace directories for the
// session-locate fallback walk.
type DirectoryLister interface {
	Paths() []string
}

// SessionProxy forwards session CRUD/messaging verbs to the upstream
// daemon. Message sends are rewritten onto the async-prompt route and
// deletes additionally tombstone the local index.
type SessionProxy struct {
	client      *Client
	index       *sidebarindex.Index
	attachments *AttachmentCache
	dirs        DirectoryLister
}

// NewSessionProxy wires a SessionProxy.
func NewSessionProxy(client *Client, index *sidebarindex.Index, attachments *AttachmentCache, dirs DirectoryLister) *SessionProxy {
	return &SessionProxy{client: client, index: index, attachments: attachments, dirs: dirs}
}

// ServeGeneric forwards any verb under session/... to the upstream daemon
// unchanged, aside from the specialized rewrites handled by dedicated
// routes registered ahead of this one.
func (p *SessionProxy) ServeGeneric(c *gin.Context) {
	if p.client.Avail.Unavailable() {
		_ = c.Error(apperrors.Restarting())
		return
	}

	path := "/" + strings.TrimPrefix(c.Param("path"), "/")
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, p.client.BaseURL+path+queryString(c), c.Request.Body)
	if err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.CategoryUnknownInternal, "failed to build upstream request", err))
		return
	}
	req.Header = c.Request.Header.Clone()

	resp, err := p.client.Do(req)
	if err != nil {
		_ = c.Error(apperrors.NetworkError(err))
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Status(resp.StatusCode)
	_, _ = io.Copy(c.Writer, resp.Body)
}

type attachmentInput struct {
	ServerPath string `json:"serverPath"`
}

// ServeMessage handles POST session/:id/message: attachments with a
// serverPath are expanded to base64 data: URLs, then the request is
// rewritten to the upstream async-prompt route and answered immediately
// with 202 {queued:true}.
func (p *SessionProxy) ServeMessage(c *gin.Context) {
	sessionID := c.Param("id")

	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(apperrors.BadRequest("invalid message body"))
		return
	}

	if err := p.expandAttachments(body); err != nil {
		_ = c.Error(err)
		return
	}

	// The dispatch outlives this handler's 202, so it cannot ride the
	// request context.
	dispatchCtx, cancel := context.WithTimeout(context.Background(), defaultHTTPTimeout)
	req, err := p.client.NewRequest(dispatchCtx, http.MethodPost, "/session/"+sessionID+"/prompt-async", body)
	if err != nil {
		cancel()
		_ = c.Error(apperrors.Wrap(apperrors.CategoryUnknownInternal, "failed to build upstream request", err))
		return
	}

	go func() {
		defer cancel()
		resp, err := p.client.Do(req)
		if err != nil {
			logger.Upstream().Warn().Err(err).Str("sessionID", sessionID).Msg("async prompt dispatch failed")
			return
		}
		defer resp.Body.Close()
	}()

	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func (p *SessionProxy) expandAttachments(body map[string]interface{}) error {
	workspace, _ := body["directory"].(string)
	if workspace == "" {
		return nil
	}

	parts, ok := body["parts"].([]interface{})
	if !ok {
		return nil
	}
	for _, raw := range parts {
		part, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		serverPath, ok := part["serverPath"].(string)
		if !ok || serverPath == "" {
			continue
		}
		dataURL, err := p.attachments.Expand(workspace, serverPath)
		if err != nil {
			return err
		}
		part["url"] = dataURL
		delete(part, "serverPath")
	}
	return nil
}

// ServeDelete handles DELETE session/:id: on a 2xx upstream reply, the
// directory index records a delete tombstone so the next sidebar snapshot
// diff does not resurrect the entry.
func (p *SessionProxy) ServeDelete(c *gin.Context) {
	if p.client.Avail.Unavailable() {
		_ = c.Error(apperrors.Restarting())
		return
	}

	sessionID := c.Param("id")
	req, err := p.client.NewRequest(c.Request.Context(), http.MethodDelete, "/session/"+sessionID, nil)
	if err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.CategoryUnknownInternal, "failed to build upstream request", err))
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		_ = c.Error(apperrors.NetworkError(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.index.RemoveRecentSessionEntry(sessionID)
	}
	c.Status(resp.StatusCode)
	_, _ = io.Copy(c.Writer, resp.Body)
}

// Locate resolves the directory a session lives under: first the index,
// then each configured directory (and its git worktrees) via an upstream
// existence probe.
func (p *SessionProxy) Locate(ctx context.Context, sessionID string) (string, bool) {
	if s, ok := p.index.GetSummary(sessionID); ok && s.Directory != "" {
		return s.Directory, true
	}

	for _, dir := range p.dirs.Paths() {
		candidates := append([]string{dir}, worktreePaths(ctx, dir)...)
		for _, candidate := range candidates {
			if p.probeSession(ctx, sessionID, candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

func (p *SessionProxy) probeSession(ctx context.Context, sessionID, directory string) bool {
	req, err := p.client.NewRequest(ctx, http.MethodGet, "/session/"+sessionID+"?directory="+url.QueryEscape(directory), nil)
	if err != nil {
		return false
	}
	resp, err := p.client.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// worktreePaths lists the git worktrees registered against directory.
// Porcelain calls get a short timeout so a hung git never stalls a locate.
func worktreePaths(ctx context.Context, directory string) []string {
	ctx, cancel := context.WithTimeout(ctx, worktreeListTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "git", "-C", directory, "worktree", "list", "--porcelain").Output()
	if err != nil {
		return nil
	}

	var paths []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			path := strings.TrimPrefix(line, "worktree ")
			if path != directory {
				paths = append(paths, path)
			}
		}
	}
	return paths
}

// ServeDiff handles GET session/:id/diff: it returns the upstream diff when
// that is non-empty, and otherwise one reconstructed locally from
// message/part metadata, so a reload still shows file changes if the
// upstream diff endpoint is degraded. The two diffs are never combined.
func (p *SessionProxy) ServeDiff(c *gin.Context, reconstruct func(ctx context.Context, sessionID string) (string, error)) {
	sessionID := c.Param("id")

	var upstreamDiff string
	if !p.client.Avail.Unavailable() {
		req, err := p.client.NewRequest(c.Request.Context(), http.MethodGet, "/session/"+sessionID+"/diff", nil)
		if err == nil {
			if resp, err := p.client.Do(req); err == nil {
				defer resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					var payload struct {
						Diff string `json:"diff"`
					}
					if json.NewDecoder(resp.Body).Decode(&payload) == nil {
						upstreamDiff = payload.Diff
					}
				}
			}
		}
	}

	if upstreamDiff != "" {
		c.JSON(http.StatusOK, gin.H{"diff": upstreamDiff, "source": "upstream"})
		return
	}

	reconstructed, err := reconstruct(c.Request.Context(), sessionID)
	if err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.CategoryUnknownInternal, "failed to reconstruct diff", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"diff": reconstructed, "source": "reconstructed"})
}
