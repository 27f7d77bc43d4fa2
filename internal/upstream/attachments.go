package upstream

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/opencode-studio/gateway/internal/apperrors"
	"github.com/opencode-studio/gateway/internal/pathutil"
)

const attachmentMaxBytes = 50 * 1024 * 1024

type cachedAttachment struct {
	dataURL string
	size    int64
}

// AttachmentCache expands a session-message attachment's serverPath into a
// base64 data: URL, enforcing workspace containment, rejecting traversal,
// and capping payload size. Results are memoized by a content-address key
// (workspace + serverPath + file size + mtime), so repeated expansions of an
// unmodified file skip the base64 re-encode.
type AttachmentCache struct {
	mu      sync.Mutex
	entries map[string]cachedAttachment
}

// NewAttachmentCache returns an empty cache.
func NewAttachmentCache() *AttachmentCache {
	return &AttachmentCache{entries: map[string]cachedAttachment{}}
}

// Expand resolves serverPath under workspaceRoot and returns a base64
// data: URL for its contents, or an *apperrors.AppError describing why it
// was rejected.
func (c *AttachmentCache) Expand(workspaceRoot, serverPath string) (string, error) {
	abs, ok := pathutil.SafeJoin(workspaceRoot, serverPath)
	if !ok {
		return "", apperrors.BadRequest("attachment path escapes workspace").WithCode("attachment_traversal")
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", apperrors.NotFound("attachment file")
	}
	if info.IsDir() {
		return "", apperrors.BadRequest("attachment path is a directory")
	}
	if info.Size() > attachmentMaxBytes {
		return "", apperrors.PayloadTooLarge(fmt.Sprintf("attachment exceeds %d bytes", attachmentMaxBytes))
	}

	key := cacheKey(abs, info.Size(), info.ModTime().UnixNano())

	c.mu.Lock()
	if cached, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return cached.dataURL, nil
	}
	c.mu.Unlock()

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CategoryUnknownInternal, "failed to read attachment", err)
	}
	if int64(len(data)) > attachmentMaxBytes {
		return "", apperrors.PayloadTooLarge(fmt.Sprintf("attachment exceeds %d bytes", attachmentMaxBytes))
	}

	contentType := mime.TypeByExtension(filepath.Ext(abs))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))

	c.mu.Lock()
	c.entries[key] = cachedAttachment{dataURL: dataURL, size: info.Size()}
	c.mu.Unlock()

	return dataURL, nil
}

func cacheKey(abs string, size, mtimeNano int64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d:%d", abs, size, mtimeNano)
	return hex.EncodeToString(h.Sum(nil))
}
