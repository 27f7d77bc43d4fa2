package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencode-studio/gateway/internal/apperrors"
	"github.com/opencode-studio/gateway/internal/logger"
	"github.com/opencode-studio/gateway/internal/model"
	"github.com/opencode-studio/gateway/internal/pathutil"
)

const (
	eventsPollMin     = 250 * time.Millisecond
	eventsPollMax     = 5 * time.Second
	eventsPollDefault = 1200 * time.Millisecond
)

// Handlers exposes the plugin HTTP surface.
type Handlers struct {
	reg *Registry
}

// NewHandlers wires the plugin route handlers to reg.
func NewHandlers(reg *Registry) *Handlers {
	return &Handlers{reg: reg}
}

// RegisterRoutes mounts the plugin endpoints under router.
func (h *Handlers) RegisterRoutes(router gin.IRouter) {
	router.GET("/plugins", h.List)
	router.GET("/plugins/:id/manifest", h.Manifest)
	router.POST("/plugins/:id/action", h.Action)
	router.GET("/plugins/:id/events", h.Events)
	router.GET("/plugins/:id/assets/*path", h.Assets)
}

// List handles GET plugins.
func (h *Handlers) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plugins": h.reg.List()})
}

// Manifest handles GET plugins/:id/manifest.
func (h *Handlers) Manifest(c *gin.Context) {
	rec, _, ok := h.reg.Get(c.Param("id"))
	if !ok {
		_ = c.Error(apperrors.NotFound("plugin"))
		return
	}
	c.JSON(http.StatusOK, rec)
}

type actionRequest struct {
	Action  string                 `json:"action"`
	Payload map[string]interface{} `json:"payload"`
	Context map[string]interface{} `json:"context"`
}

// Action handles POST plugins/:id/action.
func (h *Handlers) Action(c *gin.Context) {
	id := c.Param("id")
	rec, manifest, ok := h.reg.Get(id)
	if !ok {
		_ = c.Error(apperrors.NotFound("plugin"))
		return
	}
	if manifest == nil || manifest.Bridge == nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "code": "invalid_bridge_config", "error": "plugin has no bridge configured"})
		return
	}

	var req actionRequest
	_ = c.ShouldBindJSON(&req)
	action := req.Action
	if action == "" {
		action = c.Query("action")
	}

	result, bridgeErr := Invoke(c.Request.Context(), id, rec.Spec, rec.RootPath, rec.ManifestPath, manifest.Bridge, action, req.Payload, req.Context)
	if bridgeErr != nil {
		c.JSON(bridgeErr.Status, gin.H{
			"ok": false, "code": bridgeErr.Code, "error": bridgeErr.Message,
			"stdout": bridgeErr.Stdout, "stderr": bridgeErr.Stderr,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Events handles GET plugins/:id/events (SSE), polling events.poll via the
// bridge on an interval clamped to [250ms, 5s] and relaying each returned
// event as its own SSE message. Bridge failures emit plugin.error without
// closing the stream.
func (h *Handlers) Events(c *gin.Context) {
	id := c.Param("id")
	rec, manifest, ok := h.reg.Get(id)
	if !ok {
		_ = c.Error(apperrors.NotFound("plugin"))
		return
	}
	if manifest == nil || !manifest.hasCapability("events") {
		_ = c.Error(apperrors.Forbidden("plugin does not declare the events capability"))
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		_ = c.Error(apperrors.Internal("streaming unsupported"))
		return
	}

	interval := eventsPollDefault
	if v := c.Query("intervalMs"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			interval = clampDuration(time.Duration(ms)*time.Millisecond, eventsPollMin, eventsPollMax)
		}
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	cursor := c.Query("cursor")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			events, next, err := pollEvents(c.Request.Context(), id, rec, manifest, cursor)
			if err != nil {
				logger.Plugins().Warn().Str("pluginID", id).Err(err).Msg("plugin event poll failed")
				fmt.Fprintf(c.Writer, "event: plugin.error\ndata: %s\n\n", mustJSON(gin.H{"error": err.Error()}))
				flusher.Flush()
				continue
			}
			if len(events) == 0 {
				fmt.Fprint(c.Writer, "event: heartbeat\ndata: {}\n\n")
				flusher.Flush()
				continue
			}
			cursor = next
			for _, ev := range events {
				if id, ok := ev["id"].(string); ok && id != "" {
					fmt.Fprintf(c.Writer, "event: %s\nid: %s\ndata: %s\n\n", eventName(ev), id, mustJSON(ev))
				} else {
					fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventName(ev), mustJSON(ev))
				}
			}
			flusher.Flush()
		}
	}
}

func eventName(ev map[string]interface{}) string {
	if t, ok := ev["event"].(string); ok && t != "" {
		return t
	}
	if t, ok := ev["type"].(string); ok && t != "" {
		return t
	}
	return "plugin.event"
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

func pollEvents(ctx context.Context, id string, rec model.PluginRecord, manifest *Manifest, cursor string) ([]map[string]interface{}, string, error) {
	result, bridgeErr := Invoke(ctx, id, rec.Spec, rec.RootPath, rec.ManifestPath, manifest.Bridge, "events.poll", map[string]interface{}{"cursor": cursor}, nil)
	if bridgeErr != nil {
		return nil, cursor, bridgeErr
	}
	if data, ok := result["data"].(map[string]interface{}); ok {
		result = data
	}
	events, _ := result["events"].([]interface{})
	out := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		if m, ok := e.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	next := cursor
	if n, ok := result["cursor"].(string); ok && n != "" {
		next = n
	}
	return out, next, nil
}

var contentTypeByExt = map[string]string{
	".js":   "application/javascript; charset=utf-8",
	".mjs":  "application/javascript; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".woff": "font/woff",
	".woff2": "font/woff2",
	".map":  "application/json; charset=utf-8",
}

// Assets handles GET plugins/:id/assets/*path, rejecting traversal and
// serving from the manifest-declared asset root.
func (h *Handlers) Assets(c *gin.Context) {
	rec, manifest, ok := h.reg.Get(c.Param("id"))
	if !ok {
		_ = c.Error(apperrors.NotFound("plugin"))
		return
	}

	assetRoot := resolveAssetRoot(rec.RootPath, manifest)
	rel := c.Param("path")

	full, ok := pathutil.SafeJoin(assetRoot, rel)
	if !ok {
		_ = c.Error(apperrors.Forbidden("asset path escapes plugin root"))
		return
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		_ = c.Error(apperrors.NotFound("asset"))
		return
	}

	ext := filepath.Ext(full)
	ctype, ok := contentTypeByExt[ext]
	if !ok {
		ctype = mime.TypeByExtension(ext)
	}
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	c.Header("Content-Type", ctype)
	c.File(full)
}

func resolveAssetRoot(rootPath string, manifest *Manifest) string {
	if manifest == nil || manifest.UI == nil {
		return filepath.Join(rootPath, "dist")
	}
	if manifest.UI.AssetsDir != "" {
		return filepath.Join(rootPath, manifest.UI.AssetsDir)
	}
	if manifest.UI.Entry != "" {
		return filepath.Join(rootPath, filepath.Dir(manifest.UI.Entry))
	}
	return filepath.Join(rootPath, "dist")
}
