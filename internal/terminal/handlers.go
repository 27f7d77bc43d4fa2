package terminal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencode-studio/gateway/internal/apperrors"
	"github.com/opencode-studio/gateway/internal/model"
)

const (
	sseHeartbeatEvery = 15 * time.Second
	sseRecvTimeout    = 25 * time.Second

	defaultCols = 80
	defaultRows = 24
)

// Handlers exposes the terminal HTTP surface.
type Handlers struct {
	mgr *Manager
}

// NewHandlers wires the terminal route handlers to mgr.
func NewHandlers(mgr *Manager) *Handlers {
	return &Handlers{mgr: mgr}
}

// RegisterRoutes mounts the terminal endpoints under router.
func (h *Handlers) RegisterRoutes(router gin.IRouter) {
	router.POST("/terminal", h.Create)
	router.GET("/terminal/:id", h.Info)
	router.DELETE("/terminal/:id", h.Delete)
	router.POST("/terminal/:id/resize", h.Resize)
	router.POST("/terminal/:id/input", h.Input)
	router.GET("/terminal/:id/stream", h.Stream)
	router.POST("/terminal/:id/restart", h.Restart)
}

type createRequest struct {
	Cwd  string `json:"cwd" binding:"required"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// Create handles POST terminal.
func (h *Handlers) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest("cwd is required"))
		return
	}
	if req.Cols <= 0 {
		req.Cols = defaultCols
	}
	if req.Rows <= 0 {
		req.Rows = defaultRows
	}

	sess, err := h.mgr.Create(c.Request.Context(), req.Cwd, req.Cols, req.Rows)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, sessionInfo(sess))
}

func sessionInfo(sess *Session) model.TerminalSession {
	cols, rows := sess.Size()
	return model.TerminalSession{
		ID: sess.ID, Cwd: sess.Cwd, Cols: cols, Rows: rows,
		Backend:      sess.Backend,
		LastActivity: sess.LastActivity().UnixMilli(),
	}
}

// Info handles GET terminal/:id.
func (h *Handlers) Info(c *gin.Context) {
	sess, ok := h.mgr.Get(c.Request.Context(), c.Param("id"))
	if !ok {
		_ = c.Error(apperrors.NotFound("terminal session"))
		return
	}
	c.JSON(http.StatusOK, sessionInfo(sess))
}

// Delete handles DELETE terminal/:id.
func (h *Handlers) Delete(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.mgr.Get(c.Request.Context(), id); !ok {
		_ = c.Error(apperrors.NotFound("terminal session"))
		return
	}
	h.mgr.Remove(id)
	c.Status(http.StatusNoContent)
}

type resizeRequest struct {
	Cols int `json:"cols" binding:"required"`
	Rows int `json:"rows" binding:"required"`
}

// Resize handles POST terminal/:id/resize.
func (h *Handlers) Resize(c *gin.Context) {
	sess, ok := h.mgr.Get(c.Request.Context(), c.Param("id"))
	if !ok {
		_ = c.Error(apperrors.NotFound("terminal session"))
		return
	}
	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest("cols and rows are required"))
		return
	}
	if err := sess.Resize(req.Cols, req.Rows); err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.CategoryUnknownInternal, "failed to resize terminal", err))
		return
	}
	c.Status(http.StatusNoContent)
}

type inputRequest struct {
	Data string `json:"data" binding:"required"`
}

// Input handles POST terminal/:id/input.
func (h *Handlers) Input(c *gin.Context) {
	sess, ok := h.mgr.Get(c.Request.Context(), c.Param("id"))
	if !ok {
		_ = c.Error(apperrors.NotFound("terminal session"))
		return
	}
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest("data is required"))
		return
	}
	if err := sess.Write([]byte(req.Data)); err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.CategoryUnknownInternal, "failed to write to terminal", err))
		return
	}
	c.Status(http.StatusNoContent)
}

// Restart handles POST terminal/:id/restart: kill and forget the old
// session, then create a fresh one bound to the same cwd/size.
func (h *Handlers) Restart(c *gin.Context) {
	id := c.Param("id")
	sess, ok := h.mgr.Get(c.Request.Context(), id)
	if !ok {
		_ = c.Error(apperrors.NotFound("terminal session"))
		return
	}
	cwd := sess.Cwd
	cols, rows := sess.Size()
	h.mgr.Remove(id)

	fresh, err := h.mgr.Create(c.Request.Context(), cwd, cols, rows)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, sessionInfo(fresh))
}

// Stream handles GET terminal/:id/stream (SSE), replaying retained history
// from the larger of the since query param or Last-Event-ID, then live
// chunks, emitting a resync control event first when that cursor is older
// than the oldest retained sequence.
func (h *Handlers) Stream(c *gin.Context) {
	sess, ok := h.mgr.Get(c.Request.Context(), c.Param("id"))
	if !ok {
		_ = c.Error(apperrors.NotFound("terminal session"))
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		_ = c.Error(apperrors.Internal("streaming unsupported"))
		return
	}

	since := sinceCursor(c)
	subID, sub := sess.subscribe()
	defer sess.unsubscribe(subID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	oldest := sess.oldestRetainedSeq()
	if since > 0 && since+1 < oldest {
		writeResync(c, oldest, sess)
	}
	lastSent := since
	for _, chunk := range sess.replayFrom(since) {
		writeDataChunk(c, chunk)
		lastSent = chunk.seq
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatEvery)
	defer heartbeat.Stop()
	idle := time.NewTimer(sseRecvTimeout)
	defer idle.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case chunk := <-sub.data:
			// Chunks published between subscribe and the history snapshot
			// were already replayed.
			if chunk.seq <= lastSent {
				continue
			}
			writeDataChunk(c, chunk)
			lastSent = chunk.seq
			flusher.Flush()
			idle.Reset(sseRecvTimeout)
		case ev := <-sub.exit:
			payload, _ := json.Marshal(gin.H{"exitCode": ev.code, "signal": ev.signal})
			fmt.Fprintf(c.Writer, "event: exit\ndata: %s\n\n", payload)
			flusher.Flush()
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		case <-idle.C:
			fmt.Fprint(c.Writer, ": idle\n\n")
			flusher.Flush()
			idle.Reset(sseRecvTimeout)
		case <-sess.Done():
			return
		}
	}
}

func sinceCursor(c *gin.Context) int64 {
	var since int64
	if v := c.Query("since"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = n
		}
	}
	if v := c.GetHeader("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > since {
			since = n
		}
	}
	return since
}

func writeResync(c *gin.Context, oldest int64, sess *Session) {
	lastSeq := oldest
	if replay := sess.replayFrom(oldest); len(replay) > 0 {
		lastSeq = replay[len(replay)-1].seq
	}
	payload, _ := json.Marshal(gin.H{"reason": "history_miss", "firstAvailableSeq": oldest, "lastSeq": lastSeq})
	fmt.Fprintf(c.Writer, "event: resync\ndata: %s\n\n", payload)
}

func writeDataChunk(c *gin.Context, chunk historyChunk) {
	payload, _ := json.Marshal(gin.H{"seq": chunk.seq, "chunk": string(chunk.data)})
	fmt.Fprintf(c.Writer, "id: %d\nevent: data\ndata: %s\n\n", chunk.seq, payload)
}
