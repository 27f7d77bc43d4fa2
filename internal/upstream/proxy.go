package upstream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencode-studio/gateway/internal/apperrors"
	"github.com/opencode-studio/gateway/internal/logger"
	"github.com/opencode-studio/gateway/internal/sanitize"
	"github.com/opencode-studio/gateway/internal/sidebarindex"
)

const sseHeartbeatEvery = 15 * time.Second

// EventProxy is the per-client SSE tee pipeline: read the upstream event
// stream, sanitize each block, derive activity, and forward a narrowed copy
// to the client.
type EventProxy struct {
	client   *Client
	index    *sidebarindex.Index
	activity *ActivityManager
	settings func() sanitize.Settings
}

// NewEventProxy wires an EventProxy. settings is invoked per-block so that
// changes to detail policy take effect without restarting active streams.
func NewEventProxy(client *Client, index *sidebarindex.Index, activity *ActivityManager, settings func() sanitize.Settings) *EventProxy {
	return &EventProxy{client: client, index: index, activity: activity, settings: settings}
}

// ServeEvents handles GET event (SSE).
func (p *EventProxy) ServeEvents(c *gin.Context) {
	if p.client.Avail.Unavailable() {
		_ = c.Error(apperrors.Restarting())
		return
	}

	ctx := c.Request.Context()
	req, err := p.client.NewRequest(ctx, http.MethodGet, "/event"+queryString(c), nil)
	if err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.CategoryUnknownInternal, "failed to build upstream request", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastID := c.GetHeader("Last-Event-ID"); lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}

	resp, err := p.client.DoStream(req)
	if err != nil {
		_ = c.Error(apperrors.NetworkError(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.Status(resp.StatusCode)
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}

	blocks := make(chan string)
	readErr := make(chan error, 1)
	go readBlocks(resp.Body, blocks, readErr)

	heartbeat := time.NewTicker(sseHeartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-readErr:
			if ok && err != nil && err != io.EOF {
				logger.Upstream().Warn().Err(err).Msg("upstream event stream read failed")
			}
			return
		case block, ok := <-blocks:
			if !ok {
				return
			}
			heartbeat.Reset(sseHeartbeatEvery)
			p.handleBlock(w, block)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, "event: heartbeat\ndata: {}\n\n")
			flusher.Flush()
		}
	}
}

// readBlocks reads body, normalizes CRLF to LF, and emits \n\n-delimited
// blocks on out. It closes out and reports the terminal error (io.EOF on a
// clean close) on errCh when the upstream connection ends.
func readBlocks(body io.Reader, out chan<- string, errCh chan<- error) {
	defer close(out)

	reader := bufio.NewReaderSize(body, 8*1024)
	var buf strings.Builder

	for {
		chunk := make([]byte, 4096)
		n, err := reader.Read(chunk)
		if n > 0 {
			buf.WriteString(strings.ReplaceAll(string(chunk[:n]), "\r\n", "\n"))
			for {
				s := buf.String()
				idx := strings.Index(s, "\n\n")
				if idx < 0 {
					break
				}
				out <- s[:idx]
				remainder := s[idx+2:]
				buf.Reset()
				buf.WriteString(remainder)
			}
		}
		if err != nil {
			errCh <- err
			close(errCh)
			return
		}
	}
}

// handleBlock parses one \n\n-delimited SSE block, sanitizes it if it
// decodes as a well-formed event, derives activity, and writes the forwarded
// (possibly rewritten) block to w. Blocks that aren't valid JSON pass
// through unchanged.
func (p *EventProxy) handleBlock(w http.ResponseWriter, block string) {
	data := extractDataLines(block)
	if data == "" {
		fmt.Fprintf(w, "%s\n\n", block)
		return
	}

	var ev sanitize.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		fmt.Fprintf(w, "%s\n\n", block)
		return
	}

	narrowed := sanitize.SanitizeEvent(ev, p.settings())
	if dropped, _ := narrowed.Properties["dropped"].(bool); dropped && narrowed.Type == "message.part.updated" {
		return
	}

	b, err := json.Marshal(narrowed)
	if err != nil {
		fmt.Fprintf(w, "%s\n\n", block)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", narrowed.Type, b)

	p.indexSessionUpdate(ev)

	if sessionID, runtime, ok := derivePhase(ev); ok {
		p.activity.Observe(sessionID, runtime)
		p.index.UpsertRuntimePhase(sessionID, runtime.Type)
		synthetic := map[string]interface{}{"sessionID": sessionID, "phase": runtime.Type}
		if sb, err := json.Marshal(synthetic); err == nil {
			fmt.Fprintf(w, "event: opencode-studio:session-activity\ndata: %s\n\n", sb)
		}
	}
}

// indexSessionUpdate upserts the narrowed summary carried by a
// session.updated event into the index, so new or retitled sessions appear
// in sidebar views ahead of the next store poll.
func (p *EventProxy) indexSessionUpdate(ev sanitize.Event) {
	if ev.Type != "session.updated" {
		return
	}
	info, _ := ev.Properties["info"].(map[string]interface{})
	if info == nil {
		return
	}
	if summary, ok := sanitize.SessionFromValue(info); ok {
		p.index.UpsertSummary(summary)
	}
}

func extractDataLines(block string) string {
	var lines []string
	for _, line := range strings.Split(block, "\n") {
		if strings.HasPrefix(line, "data:") {
			lines = append(lines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return strings.Join(lines, "\n")
}

func queryString(c *gin.Context) string {
	if c.Request.URL.RawQuery == "" {
		return ""
	}
	return "?" + c.Request.URL.RawQuery
}
