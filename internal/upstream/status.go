package upstream

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opencode-studio/gateway/internal/apperrors"
	"github.com/opencode-studio/gateway/internal/model"
	"github.com/opencode-studio/gateway/internal/sidebarindex"
)

const fallbackSourceHeader = "x-opencode-studio-source"

// StatusProxy forwards session status / permission / question reads to the
// upstream daemon, synthesizing a response from the index's runtime
// snapshot when the daemon is restarting or unreachable.
type StatusProxy struct {
	client *Client
	index  *sidebarindex.Index
}

// NewStatusProxy wires a StatusProxy.
func NewStatusProxy(client *Client, index *sidebarindex.Index) *StatusProxy {
	return &StatusProxy{client: client, index: index}
}

// ServeSessionStatus handles GET session/status.
func (p *StatusProxy) ServeSessionStatus(c *gin.Context) {
	p.serve(c, "/session/status"+queryString(c), c.Query("sessionID"))
}

// ServePermission handles GET permission.
func (p *StatusProxy) ServePermission(c *gin.Context) {
	p.serve(c, "/permission"+queryString(c), c.Query("sessionID"))
}

// ServeQuestion handles GET question.
func (p *StatusProxy) ServeQuestion(c *gin.Context) {
	p.serve(c, "/question"+queryString(c), c.Query("sessionID"))
}

func (p *StatusProxy) serve(c *gin.Context, path, sessionID string) {
	if p.client.Avail.Unavailable() {
		p.serveFallback(c, sessionID)
		return
	}

	req, err := p.client.NewRequest(c.Request.Context(), http.MethodGet, path, nil)
	if err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.CategoryUnknownInternal, "failed to build upstream request", err))
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.serveFallback(c, sessionID)
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

func (p *StatusProxy) serveFallback(c *gin.Context, sessionID string) {
	c.Header(fallbackSourceHeader, "local-cache")

	rt, ok := p.index.RuntimeSnapshotJSON()[sessionID]
	if !ok {
		c.JSON(http.StatusOK, gin.H{"type": model.PhaseIdle})
		return
	}

	body := gin.H{"type": rt.Type}
	if rt.Type == model.PhaseCooldown {
		body["attempt"] = rt.Attempt
		body["message"] = rt.Message
		body["next"] = rt.Next
	}
	c.JSON(http.StatusOK, body)
}
