// Package httpapi assembles the gateway's Gin engine: ambient middleware
// (request-id, structured logging, recovery, size limits, timeouts) plus
// route registration for the sidebar, session proxy, upstream event proxy,
// terminal, and plugin subsystems.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencode-studio/gateway/internal/apperrors"
	"github.com/opencode-studio/gateway/internal/middleware"
	"github.com/opencode-studio/gateway/internal/plugins"
	"github.com/opencode-studio/gateway/internal/sessionstore"
	"github.com/opencode-studio/gateway/internal/sidebar"
	"github.com/opencode-studio/gateway/internal/terminal"
	"github.com/opencode-studio/gateway/internal/upstream"
)

// ssePaths are path prefixes excluded from the blanket request timeout
// because they carry long-lived SSE streams that outlive the default timeout
// by design (heartbeats, not completion, bound their lifetime). The terminal
// and plugin prefixes also exempt those subsystems' non-streaming routes.
var ssePaths = []string{
	"/api/sidebar/events",
	"/api/event",
	"/api/terminal/",
	"/api/plugins/",
}

// Deps bundles the constructed subsystems Router wires into routes.
type Deps struct {
	Sidebar      *sidebar.Handlers
	Store        *sessionstore.Store
	SessionProxy *upstream.SessionProxy
	EventProxy   *upstream.EventProxy
	StatusProxy  *upstream.StatusProxy
	Terminal     *terminal.Handlers
	Plugins      *plugins.Handlers
}

// New assembles the gateway's Gin engine.
func New(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(apperrors.Recovery())
	router.Use(middleware.StructuredLogger(middleware.DefaultStructuredLoggerConfig()))

	timeoutCfg := middleware.DefaultTimeoutConfig()
	timeoutCfg.ExcludedPaths = ssePaths
	router.Use(middleware.Timeout(timeoutCfg))

	router.Use(middleware.RequestSizeLimiter(middleware.MaxRequestBodySize))
	router.Use(apperrors.ErrorHandler())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	sidebarGroup := api.Group("/sidebar")
	d.Sidebar.RegisterRoutes(sidebarGroup)

	api.GET("/event", d.EventProxy.ServeEvents)

	api.GET("/permission", d.StatusProxy.ServePermission)
	api.GET("/question", d.StatusProxy.ServeQuestion)

	// Gin's router tree can't hold a static sibling ("status") alongside a
	// "*path" catch-all under the same "/session/" parent, so GET
	// session/status is special-cased inside the one wildcard dispatcher
	// rather than registered as its own route.
	api.Any("/session/*path", sessionDispatcher(d))

	d.Terminal.RegisterRoutes(api)
	d.Plugins.RegisterRoutes(api)

	return router
}

// ShutdownTimeout bounds how long the server waits for in-flight SSE
// streams to drain on SIGTERM.
const ShutdownTimeout = 10 * time.Second

// sessionDispatcher routes every verb under session/... to its specialized
// proxy method, falling back to ServeGeneric for everything else.
func sessionDispatcher(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		rest := strings.TrimPrefix(c.Param("path"), "/")
		segments := strings.Split(rest, "/")
		id := segments[0]
		c.Params = append(c.Params, gin.Param{Key: "id", Value: id})

		switch {
		case len(segments) == 1 && id == "status" && c.Request.Method == http.MethodGet:
			d.StatusProxy.ServeSessionStatus(c)
		case len(segments) == 2 && segments[1] == "message" && c.Request.Method == http.MethodPost:
			d.SessionProxy.ServeMessage(c)
		case len(segments) == 1 && c.Request.Method == http.MethodDelete:
			d.SessionProxy.ServeDelete(c)
		case len(segments) == 2 && segments[1] == "diff" && c.Request.Method == http.MethodGet:
			d.SessionProxy.ServeDiff(c, d.Store.ReconstructDiff)
		default:
			d.SessionProxy.ServeGeneric(c)
		}
	}
}
