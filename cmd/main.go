// Command gateway starts the opencode-studio aggregation gateway: the HTTP
// surface over the sidebar aggregator, session store reader, upstream event
// proxy, terminal manager, and plugin runtime.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opencode-studio/gateway/internal/cache"
	"github.com/opencode-studio/gateway/internal/config"
	"github.com/opencode-studio/gateway/internal/httpapi"
	"github.com/opencode-studio/gateway/internal/logger"
	"github.com/opencode-studio/gateway/internal/plugins"
	"github.com/opencode-studio/gateway/internal/sanitize"
	"github.com/opencode-studio/gateway/internal/sessionstore"
	"github.com/opencode-studio/gateway/internal/sidebar"
	"github.com/opencode-studio/gateway/internal/sidebarindex"
	"github.com/opencode-studio/gateway/internal/terminal"
	"github.com/opencode-studio/gateway/internal/upstream"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.GetLogger()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dataDir", cfg.DataDir).Msg("failed to create data directory")
	}

	var db *sql.DB
	if cfg.SQLDSN != "" {
		var err error
		db, err = sessionstore.OpenSQL(cfg.SQLDSN)
		if err != nil {
			log.Warn().Err(err).Msg("session database unavailable, falling back to JSON-only storage")
			db = nil
		} else {
			defer db.Close()
		}
	}

	index := sidebarindex.New()
	store := sessionstore.New(cfg.DataDir, db, index)

	responseCache, err := cache.NewCache(cache.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		Enabled:  cfg.RedisEnabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("redis cache unavailable, falling back to in-process LRU only")
		responseCache, _ = cache.NewCache(cache.Config{Enabled: false})
	}
	defer responseCache.Close()

	dirs := sidebar.NewDirectoryStore(cfg.DataDir)

	upstreamClient := upstream.NewClient(cfg.UpstreamBaseURL)
	activityMgr := upstream.NewActivityManager()
	settingsFn := func() sanitize.Settings { return sanitize.DefaultSettings() }

	builder := sidebar.NewBuilder(dirs, store, index, activityMgr)
	bus := sidebar.NewBus()
	poller := sidebar.NewPoller(builder, bus)
	responseCacheLayer := sidebar.NewResponseCache(responseCache)
	sidebarHandlers := sidebar.NewHandlers(dirs, store, index, builder, bus, poller, responseCacheLayer)

	attachments := upstream.NewAttachmentCache()
	sessionProxy := upstream.NewSessionProxy(upstreamClient, index, attachments, dirs)
	eventProxy := upstream.NewEventProxy(upstreamClient, index, activityMgr, settingsFn)
	statusProxy := upstream.NewStatusProxy(upstreamClient, index)

	terminalMgr := terminal.NewManager(terminal.Config{
		DataDir:        cfg.DataDir,
		Shell:          cfg.TerminalShell,
		MultiplexerBin: cfg.MultiplexerBin,
		IdleTimeout:    cfg.TerminalIdleTimeout,
	})
	if cfg.TerminalIdleTimeout > 0 {
		go terminalMgr.RunIdleGC(context.Background(), time.Minute)
	}
	terminalHandlers := terminal.NewHandlers(terminalMgr)

	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}

	pluginRegistry := plugins.NewRegistry()
	discoverer := plugins.NewDiscoverer(wd, filepath.Join(cfg.DataDir, "node_modules"))
	runner := plugins.NewRunner(discoverer, func() []string { return cfg.PluginSpecs }, pluginRegistry)
	scheduler, err := plugins.NewScheduler(runner, "")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build plugin scheduler")
	}
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	scheduler.Start(schedulerCtx)
	defer func() {
		cancelScheduler()
		scheduler.Stop()
	}()
	pluginHandlers := plugins.NewHandlers(pluginRegistry)

	router := httpapi.New(httpapi.Deps{
		Sidebar:      sidebarHandlers,
		Store:        store,
		SessionProxy: sessionProxy,
		EventProxy:   eventProxy,
		StatusProxy:  statusProxy,
		Terminal:     terminalHandlers,
		Plugins:      pluginHandlers,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("gateway server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down gateway")
	ctx, cancel := context.WithTimeout(context.Background(), httpapi.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
