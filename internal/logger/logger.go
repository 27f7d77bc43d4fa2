// Package logger wires zerolog as the gateway's structured logging backend.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide base logger. Components attach a "component" field
// to a child of Log rather than logging through it directly.
var Log zerolog.Logger

// Initialize configures the global logger from a level string and a pretty
// flag. Called once at process start, before any component logger is used.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "opencode-studio-gateway").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

func component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

// Sidebar returns a logger for the sidebar aggregation and patch bus.
func Sidebar() *zerolog.Logger { return component("sidebar") }

// SessionStore returns a logger for the session store reader.
func SessionStore() *zerolog.Logger { return component("sessionstore") }

// Upstream returns a logger for the upstream event proxy.
func Upstream() *zerolog.Logger { return component("upstream") }

// Terminal returns a logger for the terminal session manager.
func Terminal() *zerolog.Logger { return component("terminal") }

// Plugins returns a logger for the plugin runtime.
func Plugins() *zerolog.Logger { return component("plugins") }

// HTTP returns a logger for HTTP request events.
func HTTP() *zerolog.Logger { return component("http") }
