// Package config resolves the gateway's process configuration from
// environment variables. Configuration persistence and validation belong to
// an external collaborator, so a config-file framework would be overkill
// here.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is the gateway's resolved process configuration.
type Config struct {
	Port string

	DataDir string

	UpstreamBaseURL string

	TerminalIdleTimeout time.Duration
	TerminalShell       string
	MultiplexerBin      string

	PluginSpecs       []string
	PluginPollMin     time.Duration
	PluginPollMax     time.Duration
	PluginPollDefault time.Duration

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisEnabled  bool

	SQLDSN string

	LogLevel  string
	LogPretty bool
}

// Load resolves Config from the process environment.
func Load() Config {
	cfg := Config{
		Port:                getEnv("PORT", "8080"),
		DataDir:             resolveDataDir(),
		UpstreamBaseURL:     getEnv("OPENCODE_UPSTREAM_URL", "http://127.0.0.1:4096"),
		TerminalIdleTimeout: time.Duration(getEnvInt("OPENCODE_STUDIO_TERMINAL_IDLE_TIMEOUT_SECS", 1800)) * time.Second,
		TerminalShell:       getEnv("SHELL", "/bin/sh"),
		MultiplexerBin:      getEnv("OPENCODE_STUDIO_MULTIPLEXER", "tmux"),
		PluginPollMin:       250 * time.Millisecond,
		PluginPollMax:       5 * time.Second,
		PluginPollDefault:   1200 * time.Millisecond,
		RedisHost:           getEnv("REDIS_HOST", ""),
		RedisPort:           getEnv("REDIS_PORT", "6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		SQLDSN:              os.Getenv("OPENCODE_STUDIO_SESSION_DB_DSN"),
		PluginSpecs:         splitNonEmpty(os.Getenv("OPENCODE_STUDIO_PLUGINS")),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogPretty:           getEnvBool("LOG_PRETTY", false),
	}
	cfg.RedisEnabled = cfg.RedisHost != ""
	return cfg
}

func splitNonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func resolveDataDir() string {
	if v := os.Getenv("OPENCODE_STUDIO_DATA_DIR"); v != "" {
		return v
	}
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, "opencode-studio")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "share", "opencode-studio")
	}
	return filepath.Join(os.TempDir(), "opencode-studio")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// ClampDuration clamps d to [min, max].
func ClampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
