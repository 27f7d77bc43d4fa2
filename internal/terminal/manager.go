package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/opencode-studio/gateway/internal/apperrors"
	"github.com/opencode-studio/gateway/internal/logger"
	"github.com/opencode-studio/gateway/internal/model"
)

const (
	maxLiveSessions  = 20
	sessionIDPrefix  = "ocs-term-"
	registryFileName = "sessions.json"
)

// registryVersion is the schema version stamped on the persisted registry
// file so other processes reading sessions.json can detect a format change.
const registryVersion = 1

// registryEntry is the on-disk shape persisted per session, keyed by session
// id in registryFile.Sessions. The multiplexer session name is always the
// session id itself (see Create), so it isn't duplicated here.
type registryEntry struct {
	Cwd       string                `json:"cwd"`
	Cols      int                   `json:"cols"`
	Rows      int                   `json:"rows"`
	Backend   model.TerminalBackend `json:"backend"`
	UpdatedAt int64                 `json:"updated_at"`
}

// registryFile is the on-disk shape of sessions.json, guarded by an
// exclusive file lock so multiple processes never corrupt the registry.
type registryFile struct {
	Version  int                      `json:"version"`
	Sessions map[string]registryEntry `json:"sessions"`
}

// Config controls shell and multiplexer resolution.
type Config struct {
	DataDir        string
	Shell          string
	MultiplexerBin string
	IdleTimeout    time.Duration
}

// Manager owns the set of live PTY sessions for this process, at most
// maxLiveSessions, with a registry file under <data>/terminal/sessions.json
// for resume-after-restart when a multiplexer is available.
type Manager struct {
	cfg          Config
	registryPath string

	mu       sync.Mutex
	sessions map[string]*Session
	reserved int
}

// NewManager returns a Manager rooted at cfg.DataDir/terminal.
func NewManager(cfg Config) *Manager {
	if cfg.Shell == "" {
		cfg.Shell = defaultShell()
	}
	dir := filepath.Join(cfg.DataDir, "terminal")
	_ = os.MkdirAll(dir, 0o755)
	return &Manager{
		cfg:          cfg,
		registryPath: filepath.Join(dir, registryFileName),
		sessions:     map[string]*Session{},
	}
}

func defaultShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		return s
	}
	return "/bin/sh"
}

// Create validates cwd, allocates a session id, spawns a shell (inside a
// multiplexer when one is configured) and persists the registry entry.
func (m *Manager) Create(ctx context.Context, cwd string, cols, rows int) (*Session, error) {
	info, err := os.Stat(cwd)
	if err != nil || !info.IsDir() {
		return nil, apperrors.BadRequest("cwd must be an existing directory")
	}

	id := sessionIDPrefix + uuid.NewString()
	name := id

	// Reserve the slot under the same lock as the cap check so concurrent
	// creates cannot exceed the limit.
	m.mu.Lock()
	if len(m.sessions)+m.reserved >= maxLiveSessions {
		m.mu.Unlock()
		return nil, apperrors.RateLimited(fmt.Sprintf("at most %d terminal sessions may be live", maxLiveSessions)).WithCode("terminal_limit")
	}
	m.reserved++
	m.mu.Unlock()

	backend := model.BackendShell
	var cmd *exec.Cmd
	if m.cfg.MultiplexerBin != "" && multiplexerAvailable(m.cfg.MultiplexerBin) {
		backend = model.BackendMultiplexer
		cmd = exec.Command(m.cfg.MultiplexerBin, "new-session", "-A", "-s", name, "-c", cwd)
	} else {
		cmd = exec.Command(m.cfg.Shell)
		cmd.Dir = cwd
	}
	cmd.Env = os.Environ()

	sess := newSession(id, cwd, cols, rows, backend, name)
	if err := sess.start(cmd); err != nil {
		m.mu.Lock()
		m.reserved--
		m.mu.Unlock()
		return nil, apperrors.Wrap(apperrors.CategoryUnknownInternal, "failed to start terminal", err)
	}

	m.mu.Lock()
	m.reserved--
	m.sessions[id] = sess
	m.mu.Unlock()

	m.persist()
	return sess, nil
}

func multiplexerAvailable(bin string) bool {
	_, err := exec.LookPath(bin)
	return err == nil
}

// Get returns a live session, resuming it from the registry if it is not in
// memory but the registry and (for multiplexer sessions) the multiplexer
// itself still report it alive.
func (m *Manager) Get(ctx context.Context, id string) (*Session, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return sess, true
	}

	entry, ok := m.registryEntry(id)
	if !ok {
		return nil, false
	}
	if entry.Backend != model.BackendMultiplexer || !m.multiplexerSessionAlive(id) {
		m.forget(id)
		return nil, false
	}

	cmd := exec.Command(m.cfg.MultiplexerBin, "new-session", "-A", "-s", id, "-c", entry.Cwd)
	cmd.Env = os.Environ()
	resumed := newSession(id, entry.Cwd, entry.Cols, entry.Rows, entry.Backend, id)
	if err := resumed.start(cmd); err != nil {
		m.forget(id)
		return nil, false
	}

	m.mu.Lock()
	m.sessions[id] = resumed
	m.mu.Unlock()
	return resumed, true
}

func (m *Manager) multiplexerSessionAlive(name string) bool {
	if m.cfg.MultiplexerBin == "" {
		return false
	}
	err := exec.Command(m.cfg.MultiplexerBin, "has-session", "-t", name).Run()
	return err == nil
}

// Remove kills and forgets a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		sess.Kill()
	}
	m.forget(id)
}

func (m *Manager) forget(id string) {
	sessions := m.loadRegistry()
	delete(sessions, id)
	m.saveRegistry(sessions)
}

// GC kills and forgets sessions idle longer than m.cfg.IdleTimeout.
func (m *Manager) GC() {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	m.mu.Lock()
	var stale []string
	for id, sess := range m.sessions {
		if time.Since(sess.LastActivity()) > m.cfg.IdleTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		logger.Terminal().Info().Str("sessionID", id).Msg("idle terminal session reaped")
		m.Remove(id)
	}
}

// RunIdleGC starts a periodic idle scan, stopping when ctx is canceled.
func (m *Manager) RunIdleGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.GC()
		}
	}
}

func (m *Manager) persist() {
	m.mu.Lock()
	sessions := make(map[string]registryEntry, len(m.sessions))
	for id, sess := range m.sessions {
		cols, rows := sess.Size()
		sessions[id] = registryEntry{
			Cwd: sess.Cwd, Cols: cols, Rows: rows,
			Backend:   sess.Backend,
			UpdatedAt: sess.LastActivity().UnixMilli(),
		}
	}
	m.mu.Unlock()
	m.saveRegistry(sessions)
}

func (m *Manager) registryEntry(id string) (registryEntry, bool) {
	entry, ok := m.loadRegistry()[id]
	return entry, ok
}

// loadRegistry reads the versioned, id-keyed registry file other processes
// share with this manager. A missing or unreadable file yields an empty
// registry rather than an error, matching first-run behavior.
func (m *Manager) loadRegistry() map[string]registryEntry {
	lock := flock.New(m.registryPath + ".lock")
	_ = lock.Lock()
	defer lock.Unlock()

	b, err := os.ReadFile(m.registryPath)
	if err != nil {
		return map[string]registryEntry{}
	}
	var file registryFile
	if err := json.Unmarshal(b, &file); err != nil || file.Sessions == nil {
		return map[string]registryEntry{}
	}
	return file.Sessions
}

func (m *Manager) saveRegistry(sessions map[string]registryEntry) {
	lock := flock.New(m.registryPath + ".lock")
	_ = lock.Lock()
	defer lock.Unlock()

	file := registryFile{Version: registryVersion, Sessions: sessions}
	b, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return
	}
	tmp := m.registryPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, m.registryPath)
}
