package upstream

import (
	"context"
	"sync"

	"github.com/opencode-studio/gateway/internal/model"
	"github.com/opencode-studio/gateway/internal/sanitize"
)

// ActivityManager accumulates the (session, phase) pairs the event proxy
// derives from forwarded SSE blocks. It satisfies sidebar.ActivitySource, so
// the snapshot builder reconciles its view with the index's own
// locally-observed runtime entries on every build.
type ActivityManager struct {
	mu     sync.RWMutex
	phases map[string]model.SessionRuntime
}

// NewActivityManager returns an empty ActivityManager.
func NewActivityManager() *ActivityManager {
	return &ActivityManager{phases: map[string]model.SessionRuntime{}}
}

// Observe records the most recently derived runtime state for sessionID.
func (a *ActivityManager) Observe(sessionID string, runtime model.SessionRuntime) {
	if sessionID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.phases[sessionID] = runtime
}

// Snapshot returns a copy of the accumulated phases.
func (a *ActivityManager) Snapshot(ctx context.Context) map[string]model.SessionRuntime {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]model.SessionRuntime, len(a.phases))
	for k, v := range a.phases {
		out[k] = v
	}
	return out
}

// derivePhase inspects a sanitized event and, if it implies a session
// activity transition, returns the session id and the runtime state it
// implies. Events with no bearing on activity return ok=false.
func derivePhase(ev sanitize.Event) (sessionID string, runtime model.SessionRuntime, ok bool) {
	switch ev.Type {
	case "session.updated":
		info, _ := ev.Properties["info"].(map[string]interface{})
		if info == nil {
			return "", model.SessionRuntime{}, false
		}
		id, _ := info["id"].(string)
		if id == "" {
			return "", model.SessionRuntime{}, false
		}
		if t, ok := info["time"].(map[string]interface{}); ok {
			if _, completed := t["completed"]; completed {
				return id, model.SessionRuntime{Type: model.PhaseIdle}, true
			}
		}
		return id, model.SessionRuntime{Type: model.PhaseBusy}, true

	case "message.part.updated":
		part, _ := ev.Properties["part"].(map[string]interface{})
		if part == nil {
			return "", model.SessionRuntime{}, false
		}
		id, _ := ev.Properties["sessionID"].(string)
		if id == "" {
			id, _ = part["sessionID"].(string)
		}
		if id == "" {
			return "", model.SessionRuntime{}, false
		}
		state, _ := part["state"].(map[string]interface{})
		status, _ := state["status"].(string)
		switch status {
		case "running", "pending":
			return id, model.SessionRuntime{Type: model.PhaseBusy}, true
		case "completed", "error":
			return id, model.SessionRuntime{Type: model.PhaseIdle}, true
		}
		return "", model.SessionRuntime{}, false

	case "session.error":
		id, _ := ev.Properties["sessionID"].(string)
		if id == "" {
			return "", model.SessionRuntime{}, false
		}
		runtime := model.SessionRuntime{Type: model.PhaseCooldown}
		if attempt, ok := ev.Properties["attempt"].(float64); ok {
			runtime.Attempt = int(attempt)
		}
		if msg, ok := ev.Properties["message"].(string); ok {
			runtime.Message = msg
		}
		if next, ok := ev.Properties["next"].(float64); ok {
			runtime.Next = int64(next)
		}
		return id, runtime, true
	}

	return "", model.SessionRuntime{}, false
}
