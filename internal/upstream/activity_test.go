package upstream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencode-studio/gateway/internal/model"
	"github.com/opencode-studio/gateway/internal/sanitize"
)

func TestDerivePhaseSessionUpdatedBusy(t *testing.T) {
	ev := sanitize.Event{Type: "session.updated", Properties: map[string]interface{}{
		"info": map[string]interface{}{"id": "s1", "time": map[string]interface{}{"created": float64(1)}},
	}}
	id, rt, ok := derivePhase(ev)
	require.True(t, ok)
	require.Equal(t, "s1", id)
	require.Equal(t, model.PhaseBusy, rt.Type)
}

func TestDerivePhaseSessionUpdatedCompletedGoesIdle(t *testing.T) {
	ev := sanitize.Event{Type: "session.updated", Properties: map[string]interface{}{
		"info": map[string]interface{}{"id": "s1", "time": map[string]interface{}{"completed": float64(100)}},
	}}
	id, rt, ok := derivePhase(ev)
	require.True(t, ok)
	require.Equal(t, "s1", id)
	require.Equal(t, model.PhaseIdle, rt.Type)
}

func TestDerivePhaseToolPartRunningIsBusy(t *testing.T) {
	ev := sanitize.Event{Type: "message.part.updated", Properties: map[string]interface{}{
		"sessionID": "s2",
		"part":      map[string]interface{}{"state": map[string]interface{}{"status": "running"}},
	}}
	id, rt, ok := derivePhase(ev)
	require.True(t, ok)
	require.Equal(t, "s2", id)
	require.Equal(t, model.PhaseBusy, rt.Type)
}

func TestDerivePhaseSessionErrorIsCooldown(t *testing.T) {
	ev := sanitize.Event{Type: "session.error", Properties: map[string]interface{}{
		"sessionID": "s3", "attempt": float64(2), "message": "rate limited",
	}}
	id, rt, ok := derivePhase(ev)
	require.True(t, ok)
	require.Equal(t, "s3", id)
	require.Equal(t, model.PhaseCooldown, rt.Type)
	require.Equal(t, 2, rt.Attempt)
}

func TestDerivePhaseIgnoresUnrelatedEvents(t *testing.T) {
	ev := sanitize.Event{Type: "some.other.event", Properties: map[string]interface{}{}}
	_, _, ok := derivePhase(ev)
	require.False(t, ok)
}

func TestActivityManagerSnapshotIsACopy(t *testing.T) {
	mgr := NewActivityManager()
	mgr.Observe("s1", model.SessionRuntime{Type: model.PhaseBusy})

	snap := mgr.Snapshot(nil)
	snap["s1"] = model.SessionRuntime{Type: model.PhaseIdle}

	fresh := mgr.Snapshot(nil)
	require.Equal(t, model.PhaseBusy, fresh["s1"].Type)
}
