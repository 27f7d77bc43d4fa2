package sidebar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencode-studio/gateway/internal/model"
)

func snapshotWithSessions(ids ...string) *model.SidebarSnapshot {
	snap := model.NewSidebarSnapshot()
	for _, id := range ids {
		snap.Sessions.Set(id, model.SessionSummary{ID: id, Directory: "/work", Title: id})
	}
	return snap
}

func TestBusSeqStrictlyIncreasing(t *testing.T) {
	bus := NewBus()
	now := time.Unix(0, 0)

	ev1 := bus.Publish(snapshotWithSessions("s1"), now)
	require.NotNil(t, ev1)
	require.EqualValues(t, 1, ev1.Seq)

	ev2 := bus.Publish(snapshotWithSessions("s1", "s2"), now)
	require.NotNil(t, ev2)
	require.EqualValues(t, 2, ev2.Seq)

	// Publishing an identical snapshot again is a no-op: no ops, no seq bump.
	ev3 := bus.Publish(snapshotWithSessions("s1", "s2"), now)
	require.Nil(t, ev3)
	require.EqualValues(t, 2, bus.CurrentSeq())
}

func TestBusReplayReturnsOnlyNewerEvents(t *testing.T) {
	bus := NewBus()
	now := time.Unix(0, 0)

	bus.Publish(snapshotWithSessions("s1"), now)
	bus.Publish(snapshotWithSessions("s1", "s2"), now)
	bus.Publish(snapshotWithSessions("s1", "s2", "s3"), now)

	events, ok := bus.Replay(1)
	require.True(t, ok)
	require.Len(t, events, 2)
	require.EqualValues(t, 2, events[0].Seq)
	require.EqualValues(t, 3, events[1].Seq)
}

func TestBusForcesResyncWhenSeqAgedOut(t *testing.T) {
	bus := NewBus()
	now := time.Unix(0, 0)

	// Publish more than the buffer's max event count so old entries evict.
	for i := 0; i < patchBufferMaxEvents+5; i++ {
		bus.Publish(snapshotWithSessions("s-"+time.Duration(i).String()), now)
	}

	_, ok := bus.Replay(1)
	require.False(t, ok, "seq 1 should have aged out of the replay buffer")
	require.Greater(t, bus.latestUnbufferedSeq, int64(0))
}

func TestBusRemoveOpOnSessionDeletion(t *testing.T) {
	bus := NewBus()
	now := time.Unix(0, 0)

	bus.Publish(snapshotWithSessions("s1", "s2"), now)
	ev := bus.Publish(snapshotWithSessions("s1"), now)

	require.NotNil(t, ev)
	require.Len(t, ev.Ops, 1)
	require.Equal(t, model.OpSessionRemove, ev.Ops[0].Kind)
	require.Equal(t, "s2", ev.Ops[0].ID)
}

func TestBusAdaptivePollIntervalBacksOff(t *testing.T) {
	bus := NewBus()
	now := time.Unix(0, 0)

	bus.Publish(snapshotWithSessions("s1"), now)
	require.Equal(t, pollIntervalMin, bus.NextPollInterval())

	// No-op polls should back the interval off towards pollIntervalMax and
	// never exceed it.
	for i := 0; i < 50; i++ {
		bus.Publish(snapshotWithSessions("s1"), now)
	}
	require.LessOrEqual(t, bus.NextPollInterval(), pollIntervalMax)
	require.Greater(t, bus.NextPollInterval(), time.Duration(0))
}
