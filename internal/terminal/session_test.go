package terminal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendHistoryEvictsOldestBeyondByteCap(t *testing.T) {
	sess := newSession("t1", "/tmp", 80, 24, "shell", "t1")

	chunk := make([]byte, 64*1024)
	for i := range chunk {
		chunk[i] = 'x'
	}
	// 9 chunks of 64 KiB exceed the 512 KiB ceiling; the oldest must evict.
	for i := 0; i < 9; i++ {
		sess.appendHistory(chunk)
	}

	require.LessOrEqual(t, sess.histLen, historyByteCap+64*1024)
	require.Greater(t, sess.oldestRetainedSeq(), int64(0))
}

func TestReplayFromReturnsOnlyRetainedChunks(t *testing.T) {
	sess := newSession("t1", "/tmp", 80, 24, "shell", "t1")
	sess.appendHistory([]byte("a"))
	sess.appendHistory([]byte("b"))
	sess.appendHistory([]byte("c"))

	// The cursor names the last chunk the caller already has, so replay is
	// strictly after it.
	replay := sess.replayFrom(1)
	require.Len(t, replay, 2)
	require.EqualValues(t, 2, replay[0].seq)
	require.EqualValues(t, 3, replay[1].seq)
}

func TestSanitizeUTF8ReplacesInvalidBytes(t *testing.T) {
	invalid := []byte{0xff, 0xfe, 'h', 'i'}
	out := sanitizeUTF8(invalid)
	require.Contains(t, string(out), "hi")
}
