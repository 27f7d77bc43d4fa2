package terminal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencode-studio/gateway/internal/apperrors"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(Config{DataDir: t.TempDir(), Shell: "/bin/sh"})
}

func TestCreateRejectsNonDirectoryCwd(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.Create(context.Background(), "/path/does/not/exist", 80, 24)
	require.Error(t, err)
}

func TestCreateEnforcesMaxLiveSessions(t *testing.T) {
	mgr := newTestManager(t)
	cwd := t.TempDir()

	for i := 0; i < maxLiveSessions; i++ {
		sess, err := mgr.Create(context.Background(), cwd, 80, 24)
		require.NoError(t, err)
		require.NotEmpty(t, sess.ID)
	}

	_, err := mgr.Create(context.Background(), cwd, 80, 24)
	require.Error(t, err)

	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	require.Equal(t, apperrors.CategoryRateLimited, appErr.Category)

	for id := range mgr.sessions {
		mgr.Remove(id)
	}
}

func TestRemoveForgetsSession(t *testing.T) {
	mgr := newTestManager(t)
	cwd := t.TempDir()

	sess, err := mgr.Create(context.Background(), cwd, 80, 24)
	require.NoError(t, err)

	mgr.Remove(sess.ID)
	_, ok := mgr.Get(context.Background(), sess.ID)
	require.False(t, ok)
}
