package lock

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T, staleAfter time.Duration) *FileLock {
	t.Helper()
	return NewFileLock(t.TempDir(), staleAfter, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFileLock_Exclusive(t *testing.T) {
	ctx := context.Background()
	fl := newTestLock(t, time.Hour)

	ok, err := fl.TryLock(ctx, "collect", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fl.TryLock(ctx, "collect", 0)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	ok, err = fl.TryLock(ctx, "backfill", 0)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	require.NoError(t, fl.Unlock(ctx, "collect"))
	ok, err = fl.TryLock(ctx, "collect", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileLock_StaleLockIsTakenOver(t *testing.T) {
	ctx := context.Background()
	fl := newTestLock(t, time.Minute)

	ok, err := fl.TryLock(ctx, "collect", 0)
	require.NoError(t, err)
	require.True(t, ok)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(fl.path("collect"), old, old))

	ok, err = fl.TryLock(ctx, "collect", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileLock_UnlockNotHeld(t *testing.T) {
	fl := newTestLock(t, time.Hour)
	assert.NoError(t, fl.Unlock(context.Background(), "never-taken"))
}

func TestFileLock_KeyCannotEscapeDir(t *testing.T) {
	fl := newTestLock(t, time.Hour)
	assert.Equal(t, fl.dir, filepath.Dir(fl.path("../../etc/passwd")))
}

func TestFileLock_ContextCancelled(t *testing.T) {
	fl := newTestLock(t, time.Hour)
	ok, err := fl.TryLock(context.Background(), "collect", 0)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err = fl.TryLock(ctx, "collect", time.Minute)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}
