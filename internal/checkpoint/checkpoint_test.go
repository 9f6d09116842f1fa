package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoint.db")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Record(ctx, "run1", "download", StatusRunning, now))

	cp, ok, err := s.Get(ctx, "run1", "download")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, cp.Status)
	assert.Equal(t, 1, cp.AttemptCount)
}

func TestRecordIncrementsAttemptCountOnConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.Record(ctx, "run1", "score", StatusRunning, now))
	require.NoError(t, s.Record(ctx, "run1", "score", StatusFailed, now.Add(time.Minute)))
	require.NoError(t, s.Record(ctx, "run1", "score", StatusRunning, now.Add(2*time.Minute)))

	cp, ok, err := s.Get(ctx, "run1", "score")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, cp.Status)
	assert.Equal(t, 3, cp.AttemptCount)
}

func TestLastIncompleteExcludesCompletedAndFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Record(ctx, "run1", "download", StatusCompleted, now))
	require.NoError(t, s.Record(ctx, "run1", "score", StatusInterrupted, now))
	require.NoError(t, s.Record(ctx, "run1", "portfolio", StatusFailed, now))

	incomplete, err := s.LastIncomplete(ctx, "run1")
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, "score", incomplete[0].Stage)
}

func TestResumeWaitCapsAt180Seconds(t *testing.T) {
	assert.Equal(t, 30*time.Second, ResumeWait(1))
	assert.Equal(t, 150*time.Second, ResumeWait(5))
	assert.Equal(t, 180*time.Second, ResumeWait(10))
	assert.Equal(t, 180*time.Second, ResumeWait(100))
}
