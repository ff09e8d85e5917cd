package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStoreMovesTasksBetweenIndexes(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	require.NoError(t, s.SaveTask(ctx, storedTask("a", TaskStatusReady, testNow)))
	require.NoError(t, s.SaveTask(ctx, storedTask("b", TaskStatusNeedsInput, testNow.Add(time.Minute))))

	active, err := s.ActiveTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(active))

	require.NoError(t, s.SaveTask(ctx, storedTask("a", TaskStatusCompleted, testNow.Add(2*time.Minute))))

	active, err = s.ActiveTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(active))
	history, err := s.History(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(history))

	members, err := mr.ZMembers("test:tasks:active")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)

	got, err := s.GetTask(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, got.Status)
	assert.Equal(t, "notes.create", got.Intent.FullName())
}

func TestRedisStoreHistoryLimit(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)
	for i, id := range []string{"c", "d", "e"} {
		require.NoError(t, s.SaveTask(ctx, storedTask(id, TaskStatusCancelled, testNow.Add(time.Duration(i)*time.Hour))))
	}

	history, err := s.History(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d"}, ids(history))
}

func TestRedisStoreClearOldTasksUsesCutoff(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	require.NoError(t, s.SaveTask(ctx, storedTask("old-open", TaskStatusNeedsInput, testNow)))
	require.NoError(t, s.SaveTask(ctx, storedTask("old-done", TaskStatusCompleted, testNow)))
	require.NoError(t, s.SaveTask(ctx, storedTask("new-done", TaskStatusFailed, testNow.Add(time.Hour))))

	removed, err := s.ClearOldTasks(ctx, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"old-done"}, removed)
	assert.False(t, mr.Exists("test:task:old-done"))

	_, err = s.GetTask(ctx, "old-done")
	assert.ErrorIs(t, err, ErrStoreNotFound)
	_, err = s.GetTask(ctx, "old-open")
	assert.NoError(t, err)

	history, err := s.History(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"new-done"}, ids(history))

	removed, err = s.ClearOldTasks(ctx, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestRedisStoreSkipsIndexEntriesWithoutDocument(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	require.NoError(t, s.SaveTask(ctx, storedTask("a", TaskStatusReady, testNow)))
	require.NoError(t, s.SaveTask(ctx, storedTask("b", TaskStatusReady, testNow.Add(time.Second))))
	mr.Del("test:task:b")

	active, err := s.ActiveTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(active))

	require.NoError(t, s.DeleteTask(ctx, "a"))
	active, err = s.ActiveTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}
