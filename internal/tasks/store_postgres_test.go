package tasks

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}
	s, err := NewPostgresStore(context.Background(), dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStoreRoundTripAndCleanup(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)
	prefix := "test-" + uuid.NewString()[:8] + "-"
	old := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)

	open := sendTextTask(t)
	open.ID = prefix + "open"
	done := storedTask(prefix+"done", TaskStatusCompleted, old)
	t.Cleanup(func() {
		_ = s.DeleteTask(context.Background(), open.ID)
		_ = s.DeleteTask(context.Background(), done.ID)
	})

	require.NoError(t, s.SaveTask(ctx, open))
	require.NoError(t, s.SaveTask(ctx, done))

	got, err := s.GetTask(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, open.Status, got.Status)
	assert.Equal(t, open.MissingSlots(), got.MissingSlots())

	active, err := s.ActiveTasks(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids(active), open.ID)
	assert.NotContains(t, ids(active), done.ID)

	removed, err := s.ClearOldTasks(ctx, old.Add(time.Minute))
	require.NoError(t, err)
	assert.Contains(t, removed, done.ID)
	_, err = s.GetTask(ctx, done.ID)
	assert.ErrorIs(t, err, ErrStoreNotFound)

	require.NoError(t, s.DeleteTask(ctx, open.ID))
	_, err = s.GetTask(ctx, open.ID)
	assert.ErrorIs(t, err, ErrStoreNotFound)
}
