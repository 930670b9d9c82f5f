package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/registry"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "dir", "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func snapshotWith(t *testing.T, sessionIDs ...string) *registry.Snapshot {
	t.Helper()
	reg := registry.New()
	for _, id := range sessionIDs {
		require.NoError(t, reg.CreateSession(models.AgentSession{
			ID:     id,
			Status: models.SessionStatusActive,
			Issue:  &models.IssueContext{IssueID: "iss-" + id},
		}))
		_, err := reg.AddEntry(id, models.SessionEntry{
			Type:     models.EntryTypeUser,
			Content:  "prompt for " + id,
			Metadata: &models.EntryMetadata{},
		})
		require.NoError(t, err)
	}
	return reg.Serialize()
}

func TestSQLiteStore_CreatesParentDirectory(t *testing.T) {
	// openStore points at a path two levels below the temp dir.
	s := openStore(t)
	assert.NotNil(t, s)
}

func TestSQLiteStore_MigrateIdempotent(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSQLiteStore_SaveAndLoadLatest(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	got, err := s.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "empty store yields no snapshot and no error")

	require.NoError(t, s.Save(ctx, snapshotWith(t, "s-1")))
	require.NoError(t, s.Save(ctx, snapshotWith(t, "s-1", "s-2")))

	got, err = s.LoadLatest(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, registry.SnapshotVersion, got.Version)
	assert.Len(t, got.Sessions, 2, "latest snapshot wins")
	assert.Equal(t, "prompt for s-2", got.Entries["s-2"][0].Content)
}

func TestSQLiteStore_RoundTripRestores(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, snapshotWith(t, "s-1")))
	got, err := s.LoadLatest(ctx)
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.Restore(got))
	session, ok := reg.GetSession("s-1")
	require.True(t, ok)
	assert.Equal(t, "iss-s-1", session.Issue.IssueID)
}

func TestSQLiteStore_SaveNil(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Save(context.Background(), nil))
}

func TestSQLiteStore_ListNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(ctx, snapshotWith(t, fmt.Sprintf("s-%d", i))))
		time.Sleep(5 * time.Millisecond) // distinct taken_at timestamps
	}

	records, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, !records[0].TakenAt.Before(records[1].TakenAt))
	assert.True(t, !records[1].TakenAt.Before(records[2].TakenAt))

	limited, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLiteStore_Prune(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(ctx, snapshotWith(t, fmt.Sprintf("s-%d", i))))
		time.Sleep(5 * time.Millisecond)
	}

	removed, err := s.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	records, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// The latest snapshot survives pruning.
	got, err := s.LoadLatest(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	_, ok := got.Sessions["s-4"]
	assert.True(t, ok)

	removed, err = s.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, removed, "prune is idempotent")
}
