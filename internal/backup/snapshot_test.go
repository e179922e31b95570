package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/statline/internal/storage"
	"github.com/scrypster/statline/internal/storage/sqlite"
	"github.com/scrypster/statline/internal/testutil"
	"github.com/scrypster/statline/pkg/types"
)

func openStore(t *testing.T, path string) *sqlite.EntityStore {
	t.Helper()
	store, err := sqlite.NewEntityStore(path)
	require.NoError(t, err)
	return store
}

func TestSnapshot_MissingStoreIsNoop(t *testing.T) {
	s := NewSnapshotter(t.TempDir(), RetentionPolicy{}, nil)

	snap, err := s.Snapshot(context.Background(), "baseball", filepath.Join(t.TempDir(), "absent.db"))
	require.NoError(t, err)
	assert.Nil(t, snap)

	_, err = s.Snapshot(context.Background(), "baseball", ":memory:")
	assert.True(t, errors.Is(err, ErrNoStore))
}

func TestSnapshotAndRestore(t *testing.T) {
	ctx := context.Background()
	dataPath := t.TempDir()
	dbPath := filepath.Join(dataPath, "baseball.db")

	store := openStore(t, dbPath)
	_, err := store.ReplaceDataset(ctx, testutil.BaseballDataset())
	require.NoError(t, err)

	s := NewSnapshotter(dataPath, RetentionPolicy{}, nil)
	snap, err := s.Snapshot(ctx, "baseball", dbPath)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.Verified)
	assert.Equal(t, "baseball", snap.Domain)
	assert.Equal(t, filepath.Join(dataPath, DirName, "baseball"), filepath.Dir(snap.Path))

	// A bad load empties the domain.
	_, err = store.ReplaceDataset(ctx, &types.Dataset{Domain: "baseball"})
	require.NoError(t, err)
	_, err = store.GetEntity(ctx, "baseball", types.KindTeam, testutil.YankeesID)
	require.True(t, errors.Is(err, storage.ErrNotFound))
	require.NoError(t, store.Close())

	restored, err := s.Restore(ctx, "baseball", "latest", dbPath)
	require.NoError(t, err)
	assert.Equal(t, snap.Path, restored.Path)

	reopened := openStore(t, dbPath)
	defer reopened.Close()
	team, err := reopened.GetEntity(ctx, "baseball", types.KindTeam, testutil.YankeesID)
	require.NoError(t, err)
	assert.Equal(t, "New York Yankees", team.DisplayName)

	_, err = os.Stat(dbPath + ".pre-restore")
	assert.True(t, os.IsNotExist(err))
}

func TestRestore_UnknownSnapshot(t *testing.T) {
	s := NewSnapshotter(t.TempDir(), RetentionPolicy{}, nil)

	_, err := s.Restore(context.Background(), "baseball", "latest", filepath.Join(t.TempDir(), "x.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no snapshots")
}
