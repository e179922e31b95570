package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/statline/internal/storage"
	"github.com/scrypster/statline/internal/storage/postgres"
	"github.com/scrypster/statline/internal/testutil"
	"github.com/scrypster/statline/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If STATLINE_TEST_POSTGRES_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("STATLINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STATLINE_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore connects to the test database, truncates it and loads the
// baseball fixture.
func newTestStore(t *testing.T) *postgres.EntityStore {
	t.Helper()

	store, err := postgres.NewEntityStore(postgresTestDSN(t))
	require.NoError(t, err, "NewEntityStore should succeed")
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.TruncateForTest(ctx))
	_, err = store.ReplaceDataset(ctx, testutil.BaseballDataset())
	require.NoError(t, err, "load baseball fixture")
	return store
}

func TestPostgres_FindExactAndAlias(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exact, err := store.FindExact(ctx, storage.EntityQuery{Domain: "baseball", Text: "nyy"})
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.Equal(t, testutil.YankeesID, exact[0].ID)
	assert.Equal(t, "East", exact[0].Attributes["division"])

	aliases, err := store.FindByAlias(ctx, storage.EntityQuery{Domain: "baseball", Text: "bronx bombers"})
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	assert.Equal(t, types.AliasNickname, aliases[0].AliasType)
}

func TestPostgres_TeamFilterUsesArray(t *testing.T) {
	store := newTestStore(t)

	got, err := store.FindExact(context.Background(), storage.EntityQuery{
		Domain:  "baseball",
		Kind:    types.KindPlayer,
		Text:    "will smith",
		TeamIDs: []string{testutil.DodgersID},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, testutil.WillSmithDodgersID, got[0].ID)
}

func TestPostgres_FindContainingRanking(t *testing.T) {
	store := newTestStore(t)

	got, err := store.FindContaining(context.Background(), storage.EntityQuery{Domain: "baseball", Text: "sa"})
	require.NoError(t, err)

	var ids []string
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"135", "133", "118"}, ids)
}

func TestPostgres_StatsAndNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stats, err := store.StatsFor(ctx, "baseball", types.KindPlayer, testutil.JudgeID)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "2024", stats[0].Season)

	_, err = store.GetEntity(ctx, "baseball", types.KindTeam, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
