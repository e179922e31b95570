package resolver_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/scrypster/statline/internal/resolver"
	"github.com/scrypster/statline/internal/storage"
	"github.com/scrypster/statline/internal/testutil"
	"github.com/scrypster/statline/pkg/types"
)

type mapSource map[string]storage.EntityReader

func (m mapSource) EntityReader(domain string) (storage.EntityReader, error) {
	r, ok := m[domain]
	if !ok {
		return nil, fmt.Errorf("unknown domain %q", domain)
	}
	return r, nil
}

// brokenStore fails every read.
type brokenStore struct{ storage.EntityReader }

var errDisk = errors.New("disk I/O error")

func (brokenStore) FindExact(context.Context, storage.EntityQuery) ([]types.Entity, error) {
	return nil, errDisk
}

func newService(t *testing.T) *resolver.Service {
	t.Helper()
	store := testutil.NewSeededStore(t)
	return resolver.NewService(mapSource{"baseball": store, "hockey": store}, nil)
}

func TestResolve_YankeesResolvesTo147(t *testing.T) {
	svc := newService(t)

	res, err := svc.Resolve(context.Background(), "yankees", "baseball", resolver.Options{})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, testutil.YankeesID, res.MatchedEntity.ID)
	assert.Equal(t, types.MatchAlias, res.MatchType)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, types.AliasNickname, res.AliasType)
	assert.Empty(t, res.Suggestions)
}

func TestResolve_ExactBeatsAlias(t *testing.T) {
	svc := newService(t)

	// "nyy" is both the abbreviation and an alias.
	res, err := svc.Resolve(context.Background(), "NYY", "baseball", resolver.Options{})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, types.MatchExact, res.MatchType)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, "NYY", res.Query)
}

func TestResolve_MissWithoutFuzzy(t *testing.T) {
	svc := newService(t)

	res, err := svc.Resolve(context.Background(), "zzznotateam", "baseball", resolver.Options{Fuzzy: false})
	require.NoError(t, err)
	assert.Nil(t, res.MatchedEntity)
	assert.Zero(t, res.Confidence)
	assert.Empty(t, res.MatchType)
	assert.Empty(t, res.Suggestions)
}

func TestResolve_FuzzyContainment(t *testing.T) {
	svc := newService(t)

	res, err := svc.Resolve(context.Background(), "yank", "baseball", resolver.Options{Fuzzy: true})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, testutil.YankeesID, res.MatchedEntity.ID)
	assert.Equal(t, types.MatchFuzzy, res.MatchType)
	assert.Equal(t, 0.7, res.Confidence)
}

func TestResolve_NonASCIINames(t *testing.T) {
	store := testutil.NewSeededStore(t, testutil.AccentedDataset())
	svc := resolver.NewService(mapSource{"baseball": store}, nil)
	ctx := context.Background()

	for _, name := range []string{"Ángel Zerpa", "ángel zerpa"} {
		res, err := svc.Resolve(ctx, name, "baseball", resolver.Options{Fuzzy: true})
		require.NoError(t, err)
		require.True(t, res.Found(), name)
		assert.Equal(t, testutil.ZerpaID, res.MatchedEntity.ID)
		assert.Equal(t, types.MatchExact, res.MatchType)
		assert.Equal(t, 1.0, res.Confidence)
	}

	res, err := svc.Resolve(ctx, "ÁGUILAS", "baseball", resolver.Options{Fuzzy: true})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, "9001", res.MatchedEntity.ID)
	assert.Equal(t, types.MatchFuzzy, res.MatchType)

	res, err = svc.Resolve(ctx, "LAS ÁGUILAS", "baseball", resolver.Options{})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, "9001", res.MatchedEntity.ID)
	assert.Equal(t, types.MatchAlias, res.MatchType)
}

func TestResolve_FuzzyPrefersNamePrefix(t *testing.T) {
	svc := newService(t)

	res, err := svc.Resolve(context.Background(), "sa", "baseball", resolver.Options{Fuzzy: true})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, "San Diego Padres", res.MatchedEntity.DisplayName)
	assert.Empty(t, res.Suggestions, "only the top candidate is returned on a fuzzy match")
}

func TestResolve_SuggestionsIgnoreFuzzyFlag(t *testing.T) {
	svc := newService(t)

	res, err := svc.Resolve(context.Background(), "sa", "baseball", resolver.Options{Fuzzy: false})
	require.NoError(t, err)
	assert.Nil(t, res.MatchedEntity)

	var names []string
	for _, s := range res.Suggestions {
		names = append(names, s.DisplayName)
	}
	assert.Equal(t, []string{"San Diego Padres", "Athletics", "Kansas City Royals"}, names)
}

func TestResolve_SuggestionsCappedAtFive(t *testing.T) {
	svc := newService(t)

	res, err := svc.Resolve(context.Background(), "o", "baseball", resolver.Options{Kind: types.KindTeam})
	require.NoError(t, err)
	assert.Nil(t, res.MatchedEntity)
	assert.Len(t, res.Suggestions, resolver.MaxSuggestions)
}

func TestResolve_TeamFilter(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	res, err := svc.Resolve(ctx, "Will Smith", "baseball", resolver.Options{Kind: types.KindPlayer, Team: "dodgers"})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, testutil.WillSmithDodgersID, res.MatchedEntity.ID)

	res, err = svc.Resolve(ctx, "Will Smith", "baseball", resolver.Options{Kind: types.KindPlayer, Team: "CWS"})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, testutil.WillSmithSoxID, res.MatchedEntity.ID)

	// The filter applies to the alias phase too.
	res, err = svc.Resolve(ctx, "judge", "baseball", resolver.Options{Kind: types.KindPlayer, Team: "mets"})
	require.NoError(t, err)
	assert.Nil(t, res.MatchedEntity)

	// And to suggestions.
	res, err = svc.Resolve(ctx, "jud", "baseball", resolver.Options{Kind: types.KindPlayer, Team: "Mets", Fuzzy: false})
	require.NoError(t, err)
	assert.Empty(t, res.Suggestions)
}

func TestResolve_UnknownTeamFilterMatchesNoPlayers(t *testing.T) {
	svc := newService(t)

	res, err := svc.Resolve(context.Background(), "Aaron Judge", "baseball", resolver.Options{Team: "zzz"})
	require.NoError(t, err)
	assert.Nil(t, res.MatchedEntity)
}

func TestResolve_IncludeDetail(t *testing.T) {
	svc := newService(t)

	res, err := svc.Resolve(context.Background(), "all rise", "baseball", resolver.Options{IncludeDetail: true})
	require.NoError(t, err)
	require.True(t, res.Found())
	require.NotNil(t, res.Detail)
	require.Len(t, res.Detail.Stats, 2)
	assert.Equal(t, "2024", res.Detail.Stats[0].Season)
	assert.Equal(t, "RF", res.MatchedEntity.Attributes["position"])
}

func TestResolve_EmptyName(t *testing.T) {
	svc := newService(t)

	res, err := svc.Resolve(context.Background(), "   ", "baseball", resolver.Options{Fuzzy: true})
	require.NoError(t, err)
	assert.Nil(t, res.MatchedEntity)
	assert.Empty(t, res.Suggestions)
}

func TestResolve_DomainScoped(t *testing.T) {
	svc := newService(t)

	res, err := svc.Resolve(context.Background(), "bos", "hockey", resolver.Options{})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, "Boston Bruins", res.MatchedEntity.DisplayName)
	assert.Equal(t, "hockey", res.Domain)
}

func TestResolve_StoreErrorIsNotNotFound(t *testing.T) {
	svc := resolver.NewService(mapSource{"baseball": brokenStore{}}, nil)

	res, err := svc.Resolve(context.Background(), "yankees", "baseball", resolver.Options{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, resolver.ErrResolution)
	assert.ErrorIs(t, err, errDisk)
}

func TestResolve_UnknownDomain(t *testing.T) {
	svc := newService(t)

	_, err := svc.Resolve(context.Background(), "yankees", "cricket", resolver.Options{})
	assert.ErrorIs(t, err, resolver.ErrResolution)
}

// For every alias, resolving its text yields its entity at 0.9 unless an
// exact match exists for the same text.
func TestResolve_EveryAliasResolves(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	ds := testutil.BaseballDataset()

	for _, a := range ds.Aliases {
		res, err := svc.Resolve(ctx, a.Text, "baseball", resolver.Options{Kind: a.Kind})
		require.NoError(t, err, a.Text)
		require.True(t, res.Found(), a.Text)

		if res.MatchType == types.MatchExact {
			assert.Equal(t, 1.0, res.Confidence, a.Text)
			continue
		}
		assert.Equal(t, types.MatchAlias, res.MatchType, a.Text)
		assert.Equal(t, 0.9, res.Confidence, a.Text)
		if a.Text != "sox" { // shared alias, first owner wins
			assert.Equal(t, a.EntityID, res.MatchedEntity.ID, a.Text)
		}
	}
}

func TestResolve_Idempotent(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	queries := []string{"yankees", "yank", "zzznotateam", "NYY", "sa", "new york", "Will Smith", ""}

	rapid.Check(t, func(rt *rapid.T) {
		q := rapid.OneOf(
			rapid.SampledFrom(queries),
			rapid.StringMatching(`[a-z ]{0,8}`),
		).Draw(rt, "query")
		fuzzy := rapid.Bool().Draw(rt, "fuzzy")
		opts := resolver.Options{Fuzzy: fuzzy}

		first, err := svc.Resolve(ctx, q, "baseball", opts)
		if err != nil {
			rt.Fatalf("resolve %q: %v", q, err)
		}
		second, err := svc.Resolve(ctx, q, "baseball", opts)
		if err != nil {
			rt.Fatalf("resolve %q: %v", q, err)
		}
		if !assert.ObjectsAreEqual(first, second) {
			rt.Fatalf("resolve %q not idempotent:\n%+v\n%+v", q, first, second)
		}
		if first.MatchedEntity != nil && len(first.Suggestions) > 0 {
			rt.Fatalf("suggestions present alongside a match for %q", q)
		}
		if len(first.Suggestions) > resolver.MaxSuggestions {
			rt.Fatalf("too many suggestions for %q: %d", q, len(first.Suggestions))
		}
	})
}
