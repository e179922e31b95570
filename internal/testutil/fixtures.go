// Package testutil holds shared fixtures for package tests: small baseball
// and hockey datasets and helpers that load them into in-memory stores.
package testutil

import (
	"context"
	"testing"

	"github.com/scrypster/statline/internal/storage/sqlite"
	"github.com/scrypster/statline/pkg/types"
)

// Well-known fixture identifiers.
const (
	YankeesID = "147"
	MetsID    = "121"
	DodgersID = "119"
	JudgeID   = "592450"

	// Two players share the display name "Will Smith".
	WillSmithDodgersID = "669221"
	WillSmithSoxID     = "519293"
)

func team(id, name, city, abbrev string, attrs map[string]interface{}) types.Entity {
	return types.Entity{ID: id, Kind: types.KindTeam, DisplayName: name, City: city, Abbrev: abbrev, Active: true, Attributes: attrs}
}

func player(id, name, teamID string, attrs map[string]interface{}) types.Entity {
	return types.Entity{ID: id, Kind: types.KindPlayer, DisplayName: name, TeamID: teamID, Active: true, Attributes: attrs}
}

func alias(kind types.EntityKind, id, text string, t types.AliasType) types.Alias {
	return types.Alias{EntityID: id, Kind: kind, Text: text, Type: t}
}

// BaseballDataset returns the baseball fixture.
func BaseballDataset() *types.Dataset {
	return &types.Dataset{
		Domain: "baseball",
		Entities: []types.Entity{
			team(YankeesID, "New York Yankees", "New York", "NYY", map[string]interface{}{"league": "AL", "division": "East"}),
			team(MetsID, "New York Mets", "New York", "NYM", map[string]interface{}{"league": "NL", "division": "East"}),
			team("111", "Boston Red Sox", "Boston", "BOS", map[string]interface{}{"league": "AL", "division": "East"}),
			team("145", "Chicago White Sox", "Chicago", "CWS", map[string]interface{}{"league": "AL", "division": "Central"}),
			team("112", "Chicago Cubs", "Chicago", "CHC", map[string]interface{}{"league": "NL", "division": "Central"}),
			team(DodgersID, "Los Angeles Dodgers", "Los Angeles", "LAD", map[string]interface{}{"league": "NL", "division": "West"}),
			team("135", "San Diego Padres", "San Diego", "SD", nil),
			team("133", "Athletics", "Sacramento", "ATH", nil),
			team("118", "Kansas City Royals", "Kansas City", "KC", nil),
			player(JudgeID, "Aaron Judge", YankeesID, map[string]interface{}{"position": "RF"}),
			player("660271", "Shohei Ohtani", DodgersID, map[string]interface{}{"position": "DH"}),
			player("665742", "Juan Soto", MetsID, map[string]interface{}{"position": "RF"}),
			player("596019", "Francisco Lindor", MetsID, map[string]interface{}{"position": "SS"}),
			player("646240", "Rafael Devers", "111", map[string]interface{}{"position": "3B"}),
			player(WillSmithDodgersID, "Will Smith", DodgersID, map[string]interface{}{"position": "C"}),
			player(WillSmithSoxID, "Will Smith", "145", map[string]interface{}{"position": "P"}),
		},
		Aliases: []types.Alias{
			alias(types.KindTeam, YankeesID, "yankees", types.AliasNickname),
			alias(types.KindTeam, YankeesID, "bronx bombers", types.AliasNickname),
			alias(types.KindTeam, YankeesID, "nyy", types.AliasAbbreviation),
			alias(types.KindTeam, MetsID, "mets", types.AliasNickname),
			alias(types.KindTeam, MetsID, "amazins", types.AliasNickname),
			alias(types.KindTeam, "111", "red sox", types.AliasNickname),
			alias(types.KindTeam, "111", "sox", types.AliasCommon),
			alias(types.KindTeam, "145", "white sox", types.AliasNickname),
			alias(types.KindTeam, "145", "sox", types.AliasCommon),
			alias(types.KindTeam, "112", "cubs", types.AliasNickname),
			alias(types.KindTeam, DodgersID, "dodgers", types.AliasNickname),
			alias(types.KindTeam, "135", "padres", types.AliasNickname),
			alias(types.KindTeam, "133", "a's", types.AliasNickname),
			alias(types.KindTeam, "118", "royals", types.AliasNickname),
			alias(types.KindPlayer, JudgeID, "judge", types.AliasCommon),
			alias(types.KindPlayer, JudgeID, "all rise", types.AliasNickname),
			alias(types.KindPlayer, "660271", "ohtani", types.AliasCommon),
			alias(types.KindPlayer, "660271", "shotime", types.AliasNickname),
			alias(types.KindPlayer, "665742", "soto", types.AliasCommon),
			alias(types.KindPlayer, "596019", "lindor", types.AliasCommon),
			alias(types.KindPlayer, "646240", "devers", types.AliasCommon),
		},
		Stats: []types.StatLine{
			{EntityID: JudgeID, Kind: types.KindPlayer, Season: "2023", Stats: map[string]interface{}{"hr": 37.0, "avg": 0.267}},
			{EntityID: JudgeID, Kind: types.KindPlayer, Season: "2024", Stats: map[string]interface{}{"hr": 58.0, "avg": 0.322}},
			{EntityID: YankeesID, Kind: types.KindTeam, Season: "2024", Stats: map[string]interface{}{"wins": 94.0, "losses": 68.0}},
		},
	}
}

// HockeyDataset returns the hockey fixture.
func HockeyDataset() *types.Dataset {
	return &types.Dataset{
		Domain: "hockey",
		Entities: []types.Entity{
			team("10", "Toronto Maple Leafs", "Toronto", "TOR", nil),
			team("8", "Montreal Canadiens", "Montreal", "MTL", nil),
			team("6", "Boston Bruins", "Boston", "BOS", nil),
			team("22", "Edmonton Oilers", "Edmonton", "EDM", nil),
			player("8478402", "Connor McDavid", "22", map[string]interface{}{"position": "C"}),
			player("8479318", "Auston Matthews", "10", map[string]interface{}{"position": "C"}),
		},
		Aliases: []types.Alias{
			alias(types.KindTeam, "10", "leafs", types.AliasNickname),
			alias(types.KindTeam, "8", "habs", types.AliasNickname),
			alias(types.KindTeam, "6", "bruins", types.AliasNickname),
			alias(types.KindTeam, "22", "oilers", types.AliasNickname),
			alias(types.KindPlayer, "8478402", "mcdavid", types.AliasCommon),
			alias(types.KindPlayer, "8479318", "matthews", types.AliasCommon),
		},
	}
}

// ZerpaID is the player in AccentedDataset.
const ZerpaID = "672582"

// AccentedDataset returns a baseball dataset whose names start with
// uppercase non-ASCII letters.
func AccentedDataset() *types.Dataset {
	return &types.Dataset{
		Domain: "baseball",
		Entities: []types.Entity{
			team("118", "Kansas City Royals", "Kansas City", "KC", nil),
			team("9001", "Águilas Cibaeñas", "Santiago", "AGU", nil),
			player(ZerpaID, "Ángel Zerpa", "118", map[string]interface{}{"position": "P"}),
		},
		Aliases: []types.Alias{
			alias(types.KindTeam, "9001", "las águilas", types.AliasNickname),
		},
	}
}

// NewSeededStore returns an in-memory SQLite store loaded with the given
// datasets (baseball and hockey when none are passed).
func NewSeededStore(t testing.TB, datasets ...*types.Dataset) *sqlite.EntityStore {
	t.Helper()
	store, err := sqlite.NewEntityStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if len(datasets) == 0 {
		datasets = []*types.Dataset{BaseballDataset(), HockeyDataset()}
	}
	for _, ds := range datasets {
		if _, err := store.ReplaceDataset(context.Background(), ds); err != nil {
			t.Fatalf("failed to load %s fixture: %v", ds.Domain, err)
		}
	}
	return store
}
