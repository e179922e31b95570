package extractor

import "github.com/scrypster/statline/pkg/types"

// IntentTool is one dependent tool an intent can select. A tool with a
// Kind is preferred when an entity of that kind was mentioned.
type IntentTool struct {
	Name string
	Kind types.EntityKind
}

// Intent is a category of question with the keywords that signal it and
// the dependent tools that answer it, in preference order.
type Intent struct {
	Category string
	Keywords []string
	Tools    []IntentTool
}

// DefaultIntents is the built-in intent table.
func DefaultIntents() []Intent {
	return []Intent{
		{
			Category: "roster",
			Keywords: []string{"roster", "rosters", "lineup", "lineups", "depth chart", "who plays for"},
			Tools: []IntentTool{
				{Name: "get_team_roster", Kind: types.KindTeam},
			},
		},
		{
			Category: "stats",
			Keywords: []string{"stats", "statistics", "stat line", "numbers", "batting average",
				"home runs", "era", "goals", "assists", "points", "slash line", "ops", "war"},
			Tools: []IntentTool{
				{Name: "get_player_stats", Kind: types.KindPlayer},
				{Name: "get_team_stats", Kind: types.KindTeam},
			},
		},
		{
			Category: "schedule",
			Keywords: []string{"schedule", "next game", "upcoming", "fixtures", "play next", "games this week"},
			Tools: []IntentTool{
				{Name: "get_team_schedule", Kind: types.KindTeam},
				{Name: "get_schedule"},
			},
		},
		{
			Category: "standings",
			Keywords: []string{"standings", "division", "wild card", "playoff picture", "games back", "rankings"},
			Tools: []IntentTool{
				{Name: "get_standings"},
			},
		},
		{
			Category: "live",
			Keywords: []string{"score", "scores", "scoreboard", "live", "right now", "tonight", "box score"},
			Tools: []IntentTool{
				{Name: "get_live_game", Kind: types.KindTeam},
				{Name: "get_scoreboard"},
			},
		},
		{
			Category: "leaders",
			Keywords: []string{"leaders", "leaderboard", "league leader", "leading the league"},
			Tools: []IntentTool{
				{Name: "get_leaders"},
			},
		},
		{
			Category: "injuries",
			Keywords: []string{"injury", "injuries", "injured", "injured list", "il stint"},
			Tools: []IntentTool{
				{Name: "get_injuries", Kind: types.KindTeam},
				{Name: "get_injuries"},
			},
		},
		{
			Category: "info",
			Keywords: []string{"info", "information", "profile", "bio", "ballpark", "arena", "stadium"},
			Tools: []IntentTool{
				{Name: "get_player_info", Kind: types.KindPlayer},
				{Name: "get_team_info", Kind: types.KindTeam},
			},
		},
		{
			Category: "fantasy",
			Keywords: []string{"fantasy", "my league", "matchup", "waiver", "waivers", "free agents"},
			Tools: []IntentTool{
				{Name: "get_fantasy_league"},
			},
		},
	}
}

// DefaultCategoryWords map generic nouns to the entity kind they refer to.
// They only matter when nothing else in the input was recognised.
func DefaultCategoryWords() map[string]types.EntityKind {
	return map[string]types.EntityKind{
		"team":       types.KindTeam,
		"teams":      types.KindTeam,
		"club":       types.KindTeam,
		"franchise":  types.KindTeam,
		"player":     types.KindPlayer,
		"players":    types.KindPlayer,
		"pitcher":    types.KindPlayer,
		"hitter":     types.KindPlayer,
		"batter":     types.KindPlayer,
		"goalie":     types.KindPlayer,
		"goaltender": types.KindPlayer,
		"skater":     types.KindPlayer,
		"rookie":     types.KindPlayer,
	}
}
