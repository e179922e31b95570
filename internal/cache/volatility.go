package cache

import (
	"strings"
	"time"
)

// Volatility classifies how quickly a tool's data goes stale.
type Volatility string

const (
	// Live covers in-progress games and scoreboards.
	Live Volatility = "live"

	// SeasonStats covers player and team season statistics.
	SeasonStats Volatility = "stats"

	// Static covers team metadata, rosters and resolver output.
	Static Volatility = "static"

	// Fantasy covers fantasy league data.
	Fantasy Volatility = "fantasy"
)

// DefaultTTLs maps each volatility class to its entry lifetime.
var DefaultTTLs = map[Volatility]time.Duration{
	Live:        15 * time.Second,
	SeasonStats: 60 * time.Second,
	Static:      5 * time.Minute,
	Fantasy:     30 * time.Minute,
}

// VolatilityTable is the static tool -> volatility mapping.
// Lookup order: explicit tool name, then name prefix, then the default class.
type VolatilityTable struct {
	tools    map[string]Volatility
	prefixes []prefixRule
	ttls     map[Volatility]time.Duration
	fallback Volatility
}

type prefixRule struct {
	prefix string
	class  Volatility
}

// DefaultVolatilityTable returns the built-in table.
func DefaultVolatilityTable() *VolatilityTable {
	return &VolatilityTable{
		tools: map[string]Volatility{
			"get_live_game":      Live,
			"get_game_feed":      Live,
			"get_scoreboard":     Live,
			"get_box_score":      Live,
			"get_player_stats":   SeasonStats,
			"get_team_stats":     SeasonStats,
			"get_standings":      SeasonStats,
			"get_leaders":        SeasonStats,
			"get_schedule":       SeasonStats,
			"get_team_roster":    Static,
			"get_team_info":      Static,
			"get_player_info":    Static,
			"get_venue":          Static,
			"resolve_team":       Static,
			"resolve_player":     Static,
			"resolve_entity":     Static,
			"get_fantasy_league": Fantasy,
		},
		prefixes: []prefixRule{
			{prefix: "fantasy", class: Fantasy},
			{prefix: "get_fantasy", class: Fantasy},
			{prefix: "get_live", class: Live},
			{prefix: "resolve_", class: Static},
		},
		ttls:     DefaultTTLs,
		fallback: SeasonStats,
	}
}

// Classify returns the volatility class of tool.
func (t *VolatilityTable) Classify(tool string) Volatility {
	if c, ok := t.tools[tool]; ok {
		return c
	}
	for _, r := range t.prefixes {
		if strings.HasPrefix(tool, r.prefix) {
			return r.class
		}
	}
	return t.fallback
}

// TTL returns the entry lifetime for tool.
func (t *VolatilityTable) TTL(tool string) time.Duration {
	if d, ok := t.ttls[t.Classify(tool)]; ok {
		return d
	}
	return t.ttls[t.fallback]
}
