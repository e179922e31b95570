package engine

import "github.com/scrypster/statline/pkg/types"

// Resolved is one entity produced by Phase A.
type Resolved struct {
	Entity     types.Entity    `json:"entity"`
	MatchType  types.MatchType `json:"match_type"`
	Confidence float64         `json:"confidence"`
	// Index is the position of the resolver invocation in the plan.
	Index int `json:"index"`
}

// LookupTable is the typed state handed from Phase A to Phase B: the most
// recently resolved entity of each kind. It is filled in plan order after
// every Phase A call has finished, so concurrent resolution never changes
// which entity wins.
type LookupTable struct {
	entries map[types.EntityKind]Resolved
}

// NewLookupTable returns an empty table.
func NewLookupTable() LookupTable {
	return LookupTable{entries: make(map[types.EntityKind]Resolved)}
}

// Record stores r for kind. A later invocation replaces an earlier one.
func (t LookupTable) Record(kind types.EntityKind, r Resolved) {
	if prev, ok := t.entries[kind]; ok && prev.Index > r.Index {
		return
	}
	t.entries[kind] = r
}

// Get returns the entity recorded for kind.
func (t LookupTable) Get(kind types.EntityKind) (Resolved, bool) {
	r, ok := t.entries[kind]
	return r, ok
}

// Len returns the number of kinds with an entity.
func (t LookupTable) Len() int {
	return len(t.entries)
}

// Snapshot returns a copy of the table's contents.
func (t LookupTable) Snapshot() map[types.EntityKind]Resolved {
	out := make(map[types.EntityKind]Resolved, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Requirement names an argument a dependent tool needs and the entity kind
// whose ID fills it.
type Requirement struct {
	Param string
	Kind  types.EntityKind
}

// KindParams maps each entity kind to the argument name its ID is written
// to when a tool's schema declares that argument.
var KindParams = map[types.EntityKind]string{
	types.KindTeam:   "teamId",
	types.KindPlayer: "playerId",
}

// RequirementTable is the fixed tool -> required identifiers map.
type RequirementTable map[string][]Requirement

// DefaultRequirements returns the built-in requirement table.
func DefaultRequirements() RequirementTable {
	team := []Requirement{{Param: "teamId", Kind: types.KindTeam}}
	player := []Requirement{{Param: "playerId", Kind: types.KindPlayer}}
	return RequirementTable{
		"get_team_roster":   team,
		"get_team_stats":    team,
		"get_team_schedule": team,
		"get_team_info":     team,
		"get_live_game":     team,
		"get_player_stats":  player,
		"get_player_info":   player,
	}
}

// For returns the requirements of tool, combining the fixed table with
// identifier arguments declared in the tool's schema. Only the fixed table
// and the schema's "required" list make an argument mandatory.
func (rt RequirementTable) For(tool string, schema *types.ToolSchema) (reqs []Requirement, mandatory map[string]bool) {
	mandatory = make(map[string]bool)
	seen := make(map[string]bool)
	for _, r := range rt[tool] {
		reqs = append(reqs, r)
		seen[r.Param] = true
		mandatory[r.Param] = true
	}
	if schema == nil {
		return reqs, mandatory
	}
	for _, kind := range types.ValidEntityKinds {
		param := KindParams[kind]
		if seen[param] || !schema.HasParam(param) {
			continue
		}
		reqs = append(reqs, Requirement{Param: param, Kind: kind})
		seen[param] = true
	}
	for _, name := range schema.RequiredParams() {
		mandatory[name] = true
	}
	return reqs, mandatory
}
