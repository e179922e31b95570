// Package types defines the core data structures for statline: canonical
// sports entities and their aliases, resolution results, and the tool
// schemas, invocations and results that flow through the orchestration
// pipeline.
package types

import (
	"fmt"
	"strings"
)

// EntityKind distinguishes the two kinds of canonical entity a domain holds.
type EntityKind string

// AliasType classifies how an alias relates to its entity.
type AliasType string

// MatchType records which resolution phase produced a match.
type MatchType string

// Phase identifies the pipeline phase a tool invocation belongs to.
type Phase string

// Entity kind constants
const (
	// KindTeam is a club or franchise.
	KindTeam EntityKind = "team"

	// KindPlayer is an individual athlete.
	KindPlayer EntityKind = "player"
)

// Alias type constants
const (
	AliasNickname     AliasType = "nickname"
	AliasCity         AliasType = "city"
	AliasAbbreviation AliasType = "abbreviation"
	AliasFullName     AliasType = "full_name"
	AliasCommon       AliasType = "common"
)

// Match type constants
const (
	MatchExact MatchType = "exact"
	MatchAlias MatchType = "alias"
	MatchFuzzy MatchType = "fuzzy"
)

// Confidence tiers. These are fixed per match type, not a continuous score.
const (
	ConfidenceExact = 1.0
	ConfidenceAlias = 0.9
	ConfidenceFuzzy = 0.7
)

// Pipeline phase constants
const (
	// PhaseResolver invocations turn free-text names into canonical IDs.
	PhaseResolver Phase = "resolver"

	// PhaseDependent invocations consume IDs produced by resolvers.
	PhaseDependent Phase = "dependent"
)

// ValidEntityKinds lists every entity kind for validation.
var ValidEntityKinds = []EntityKind{KindTeam, KindPlayer}

// ValidAliasTypes lists every alias type for validation.
var ValidAliasTypes = []AliasType{
	AliasNickname,
	AliasCity,
	AliasAbbreviation,
	AliasFullName,
	AliasCommon,
}

// IsValid reports whether k is a known entity kind.
func (k EntityKind) IsValid() bool {
	for _, v := range ValidEntityKinds {
		if k == v {
			return true
		}
	}
	return false
}

// ParseEntityKind converts free text ("Team", " player ") into an EntityKind.
func ParseEntityKind(s string) (EntityKind, error) {
	k := EntityKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}

// IsValid reports whether t is a known alias type.
func (t AliasType) IsValid() bool {
	for _, v := range ValidAliasTypes {
		if t == v {
			return true
		}
	}
	return false
}

// ConfidenceFor returns the fixed confidence tier for a match type.
func ConfidenceFor(m MatchType) float64 {
	switch m {
	case MatchExact:
		return ConfidenceExact
	case MatchAlias:
		return ConfidenceAlias
	case MatchFuzzy:
		return ConfidenceFuzzy
	default:
		return 0
	}
}

// NormalizeText lowercases and trims s. Alias text and every lookup key go
// through this function so comparisons are case-insensitive.
func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
