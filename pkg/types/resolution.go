package types

// ResolutionResult is the output of one resolve call. It is built fresh per
// query and never persisted.
//
// MatchedEntity is nil on a miss; in that case MatchType and Confidence are
// zero and Suggestions holds up to five ranked candidates.
type ResolutionResult struct {
	Query         string    `json:"query"`
	Domain        string    `json:"domain"`
	MatchedEntity *Entity   `json:"matched_entity"`
	MatchType     MatchType `json:"match_type,omitempty"`
	Confidence    float64   `json:"confidence"`

	// AliasType is set for alias matches. It is informational only and does
	// not affect ranking.
	AliasType AliasType `json:"alias_type,omitempty"`

	Suggestions []Entity `json:"suggestions,omitempty"`

	// Detail is populated when the caller asked for it and a match was found.
	Detail *EntityDetail `json:"detail,omitempty"`
}

// Found reports whether the resolution produced a match.
func (r *ResolutionResult) Found() bool {
	return r != nil && r.MatchedEntity != nil
}

// EntityDetail carries the denormalized statistics of a matched entity.
type EntityDetail struct {
	Stats []StatLine `json:"stats,omitempty"`
}
