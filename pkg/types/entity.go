package types

import (
	"fmt"
	"time"
)

// Entity is a canonical team or player within one domain.
// ID is unique within (Domain, Kind). Entities are read-only at request time
// and only change through out-of-band data loads.
type Entity struct {
	ID          string     `json:"id"`                     // Domain-scoped canonical identifier (e.g. "147")
	Domain      string     `json:"domain"`                 // Sport or data vertical (e.g. "baseball")
	Kind        EntityKind `json:"kind"`                   // team | player
	DisplayName string     `json:"display_name"`           // Canonical display name
	City        string     `json:"city,omitempty"`         // Home city (teams) or hometown (players)
	Abbrev      string     `json:"abbreviation,omitempty"` // Short code, e.g. "NYY"
	TeamID      string     `json:"team_id,omitempty"`      // Owning team for players
	Active      bool       `json:"active"`

	// Attributes holds structured, kind-specific data (division, position, ...).
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Key returns the identity of the entity inside its domain.
func (e *Entity) Key() string {
	return fmt.Sprintf("%s:%s", e.Kind, e.ID)
}

// Validate checks the invariants an entity must satisfy before it is loaded.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	if e.Domain == "" {
		return fmt.Errorf("entity %s: domain is required", e.ID)
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("entity %s: invalid kind %q", e.ID, e.Kind)
	}
	if e.DisplayName == "" {
		return fmt.Errorf("entity %s: display_name is required", e.ID)
	}
	if e.Kind == KindTeam && e.TeamID != "" {
		return fmt.Errorf("entity %s: teams cannot reference a team_id", e.ID)
	}
	return nil
}

// Alias maps a lowercase, trimmed text string to an entity.
// (EntityID, Text) is unique; the same text may point at several entities.
type Alias struct {
	EntityID string     `json:"entity_id"`
	Kind     EntityKind `json:"kind"`
	Text     string     `json:"alias_text"`
	Type     AliasType  `json:"alias_type"`
}

// Validate normalizes the alias text and checks its fields.
func (a *Alias) Validate() error {
	a.Text = NormalizeText(a.Text)
	if a.EntityID == "" {
		return fmt.Errorf("alias %q: entity_id is required", a.Text)
	}
	if a.Text == "" {
		return fmt.Errorf("alias for %s: alias_text is required", a.EntityID)
	}
	if !a.Kind.IsValid() {
		return fmt.Errorf("alias %q: invalid kind %q", a.Text, a.Kind)
	}
	if a.Type == "" {
		a.Type = AliasCommon
	}
	if !a.Type.IsValid() {
		return fmt.Errorf("alias %q: invalid alias_type %q", a.Text, a.Type)
	}
	return nil
}

// StatLine is one row of denormalized statistics for an entity.
type StatLine struct {
	EntityID string                 `json:"entity_id"`
	Kind     EntityKind             `json:"kind"`
	Season   string                 `json:"season"`
	Stats    map[string]interface{} `json:"stats"`
}

// Dataset is the unit of an out-of-band load: every row for one domain.
type Dataset struct {
	Domain   string     `json:"domain" yaml:"domain"`
	Entities []Entity   `json:"entities" yaml:"entities"`
	Aliases  []Alias    `json:"aliases" yaml:"aliases"`
	Stats    []StatLine `json:"stats,omitempty" yaml:"stats,omitempty"`
}

// Validate checks every row and that aliases, stats and player team links
// refer to entities present in the dataset.
func (d *Dataset) Validate() error {
	if d.Domain == "" {
		return fmt.Errorf("dataset domain is required")
	}

	seen := make(map[string]bool, len(d.Entities))
	for i := range d.Entities {
		e := &d.Entities[i]
		if e.Domain == "" {
			e.Domain = d.Domain
		}
		if e.Domain != d.Domain {
			return fmt.Errorf("entity %s belongs to domain %q, dataset is %q", e.ID, e.Domain, d.Domain)
		}
		if err := e.Validate(); err != nil {
			return err
		}
		if seen[e.Key()] {
			return fmt.Errorf("duplicate entity %s", e.Key())
		}
		seen[e.Key()] = true
	}

	for i := range d.Entities {
		e := &d.Entities[i]
		if e.Kind == KindPlayer && e.TeamID != "" && !seen[string(KindTeam)+":"+e.TeamID] {
			return fmt.Errorf("player %s references unknown team %s", e.ID, e.TeamID)
		}
	}

	aliasSeen := make(map[string]bool, len(d.Aliases))
	for i := range d.Aliases {
		a := &d.Aliases[i]
		if err := a.Validate(); err != nil {
			return err
		}
		if !seen[string(a.Kind)+":"+a.EntityID] {
			return fmt.Errorf("alias %q references unknown %s %s", a.Text, a.Kind, a.EntityID)
		}
		k := string(a.Kind) + ":" + a.EntityID + ":" + a.Text
		if aliasSeen[k] {
			return fmt.Errorf("duplicate alias %q for %s %s", a.Text, a.Kind, a.EntityID)
		}
		aliasSeen[k] = true
	}

	for _, s := range d.Stats {
		if !seen[string(s.Kind)+":"+s.EntityID] {
			return fmt.Errorf("stats row references unknown %s %s", s.Kind, s.EntityID)
		}
	}
	return nil
}
