package importer

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/statline/pkg/types"
)

// Format is a seed file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported seed file extension %q", filepath.Ext(path))
	}
}

// SeedFile is the on-disk layout of one domain's reference data. Teams and
// players are listed separately; a player's team may be given by team id,
// abbreviation or display name.
type SeedFile struct {
	Domain  string      `yaml:"domain" json:"domain"`
	Teams   []SeedEntry `yaml:"teams" json:"teams"`
	Players []SeedEntry `yaml:"players" json:"players"`
	Stats   []SeedStats `yaml:"stats,omitempty" json:"stats,omitempty"`
}

// SeedEntry is one team or player.
type SeedEntry struct {
	ID           string                 `yaml:"id" json:"id"`
	Name         string                 `yaml:"name" json:"name"`
	City         string                 `yaml:"city,omitempty" json:"city,omitempty"`
	Abbreviation string                 `yaml:"abbreviation,omitempty" json:"abbreviation,omitempty"`
	Team         string                 `yaml:"team,omitempty" json:"team,omitempty"`
	Active       *bool                  `yaml:"active,omitempty" json:"active,omitempty"`
	Aliases      []SeedAlias            `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Attributes   map[string]interface{} `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// SeedAlias is written either as a bare string ("bronx bombers") or as
// {text, type}. A bare string is a common alias.
type SeedAlias struct {
	Text string          `yaml:"text" json:"text"`
	Type types.AliasType `yaml:"type,omitempty" json:"type,omitempty"`
}

// UnmarshalYAML accepts a scalar or a mapping.
func (a *SeedAlias) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		a.Text = node.Value
		return nil
	}
	type plain SeedAlias
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*a = SeedAlias(p)
	return nil
}

// UnmarshalJSON accepts a string or an object.
func (a *SeedAlias) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Text = s
		return nil
	}
	type plain SeedAlias
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = SeedAlias(p)
	return nil
}

// SeedStats is a season of statistics for one entity.
type SeedStats struct {
	ID     string                 `yaml:"id" json:"id"`
	Kind   types.EntityKind       `yaml:"kind" json:"kind"`
	Season string                 `yaml:"season" json:"season"`
	Values map[string]interface{} `yaml:"values" json:"values"`
}

// ParseSeed decodes a seed file.
func ParseSeed(data []byte, format Format) (*SeedFile, error) {
	var sf SeedFile
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return nil, fmt.Errorf("parse yaml seed: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &sf); err != nil {
			return nil, fmt.Errorf("parse json seed: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown seed format %q", format)
	}
	return &sf, nil
}

// Dataset converts the seed file into a validated dataset. A non-empty
// domain overrides the file's own.
func (sf *SeedFile) Dataset(domain string) (*types.Dataset, error) {
	if domain == "" {
		domain = sf.Domain
	}
	domain = types.NormalizeText(domain)
	ds := &types.Dataset{Domain: domain}

	teamRefs := make(map[string]string, len(sf.Teams)*3)
	for _, t := range sf.Teams {
		ds.Entities = append(ds.Entities, t.entity(domain, types.KindTeam, ""))
		ds.Aliases = append(ds.Aliases, t.aliases(types.KindTeam)...)
		for _, ref := range []string{t.ID, t.Abbreviation, t.Name} {
			if key := types.NormalizeText(ref); key != "" {
				if _, taken := teamRefs[key]; !taken {
					teamRefs[key] = t.ID
				}
			}
		}
	}

	for _, p := range sf.Players {
		teamID := ""
		if p.Team != "" {
			id, ok := teamRefs[types.NormalizeText(p.Team)]
			if !ok {
				return nil, fmt.Errorf("player %s: unknown team %q", p.ID, p.Team)
			}
			teamID = id
		}
		ds.Entities = append(ds.Entities, p.entity(domain, types.KindPlayer, teamID))
		ds.Aliases = append(ds.Aliases, p.aliases(types.KindPlayer)...)
	}

	for _, s := range sf.Stats {
		kind := s.Kind
		if kind == "" {
			kind = types.KindPlayer
		}
		ds.Stats = append(ds.Stats, types.StatLine{EntityID: s.ID, Kind: kind, Season: s.Season, Stats: s.Values})
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func (e SeedEntry) entity(domain string, kind types.EntityKind, teamID string) types.Entity {
	active := true
	if e.Active != nil {
		active = *e.Active
	}
	return types.Entity{
		ID:          strings.TrimSpace(e.ID),
		Domain:      domain,
		Kind:        kind,
		DisplayName: strings.TrimSpace(e.Name),
		City:        strings.TrimSpace(e.City),
		Abbrev:      strings.TrimSpace(e.Abbreviation),
		TeamID:      teamID,
		Active:      active,
		Attributes:  e.Attributes,
	}
}

func (e SeedEntry) aliases(kind types.EntityKind) []types.Alias {
	out := make([]types.Alias, 0, len(e.Aliases))
	for _, a := range e.Aliases {
		out = append(out, types.Alias{EntityID: strings.TrimSpace(e.ID), Kind: kind, Text: a.Text, Type: a.Type})
	}
	return out
}
