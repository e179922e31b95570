package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/scrypster/statline/pkg/types"
)

// Built-in resolver tool names. These are served locally against the
// domain's entity store rather than by the domain backend.
const (
	ToolResolveTeam   = "resolve_team"
	ToolResolvePlayer = "resolve_player"
	ToolResolveEntity = "resolve_entity"
)

// ErrMissingName is returned when a resolver tool is called without a name.
var ErrMissingName = errors.New("missing required argument \"name\"")

// IsResolverTool reports whether name is one of the built-in resolver tools.
func IsResolverTool(name string) bool {
	switch name {
	case ToolResolveTeam, ToolResolvePlayer, ToolResolveEntity:
		return true
	}
	return false
}

// ToolForKind returns the resolver tool dedicated to kind.
func ToolForKind(kind types.EntityKind) string {
	switch kind {
	case types.KindTeam:
		return ToolResolveTeam
	case types.KindPlayer:
		return ToolResolvePlayer
	}
	return ToolResolveEntity
}

// KindForTool returns the entity kind a resolver tool targets. For
// resolve_entity the kind comes from the "kind" argument and may be empty.
func KindForTool(tool string, args map[string]interface{}) types.EntityKind {
	switch tool {
	case ToolResolveTeam:
		return types.KindTeam
	case ToolResolvePlayer:
		return types.KindPlayer
	case ToolResolveEntity:
		if k, err := types.ParseEntityKind(stringArg(args, "kind")); err == nil {
			return k
		}
	}
	return ""
}

// Schemas returns the function-calling declarations of the built-in
// resolver tools for domain.
func Schemas(domain string) []types.ToolSchema {
	common := func(extra map[string]interface{}) map[string]interface{} {
		props := map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Free-text name, nickname, city or abbreviation",
			},
			"fuzzy": map[string]interface{}{
				"type":        "boolean",
				"description": "Allow substring matching when exact and alias lookups miss (default true)",
			},
			"include_detail": map[string]interface{}{
				"type":        "boolean",
				"description": "Attach season statistics to the match",
			},
		}
		for k, v := range extra {
			props[k] = v
		}
		return map[string]interface{}{
			"type":       "object",
			"properties": props,
			"required":   []interface{}{"name"},
		}
	}

	teamArg := map[string]interface{}{
		"team": map[string]interface{}{
			"type":        "string",
			"description": "Restrict players to this team",
		},
	}
	kindArg := map[string]interface{}{
		"kind": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{string(types.KindTeam), string(types.KindPlayer)},
		},
	}
	for k, v := range teamArg {
		kindArg[k] = v
	}

	return []types.ToolSchema{
		{
			Name:        ToolResolveTeam,
			Description: "Resolve a team reference to its canonical id",
			Parameters:  common(nil),
			Domain:      domain,
		},
		{
			Name:        ToolResolvePlayer,
			Description: "Resolve a player reference to its canonical id",
			Parameters:  common(teamArg),
			Domain:      domain,
		},
		{
			Name:        ToolResolveEntity,
			Description: "Resolve a team or player reference to its canonical id",
			Parameters:  common(kindArg),
			Domain:      domain,
		},
	}
}

// Call executes a built-in resolver tool invocation within domain.
// Accepted arguments: name, fuzzy (default true), include_detail, team, kind.
func (s *Service) Call(ctx context.Context, domain string, inv types.ToolInvocation) (*types.ResolutionResult, error) {
	if !IsResolverTool(inv.ToolName) {
		return nil, fmt.Errorf("%s is not a resolver tool", inv.ToolName)
	}
	name := stringArg(inv.Arguments, "name")
	if name == "" {
		return nil, ErrMissingName
	}
	opts := Options{
		Fuzzy:         boolArg(inv.Arguments, "fuzzy", true),
		IncludeDetail: boolArg(inv.Arguments, "include_detail", false),
		Kind:          KindForTool(inv.ToolName, inv.Arguments),
		Team:          stringArg(inv.Arguments, "team"),
	}
	return s.Resolve(ctx, name, domain, opts)
}

func stringArg(args map[string]interface{}, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func boolArg(args map[string]interface{}, key string, def bool) bool {
	v, ok := args[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	}
	return def
}
