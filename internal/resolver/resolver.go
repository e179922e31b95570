// Package resolver turns free-text team and player references into canonical
// entities. Resolution is strictly tiered: exact (1.0), then alias (0.9),
// then, when allowed, fuzzy containment (0.7). A miss returns up to five
// ranked suggestions instead of an error.
//
// Every domain is served the same way, from its relational entity store;
// adding a domain is a data load, not a code change.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scrypster/statline/internal/observability"
	"github.com/scrypster/statline/internal/storage"
	"github.com/scrypster/statline/pkg/types"
)

// MaxSuggestions caps the suggestion list returned on a miss.
const MaxSuggestions = 5

// maxFilterTeams caps how many teams a disambiguating team filter may expand to.
const maxFilterTeams = storage.MaxQueryLimit

// ErrResolution wraps backing-store failures. A resolution that simply finds
// nothing is not an error and never carries this.
var ErrResolution = errors.New("resolution failed")

// Options tunes one resolve call.
type Options struct {
	// Fuzzy enables containment matching after exact and alias lookups miss.
	Fuzzy bool

	// IncludeDetail attaches the entity's statistics rows to a match.
	IncludeDetail bool

	// Kind restricts matching to teams or players. Empty matches both.
	Kind types.EntityKind

	// Team restricts player candidates to players on the team this text
	// names (by name, city, abbreviation or alias).
	Team string
}

// Resolver resolves names within a single domain.
type Resolver interface {
	Resolve(ctx context.Context, name string, opts Options) (*types.ResolutionResult, error)
}

// StoreResolver is the Resolver for one domain, backed by its entity store.
type StoreResolver struct {
	domain string
	store  storage.EntityReader
	logger *slog.Logger
}

var _ Resolver = (*StoreResolver)(nil)

// NewStoreResolver returns a resolver for domain reading from store.
func NewStoreResolver(domain string, store storage.EntityReader, logger *slog.Logger) *StoreResolver {
	if logger == nil {
		logger = observability.Discard()
	}
	return &StoreResolver{
		domain: strings.ToLower(strings.TrimSpace(domain)),
		store:  store,
		logger: logger.With("component", "resolver", "domain", domain),
	}
}

// Domain returns the domain this resolver serves.
func (r *StoreResolver) Domain() string {
	return r.domain
}

// Resolve runs the exact, alias and fuzzy phases in order; the first hit wins.
func (r *StoreResolver) Resolve(ctx context.Context, name string, opts Options) (*types.ResolutionResult, error) {
	result := &types.ResolutionResult{Query: name, Domain: r.domain}

	text := types.NormalizeText(name)
	if text == "" {
		observability.RecordResolution(r.domain, "miss")
		return result, nil
	}

	q := storage.EntityQuery{Domain: r.domain, Kind: opts.Kind, Text: text}

	if opts.Team != "" && opts.Kind != types.KindTeam {
		teamIDs, err := r.teamFilter(ctx, opts.Team)
		if err != nil {
			return r.fail(err)
		}
		q.TeamIDs = teamIDs
	}

	exact, err := r.store.FindExact(ctx, q)
	if err != nil {
		return r.fail(err)
	}
	if len(exact) > 0 {
		return r.match(ctx, result, exact[0], types.MatchExact, "", opts)
	}

	aliases, err := r.store.FindByAlias(ctx, q)
	if err != nil {
		return r.fail(err)
	}
	if len(aliases) > 0 {
		return r.match(ctx, result, aliases[0].Entity, types.MatchAlias, aliases[0].AliasType, opts)
	}

	if opts.Fuzzy {
		fq := q
		fq.Limit = 1
		fuzzy, err := r.store.FindContaining(ctx, fq)
		if err != nil {
			return r.fail(err)
		}
		if len(fuzzy) > 0 {
			return r.match(ctx, result, fuzzy[0], types.MatchFuzzy, "", opts)
		}
	}

	// Suggestions are attempted on every miss, independent of opts.Fuzzy.
	sq := q
	sq.Limit = MaxSuggestions
	suggestions, err := r.store.FindContaining(ctx, sq)
	if err != nil {
		return r.fail(err)
	}
	result.Suggestions = suggestions

	observability.RecordResolution(r.domain, "miss")
	r.logger.Debug("no match", "query", name, "suggestions", len(suggestions))
	return result, nil
}

func (r *StoreResolver) match(ctx context.Context, result *types.ResolutionResult, e types.Entity, mt types.MatchType, at types.AliasType, opts Options) (*types.ResolutionResult, error) {
	matched := e
	result.MatchedEntity = &matched
	result.MatchType = mt
	result.Confidence = types.ConfidenceFor(mt)
	result.AliasType = at

	if opts.IncludeDetail {
		stats, err := r.store.StatsFor(ctx, r.domain, e.Kind, e.ID)
		if err != nil {
			return r.fail(err)
		}
		result.Detail = &types.EntityDetail{Stats: stats}
	}

	observability.RecordResolution(r.domain, string(mt))
	return result, nil
}

// teamFilter expands team text into the set of team ids it could name.
// The returned slice is never nil: a filter naming no team matches no players.
func (r *StoreResolver) teamFilter(ctx context.Context, team string) ([]string, error) {
	q := storage.EntityQuery{Domain: r.domain, Kind: types.KindTeam, Text: team, Limit: maxFilterTeams}

	ids := []string{}
	seen := map[string]bool{}
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	exact, err := r.store.FindExact(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, e := range exact {
		add(e.ID)
	}

	aliases, err := r.store.FindByAlias(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, m := range aliases {
		add(m.Entity.ID)
	}

	if len(ids) == 0 {
		contains, err := r.store.FindContaining(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, e := range contains {
			add(e.ID)
		}
	}
	return ids, nil
}

func (r *StoreResolver) fail(err error) (*types.ResolutionResult, error) {
	observability.RecordResolution(r.domain, "error")
	r.logger.Error("entity store query failed", "error", err)
	return nil, fmt.Errorf("%w: %s: %w", ErrResolution, r.domain, err)
}
