// Package extractor turns free text into candidate tool invocations without
// calling any backend. It is a bounded heuristic pass: entity surface forms
// loaded from the domain's store propose resolver calls, intent keywords
// propose at most one dependent tool per intent category, and every proposal
// is gated on the tools the caller declared. Arguments are only ever
// literal substrings of the input.
package extractor

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/statline/internal/observability"
	"github.com/scrypster/statline/internal/resolver"
	"github.com/scrypster/statline/internal/storage"
	"github.com/scrypster/statline/pkg/types"
)

// DefaultVocabularyMaxAge bounds how long a loaded vocabulary is reused.
const DefaultVocabularyMaxAge = 10 * time.Minute

var seasonPattern = regexp.MustCompile(`\b(18[7-9][0-9]|19[0-9]{2}|20[0-9]{2})\b`)

// Source hands out the entity reader a domain's vocabulary is read from.
type Source interface {
	EntityReader(domain string) (storage.EntityReader, error)
}

type vocabEntry struct {
	vocab    *Vocabulary
	loadedAt time.Time
}

// Extractor is safe for concurrent use.
type Extractor struct {
	source     Source
	intents    []Intent
	keywords   []string // longest first
	keywordCat map[string]string
	categories map[string]types.EntityKind
	catWords   []string
	maxAge     time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu     sync.Mutex
	vocabs map[string]vocabEntry
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithIntents replaces the built-in intent table.
func WithIntents(intents []Intent) Option {
	return func(e *Extractor) { e.intents = intents }
}

// WithCategoryWords replaces the built-in category nouns.
func WithCategoryWords(words map[string]types.EntityKind) Option {
	return func(e *Extractor) { e.categories = words }
}

// WithVocabularyMaxAge sets how long a vocabulary is cached.
func WithVocabularyMaxAge(d time.Duration) Option {
	return func(e *Extractor) { e.maxAge = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// WithLogger sets the extractor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New creates an extractor reading vocabularies from source. source may be
// nil, in which case only intents and category words are recognised.
func New(source Source, opts ...Option) *Extractor {
	e := &Extractor{
		source:     source,
		intents:    DefaultIntents(),
		categories: DefaultCategoryWords(),
		maxAge:     DefaultVocabularyMaxAge,
		now:        time.Now,
		logger:     observability.Discard(),
		vocabs:     make(map[string]vocabEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "extractor")

	e.keywordCat = make(map[string]string)
	for _, in := range e.intents {
		for _, kw := range in.Keywords {
			kw = types.NormalizeText(kw)
			if _, dup := e.keywordCat[kw]; dup || kw == "" {
				continue
			}
			e.keywordCat[kw] = in.Category
			e.keywords = append(e.keywords, kw)
		}
	}
	sortLongestFirst(e.keywords)

	for w := range e.categories {
		e.catWords = append(e.catWords, w)
	}
	sortLongestFirst(e.catWords)
	return e
}

// Vocabulary returns domain's vocabulary, loading it when missing or expired.
func (e *Extractor) Vocabulary(ctx context.Context, domain string) (*Vocabulary, error) {
	e.mu.Lock()
	entry, ok := e.vocabs[domain]
	e.mu.Unlock()
	if ok && e.now().Sub(entry.loadedAt) < e.maxAge {
		return entry.vocab, nil
	}
	if e.source == nil {
		return nil, nil
	}

	reader, err := e.source.EntityReader(domain)
	if err != nil {
		return nil, err
	}
	v, err := LoadVocabulary(ctx, reader, domain)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.vocabs[domain] = vocabEntry{vocab: v, loadedAt: e.now()}
	e.mu.Unlock()
	e.logger.Debug("vocabulary loaded", "domain", domain, "forms", v.Len())
	return v, nil
}

// Invalidate drops the cached vocabulary of domain, or of every domain when
// domain is empty.
func (e *Extractor) Invalidate(domain string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if domain == "" {
		e.vocabs = make(map[string]vocabEntry)
		return
	}
	delete(e.vocabs, domain)
}

// Extract proposes invocations for input within domain. A vocabulary that
// cannot be loaded is logged and treated as empty.
func (e *Extractor) Extract(ctx context.Context, domain, input string, declared []types.ToolSchema) []types.ToolInvocation {
	vocab, err := e.Vocabulary(ctx, domain)
	if err != nil {
		e.logger.Warn("vocabulary unavailable", "domain", domain, "error", err)
	}
	return e.ExtractWith(vocab, input, declared)
}

// ExtractWith proposes invocations for input using vocab. Resolver
// invocations come first, in mention order, followed by dependent ones in
// the order their intent was first mentioned.
func (e *Extractor) ExtractWith(vocab *Vocabulary, input string, declared []types.ToolSchema) []types.ToolInvocation {
	if len(declared) == 0 || strings.TrimSpace(input) == "" {
		return nil
	}
	tools := make(map[string]types.ToolSchema, len(declared))
	for _, s := range declared {
		tools[s.Name] = s
	}

	mentions := vocab.Scan(input)
	mentioned := make(map[types.EntityKind]bool)

	var out []types.ToolInvocation
	seen := make(map[string]bool)
	for _, m := range mentions {
		for _, kind := range m.Kinds {
			mentioned[kind] = true
			inv, ok := resolverInvocation(tools, kind, map[string]interface{}{"name": m.Text})
			if !ok {
				continue
			}
			key := inv.ToolName + "|" + string(kind) + "|" + m.Form
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, inv)
		}
	}

	// Intent keywords are matched outside entity mentions so a team or
	// player name never doubles as a keyword.
	masked := []byte(strings.ToLower(input))
	if len(masked) == len(input) {
		for _, m := range mentions {
			for k := m.Start; k < m.End; k++ {
				masked[k] = ' '
			}
		}
	}
	hinted := make(map[types.EntityKind]bool)
	for _, s := range scanPhrases(string(masked), e.catWords) {
		hinted[e.categories[s.phrase]] = true
	}

	intentFired := false
	proposed := make(map[string]bool)
	for _, s := range scanPhrases(string(masked), e.keywords) {
		category := e.keywordCat[s.phrase]
		if proposed["category:"+category] {
			continue
		}
		proposed["category:"+category] = true
		intentFired = true

		tool, ok := e.selectTool(category, tools, mentioned, hinted)
		if !ok || proposed[tool] {
			continue
		}
		proposed[tool] = true
		out = append(out, types.ToolInvocation{
			ToolName:  tool,
			Arguments: literalArgs(tools[tool], input),
			Phase:     types.PhaseDependent,
		})
	}

	if len(mentions) == 0 && !intentFired {
		out = append(out, e.fallback(string(masked), tools)...)
	}
	return out
}

// selectTool picks a declared tool of category. A tool whose kind was
// mentioned wins, then one whose kind a category word names ("team",
// "pitcher"), then the first declared tool of the category. The last case
// leaves the required identifier for enrichment to report as missing.
func (e *Extractor) selectTool(category string, tools map[string]types.ToolSchema, mentioned, hinted map[types.EntityKind]bool) (string, bool) {
	var candidates []IntentTool
	for _, in := range e.intents {
		if in.Category != category {
			continue
		}
		for _, t := range in.Tools {
			if _, ok := tools[t.Name]; ok {
				candidates = append(candidates, t)
			}
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	for _, kinds := range []map[types.EntityKind]bool{mentioned, hinted} {
		for _, t := range candidates {
			if t.Kind == "" || kinds[t.Kind] {
				return t.Name, true
			}
		}
	}
	return candidates[0].Name, true
}

// fallback proposes argument-less resolver calls for each entity category
// named in the input, for the model to fill in on a later turn.
func (e *Extractor) fallback(lower string, tools map[string]types.ToolSchema) []types.ToolInvocation {
	var out []types.ToolInvocation
	seen := make(map[types.EntityKind]bool)
	for _, s := range scanPhrases(lower, e.catWords) {
		kind := e.categories[s.phrase]
		if seen[kind] {
			continue
		}
		seen[kind] = true
		if inv, ok := resolverInvocation(tools, kind, map[string]interface{}{}); ok {
			out = append(out, inv)
		}
	}
	return out
}

// resolverInvocation prefers the kind-specific resolver and falls back to
// resolve_entity with an explicit kind.
func resolverInvocation(tools map[string]types.ToolSchema, kind types.EntityKind, args map[string]interface{}) (types.ToolInvocation, bool) {
	if name := resolver.ToolForKind(kind); name != resolver.ToolResolveEntity {
		if _, ok := tools[name]; ok {
			return types.ToolInvocation{ToolName: name, Arguments: args, Phase: types.PhaseResolver}, true
		}
	}
	if _, ok := tools[resolver.ToolResolveEntity]; ok {
		if len(args) > 0 {
			args["kind"] = string(kind)
		}
		return types.ToolInvocation{ToolName: resolver.ToolResolveEntity, Arguments: args, Phase: types.PhaseResolver}, true
	}
	return types.ToolInvocation{}, false
}

// literalArgs extracts arguments that appear verbatim in the input. Only
// a season year is recognised, and only for tools that declare it.
func literalArgs(schema types.ToolSchema, input string) map[string]interface{} {
	args := map[string]interface{}{}
	if schema.HasParam("season") {
		if year := seasonPattern.FindString(input); year != "" {
			args["season"] = year
		}
	}
	return args
}
