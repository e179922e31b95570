// Package engine runs proposed tool invocations as a two-step saga.
//
// Phase A executes every resolver invocation and folds the matches into a
// per-kind LookupTable. Phase B then enriches each dependent invocation from
// that table, consults the result cache, and calls the domain backend.
// Phase A always completes before Phase B reads the table. Every failure is
// reported on its own invocation; Execute never fails as a whole.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scrypster/statline/internal/backend"
	"github.com/scrypster/statline/internal/cache"
	"github.com/scrypster/statline/internal/observability"
	"github.com/scrypster/statline/internal/resolver"
	"github.com/scrypster/statline/pkg/types"
)

// ErrInvalidInvocation is returned for a dependent invocation that still
// lacks a required identifier after enrichment.
var ErrInvalidInvocation = errors.New("invalid invocation")

// DefaultConcurrency bounds parallel calls within one phase.
const DefaultConcurrency = 4

// ResolverCaller executes built-in resolver tools.
type ResolverCaller interface {
	Call(ctx context.Context, domain string, inv types.ToolInvocation) (*types.ResolutionResult, error)
}

// BackendSource hands out a domain's backend client.
type BackendSource interface {
	Backend(domain string) (backend.Backend, error)
}

// ResultCache is the read-through cache in front of backend calls.
type ResultCache interface {
	GetOrLoad(ctx context.Context, domain, tool string, args map[string]interface{}, load cache.LoadFunc) (json.RawMessage, bool, error)
}

// Plan is the input of one execution.
type Plan struct {
	Domain      string                 `json:"domain"`
	Invocations []types.ToolInvocation `json:"invocations"`
	// Schemas are the tools available in the domain. When set, dependent
	// invocations of other tools fail as unknown_tool, and schema-declared
	// identifier arguments are enriched and checked.
	Schemas []types.ToolSchema `json:"-"`
}

// Execution is the outcome of one plan.
type Execution struct {
	// Results holds one entry per executed invocation, in plan order.
	// Repeated dependent tools are omitted.
	Results []types.ToolResult `json:"results"`
	Lookup  LookupTable        `json:"-"`
	Trace   []TraceEvent       `json:"trace,omitempty"`
}

// Pipeline is safe for concurrent use; all per-request state lives in the
// Execution.
type Pipeline struct {
	resolvers    ResolverCaller
	backends     BackendSource
	cache        ResultCache
	requirements RequirementTable
	concurrency  int
	now          func() time.Time
	logger       *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRequirements replaces the built-in tool requirement table.
func WithRequirements(rt RequirementTable) PipelineOption {
	return func(p *Pipeline) { p.requirements = rt }
}

// WithConcurrency bounds parallel calls within a phase.
func WithConcurrency(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPipelineClock replaces time.Now for trace timestamps.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// WithPipelineLogger sets the pipeline's logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline. c may be nil to disable caching.
func NewPipeline(resolvers ResolverCaller, backends BackendSource, c ResultCache, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		resolvers:    resolvers,
		backends:     backends,
		cache:        c,
		requirements: DefaultRequirements(),
		concurrency:  DefaultConcurrency,
		now:          time.Now,
		logger:       observability.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	return p
}

// Execute runs plan. It never returns an error: every failure is recorded
// on the result of the invocation that caused it.
func (p *Pipeline) Execute(ctx context.Context, plan Plan) *Execution {
	n := len(plan.Invocations)
	exec := &Execution{Lookup: NewLookupTable()}
	results := make([]*types.ToolResult, n)

	schemas := make(map[string]*types.ToolSchema, len(plan.Schemas))
	for i := range plan.Schemas {
		schemas[plan.Schemas[i].Name] = &plan.Schemas[i]
	}

	var phaseA, phaseB []int
	for i, inv := range plan.Invocations {
		if resolver.IsResolverTool(inv.ToolName) {
			phaseA = append(phaseA, i)
		} else {
			phaseB = append(phaseB, i)
		}
	}

	// Phase A.
	exec.Trace = append(exec.Trace, p.eventPhaseStarted(types.PhaseResolver))
	resolved := make([]*types.ResolutionResult, n)
	p.runPhase(ctx, phaseA, func(ctx context.Context, i int) {
		res, rr := p.resolve(ctx, plan.Domain, plan.Invocations[i])
		results[i] = res
		resolved[i] = rr
	})
	for _, i := range phaseA {
		inv := plan.Invocations[i]
		if rr := resolved[i]; rr != nil && rr.Found() {
			e := *rr.MatchedEntity
			exec.Lookup.Record(e.Kind, Resolved{Entity: e, MatchType: rr.MatchType, Confidence: rr.Confidence, Index: i})
			exec.Trace = append(exec.Trace, p.eventResolved(i, inv.ToolName, e.Kind, e.ID))
		} else if results[i].OK() {
			exec.Trace = append(exec.Trace, p.newTraceEvent(KindUnresolved, i, inv.ToolName))
		} else {
			exec.Trace = append(exec.Trace, p.eventOutcome(i, *results[i]))
		}
	}

	// Phase B: enrichment happens sequentially against the finished table.
	exec.Trace = append(exec.Trace, p.eventPhaseStarted(types.PhaseDependent))
	enriched := make([]types.ToolInvocation, n)
	pending := make(map[int]error, len(phaseB))
	var run []int
	seen := make(map[string]bool, len(phaseB))
	for _, i := range phaseB {
		inv := plan.Invocations[i]
		if seen[inv.ToolName] {
			exec.Trace = append(exec.Trace, p.newTraceEvent(KindDuplicateSkipped, i, inv.ToolName))
			continue
		}
		seen[inv.ToolName] = true

		out, events, err := p.enrich(i, inv, exec.Lookup, schemas, len(plan.Schemas) > 0)
		exec.Trace = append(exec.Trace, events...)
		enriched[i] = out
		pending[i] = err
		run = append(run, i)
	}

	p.runPhase(ctx, run, func(ctx context.Context, i int) {
		inv := enriched[i]
		if err := pending[i]; err != nil {
			results[i] = p.failure(inv, err)
			return
		}
		results[i] = p.call(ctx, plan.Domain, inv)
	})
	for _, i := range run {
		exec.Trace = append(exec.Trace, p.eventOutcome(i, *results[i]))
	}

	for _, r := range results {
		if r != nil {
			exec.Results = append(exec.Results, *r)
		}
	}
	return exec
}

// runPhase runs fn for each index with bounded parallelism and waits for
// all of them. fn never fails; failures are recorded in results.
func (p *Pipeline) runPhase(ctx context.Context, indexes []int, fn func(ctx context.Context, i int)) {
	if len(indexes) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, i := range indexes {
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) resolve(ctx context.Context, domain string, inv types.ToolInvocation) (*types.ToolResult, *types.ResolutionResult) {
	inv = inv.Clone()
	inv.Phase = types.PhaseResolver
	if p.resolvers == nil {
		return p.failure(inv, fmt.Errorf("%w: no resolver configured", resolver.ErrResolution)), nil
	}

	rr, err := p.resolvers.Call(ctx, domain, inv)
	if err != nil {
		return p.failure(inv, err), nil
	}
	data, err := json.Marshal(rr)
	if err != nil {
		return p.failure(inv, err), nil
	}
	observability.RecordInvocation(string(types.PhaseResolver), "ok")
	return &types.ToolResult{
		ToolName:  inv.ToolName,
		Arguments: inv.Arguments,
		Phase:     types.PhaseResolver,
		Data:      data,
	}, rr
}

// enrich fills missing identifier arguments from the lookup table. An
// explicit argument is never overwritten. The returned error is set when a
// mandatory argument is still missing or the tool is not available.
func (p *Pipeline) enrich(i int, inv types.ToolInvocation, lookup LookupTable, schemas map[string]*types.ToolSchema, checkKnown bool) (types.ToolInvocation, []TraceEvent, error) {
	inv = inv.Clone()
	inv.Phase = types.PhaseDependent

	schema := schemas[inv.ToolName]
	if checkKnown && schema == nil {
		return inv, nil, fmt.Errorf("%w: %s is not available in this domain", backend.ErrUnknownTool, inv.ToolName)
	}

	var events []TraceEvent
	reqs, mandatory := p.requirements.For(inv.ToolName, schema)
	for _, r := range reqs {
		if hasArg(inv.Arguments, r.Param) {
			continue
		}
		res, ok := lookup.Get(r.Kind)
		if !ok {
			continue
		}
		inv.Arguments[r.Param] = res.Entity.ID
		inv.Enriched = true
		observability.RecordEnrichment()
		events = append(events, p.eventEnriched(i, inv.ToolName, r.Param, r.Kind, res.Entity.ID))
	}

	var missing []string
	for param := range mandatory {
		if !hasArg(inv.Arguments, param) {
			missing = append(missing, param)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return inv, events, fmt.Errorf("%w: %s is missing %s", ErrInvalidInvocation, inv.ToolName, strings.Join(missing, ", "))
	}
	return inv, events, nil
}

func (p *Pipeline) call(ctx context.Context, domain string, inv types.ToolInvocation) *types.ToolResult {
	be, err := p.backends.Backend(domain)
	if err != nil {
		return p.failure(inv, fmt.Errorf("%w: %w", backend.ErrBackendUnavailable, err))
	}

	load := func(ctx context.Context) (json.RawMessage, error) {
		resp, err := be.Call(ctx, inv.ToolName, inv.Arguments)
		if err != nil {
			return nil, err
		}
		return resp.Data, nil
	}

	var (
		data   json.RawMessage
		cached bool
	)
	if p.cache != nil {
		data, cached, err = p.cache.GetOrLoad(ctx, domain, inv.ToolName, inv.Arguments, load)
	} else {
		data, err = load(ctx)
	}
	if err != nil {
		return p.failure(inv, err)
	}

	observability.RecordInvocation(string(types.PhaseDependent), "ok")
	return &types.ToolResult{
		ToolName:  inv.ToolName,
		Arguments: inv.Arguments,
		Phase:     types.PhaseDependent,
		Enriched:  inv.Enriched,
		Cached:    cached,
		Data:      data,
	}
}

func (p *Pipeline) failure(inv types.ToolInvocation, err error) *types.ToolResult {
	kind := ClassifyError(err)
	observability.RecordInvocation(string(inv.Phase), string(kind))
	p.logger.Debug("invocation failed", "tool", inv.ToolName, "kind", kind, "error", err)
	return &types.ToolResult{
		ToolName:  inv.ToolName,
		Arguments: inv.Arguments,
		Phase:     inv.Phase,
		Enriched:  inv.Enriched,
		Error:     err.Error(),
		ErrorKind: kind,
	}
}

// ClassifyError maps an invocation error to its ErrorKind.
func ClassifyError(err error) types.ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return types.ErrorKindCancelled
	case errors.Is(err, ErrInvalidInvocation),
		errors.Is(err, resolver.ErrMissingName),
		errors.Is(err, backend.ErrToolRejected):
		return types.ErrorKindInvalidInvocation
	case errors.Is(err, backend.ErrUnknownTool):
		return types.ErrorKindUnknownTool
	case errors.Is(err, resolver.ErrResolution):
		return types.ErrorKindResolutionFailed
	default:
		return types.ErrorKindBackendUnavailable
	}
}

func hasArg(args map[string]interface{}, key string) bool {
	v, ok := args[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return strings.TrimSpace(s) != ""
	}
	return true
}
