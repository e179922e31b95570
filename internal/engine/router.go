package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/statline/internal/extractor"
	"github.com/scrypster/statline/internal/observability"
	"github.com/scrypster/statline/internal/resolver"
	"github.com/scrypster/statline/pkg/types"
)

// ErrUnknownDomain is returned when a request names a domain that is not
// configured.
var ErrUnknownDomain = errors.New("unknown domain")

// How a request's domain was chosen.
const (
	DomainFromHint    = "hint"
	DomainFromKeyword = "keyword"
	DomainFromEntity  = "entity"
	DomainFromDefault = "default"
)

// DomainDirectory lists the configured domains.
type DomainDirectory interface {
	Names() []string
	DefaultDomain() string
	Keywords() map[string][]string
}

// ToolCatalog supplies each domain's backend tool schemas.
type ToolCatalog interface {
	ToolsFor(ctx context.Context, domain string) ([]types.ToolSchema, error)
}

// InvocationExtractor proposes invocations from free text.
type InvocationExtractor interface {
	Extract(ctx context.Context, domain, input string, declared []types.ToolSchema) []types.ToolInvocation
	Vocabulary(ctx context.Context, domain string) (*extractor.Vocabulary, error)
}

// Request is one inbound routing request.
type Request struct {
	ID     string `json:"request_id,omitempty"`
	Text   string `json:"text"`
	Domain string `json:"domain,omitempty"`
	// Tools are the tools the caller declares it can use. Empty means every
	// tool the domain offers.
	Tools []types.ToolDeclaration `json:"tools,omitempty"`
	// Invocations, when set, are executed instead of extracting from Text.
	Invocations []types.ToolInvocation `json:"invocations,omitempty"`
	// Trace asks for the pipeline trace in the response.
	Trace bool `json:"trace,omitempty"`
}

// Response is the outcome of a routed request.
type Response struct {
	RequestID    string `json:"request_id"`
	Domain       string `json:"domain"`
	DomainSource string `json:"domain_source"`
	// ToolsUnavailable is set when the domain's backend tools could not be
	// listed; only the built-in resolvers were offered.
	ToolsUnavailable bool                   `json:"tools_unavailable"`
	Invocations      []types.ToolInvocation `json:"invocations"`
	Results          []types.ToolResult     `json:"results"`
	Trace            []TraceEvent           `json:"trace,omitempty"`
	DurationMS       int64                  `json:"duration_ms"`
}

// Router detects the domain of a request, builds its tool set, extracts
// invocations and runs them through the pipeline.
type Router struct {
	domains   DomainDirectory
	catalog   ToolCatalog
	extractor InvocationExtractor
	pipeline  *Pipeline
	logger    *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(domains DomainDirectory, catalog ToolCatalog, ex InvocationExtractor, pipeline *Pipeline, logger *slog.Logger) *Router {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Router{
		domains:   domains,
		catalog:   catalog,
		extractor: ex,
		pipeline:  pipeline,
		logger:    logger.With("component", "router"),
	}
}

// Handle routes one request. The only error is an unknown domain hint;
// tool failures are reported in the response results.
func (r *Router) Handle(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	logger := r.logger.With("request_id", req.ID)

	domain, source, err := r.DetectDomain(ctx, req.Text, req.Domain)
	if err != nil {
		return nil, err
	}

	tools, unavailable := r.AvailableTools(ctx, domain, declaredNames(req.Tools))

	var invs []types.ToolInvocation
	if len(req.Invocations) > 0 {
		invs = make([]types.ToolInvocation, 0, len(req.Invocations))
		for _, inv := range req.Invocations {
			invs = append(invs, inv.Clone())
		}
	} else {
		invs = r.extractor.Extract(ctx, domain, req.Text, tools)
	}

	exec := r.pipeline.Execute(ctx, Plan{Domain: domain, Invocations: invs, Schemas: tools})

	resp := &Response{
		RequestID:        req.ID,
		Domain:           domain,
		DomainSource:     source,
		ToolsUnavailable: unavailable,
		Invocations:      invs,
		Results:          exec.Results,
		DurationMS:       time.Since(start).Milliseconds(),
	}
	if resp.Invocations == nil {
		resp.Invocations = []types.ToolInvocation{}
	}
	if resp.Results == nil {
		resp.Results = []types.ToolResult{}
	}
	if req.Trace {
		resp.Trace = exec.Trace
	}

	failed := 0
	for _, res := range exec.Results {
		if !res.OK() {
			failed++
		}
	}
	logger.Info("request routed",
		"domain", domain,
		"domain_source", source,
		"invocations", len(invs),
		"failed", failed,
		"tools_unavailable", unavailable,
		"duration_ms", resp.DurationMS)
	return resp, nil
}

// CallTool executes a single invocation in domain through the pipeline.
func (r *Router) CallTool(ctx context.Context, domain string, inv types.ToolInvocation) (types.ToolResult, error) {
	domain, _, err := r.DetectDomain(ctx, "", domain)
	if err != nil {
		return types.ToolResult{}, err
	}
	tools, _ := r.AvailableTools(ctx, domain, nil)
	exec := r.pipeline.Execute(ctx, Plan{Domain: domain, Invocations: []types.ToolInvocation{inv.Clone()}, Schemas: tools})
	if len(exec.Results) == 0 {
		return types.ToolResult{}, fmt.Errorf("no result for %s", inv.ToolName)
	}
	return exec.Results[0], nil
}

// DetectDomain picks the request's domain: an explicit hint, then domain
// keywords in the text, then entity surface forms, then the default domain.
func (r *Router) DetectDomain(ctx context.Context, text, hint string) (string, string, error) {
	names := r.domains.Names()

	if hint = strings.ToLower(strings.TrimSpace(hint)); hint != "" {
		for _, n := range names {
			if n == hint {
				return n, DomainFromHint, nil
			}
		}
		return "", "", fmt.Errorf("%w: %q", ErrUnknownDomain, hint)
	}

	if strings.TrimSpace(text) != "" {
		keywords := r.domains.Keywords()
		if d := best(names, func(name string) int {
			return len(extractor.MatchPhrases(text, keywords[name]))
		}); d != "" {
			return d, DomainFromKeyword, nil
		}

		if d := best(names, func(name string) int {
			vocab, err := r.extractor.Vocabulary(ctx, name)
			if err != nil {
				r.logger.Debug("vocabulary unavailable for detection", "domain", name, "error", err)
				return 0
			}
			return len(vocab.Scan(text))
		}); d != "" {
			return d, DomainFromEntity, nil
		}
	}

	return r.domains.DefaultDomain(), DomainFromDefault, nil
}

// best returns the name with the highest positive score; ties go to the
// earlier name.
func best(names []string, score func(string) int) string {
	winner, top := "", 0
	for _, n := range names {
		if s := score(n); s > top {
			winner, top = n, s
		}
	}
	return winner
}

// AvailableTools returns the built-in resolver tools plus the domain's
// backend tools, restricted to declared when it is non-empty. unavailable
// reports that the backend tools could not be listed.
func (r *Router) AvailableTools(ctx context.Context, domain string, declared []string) (tools []types.ToolSchema, unavailable bool) {
	all := resolver.Schemas(domain)
	builtin := make(map[string]bool, len(all))
	for _, s := range all {
		builtin[s.Name] = true
	}

	backendTools, err := r.catalog.ToolsFor(ctx, domain)
	if err != nil {
		unavailable = true
		r.logger.Warn("domain tools unavailable", "domain", domain, "error", err)
	}
	for _, s := range backendTools {
		if !builtin[s.Name] {
			all = append(all, s)
		}
	}

	if len(declared) == 0 {
		return all, unavailable
	}
	want := make(map[string]bool, len(declared))
	for _, name := range declared {
		want[name] = true
	}
	tools = make([]types.ToolSchema, 0, len(declared))
	for _, s := range all {
		if want[s.Name] {
			tools = append(tools, s)
		}
	}
	return tools, unavailable
}

func declaredNames(decls []types.ToolDeclaration) []string {
	out := make([]string, 0, len(decls))
	for _, d := range decls {
		if d.Function.Name != "" {
			out = append(out, d.Function.Name)
		}
	}
	return out
}
