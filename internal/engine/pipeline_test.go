package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/statline/internal/backend"
	"github.com/scrypster/statline/internal/cache"
	"github.com/scrypster/statline/internal/resolver"
	"github.com/scrypster/statline/internal/storage"
	"github.com/scrypster/statline/internal/testutil"
	"github.com/scrypster/statline/pkg/types"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type readerSource map[string]storage.EntityReader

func (s readerSource) EntityReader(domain string) (storage.EntityReader, error) {
	r, ok := s[domain]
	if !ok {
		return nil, fmt.Errorf("no store for %q", domain)
	}
	return r, nil
}

type recordedCall struct {
	Tool string
	Args map[string]interface{}
}

type fakeBackend struct {
	mu       sync.Mutex
	calls    []recordedCall
	failures map[string]error
}

func (b *fakeBackend) FetchSchemas(ctx context.Context) ([]types.ToolSchema, error) {
	return nil, nil
}

func (b *fakeBackend) Call(ctx context.Context, tool string, args map[string]interface{}) (*types.BackendResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make(map[string]interface{}, len(args))
	for k, v := range args {
		cp[k] = v
	}
	b.calls = append(b.calls, recordedCall{Tool: tool, Args: cp})
	if err, ok := b.failures[tool]; ok {
		return nil, err
	}
	data, _ := json.Marshal(map[string]interface{}{"tool": tool, "query": args})
	return &types.BackendResponse{Endpoint: tool, Query: args, Data: data}, nil
}

func (b *fakeBackend) callsTo(tool string) []recordedCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedCall
	for _, c := range b.calls {
		if c.Tool == tool {
			out = append(out, c)
		}
	}
	return out
}

type backendSource struct {
	be  backend.Backend
	err error
}

func (s backendSource) Backend(domain string) (backend.Backend, error) {
	return s.be, s.err
}

type harness struct {
	pipeline *Pipeline
	backend  *fakeBackend
	cache    *cache.Cache
}

var fixedNow = time.Date(2024, 7, 1, 19, 5, 0, 0, time.UTC)

func newHarness(t *testing.T, reader storage.EntityReader) *harness {
	t.Helper()
	if reader == nil {
		reader = testutil.NewSeededStore(t)
	}
	svc := resolver.NewService(readerSource{"baseball": reader}, nil)
	fb := &fakeBackend{failures: map[string]error{}}
	c := cache.New(64)
	p := NewPipeline(svc, backendSource{be: fb}, c, WithPipelineClock(func() time.Time { return fixedNow }))
	return &harness{pipeline: p, backend: fb, cache: c}
}

func inv(tool string, args map[string]interface{}) types.ToolInvocation {
	if args == nil {
		args = map[string]interface{}{}
	}
	return types.ToolInvocation{ToolName: tool, Arguments: args}
}

func resultFor(t *testing.T, exec *Execution, tool string) types.ToolResult {
	t.Helper()
	for _, r := range exec.Results {
		if r.ToolName == tool {
			return r
		}
	}
	t.Fatalf("no result for %s", tool)
	return types.ToolResult{}
}

// ---------------------------------------------------------------------------
// Enrichment
// ---------------------------------------------------------------------------

func TestExecute_YankeesRosterIsEnriched(t *testing.T) {
	h := newHarness(t, nil)

	exec := h.pipeline.Execute(context.Background(), Plan{
		Domain: "baseball",
		Invocations: []types.ToolInvocation{
			inv("resolve_team", map[string]interface{}{"name": "Yankees"}),
			inv("get_team_roster", nil),
		},
	})

	require.Len(t, exec.Results, 2)
	res := exec.Results[0]
	assert.Equal(t, "resolve_team", res.ToolName)
	assert.True(t, res.OK())
	var rr types.ResolutionResult
	require.NoError(t, json.Unmarshal(res.Data, &rr))
	assert.Equal(t, testutil.YankeesID, rr.MatchedEntity.ID)

	roster := exec.Results[1]
	assert.Equal(t, "get_team_roster", roster.ToolName)
	assert.True(t, roster.OK(), roster.Error)
	assert.True(t, roster.Enriched)
	assert.Equal(t, types.PhaseDependent, roster.Phase)
	assert.Equal(t, testutil.YankeesID, roster.Arguments["teamId"])

	calls := h.backend.callsTo("get_team_roster")
	require.Len(t, calls, 1)
	assert.Equal(t, testutil.YankeesID, calls[0].Args["teamId"])

	kinds := make([]TraceEventKind, 0, len(exec.Trace))
	for _, e := range exec.Trace {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []TraceEventKind{KindPhaseStarted, KindResolved, KindPhaseStarted, KindEnriched, KindExecuted}, kinds)
}

func TestExecute_ExplicitArgumentNeverOverwritten(t *testing.T) {
	h := newHarness(t, nil)

	exec := h.pipeline.Execute(context.Background(), Plan{
		Domain: "baseball",
		Invocations: []types.ToolInvocation{
			inv("resolve_team", map[string]interface{}{"name": "yankees"}),
			inv("get_team_roster", map[string]interface{}{"teamId": testutil.MetsID}),
		},
	})

	roster := resultFor(t, exec, "get_team_roster")
	assert.False(t, roster.Enriched)
	assert.Equal(t, testutil.MetsID, roster.Arguments["teamId"])
	assert.Equal(t, testutil.MetsID, h.backend.callsTo("get_team_roster")[0].Args["teamId"])
}

func TestExecute_OriginalInvocationIsNotMutated(t *testing.T) {
	h := newHarness(t, nil)
	roster := inv("get_team_roster", nil)

	h.pipeline.Execute(context.Background(), Plan{
		Domain:      "baseball",
		Invocations: []types.ToolInvocation{inv("resolve_team", map[string]interface{}{"name": "mets"}), roster},
	})
	assert.Empty(t, roster.Arguments)
	assert.False(t, roster.Enriched)
}

func TestExecute_LastResolvedEntityWins(t *testing.T) {
	tests := []struct {
		name  string
		first string
		last  string
		want  string
	}{
		{"yankees last", "mets", "yankees", testutil.YankeesID},
		{"mets last", "yankees", "mets", testutil.MetsID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			exec := h.pipeline.Execute(context.Background(), Plan{
				Domain: "baseball",
				Invocations: []types.ToolInvocation{
					inv("resolve_team", map[string]interface{}{"name": tt.first}),
					inv("resolve_team", map[string]interface{}{"name": tt.last}),
					inv("get_team_roster", nil),
				},
			})
			assert.Equal(t, tt.want, resultFor(t, exec, "get_team_roster").Arguments["teamId"])
			got, ok := exec.Lookup.Get(types.KindTeam)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Entity.ID)
		})
	}
}

func TestExecute_TeamAndPlayerEnrichSeparately(t *testing.T) {
	h := newHarness(t, nil)

	exec := h.pipeline.Execute(context.Background(), Plan{
		Domain: "baseball",
		Invocations: []types.ToolInvocation{
			inv("resolve_player", map[string]interface{}{"name": "judge"}),
			inv("resolve_team", map[string]interface{}{"name": "dodgers"}),
			inv("get_player_stats", nil),
			inv("get_team_stats", nil),
		},
	})

	assert.Equal(t, testutil.JudgeID, resultFor(t, exec, "get_player_stats").Arguments["playerId"])
	assert.Equal(t, testutil.DodgersID, resultFor(t, exec, "get_team_stats").Arguments["teamId"])
	assert.Equal(t, 2, exec.Lookup.Len())
}

func TestExecute_SchemaDeclaredIdentifierIsEnriched(t *testing.T) {
	h := newHarness(t, nil)
	schemas := []types.ToolSchema{
		{Name: "resolve_player"},
		{
			Name: "get_player_splits",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"playerId": map[string]interface{}{"type": "string"},
				},
			},
		},
	}

	exec := h.pipeline.Execute(context.Background(), Plan{
		Domain: "baseball",
		Invocations: []types.ToolInvocation{
			inv("resolve_player", map[string]interface{}{"name": "ohtani"}),
			inv("get_player_splits", nil),
		},
		Schemas: schemas,
	})

	splits := resultFor(t, exec, "get_player_splits")
	assert.True(t, splits.OK(), splits.Error)
	assert.True(t, splits.Enriched)
	assert.Equal(t, "660271", splits.Arguments["playerId"])
}

// ---------------------------------------------------------------------------
// Failure isolation
// ---------------------------------------------------------------------------

func TestExecute_PartialFailureKeepsOtherResults(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.failures["get_team_stats"] = fmt.Errorf("%w: status 503", backend.ErrBackendUnavailable)

	exec := h.pipeline.Execute(context.Background(), Plan{
		Domain: "baseball",
		Invocations: []types.ToolInvocation{
			inv("resolve_team", map[string]interface{}{"name": "yankees"}),
			inv("get_team_roster", nil),
			inv("get_team_stats", nil),
			inv("get_standings", nil),
		},
	})

	require.Len(t, exec.Results, 4)
	assert.True(t, resultFor(t, exec, "get_team_roster").OK())
	assert.True(t, resultFor(t, exec, "get_standings").OK())

	stats := resultFor(t, exec, "get_team_stats")
	assert.False(t, stats.OK())
	assert.Equal(t, types.ErrorKindBackendUnavailable, stats.ErrorKind)
	assert.Contains(t, stats.Error, "status 503")
	assert.True(t, stats.Enriched)
}

func TestExecute_MissingIdentifierIsInvalidInvocation(t *testing.T) {
	h := newHarness(t, nil)

	exec := h.pipeline.Execute(context.Background(), Plan{
		Domain:      "baseball",
		Invocations: []types.ToolInvocation{inv("get_team_roster", nil)},
	})

	require.Len(t, exec.Results, 1)
	res := exec.Results[0]
	assert.Equal(t, types.ErrorKindInvalidInvocation, res.ErrorKind)
	assert.Contains(t, res.Error, "teamId")
	assert.Empty(t, h.backend.callsTo("get_team_roster"), "invalid invocations never reach the backend")
}

func TestExecute_UnresolvedNameLeavesNothingToEnrich(t *testing.T) {
	h := newHarness(t, nil)

	exec := h.pipeline.Execute(context.Background(), Plan{
		Domain: "baseball",
		Invocations: []types.ToolInvocation{
			inv("resolve_team", map[string]interface{}{"name": "zzznotateam", "fuzzy": false}),
			inv("get_team_roster", nil),
		},
	})

	res := resultFor(t, exec, "resolve_team")
	assert.True(t, res.OK(), "a miss is a negative result, not an error")
	var rr types.ResolutionResult
	require.NoError(t, json.Unmarshal(res.Data, &rr))
	assert.Nil(t, rr.MatchedEntity)

	assert.Equal(t, types.ErrorKindInvalidInvocation, resultFor(t, exec, "get_team_roster").ErrorKind)
	assert.Equal(t, KindUnresolved, exec.Trace[1].Kind)
}

type failingReader struct{ storage.EntityReader }

func (failingReader) FindExact(context.Context, storage.EntityQuery) ([]types.Entity, error) {
	return nil, errors.New("database is locked")
}

func TestExecute_ResolverFailureDoesNotAbortPhaseB(t *testing.T) {
	h := newHarness(t, failingReader{})

	exec := h.pipeline.Execute(context.Background(), Plan{
		Domain: "baseball",
		Invocations: []types.ToolInvocation{
			inv("resolve_team", map[string]interface{}{"name": "yankees"}),
			inv("get_standings", nil),
		},
	})

	require.Len(t, exec.Results, 2)
	assert.Equal(t, types.ErrorKindResolutionFailed, resultFor(t, exec, "resolve_team").ErrorKind)
	assert.True(t, resultFor(t, exec, "get_standings").OK())
}

func TestExecute_ArgumentlessResolverIsInvalid(t *testing.T) {
	h := newHarness(t, nil)

	exec := h.pipeline.Execute(context.Background(), Plan{
		Domain:      "baseball",
		Invocations: []types.ToolInvocation{inv("resolve_team", nil)},
	})
	require.Len(t, exec.Results, 1)
	assert.Equal(t, types.ErrorKindInvalidInvocation, exec.Results[0].ErrorKind)
	assert.Equal(t, types.PhaseResolver, exec.Results[0].Phase)
}

func TestExecute_UnknownToolWhenSchemasGiven(t *testing.T) {
	h := newHarness(t, nil)

	exec := h.pipeline.Execute(context.Background(), Plan{
		Domain:      "baseball",
		Invocations: []types.ToolInvocation{inv("get_weather", nil)},
		Schemas:     []types.ToolSchema{{Name: "get_standings"}},
	})
	require.Len(t, exec.Results, 1)
	assert.Equal(t, types.ErrorKindUnknownTool, exec.Results[0].ErrorKind)
}

func TestExecute_TimeoutIsClassified(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.failures["get_live_game"] = fmt.Errorf("%w: %w", backend.ErrBackendUnavailable, context.DeadlineExceeded)

	exec := h.pipeline.Execute(context.Background(), Plan{
		Domain: "baseball",
		Invocations: []types.ToolInvocation{
			inv("get_live_game", map[string]interface{}{"teamId": "147"}),
		},
	})
	assert.Equal(t, types.ErrorKindTimeout, exec.Results[0].ErrorKind)
}

func TestExecute_CancellationIsNotABackendFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.failures["get_live_game"] = fmt.Errorf("%w: baseball: %w", backend.ErrBackendUnavailable, context.Canceled)

	exec := h.pipeline.Execute(context.Background(), Plan{
		Domain: "baseball",
		Invocations: []types.ToolInvocation{
			inv("get_live_game", map[string]interface{}{"teamId": "147"}),
		},
	})
	assert.Equal(t, types.ErrorKindCancelled, exec.Results[0].ErrorKind)
}

func TestExecute_NoBackendForDomain(t *testing.T) {
	store := testutil.NewSeededStore(t)
	svc := resolver.NewService(readerSource{"baseball": store}, nil)
	p := NewPipeline(svc, backendSource{err: errors.New("domain is disabled")}, nil)

	exec := p.Execute(context.Background(), Plan{
		Domain:      "baseball",
		Invocations: []types.ToolInvocation{inv("get_standings", nil)},
	})
	assert.Equal(t, types.ErrorKindBackendUnavailable, exec.Results[0].ErrorKind)
}

// ---------------------------------------------------------------------------
// Dedup and cache
// ---------------------------------------------------------------------------

func TestExecute_DependentToolRunsOnce(t *testing.T) {
	h := newHarness(t, nil)

	exec := h.pipeline.Execute(context.Background(), Plan{
		Domain: "baseball",
		Invocations: []types.ToolInvocation{
			inv("get_standings", nil),
			inv("get_standings", map[string]interface{}{"league": "AL"}),
			inv("get_standings", nil),
		},
	})

	assert.Len(t, exec.Results, 1)
	assert.Len(t, h.backend.callsTo("get_standings"), 1)

	skipped := 0
	for _, e := range exec.Trace {
		if e.Kind == KindDuplicateSkipped {
			skipped++
		}
	}
	assert.Equal(t, 2, skipped)
}

func TestExecute_SecondRequestServedFromCache(t *testing.T) {
	h := newHarness(t, nil)
	plan := Plan{
		Domain: "baseball",
		Invocations: []types.ToolInvocation{
			inv("resolve_team", map[string]interface{}{"name": "yankees"}),
			inv("get_team_roster", nil),
		},
	}

	first := h.pipeline.Execute(context.Background(), plan)
	second := h.pipeline.Execute(context.Background(), plan)

	assert.False(t, resultFor(t, first, "get_team_roster").Cached)
	assert.True(t, resultFor(t, second, "get_team_roster").Cached)
	assert.Len(t, h.backend.callsTo("get_team_roster"), 1)
	assert.JSONEq(t, string(resultFor(t, first, "get_team_roster").Data), string(resultFor(t, second, "get_team_roster").Data))
}

func TestExecute_FailuresAreNotCached(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.failures["get_standings"] = backend.ErrBackendUnavailable
	plan := Plan{Domain: "baseball", Invocations: []types.ToolInvocation{inv("get_standings", nil)}}

	h.pipeline.Execute(context.Background(), plan)
	delete(h.backend.failures, "get_standings")
	exec := h.pipeline.Execute(context.Background(), plan)

	assert.True(t, exec.Results[0].OK())
	assert.Len(t, h.backend.callsTo("get_standings"), 2)
}

func TestExecute_TraceIsDeterministic(t *testing.T) {
	plan := Plan{
		Domain: "baseball",
		Invocations: []types.ToolInvocation{
			inv("resolve_team", map[string]interface{}{"name": "mets"}),
			inv("resolve_player", map[string]interface{}{"name": "lindor"}),
			inv("resolve_team", map[string]interface{}{"name": "yankees"}),
			inv("get_team_roster", nil),
			inv("get_player_stats", nil),
			inv("get_standings", nil),
		},
	}

	a := newHarness(t, nil).pipeline.Execute(context.Background(), plan)
	b := newHarness(t, nil).pipeline.Execute(context.Background(), plan)
	assert.Equal(t, a.Trace, b.Trace)
	assert.Equal(t, a.Lookup.Snapshot(), b.Lookup.Snapshot())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want types.ErrorKind
	}{
		{fmt.Errorf("x: %w", context.DeadlineExceeded), types.ErrorKindTimeout},
		{fmt.Errorf("%w: %w", backend.ErrBackendUnavailable, context.Canceled), types.ErrorKindCancelled},
		{ErrInvalidInvocation, types.ErrorKindInvalidInvocation},
		{resolver.ErrMissingName, types.ErrorKindInvalidInvocation},
		{backend.ErrToolRejected, types.ErrorKindInvalidInvocation},
		{backend.ErrUnknownTool, types.ErrorKindUnknownTool},
		{fmt.Errorf("%w: disk", resolver.ErrResolution), types.ErrorKindResolutionFailed},
		{backend.ErrCircuitOpen, types.ErrorKindBackendUnavailable},
		{errors.New("anything else"), types.ErrorKindBackendUnavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyError(tt.err), "%v", tt.err)
	}
}

func TestLookupTableRecordKeepsLatestIndex(t *testing.T) {
	table := NewLookupTable()
	table.Record(types.KindTeam, Resolved{Entity: types.Entity{ID: "121"}, Index: 3})
	table.Record(types.KindTeam, Resolved{Entity: types.Entity{ID: "147"}, Index: 1})

	got, ok := table.Get(types.KindTeam)
	require.True(t, ok)
	assert.Equal(t, "121", got.Entity.ID)
	_, ok = table.Get(types.KindPlayer)
	assert.False(t, ok)
}
