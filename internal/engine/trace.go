package engine

import (
	"time"

	"github.com/scrypster/statline/pkg/types"
)

// TraceEventKind classifies each trace event by type.
type TraceEventKind string

const (
	// KindPhaseStarted is emitted when a pipeline phase begins.
	KindPhaseStarted TraceEventKind = "phase_started"

	// KindResolved is emitted for a resolver invocation that matched an entity.
	KindResolved TraceEventKind = "resolved"

	// KindUnresolved is emitted for a resolver invocation with no match.
	KindUnresolved TraceEventKind = "unresolved"

	// KindEnriched is emitted once per argument filled from the lookup table.
	KindEnriched TraceEventKind = "enriched"

	// KindDuplicateSkipped is emitted when a dependent tool is proposed again.
	KindDuplicateSkipped TraceEventKind = "duplicate_skipped"

	// KindExecuted is emitted for every successful invocation.
	KindExecuted TraceEventKind = "executed"

	// KindFailed is emitted for every failed invocation.
	KindFailed TraceEventKind = "failed"
)

// TraceEvent is a single structured event emitted while executing a plan.
// Events are recorded in invocation order within each phase, so two runs
// over the same inputs produce the same trace apart from timestamps.
type TraceEvent struct {
	// Kind identifies the event type.
	Kind TraceEventKind `json:"kind"`

	// At is the time the event was recorded.
	At time.Time `json:"at"`

	// Phase is set on phase_started events.
	Phase types.Phase `json:"phase,omitempty"`

	// Index is the position of the invocation in the plan.
	Index int `json:"index"`

	// Tool is the invocation's tool name.
	Tool string `json:"tool,omitempty"`

	// Kind of entity resolved or enriched.
	EntityKind types.EntityKind `json:"entity_kind,omitempty"`

	// EntityID is the canonical ID resolved or written into an argument.
	EntityID string `json:"entity_id,omitempty"`

	// Param is the argument filled by an enriched event.
	Param string `json:"param,omitempty"`

	// Cached marks executed events served from the result cache.
	Cached bool `json:"cached,omitempty"`

	// Error is the failure message of a failed event.
	Error string `json:"error,omitempty"`
}

func (p *Pipeline) newTraceEvent(kind TraceEventKind, index int, tool string) TraceEvent {
	return TraceEvent{Kind: kind, At: p.now(), Index: index, Tool: tool}
}

func (p *Pipeline) eventPhaseStarted(phase types.Phase) TraceEvent {
	e := p.newTraceEvent(KindPhaseStarted, -1, "")
	e.Phase = phase
	return e
}

func (p *Pipeline) eventResolved(index int, tool string, kind types.EntityKind, id string) TraceEvent {
	e := p.newTraceEvent(KindResolved, index, tool)
	e.EntityKind = kind
	e.EntityID = id
	return e
}

func (p *Pipeline) eventEnriched(index int, tool, param string, kind types.EntityKind, id string) TraceEvent {
	e := p.newTraceEvent(KindEnriched, index, tool)
	e.Param = param
	e.EntityKind = kind
	e.EntityID = id
	return e
}

func (p *Pipeline) eventOutcome(index int, res types.ToolResult) TraceEvent {
	if !res.OK() {
		e := p.newTraceEvent(KindFailed, index, res.ToolName)
		e.Error = res.Error
		return e
	}
	e := p.newTraceEvent(KindExecuted, index, res.ToolName)
	e.Cached = res.Cached
	return e
}
