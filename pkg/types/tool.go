package types

import (
	"encoding/json"
	"time"
)

// ToolFunction is the function half of a function-calling tool declaration.
type ToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolDeclaration follows the function-calling convention:
// {"type": "function", "function": {name, description, parameters}}.
type ToolDeclaration struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolSchema is a tool declaration plus registry metadata. Only the
// registry creates or replaces schemas.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Domain      string                 `json:"domain,omitempty"`
	FetchedAt   time.Time              `json:"fetched_at,omitempty"`
}

// Declaration converts the schema back into the function-calling convention.
func (s ToolSchema) Declaration() ToolDeclaration {
	return ToolDeclaration{
		Type: "function",
		Function: ToolFunction{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		},
	}
}

// SchemaFromDeclaration builds a ToolSchema from a declaration.
func SchemaFromDeclaration(d ToolDeclaration) ToolSchema {
	return ToolSchema{
		Name:        d.Function.Name,
		Description: d.Function.Description,
		Parameters:  d.Function.Parameters,
	}
}

// RequiredParams returns the names listed in the schema's "required" array.
func (s ToolSchema) RequiredParams() []string {
	raw, ok := s.Parameters["required"]
	if !ok {
		return nil
	}
	var out []string
	switch v := raw.(type) {
	case []string:
		out = append(out, v...)
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
	}
	return out
}

// HasParam reports whether the schema declares a property called name.
func (s ToolSchema) HasParam(name string) bool {
	props, ok := s.Parameters["properties"].(map[string]interface{})
	if !ok {
		return false
	}
	_, ok = props[name]
	return ok
}

// ToolInvocation is one proposed or executed tool call. It is created by the
// extractor, enriched at most once, and discarded after the request.
type ToolInvocation struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	Phase     Phase                  `json:"phase"`
	Enriched  bool                   `json:"enriched"`
}

// Clone returns a copy whose argument map can be mutated independently.
func (inv ToolInvocation) Clone() ToolInvocation {
	args := make(map[string]interface{}, len(inv.Arguments))
	for k, v := range inv.Arguments {
		args[k] = v
	}
	inv.Arguments = args
	return inv
}

// ErrorKind classifies a per-invocation failure so callers can branch
// without parsing the message.
type ErrorKind string

const (
	ErrorKindBackendUnavailable ErrorKind = "backend_unavailable"
	ErrorKindInvalidInvocation  ErrorKind = "invalid_invocation"
	ErrorKindResolutionFailed   ErrorKind = "resolution_failed"
	ErrorKindUnknownTool        ErrorKind = "unknown_tool"
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindCancelled          ErrorKind = "cancelled"
)

// ToolResult is the outcome of one invocation: either Data or Error is set.
type ToolResult struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Phase     Phase                  `json:"phase"`
	Enriched  bool                   `json:"enriched"`
	Cached    bool                   `json:"cached,omitempty"`
	Data      json.RawMessage        `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ErrorKind ErrorKind              `json:"error_kind,omitempty"`
}

// OK reports whether the invocation succeeded.
func (r ToolResult) OK() bool {
	return r.Error == ""
}

// BackendRequest is the body posted to a domain backend tool endpoint.
type BackendRequest struct {
	Endpoint string                 `json:"endpoint"`
	Query    map[string]interface{} `json:"query"`
}

// BackendResponse is the envelope a domain backend tool returns.
type BackendResponse struct {
	Endpoint string                 `json:"endpoint"`
	Query    map[string]interface{} `json:"query"`
	Data     json.RawMessage        `json:"data"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
}
