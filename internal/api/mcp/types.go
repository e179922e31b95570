// Package mcp implements the Model Context Protocol (MCP) server for statline.
// It exposes routing, entity resolution and every domain tool over JSON-RPC 2.0.
package mcp

import (
	"encoding/json"
	"strings"

	"github.com/scrypster/statline/pkg/types"
)

// RouteArgs contains arguments for the route method and tool.
type RouteArgs struct {
	Text        string                 `json:"text"`                  // Free-text request (required unless invocations are given)
	Domain      string                 `json:"domain,omitempty"`      // Domain hint; detected from the text when empty
	Tools       []string               `json:"tools,omitempty"`       // Tool names the caller can use; empty means all
	Invocations []types.ToolInvocation `json:"invocations,omitempty"` // Explicit invocations, run instead of extraction
	Trace       bool                   `json:"trace,omitempty"`       // Include the pipeline trace
}

// UnmarshalJSON accepts "tools" as an array or as a comma-separated string,
// which some clients send for array arguments.
func (a *RouteArgs) UnmarshalJSON(data []byte) error {
	type Alias RouteArgs
	aux := &struct {
		Tools json.RawMessage `json:"tools,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.Tools == nil {
		return nil
	}
	var tools []string
	if err := json.Unmarshal(aux.Tools, &tools); err == nil {
		a.Tools = tools
		return nil
	}
	var s string
	if err := json.Unmarshal(aux.Tools, &s); err != nil {
		return nil // ignore unrecognised formats rather than failing
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		_ = json.Unmarshal([]byte(s), &tools)
		a.Tools = tools
		return nil
	}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			a.Tools = append(a.Tools, t)
		}
	}
	return nil
}

// ResolveEntityArgs contains arguments for the resolve_entity method.
type ResolveEntityArgs struct {
	Name          string `json:"name"`                     // Free-text name (required)
	Domain        string `json:"domain,omitempty"`         // Domain; the default domain when empty
	Kind          string `json:"kind,omitempty"`           // team or player; both when empty
	Team          string `json:"team,omitempty"`           // Restrict players to this team
	Fuzzy         *bool  `json:"fuzzy,omitempty"`          // Allow substring matching (default true)
	IncludeDetail bool   `json:"include_detail,omitempty"` // Attach season stats to the match
}

// ListDomainsResult contains the configured domains.
type ListDomainsResult struct {
	Domains []string `json:"domains"`
	Default string   `json:"default"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional error data
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
	SessionID       string                `json:"sessionId"`
}

// MCPTool describes a single tool exposed via the MCP tools/list endpoint.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListParams optionally selects the domain whose tools are listed.
type MCPToolsListParams struct {
	Domain string `json:"domain,omitempty"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools  []MCPTool `json:"tools"`
	Domain string    `json:"domain"`
	// ToolsUnavailable is set when only the built-in tools could be listed.
	ToolsUnavailable bool `json:"toolsUnavailable,omitempty"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
// Domain selects the domain a backend tool runs in; the default domain
// is used when it is empty.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	Domain    string                 `json:"domain,omitempty"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
