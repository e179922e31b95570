package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/scrypster/statline/internal/engine"
	"github.com/scrypster/statline/internal/observability"
	"github.com/scrypster/statline/internal/resolver"
	"github.com/scrypster/statline/pkg/types"
)

// RouteToolName is the meta-tool that routes free text through the
// orchestration pipeline.
const RouteToolName = "route"

// ProtocolVersion is the MCP protocol revision this server speaks.
const ProtocolVersion = "2024-11-05"

// requestRouter is the subset of engine.Router used by the MCP server.
type requestRouter interface {
	Handle(ctx context.Context, req engine.Request) (*engine.Response, error)
	CallTool(ctx context.Context, domain string, inv types.ToolInvocation) (types.ToolResult, error)
	DetectDomain(ctx context.Context, text, hint string) (string, string, error)
	AvailableTools(ctx context.Context, domain string, declared []string) ([]types.ToolSchema, bool)
}

// domainLister lists the configured domains.
type domainLister interface {
	Names() []string
	DefaultDomain() string
}

// Server implements the Model Context Protocol (MCP) for statline.
type Server struct {
	router     requestRouter
	domains    domainLister
	logger     *slog.Logger
	serverInfo MCPServerInfo
	sessionID  string // unique ID generated once per MCP server lifetime
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithLogger sets the server's logger. It must not write to stdout.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// WithServerInfo overrides the name and version reported by initialize.
func WithServerInfo(name, version string) ServerOption {
	return func(s *Server) {
		s.serverInfo = MCPServerInfo{Name: name, Version: version}
	}
}

// NewServer creates a new MCP server instance.
func NewServer(router requestRouter, domains domainLister, opts ...ServerOption) *Server {
	s := &Server{
		router:     router,
		domains:    domains,
		logger:     observability.Discard(),
		serverInfo: MCPServerInfo{Name: "statline", Version: "1.0.0"},
		sessionID:  uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "mcp", "session_id", s.sessionID)
	s.logger.Info("mcp server ready")
	return s
}

// SessionID returns the identifier generated for this server's lifetime.
func (s *Server) SessionID() string {
	return s.sessionID
}

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
// This is the main entry point for MCP protocol handling. The response is
// nil for notifications.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())
	}

	// Validate JSON-RPC version
	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	// Notifications carry no id and get no response.
	if req.ID == nil && strings.HasPrefix(req.Method, "notifications/") {
		return nil, nil
	}

	var result interface{}
	var err error

	switch req.Method {
	// Standard MCP protocol methods
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized", "ping":
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)

	// Native JSON-RPC methods
	case "route":
		result, err = s.handleRoute(ctx, req.Params)
	case "resolve_entity":
		result, err = s.handleResolveEntity(ctx, req.Params)
	case "list_domains":
		result = s.listDomains()
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		var pe *paramsError
		if errors.As(err, &pe) {
			return s.errorResponse(req.ID, ErrCodeInvalidParams, err.Error(), nil)
		}
		return s.errorResponse(req.ID, ErrCodeServerError, err.Error(), nil)
	}

	return s.successResponse(req.ID, result)
}

// Route runs a free-text or explicit request through the router.
func (s *Server) Route(ctx context.Context, args RouteArgs) (*engine.Response, error) {
	if strings.TrimSpace(args.Text) == "" && len(args.Invocations) == 0 {
		return nil, &paramsError{msg: "text or invocations is required"}
	}
	req := engine.Request{
		Text:        args.Text,
		Domain:      args.Domain,
		Invocations: args.Invocations,
		Trace:       args.Trace,
	}
	for _, name := range args.Tools {
		req.Tools = append(req.Tools, types.ToolDeclaration{Type: "function", Function: types.ToolFunction{Name: name}})
	}
	return s.router.Handle(ctx, req)
}

// ResolveEntity resolves a name to a canonical entity.
func (s *Server) ResolveEntity(ctx context.Context, args ResolveEntityArgs) (*types.ResolutionResult, error) {
	if strings.TrimSpace(args.Name) == "" {
		return nil, &paramsError{msg: "name is required"}
	}
	inv := types.ToolInvocation{
		ToolName: resolver.ToolResolveEntity,
		Arguments: map[string]interface{}{
			"name":           args.Name,
			"include_detail": args.IncludeDetail,
		},
	}
	if args.Kind != "" {
		kind, err := types.ParseEntityKind(args.Kind)
		if err != nil {
			return nil, &paramsError{msg: err.Error()}
		}
		inv.Arguments["kind"] = string(kind)
	}
	if args.Team != "" {
		inv.Arguments["team"] = args.Team
	}
	if args.Fuzzy != nil {
		inv.Arguments["fuzzy"] = *args.Fuzzy
	}

	res, err := s.router.CallTool(ctx, args.Domain, inv)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, fmt.Errorf("%s: %s", res.ErrorKind, res.Error)
	}
	var rr types.ResolutionResult
	if err := json.Unmarshal(res.Data, &rr); err != nil {
		return nil, fmt.Errorf("failed to decode resolution: %w", err)
	}
	return &rr, nil
}

func (s *Server) listDomains() *ListDomainsResult {
	names := s.domains.Names()
	if names == nil {
		names = []string{}
	}
	return &ListDomainsResult{Domains: names, Default: s.domains.DefaultDomain()}
}

// handleRoute handles the route JSON-RPC method.
func (s *Server) handleRoute(ctx context.Context, params interface{}) (interface{}, error) {
	var args RouteArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.Route(ctx, args)
}

// handleResolveEntity handles the resolve_entity JSON-RPC method.
func (s *Server) handleResolveEntity(ctx context.Context, params interface{}) (interface{}, error) {
	var args ResolveEntityArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.ResolveEntity(ctx, args)
}

// ---------------------------------------------------------------------------
// Standard MCP protocol handlers
// ---------------------------------------------------------------------------

// handleInitialize handles the MCP initialize handshake.
func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPInitializeParams
	if params != nil {
		if err := s.unmarshalParams(params, &p); err != nil {
			return nil, err
		}
	}
	s.logger.Info("client connected", "client", p.ClientInfo.Name, "client_version", p.ClientInfo.Version)
	return MCPInitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: s.serverInfo,
		SessionID:  s.sessionID,
	}, nil
}

// handleToolsList returns the route meta-tool plus every tool available in
// the selected domain.
func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolsListParams
	if params != nil {
		if err := s.unmarshalParams(params, &p); err != nil {
			return nil, err
		}
	}
	domain, _, err := s.router.DetectDomain(ctx, "", p.Domain)
	if err != nil {
		return nil, err
	}

	schemas, unavailable := s.router.AvailableTools(ctx, domain, nil)
	tools := make([]MCPTool, 0, len(schemas)+1)
	tools = append(tools, routeTool())
	for _, sc := range schemas {
		tools = append(tools, toolFromSchema(sc))
	}
	return MCPToolsListResult{Tools: tools, Domain: domain, ToolsUnavailable: unavailable}, nil
}

// handleToolsCall dispatches a tools/call request and wraps the result in
// the MCP content envelope. Tool failures are reported with isError rather
// than as JSON-RPC errors.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, &paramsError{msg: "tool name is required"}
	}

	if p.Name == RouteToolName {
		var args RouteArgs
		if err := s.unmarshalParams(p.Arguments, &args); err != nil {
			return errorContent(err), nil
		}
		if args.Domain == "" {
			args.Domain = p.Domain
		}
		resp, err := s.Route(ctx, args)
		if err != nil {
			return errorContent(err), nil
		}
		return textContent(resp, false)
	}

	res, err := s.router.CallTool(ctx, p.Domain, types.ToolInvocation{ToolName: p.Name, Arguments: p.Arguments})
	if err != nil {
		return errorContent(err), nil
	}
	return textContent(res, !res.OK())
}

func routeTool() MCPTool {
	return MCPTool{
		Name: RouteToolName,
		Description: "Answer a sports question in one call: detects the domain, resolves team and player names " +
			"to canonical ids, and runs the matching data tools with those ids filled in.",
		InputSchema: map[string]interface{}{
			"type":     "object",
			"required": []string{"text"},
			"properties": map[string]interface{}{
				"text":   map[string]interface{}{"type": "string", "description": "The user's request, e.g. \"Yankees roster\""},
				"domain": map[string]interface{}{"type": "string", "description": "Domain hint such as baseball or hockey; detected when omitted"},
				"tools":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Restrict to these tool names"},
				"trace":  map[string]interface{}{"type": "boolean", "description": "Include the execution trace"},
			},
		},
	}
}

func toolFromSchema(sc types.ToolSchema) MCPTool {
	input := sc.Parameters
	if input == nil {
		input = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return MCPTool{Name: sc.Name, Description: sc.Description, InputSchema: input}
}

func textContent(v interface{}, isError bool) (*MCPToolCallResult, error) {
	text, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
		IsError: isError,
	}, nil
}

func errorContent(err error) *MCPToolCallResult {
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: err.Error()}},
		IsError: true,
	}
}

// paramsError marks malformed method parameters.
type paramsError struct {
	msg string
}

func (e *paramsError) Error() string { return e.msg }

// unmarshalParams unmarshals JSON-RPC parameters into a typed struct.
func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return &paramsError{msg: fmt.Sprintf("failed to marshal params: %v", err)}
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return &paramsError{msg: fmt.Sprintf("failed to unmarshal params: %v", err)}
	}

	return nil
}

// successResponse creates a JSON-RPC success response.
func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	return json.Marshal(resp)
}

// errorResponse creates a JSON-RPC error response.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	return json.Marshal(resp)
}
