package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/scrypster/statline/internal/cache"
	"github.com/scrypster/statline/internal/config"
	"github.com/scrypster/statline/internal/domains"
	"github.com/scrypster/statline/internal/engine"
	"github.com/scrypster/statline/internal/observability"
	"github.com/scrypster/statline/internal/registry"
	"github.com/scrypster/statline/internal/resolver"
	"github.com/scrypster/statline/internal/storage"
	"github.com/scrypster/statline/pkg/types"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Router routes requests and executes single tools.
type Router interface {
	Handle(ctx context.Context, req engine.Request) (*engine.Response, error)
	CallTool(ctx context.Context, domain string, inv types.ToolInvocation) (types.ToolResult, error)
	DetectDomain(ctx context.Context, text, hint string) (string, string, error)
	AvailableTools(ctx context.Context, domain string, declared []string) ([]types.ToolSchema, bool)
}

// DomainDirectory exposes the configured domains and their stores.
type DomainDirectory interface {
	Domains() []config.DomainConfig
	DefaultDomain() string
	BreakerStates() map[string]string
	Store(domain string) (storage.EntityStore, error)
}

// SchemaRegistry is the part of the tool schema registry the API uses.
type SchemaRegistry interface {
	Refresh(ctx context.Context, domain string) ([]types.ToolSchema, error)
	Status() []registry.Status
}

// CacheStatter reports result cache counters.
type CacheStatter interface {
	Stats() cache.Stats
}

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	router   Router
	domains  DomainDirectory
	registry SchemaRegistry
	cache    CacheStatter
	hub      *WebSocketHub
	logger   *slog.Logger
}

// NewAPIHandlers creates a new APIHandlers instance.
func NewAPIHandlers(router Router, dirs DomainDirectory, reg SchemaRegistry, c CacheStatter, logger *slog.Logger) *APIHandlers {
	if logger == nil {
		logger = observability.Discard()
	}
	return &APIHandlers{
		router:   router,
		domains:  dirs,
		registry: reg,
		cache:    c,
		logger:   logger.With("component", "api"),
	}
}

// SetWebSocketHub attaches the hub whose client count /api/status reports.
func (h *APIHandlers) SetWebSocketHub(hub *WebSocketHub) {
	h.hub = hub
}

// Register adds the authenticated API routes to mux. Health is registered
// separately so it can bypass auth.
func (h *APIHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/resolve", h.Resolve)
	mux.HandleFunc("POST /api/route", h.Route)
	mux.HandleFunc("GET /api/domains", h.ListDomains)
	mux.HandleFunc("GET /api/domains/{domain}/tools", h.DomainTools)
	mux.HandleFunc("POST /api/domains/{domain}/refresh", h.RefreshDomain)
	mux.HandleFunc("POST /api/tools/call", h.CallTool)
	mux.HandleFunc("GET /api/status", h.Status)
}

// Resolve handles GET /api/resolve?name=...&domain=...&kind=...&team=...&fuzzy=...&include_detail=...
func (h *APIHandlers) Resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := strings.TrimSpace(q.Get("name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	args := map[string]interface{}{
		"name":           name,
		"include_detail": parseBool(q.Get("include_detail"), false),
		"fuzzy":          parseBool(q.Get("fuzzy"), true),
	}
	if kind := q.Get("kind"); kind != "" {
		k, err := types.ParseEntityKind(kind)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid kind", err)
			return
		}
		args["kind"] = string(k)
	}
	if team := q.Get("team"); team != "" {
		args["team"] = team
	}

	res, err := h.router.CallTool(r.Context(), q.Get("domain"), types.ToolInvocation{
		ToolName:  resolver.ToolResolveEntity,
		Arguments: args,
	})
	if err != nil {
		respondError(w, statusFor(err), "resolve failed", err)
		return
	}
	if !res.OK() {
		respondError(w, statusForKind(res.ErrorKind), "resolve failed", errors.New(res.Error))
		return
	}

	var rr types.ResolutionResult
	if err := json.Unmarshal(res.Data, &rr); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to decode resolution", err)
		return
	}
	respondJSON(w, http.StatusOK, rr)
}

// Route handles POST /api/route. Tool failures are reported in the
// response results, not as HTTP errors.
func (h *APIHandlers) Route(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Invocations) == 0 {
		respondError(w, http.StatusBadRequest, "text or invocations is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = r.Header.Get("X-Request-ID")
	}

	resp, err := h.router.Handle(r.Context(), req)
	if err != nil {
		respondError(w, statusFor(err), "route failed", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ListDomains handles GET /api/domains.
func (h *APIHandlers) ListDomains(w http.ResponseWriter, r *http.Request) {
	def := h.domains.DefaultDomain()
	resp := DomainsResponse{Domains: []DomainInfo{}, Default: def}
	for _, d := range h.domains.Domains() {
		if !d.Enabled {
			continue
		}
		display := d.DisplayName
		if display == "" {
			display = d.Name
		}
		resp.Domains = append(resp.Domains, DomainInfo{
			Name:        d.Name,
			DisplayName: display,
			Keywords:    d.Keywords,
			Default:     d.Name == def,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// DomainTools handles GET /api/domains/{domain}/tools. The built-in
// resolver tools are always listed.
func (h *APIHandlers) DomainTools(w http.ResponseWriter, r *http.Request) {
	domain, _, err := h.router.DetectDomain(r.Context(), "", r.PathValue("domain"))
	if err != nil {
		respondError(w, statusFor(err), "unknown domain", err)
		return
	}
	tools, unavailable := h.router.AvailableTools(r.Context(), domain, nil)
	if tools == nil {
		tools = []types.ToolSchema{}
	}
	respondJSON(w, http.StatusOK, ToolsResponse{Domain: domain, Tools: tools, ToolsUnavailable: unavailable})
}

// RefreshDomain handles POST /api/domains/{domain}/refresh.
func (h *APIHandlers) RefreshDomain(w http.ResponseWriter, r *http.Request) {
	domain := strings.ToLower(r.PathValue("domain"))
	tools, err := h.registry.Refresh(r.Context(), domain)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		respondError(w, status, "refresh failed", err)
		return
	}
	h.logger.Info("tool schemas refreshed on request", "domain", domain, "tools", len(tools))
	respondJSON(w, http.StatusOK, RefreshResponse{Domain: domain, Tools: len(tools)})
}

// CallTool handles POST /api/tools/call. A tool failure is a 200 response
// whose result carries error and error_kind.
func (h *APIHandlers) CallTool(w http.ResponseWriter, r *http.Request) {
	var req ToolCallRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	res, err := h.router.CallTool(r.Context(), req.Domain, types.ToolInvocation{ToolName: req.Name, Arguments: req.Arguments})
	if err != nil {
		respondError(w, statusFor(err), "tool call failed", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Status handles GET /api/status.
func (h *APIHandlers) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Registry: h.registry.Status(),
		Breakers: h.domains.BreakerStates(),
	}
	if h.cache != nil {
		resp.Cache = h.cache.Stats()
	}
	if h.hub != nil {
		resp.Clients = h.hub.Clients()
	}
	respondJSON(w, http.StatusOK, resp)
}

// Health handles GET /api/health. Each enabled domain's store is pinged;
// any failure reports the service as degraded.
func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Version: Version, Stores: map[string]string{}}
	for _, d := range h.domains.Domains() {
		if !d.Enabled {
			continue
		}
		store, err := h.domains.Store(d.Name)
		if err == nil {
			err = store.Ping(ctx)
		}
		if err != nil {
			h.logger.Warn("store health check failed", "domain", d.Name, "error", err)
			resp.Stores[d.Name] = "unavailable"
			resp.Status = "degraded"
			continue
		}
		resp.Stores[d.Name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

// statusFor maps routing and registry errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownDomain),
		errors.Is(err, registry.ErrUnknownDomain),
		errors.Is(err, domains.ErrUnknownDomain),
		errors.Is(err, domains.ErrDomainDisabled):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrDomainUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func statusForKind(kind types.ErrorKind) int {
	switch kind {
	case types.ErrorKindInvalidInvocation:
		return http.StatusBadRequest
	case types.ErrorKindResolutionFailed:
		return http.StatusServiceUnavailable
	case types.ErrorKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dest)
}

// parseBool parses a query flag, returning def when it is empty or invalid.
func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent; an encoding failure cannot be reported.
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  strings.ToUpper(strings.ReplaceAll(http.StatusText(statusCode), " ", "_")),
	}
	if err != nil {
		errResp.Details = map[string]interface{}{"reason": err.Error()}
	}
	respondJSON(w, statusCode, errResp)
}
