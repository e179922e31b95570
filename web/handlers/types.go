package handlers

import (
	"github.com/scrypster/statline/internal/cache"
	"github.com/scrypster/statline/internal/registry"
	"github.com/scrypster/statline/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ToolCallRequest is the body of POST /api/tools/call.
type ToolCallRequest struct {
	Domain    string                 `json:"domain,omitempty"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// DomainInfo describes one configured domain in GET /api/domains.
type DomainInfo struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Keywords    []string `json:"keywords,omitempty"`
	Default     bool     `json:"default"`
}

// DomainsResponse is the response format for GET /api/domains.
type DomainsResponse struct {
	Domains []DomainInfo `json:"domains"`
	Default string       `json:"default"`
}

// ToolsResponse is the response format for the domain tool endpoints.
type ToolsResponse struct {
	Domain           string             `json:"domain"`
	Tools            []types.ToolSchema `json:"tools"`
	ToolsUnavailable bool               `json:"tools_unavailable"`
}

// RefreshResponse is the response format for POST /api/domains/{domain}/refresh.
type RefreshResponse struct {
	Domain string `json:"domain"`
	Tools  int    `json:"tools"`
}

// StatusResponse is the response format for GET /api/status.
type StatusResponse struct {
	Registry []registry.Status `json:"registry"`
	Cache    cache.Stats       `json:"cache"`
	Breakers map[string]string `json:"breakers"`
	Clients  int               `json:"websocket_clients"`
}

// HealthResponse is the response format for GET /api/health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Stores  map[string]string `json:"stores,omitempty"`
}
