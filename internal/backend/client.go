// Package backend is the HTTP client for domain data backends. Each domain
// backend exposes a schema endpoint listing its tools in the function-calling
// convention, and one POST entry point per tool that takes {endpoint, query}
// and answers {endpoint, query, data, meta}.
//
// Every call is bounded by a timeout, rate limited, and guarded by a
// per-domain circuit breaker.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/scrypster/statline/internal/observability"
	"github.com/scrypster/statline/pkg/types"
)

var (
	// ErrBackendUnavailable covers transport failures, timeouts, 5xx
	// answers, undecodable payloads and an open circuit.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrUnknownTool is returned when the backend answers 404 for a tool.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrToolRejected is returned for any other 4xx answer.
	ErrToolRejected = errors.New("tool call rejected")
)

// maxResponseBytes bounds how much of a backend response is read.
const maxResponseBytes = 8 << 20

// Backend is the invocation boundary to one domain's data backend.
type Backend interface {
	// FetchSchemas returns the tools the backend currently offers.
	FetchSchemas(ctx context.Context) ([]types.ToolSchema, error)

	// Call executes one tool with the given query arguments.
	Call(ctx context.Context, tool string, args map[string]interface{}) (*types.BackendResponse, error)
}

// Config holds client configuration.
type Config struct {
	// Domain names the backend in logs and metrics.
	Domain string

	// BaseURL is the backend root, e.g. http://localhost:8081.
	BaseURL string

	// SchemaPath is appended to BaseURL for schema discovery (default: /tools).
	SchemaPath string

	// Timeout bounds every call (default: 5s).
	Timeout time.Duration

	// RequestsPerSecond and Burst rate-limit outgoing calls. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int

	// Endpoints maps a tool name to the upstream endpoint forwarded in the
	// request body. Tools not listed use their own name.
	Endpoints map[string]string

	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client

	// Breaker overrides the default circuit breaker.
	Breaker *CircuitBreaker

	Logger *slog.Logger
}

// Client implements Backend over HTTP.
type Client struct {
	domain     string
	baseURL    string
	schemaPath string
	timeout    time.Duration
	endpoints  map[string]string
	http       *http.Client
	limiter    *rate.Limiter
	breaker    *CircuitBreaker
	logger     *slog.Logger
}

var _ Backend = (*Client)(nil)

// NewClient creates a backend client. BaseURL is required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend %s: base URL is required", cfg.Domain)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("backend %s: invalid base URL: %w", cfg.Domain, err)
	}
	if cfg.SchemaPath == "" {
		cfg.SchemaPath = "/tools"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Discard()
	}
	logger := cfg.Logger.With("component", "backend", "domain", cfg.Domain)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	breaker := cfg.Breaker
	if breaker == nil {
		breaker = NewCircuitBreaker(CircuitBreakerConfig{Name: cfg.Domain, Logger: logger})
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RequestsPerSecond) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		domain:     cfg.Domain,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		schemaPath: "/" + strings.TrimLeft(cfg.SchemaPath, "/"),
		timeout:    cfg.Timeout,
		endpoints:  cfg.Endpoints,
		http:       httpClient,
		limiter:    limiter,
		breaker:    breaker,
		logger:     logger,
	}, nil
}

// Breaker exposes the circuit breaker for status reporting.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// Domain returns the domain this client serves.
func (c *Client) Domain() string {
	return c.domain
}

// FetchSchemas GETs the schema endpoint and decodes the tool declarations.
// Entries that are not functions or have no name are skipped.
func (c *Client) FetchSchemas(ctx context.Context) ([]types.ToolSchema, error) {
	body, err := c.do(ctx, "schema", http.MethodGet, c.baseURL+c.schemaPath, nil)
	if err != nil {
		return nil, err
	}

	var decls []types.ToolDeclaration
	if err := json.Unmarshal(body, &decls); err != nil {
		return nil, fmt.Errorf("%w: %s: decode schema: %v", ErrBackendUnavailable, c.domain, err)
	}

	schemas := make([]types.ToolSchema, 0, len(decls))
	for _, d := range decls {
		if d.Type != "" && d.Type != "function" {
			continue
		}
		if d.Function.Name == "" {
			c.logger.Warn("skipping unnamed tool declaration")
			continue
		}
		s := types.SchemaFromDeclaration(d)
		s.Domain = c.domain
		schemas = append(schemas, s)
	}
	return schemas, nil
}

// Call POSTs {endpoint, query} to the tool's entry point.
func (c *Client) Call(ctx context.Context, tool string, args map[string]interface{}) (*types.BackendResponse, error) {
	if tool == "" {
		return nil, fmt.Errorf("%w: empty tool name", ErrToolRejected)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	endpoint := tool
	if ep, ok := c.endpoints[tool]; ok && ep != "" {
		endpoint = ep
	}

	payload, err := json.Marshal(types.BackendRequest{Endpoint: endpoint, Query: args})
	if err != nil {
		return nil, fmt.Errorf("%w: encode arguments: %v", ErrToolRejected, err)
	}

	body, err := c.do(ctx, tool, http.MethodPost, c.baseURL+"/tools/"+url.PathEscape(tool), payload)
	if err != nil {
		return nil, err
	}

	var resp types.BackendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: decode %s response: %v", ErrBackendUnavailable, c.domain, tool, err)
	}
	if len(resp.Data) == 0 {
		resp.Data = json.RawMessage("null")
	}
	return &resp, nil
}

// do performs one rate-limited, time-bounded request through the breaker.
func (c *Client) do(ctx context.Context, tool, method, target string, payload []byte) ([]byte, error) {
	start := time.Now()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			observability.RecordBackendCall(c.domain, tool, "error", time.Since(start))
			return nil, fmt.Errorf("%w: %s: rate limit wait: %w", ErrBackendUnavailable, c.domain, err)
		}
	}

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.roundTrip(ctx, method, target, payload)
	})

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrCircuitOpen):
		status = "circuit_open"
		err = fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, c.domain, err)
	case errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
	default:
		status = "error"
	}
	observability.RecordBackendCall(c.domain, tool, status, time.Since(start))

	if err != nil {
		c.logger.Debug("backend call failed", "tool", tool, "status", status, "error", err)
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) roundTrip(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrToolRejected, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, c.domain, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read response: %w", ErrBackendUnavailable, c.domain, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s returned 404 for %s", ErrUnknownTool, c.domain, req.URL.Path)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: %s returned status %d: %s", ErrToolRejected, c.domain, resp.StatusCode, snippet(data))
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %s returned status %d: %s", ErrBackendUnavailable, c.domain, resp.StatusCode, snippet(data))
	}
	return data, nil
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
