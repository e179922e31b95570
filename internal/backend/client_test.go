package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/statline/pkg/types"
)

const schemaJSON = `[
  {"type":"function","function":{"name":"get_team_roster","description":"Roster for a team","parameters":{"type":"object","properties":{"teamId":{"type":"string"}},"required":["teamId"]}}},
  {"type":"function","function":{"name":"get_standings","description":"League standings","parameters":{"type":"object","properties":{}}}},
  {"type":"function","function":{"name":"","description":"nameless"}},
  {"type":"retrieval","function":{"name":"search_docs"}}
]`

func newTestClient(t *testing.T, srv *httptest.Server, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		Domain:  "baseball",
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func TestFetchSchemas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/tools", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, schemaJSON)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	schemas, err := c.FetchSchemas(context.Background())
	require.NoError(t, err)
	require.Len(t, schemas, 2)

	assert.Equal(t, "get_team_roster", schemas[0].Name)
	assert.Equal(t, "baseball", schemas[0].Domain)
	assert.Equal(t, []string{"teamId"}, schemas[0].RequiredParams())
	assert.Equal(t, "get_standings", schemas[1].Name)
}

func TestFetchSchemasCustomPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/schema" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) { cfg.SchemaPath = "v1/schema" })
	schemas, err := c.FetchSchemas(context.Background())
	require.NoError(t, err)
	assert.Empty(t, schemas)
}

func TestFetchSchemasMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"not":"an array"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	_, err := c.FetchSchemas(context.Background())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestCallSendsEndpointAndQuery(t *testing.T) {
	var got types.BackendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tools/get_team_roster", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(types.BackendResponse{
			Endpoint: got.Endpoint,
			Query:    got.Query,
			Data:     json.RawMessage(`{"roster":["Aaron Judge"]}`),
			Meta:     map[string]interface{}{"source": "test"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.Endpoints = map[string]string{"get_team_roster": "teams/roster"}
	})

	resp, err := c.Call(context.Background(), "get_team_roster", map[string]interface{}{"teamId": "147"})
	require.NoError(t, err)

	assert.Equal(t, "teams/roster", got.Endpoint)
	assert.Equal(t, "147", got.Query["teamId"])
	assert.JSONEq(t, `{"roster":["Aaron Judge"]}`, string(resp.Data))
	assert.Equal(t, "test", resp.Meta["source"])
}

func TestCallDefaultsEndpointToToolName(t *testing.T) {
	var got types.BackendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"endpoint":"get_standings","query":{}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	resp, err := c.Call(context.Background(), "get_standings", nil)
	require.NoError(t, err)
	assert.Equal(t, "get_standings", got.Endpoint)
	assert.NotNil(t, got.Query)
	assert.Equal(t, "null", string(resp.Data))
}

func TestCallStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, ErrUnknownTool},
		{"bad request", http.StatusBadRequest, ErrToolRejected},
		{"server error", http.StatusInternalServerError, ErrBackendUnavailable},
		{"bad gateway", http.StatusBadGateway, ErrBackendUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c := newTestClient(t, srv, nil)
			_, err := c.Call(context.Background(), "get_team_roster", map[string]interface{}{"teamId": "147"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })
	_, err := c.Call(context.Background(), "get_live_game", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallCancelledContext(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Call(ctx, "get_standings", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, "closed", c.Breaker().State())
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.Breaker = NewCircuitBreaker(CircuitBreakerConfig{Name: "baseball", MaxFailures: 2, Timeout: time.Minute})
	})

	for i := 0; i < 2; i++ {
		_, err := c.Call(context.Background(), "get_standings", nil)
		require.ErrorIs(t, err, ErrBackendUnavailable)
	}
	assert.Equal(t, "open", c.Breaker().State())

	_, err := c.Call(context.Background(), "get_standings", nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, int32(2), hits.Load(), "open circuit must not reach the backend")

	m := c.Breaker().Metrics()
	assert.Equal(t, uint64(3), m.TotalRequests)
	assert.Equal(t, uint64(3), m.TotalFailures)
}

func TestRejectedCallsDoNotTripCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.Breaker = NewCircuitBreaker(CircuitBreakerConfig{Name: "baseball", MaxFailures: 1})
	})

	for i := 0; i < 3; i++ {
		_, err := c.Call(context.Background(), "get_team_roster", map[string]interface{}{})
		require.ErrorIs(t, err, ErrToolRejected)
	}
	assert.Equal(t, "closed", c.Breaker().State())
}

func TestCircuitHalfOpenRecovers(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"data":1}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.Breaker = NewCircuitBreaker(CircuitBreakerConfig{
			Name:                 "baseball",
			MaxFailures:          1,
			Timeout:              50 * time.Millisecond,
			HalfOpenMaxSuccesses: 1,
		})
	})

	_, err := c.Call(context.Background(), "get_standings", nil)
	require.Error(t, err)
	assert.Equal(t, "open", c.Breaker().State())

	failing.Store(false)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, "half-open", c.Breaker().State())

	_, err = c.Call(context.Background(), "get_standings", nil)
	require.NoError(t, err)
	assert.Equal(t, "closed", c.Breaker().State())
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{Domain: "baseball"})
	assert.Error(t, err)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":1}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.RequestsPerSecond = 0.001
		cfg.Burst = 1
	})

	_, err := c.Call(context.Background(), "get_standings", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Call(ctx, "get_standings", nil)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}
