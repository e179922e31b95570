// Package server assembles the statline request path and serves it over
// HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scrypster/statline/internal/config"
	"github.com/scrypster/statline/internal/notify"
	"github.com/scrypster/statline/internal/observability"
	"github.com/scrypster/statline/internal/registry"
	"github.com/scrypster/statline/web/handlers"
)

// NewHandler builds the HTTP handler for stack. Events from the registry
// and from other processes are pushed to hub.
func NewHandler(cfg *config.Config, stack *Stack, hub *handlers.WebSocketHub, logger *slog.Logger) http.Handler {
	api := handlers.NewAPIHandlers(stack.Router, stack.Domains, stack.Registry, stack.Cache, logger)
	api.SetWebSocketHub(hub)

	stack.Registry.OnRefresh(func(ev registry.Event) {
		hub.Publish("registry."+ev.Type, ev)
	})
	stack.OnEvent(func(ev notify.Event) {
		hub.Publish(ev.Type, ev)
	})

	apiMux := http.NewServeMux()
	api.Register(apiMux)

	mux := http.NewServeMux()

	// Health and metrics stay reachable without a token for monitoring.
	mux.HandleFunc("GET /api/health", api.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))
	mux.Handle("/ws", hub)

	handler := handlers.RateLimitMiddleware(mux, handlers.NewRateLimiter(float64(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))
	return handlers.SecurityHeaders(handler)
}

// Start serves stack over HTTP until ctx is cancelled. It returns the
// address actually listened on (useful with port 0) and the websocket hub.
func Start(ctx context.Context, cfg *config.Config, stack *Stack, logger *slog.Logger) (string, *handlers.WebSocketHub, error) {
	if logger == nil {
		logger = observability.Discard()
	}
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	hub := handlers.NewWebSocketHub(logger, actualAddr, "localhost:"+portOf(actualAddr))
	go hub.Run()

	server := &http.Server{
		Handler:      NewHandler(cfg, stack, hub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
		hub.Stop()
	}()

	return actualAddr, hub, nil
}

func portOf(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	return port
}
