// cmd/statline-mcp serves statline over the Model Context Protocol on
// stdin/stdout.
//
// Startup sequence:
//  1. Load configuration from environment variables.
//  2. Open every enabled domain's entity store and the durable schema cache.
//  3. Start the periodic schema refresh (and the domains file watcher).
//  4. Serve JSON-RPC 2.0 requests from stdin, writing responses to stdout.
//
// CRITICAL: ALL logging MUST go to stderr. Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/scrypster/statline/internal/api/mcp"
	"github.com/scrypster/statline/internal/config"
	"github.com/scrypster/statline/internal/observability"
	"github.com/scrypster/statline/internal/server"
)

// resolveDomainsFile finds the domains file, trying multiple locations.
// Returns an empty string if none exists.
func resolveDomainsFile(configured string) string {
	// 1. Explicit env var (set by integration configs)
	if path := os.Getenv("STATLINE_DOMAINS_FILE"); path != "" {
		return path
	}

	// 2. Next to the executable (installed layout: statline-mcp + config/)
	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), "config", "domains.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	// 3. CWD fallback
	if _, err := os.Stat(configured); err == nil {
		return configured
	}
	return ""
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "statline-mcp: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerTo(os.Stderr, cfg.Logging.Level, cfg.Logging.Format).With("process", "statline-mcp")
	slog.SetDefault(logger)

	path := resolveDomainsFile(cfg.Storage.DomainsFile)
	if path == "" {
		logger.Error("no domains file found", "looked_for", cfg.Storage.DomainsFile)
		os.Exit(1)
	}
	cfg.Storage.DomainsFile = path

	stack, err := server.NewStack(cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer stack.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Cross-process events are consumed by statline-web; this process relies
	// on vocabulary and cache expiry to pick up new datasets.
	stack.Start(ctx, false)

	srv := mcp.NewServer(stack.Router, stack.Domains, mcp.WithLogger(logger))
	transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout, logger)

	logger.Info("serving JSON-RPC 2.0 on stdin/stdout", "domains_file", path, "domains", stack.Domains.Names())
	if err := transport.Serve(ctx); err != nil {
		logger.Info("transport stopped", "error", err)
	}
}
