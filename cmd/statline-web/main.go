// cmd/statline-web serves the statline HTTP API: entity resolution, request
// routing, domain tool listings, status, health, metrics and a websocket
// feed of registry and dataset events.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrypster/statline/internal/config"
	"github.com/scrypster/statline/internal/observability"
	"github.com/scrypster/statline/internal/server"
)

func main() {
	domainsPath := flag.String("domains", "", "Path to the domains file (overrides STATLINE_DOMAINS_FILE)")
	port := flag.Int("port", 0, "Port to listen on (overrides STATLINE_PORT)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *domainsPath != "" {
		cfg.Storage.DomainsFile = *domainsPath
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("statline-web exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if cfg.IsProduction() && cfg.Security.APIToken == "" {
		return fmt.Errorf("production mode requires STATLINE_API_TOKEN")
	}

	stack, err := server.NewStack(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Warn("error closing stores", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stack.Start(ctx, true)

	addr, _, err := server.Start(ctx, cfg, stack, logger)
	if err != nil {
		return err
	}
	logger.Info("statline web running",
		"addr", "http://"+addr,
		"domains", stack.Domains.Names(),
		"security_mode", cfg.Security.SecurityMode)

	<-ctx.Done()
	logger.Info("shutting down gracefully")

	// Give in-flight requests and websocket clients time to finish.
	time.Sleep(500 * time.Millisecond)
	return nil
}
