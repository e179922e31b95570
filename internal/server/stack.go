package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/scrypster/statline/internal/cache"
	"github.com/scrypster/statline/internal/config"
	"github.com/scrypster/statline/internal/domains"
	"github.com/scrypster/statline/internal/engine"
	"github.com/scrypster/statline/internal/extractor"
	"github.com/scrypster/statline/internal/notify"
	"github.com/scrypster/statline/internal/observability"
	"github.com/scrypster/statline/internal/registry"
	"github.com/scrypster/statline/internal/resolver"
	"github.com/scrypster/statline/internal/storage"
	"github.com/scrypster/statline/internal/storage/sqlite"
)

// SchemaCacheFile is the durable tool schema copy under the data path.
const SchemaCacheFile = "schemas.db"

// Stack is the request path shared by the HTTP and stdio servers: domain
// stores and backends, the schema registry, the result cache, the
// extractor and the router.
type Stack struct {
	Config    *config.Config
	Domains   *domains.Manager
	Registry  *registry.Registry
	Cache     *cache.Cache
	Extractor *extractor.Extractor
	Router    *engine.Router

	durable storage.SchemaCache
	logger  *slog.Logger

	reloadMu sync.Mutex
	hooksMu  sync.RWMutex
	hooks    []func(notify.Event)

	domainsWatcher *notify.FileWatcher
	eventWatcher   *notify.EventWatcher
}

// NewStack opens the domains file and durable schema cache named by cfg and
// assembles the request path.
func NewStack(cfg *config.Config, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = observability.Discard()
	}

	mgr, err := domains.NewManagerFromFile(cfg.Storage.DomainsFile,
		domains.WithLogger(logger),
		domains.WithBackendTimeout(cfg.Backend.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to load domains: %w", err)
	}

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
		_ = mgr.Close()
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	durable, err := sqlite.NewSchemaCache(filepath.Join(cfg.Storage.DataPath, SchemaCacheFile))
	if err != nil {
		_ = mgr.Close()
		return nil, fmt.Errorf("failed to open schema cache: %w", err)
	}

	return NewStackWithManager(cfg, mgr, durable, logger), nil
}

// NewStackWithManager assembles the request path around an existing
// manager. durable may be nil.
func NewStackWithManager(cfg *config.Config, mgr *domains.Manager, durable storage.SchemaCache, logger *slog.Logger) *Stack {
	if logger == nil {
		logger = observability.Discard()
	}

	regOpts := []registry.Option{
		registry.WithMaxAge(cfg.Registry.RefreshInterval),
		registry.WithInterval(cfg.Registry.RefreshInterval),
		registry.WithBackoff(cfg.Registry.FailureBackoff),
		registry.WithLogger(logger),
	}
	if durable != nil {
		regOpts = append(regOpts, registry.WithDurable(durable))
	}
	reg := registry.New(mgr, regOpts...)

	results := cache.New(cfg.Cache.Capacity)
	ex := extractor.New(mgr, extractor.WithLogger(logger))
	pipeline := engine.NewPipeline(resolver.NewService(mgr, logger), mgr, results,
		engine.WithConcurrency(cfg.Pipeline.Concurrency),
		engine.WithPipelineLogger(logger))

	s := &Stack{
		Config:    cfg,
		Domains:   mgr,
		Registry:  reg,
		Cache:     results,
		Extractor: ex,
		Router:    engine.NewRouter(mgr, reg, ex, pipeline, logger),
		durable:   durable,
		logger:    logger.With("component", "stack"),
	}

	// Cached results may reference tools that no longer exist.
	reg.OnRefresh(func(ev registry.Event) {
		if (ev.Type == registry.EventRefreshed && ev.Changed) || ev.Type == registry.EventRemoved {
			if n := results.Purge(ev.Domain); n > 0 {
				s.logger.Info("result cache purged", "domain", ev.Domain, "reason", ev.Type, "entries", n)
			}
		}
	})
	return s
}

// OnEvent registers a hook called for every cross-process event after the
// stack has handled it.
func (s *Stack) OnEvent(fn func(notify.Event)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// HandleEvent applies an event written by another process, such as a
// dataset load from statline-admin.
func (s *Stack) HandleEvent(ev notify.Event) {
	switch ev.Type {
	case notify.EventDatasetLoaded:
		s.Extractor.Invalidate(ev.Domain)
		n := s.Cache.Purge(ev.Domain)
		s.logger.Info("dataset reloaded", "domain", ev.Domain, "purged", n)
	case notify.EventSchemasRefreshed:
		if _, err := s.Registry.Refresh(context.Background(), ev.Domain); err != nil {
			s.logger.Warn("schema refresh after event failed", "domain", ev.Domain, "error", err)
		}
	default:
		s.logger.Debug("ignoring unknown event", "type", ev.Type, "domain", ev.Domain)
		return
	}

	s.hooksMu.RLock()
	hooks := append([]func(notify.Event){}, s.hooks...)
	s.hooksMu.RUnlock()
	for _, h := range hooks {
		h(ev)
	}
}

// ReloadDomains re-reads the domains file and applies it. Domains that were
// added, removed or changed lose their cached vocabulary and results; added
// and changed domains are refreshed in the background.
func (s *Stack) ReloadDomains(ctx context.Context) (*domains.ReloadResult, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	df, err := config.LoadDomainsFile(s.Config.Storage.DomainsFile)
	if err != nil {
		return nil, err
	}
	res, err := s.Domains.Reload(df)
	if err != nil {
		return nil, err
	}
	s.Registry.SetDomains(ctx, s.Domains.Names())

	touched := make([]string, 0, len(res.Added)+len(res.Removed)+len(res.Changed))
	touched = append(touched, res.Added...)
	touched = append(touched, res.Removed...)
	touched = append(touched, res.Changed...)
	for _, name := range touched {
		s.Extractor.Invalidate(name)
		s.Cache.Purge(name)
	}

	refreshCtx := context.WithoutCancel(ctx)
	for _, name := range append(append([]string{}, res.Added...), res.Changed...) {
		go func(name string) {
			if _, err := s.Registry.Refresh(refreshCtx, name); err != nil {
				s.logger.Warn("refresh after reload failed", "domain", name, "error", err)
			}
		}(name)
	}

	s.logger.Info("domains reloaded",
		"added", res.Added,
		"removed", res.Removed,
		"changed", res.Changed)
	return res, nil
}

// Start begins background work: periodic schema refresh, and optionally
// the domains file watcher and the cross-process event watcher.
func (s *Stack) Start(ctx context.Context, watchEvents bool) {
	s.Registry.Start(ctx)

	if s.Config.Storage.WatchDomainsFile {
		fw := notify.NewFileWatcher(s.Config.Storage.DomainsFile, notify.DefaultDebounce, func(string) {
			if _, err := s.ReloadDomains(ctx); err != nil {
				s.logger.Error("domains reload failed, keeping previous configuration", "error", err)
			}
		}, s.logger)
		if err := fw.Start(); err != nil {
			s.logger.Warn("domains file watcher unavailable", "error", err)
		} else {
			s.domainsWatcher = fw
		}
	}

	if watchEvents {
		ew := notify.NewEventWatcher(s.Config.Storage.DataPath, s.HandleEvent, s.logger)
		if err := ew.Start(); err != nil {
			s.logger.Warn("event watcher unavailable", "error", err)
		} else {
			s.eventWatcher = ew
		}
	}
}

// Close stops background work and releases stores.
func (s *Stack) Close() error {
	if s.domainsWatcher != nil {
		s.domainsWatcher.Stop()
	}
	if s.eventWatcher != nil {
		s.eventWatcher.Stop()
	}
	s.Registry.Stop()

	err := s.Domains.Close()
	if c, ok := s.durable.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
