// Package registry keeps the per-domain catalogue of tool schemas that the
// domain backends advertise.
//
// Schemas are fetched lazily and re-fetched once older than the maximum age.
// A successful fetch is written to a durable copy. When a fetch fails the
// registry keeps serving the last known schemas (in memory, else durable)
// and only reports ErrDomainUnavailable when no copy exists anywhere.
// Refreshes of different domains are independent; at most one refresh per
// domain is in flight.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/scrypster/statline/internal/backend"
	"github.com/scrypster/statline/internal/observability"
	"github.com/scrypster/statline/internal/storage"
	"github.com/scrypster/statline/pkg/types"
)

var (
	// ErrDomainUnavailable means a domain's schemas could not be fetched and
	// no earlier copy exists.
	ErrDomainUnavailable = errors.New("domain tools unavailable")

	// ErrUnknownDomain is returned for domains the registry does not track.
	ErrUnknownDomain = errors.New("unknown domain")

	// ErrStaleSchema marks a response served from an out-of-date copy. It is
	// logged, never returned to callers.
	ErrStaleSchema = errors.New("serving stale tool schemas")
)

// Defaults.
const (
	DefaultMaxAge  = 5 * time.Minute
	DefaultBackoff = 30 * time.Second
)

// Source hands out the backend for each domain.
type Source interface {
	Backend(domain string) (backend.Backend, error)
	Names() []string
}

// Copy origins reported in Status.
const (
	OriginLive    = "live"
	OriginDurable = "durable"
)

// Event types delivered to OnRefresh hooks.
const (
	EventRefreshed = "refreshed"
	EventFailed    = "failed"
	EventStale     = "stale"
	EventRemoved   = "removed"
)

// Event describes a registry state change.
type Event struct {
	Type      string    `json:"type"`
	Domain    string    `json:"domain"`
	Tools     int       `json:"tools"`
	Changed   bool      `json:"changed"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Status reports one domain's schema freshness.
type Status struct {
	Domain      string    `json:"domain"`
	Tools       int       `json:"tools"`
	Origin      string    `json:"origin,omitempty"`
	FetchedAt   time.Time `json:"fetched_at,omitempty"`
	AgeSeconds  float64   `json:"age_seconds"`
	Stale       bool      `json:"stale"`
	Available   bool      `json:"available"`
	LastError   string    `json:"last_error,omitempty"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
	RetryAfter  time.Time `json:"retry_after,omitempty"`
}

type domainState struct {
	tools       []types.ToolSchema
	fetchedAt   time.Time
	origin      string
	loaded      bool
	durableRead bool
	lastErr     error
	lastAttempt time.Time
	retryAfter  time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	source   Source
	durable  storage.SchemaCache
	maxAge   time.Duration
	backoff  time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	flights singleflight.Group

	mu      sync.RWMutex
	known   map[string]bool
	domains map[string]*domainState
	hooks   []func(Event)

	cronMu sync.Mutex
	cron   *cron.Cron
}

// Option configures a Registry.
type Option func(*Registry)

// WithDurable sets the durable schema copy.
func WithDurable(c storage.SchemaCache) Option {
	return func(r *Registry) { r.durable = c }
}

// WithMaxAge sets how old schemas may get before an implicit refresh.
func WithMaxAge(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.maxAge = d
		}
	}
}

// WithBackoff sets how long a failed domain is left alone before the next
// implicit refresh attempt.
func WithBackoff(d time.Duration) Option {
	return func(r *Registry) {
		if d >= 0 {
			r.backoff = d
		}
	}
}

// WithInterval sets the background refresh period used by Start.
func WithInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a registry tracking source.Names().
func New(source Source, opts ...Option) *Registry {
	r := &Registry{
		source:   source,
		maxAge:   DefaultMaxAge,
		backoff:  DefaultBackoff,
		interval: DefaultMaxAge,
		now:      time.Now,
		logger:   observability.Discard(),
		known:    make(map[string]bool),
		domains:  make(map[string]*domainState),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	for _, name := range source.Names() {
		r.known[name] = true
	}
	return r
}

// OnRefresh registers a hook called after every refresh outcome.
// Hooks run synchronously and must not block.
func (r *Registry) OnRefresh(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

func (r *Registry) emit(ev Event) {
	r.mu.RLock()
	hooks := append([]func(Event){}, r.hooks...)
	r.mu.RUnlock()
	for _, h := range hooks {
		h(ev)
	}
}

func normalize(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// ToolsFor returns the tool schemas of domain. Fresh schemas are returned
// directly; older ones trigger a refresh. If the refresh fails the last
// known copy is served. ErrDomainUnavailable is returned only when no copy
// exists at all.
func (r *Registry) ToolsFor(ctx context.Context, domain string) ([]types.ToolSchema, error) {
	domain = normalize(domain)
	if !r.isKnown(domain) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}

	r.loadDurable(ctx, domain)

	now := r.now()
	st := r.snapshot(domain)
	if st.loaded && now.Sub(st.fetchedAt) < r.maxAge {
		return st.tools, nil
	}

	if now.Before(st.retryAfter) {
		return r.serveStale(domain, st, st.lastErr)
	}

	tools, err := r.Refresh(ctx, domain)
	if err == nil {
		return tools, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return r.serveStale(domain, r.snapshot(domain), err)
}

func (r *Registry) serveStale(domain string, st domainState, cause error) ([]types.ToolSchema, error) {
	if !st.loaded {
		if cause == nil {
			cause = errors.New("no schemas fetched")
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrDomainUnavailable, domain, cause)
	}
	r.logger.Warn(ErrStaleSchema.Error(),
		"domain", domain,
		"fetched_at", st.fetchedAt,
		"origin", st.origin,
		"error", cause)
	r.emit(Event{Type: EventStale, Domain: domain, Tools: len(st.tools), FetchedAt: st.fetchedAt, Error: errString(cause)})
	return st.tools, nil
}

// Refresh fetches domain's schemas from its backend now, ignoring age and
// backoff. Concurrent calls for the same domain share one fetch. The fetch
// is detached from ctx so an abandoned request cannot leave the registry
// half-updated; the backend client's own timeout bounds it.
func (r *Registry) Refresh(ctx context.Context, domain string) ([]types.ToolSchema, error) {
	domain = normalize(domain)
	if !r.isKnown(domain) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}

	ch := r.flights.DoChan(domain, func() (interface{}, error) {
		return r.fetch(context.WithoutCancel(ctx), domain)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]types.ToolSchema), nil
	}
}

func (r *Registry) fetch(ctx context.Context, domain string) ([]types.ToolSchema, error) {
	attempt := r.now()

	be, err := r.source.Backend(domain)
	if err == nil {
		var tools []types.ToolSchema
		tools, err = be.FetchSchemas(ctx)
		if err == nil {
			return r.store(ctx, domain, tools, attempt), nil
		}
	}

	r.mu.Lock()
	if r.known[domain] {
		st := r.stateLocked(domain)
		st.lastErr = err
		st.lastAttempt = attempt
		st.retryAfter = attempt.Add(r.backoff)
	}
	r.mu.Unlock()

	observability.RecordRegistryRefresh(domain, "failed")
	r.logger.Warn("schema refresh failed", "domain", domain, "error", err)
	r.emit(Event{Type: EventFailed, Domain: domain, Error: err.Error()})
	return nil, fmt.Errorf("registry: refresh %s: %w", domain, err)
}

func (r *Registry) store(ctx context.Context, domain string, fetched []types.ToolSchema, at time.Time) []types.ToolSchema {
	tools := make([]types.ToolSchema, 0, len(fetched))
	for _, t := range fetched {
		t.Domain = domain
		t.FetchedAt = at
		tools = append(tools, t)
	}

	r.mu.Lock()
	if !r.known[domain] {
		// Dropped by SetDomains while the fetch was in flight.
		r.mu.Unlock()
		return tools
	}
	st := r.stateLocked(domain)
	changed := !sameToolNames(st.tools, tools)
	st.tools = tools
	st.fetchedAt = at
	st.origin = OriginLive
	st.loaded = true
	st.durableRead = true
	st.lastErr = nil
	st.lastAttempt = at
	st.retryAfter = time.Time{}
	r.mu.Unlock()

	if r.durable != nil {
		if err := r.durable.SaveSchemas(ctx, domain, tools, at); err != nil {
			r.logger.Warn("failed to save durable schema copy", "domain", domain, "error", err)
		}
	}

	observability.RecordRegistryRefresh(domain, "ok")
	observability.SetSchemaAge(domain, 0)
	r.logger.Debug("schemas refreshed", "domain", domain, "tools", len(tools), "changed", changed)
	r.emit(Event{Type: EventRefreshed, Domain: domain, Tools: len(tools), Changed: changed, FetchedAt: at})
	return tools
}

// loadDurable seeds the in-memory copy from the durable one the first time
// a domain is touched.
func (r *Registry) loadDurable(ctx context.Context, domain string) {
	r.mu.RLock()
	st, ok := r.domains[domain]
	done := ok && (st.loaded || st.durableRead)
	r.mu.RUnlock()
	if done || r.durable == nil {
		return
	}

	tools, fetchedAt, err := r.durable.LoadSchemas(ctx, domain)

	r.mu.Lock()
	defer r.mu.Unlock()
	st = r.stateLocked(domain)
	if st.loaded || st.durableRead {
		return
	}
	st.durableRead = true
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("failed to read durable schema copy", "domain", domain, "error", err)
		}
		return
	}
	st.tools = tools
	st.fetchedAt = fetchedAt
	st.origin = OriginDurable
	st.loaded = true
}

// RefreshAll refreshes every tracked domain whose schemas are missing or
// older than the maximum age, honouring the failure backoff. Domains are
// refreshed concurrently and independently.
func (r *Registry) RefreshAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, domain := range r.Domains() {
		r.loadDurable(ctx, domain)
		st := r.snapshot(domain)
		now := r.now()
		if st.loaded && now.Sub(st.fetchedAt) < r.maxAge {
			continue
		}
		if now.Before(st.retryAfter) {
			continue
		}
		wg.Add(1)
		go func(domain string) {
			defer wg.Done()
			_, _ = r.Refresh(ctx, domain)
		}(domain)
	}
	wg.Wait()
}

// Start begins periodic background refreshes and warms every domain once.
func (r *Registry) Start(ctx context.Context) {
	r.cronMu.Lock()
	defer r.cronMu.Unlock()
	if r.cron != nil {
		return
	}

	c := cron.New()
	c.Schedule(cron.Every(r.interval), cron.FuncJob(func() { r.RefreshAll(ctx) }))
	c.Start()
	r.cron = c

	go r.RefreshAll(ctx)
	r.logger.Info("registry started", "interval", r.interval, "domains", len(r.Domains()))
}

// Stop halts background refreshes and waits for a running one to finish.
func (r *Registry) Stop() {
	r.cronMu.Lock()
	c := r.cron
	r.cron = nil
	r.cronMu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// SetDomains replaces the set of tracked domains. Dropped domains lose
// their in-memory and durable copies. It returns the dropped names.
func (r *Registry) SetDomains(ctx context.Context, names []string) []string {
	next := make(map[string]bool, len(names))
	for _, n := range names {
		next[normalize(n)] = true
	}

	r.mu.Lock()
	var removed []string
	for name := range r.known {
		if !next[name] {
			removed = append(removed, name)
			delete(r.domains, name)
		}
	}
	r.known = next
	r.mu.Unlock()

	if r.durable != nil {
		if stored, err := r.durable.Domains(ctx); err == nil {
			for _, name := range stored {
				if !next[name] && !contains(removed, name) {
					removed = append(removed, name)
				}
			}
		}
	}
	sort.Strings(removed)

	for _, name := range removed {
		if r.durable != nil {
			if err := r.durable.DeleteSchemas(ctx, name); err != nil {
				r.logger.Warn("failed to delete durable schema copy", "domain", name, "error", err)
			}
		}
		observability.DeleteSchemaAge(name)
		r.emit(Event{Type: EventRemoved, Domain: name})
	}
	if len(removed) > 0 {
		r.logger.Info("domains removed from registry", "domains", removed)
	}
	return removed
}

// Domains returns the tracked domain names, sorted.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.known))
	for name := range r.known {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Status reports freshness for every tracked domain.
func (r *Registry) Status() []Status {
	now := r.now()
	out := make([]Status, 0)
	for _, domain := range r.Domains() {
		st := r.snapshot(domain)
		s := Status{
			Domain:      domain,
			Tools:       len(st.tools),
			Available:   st.loaded,
			LastError:   errString(st.lastErr),
			LastAttempt: st.lastAttempt,
			RetryAfter:  st.retryAfter,
		}
		if st.loaded {
			age := now.Sub(st.fetchedAt)
			s.Origin = st.origin
			s.FetchedAt = st.fetchedAt
			s.AgeSeconds = age.Seconds()
			s.Stale = age >= r.maxAge
			observability.SetSchemaAge(domain, age)
		}
		out = append(out, s)
	}
	return out
}

func (r *Registry) isKnown(domain string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.known[domain]
}

// snapshot copies a domain's state so callers can read it without the lock.
func (r *Registry) snapshot(domain string) domainState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.domains[domain]
	if !ok {
		return domainState{}
	}
	cp := *st
	cp.tools = append([]types.ToolSchema(nil), st.tools...)
	return cp
}

// stateLocked must be called with r.mu held for writing.
func (r *Registry) stateLocked(domain string) *domainState {
	st, ok := r.domains[domain]
	if !ok {
		st = &domainState{}
		r.domains[domain] = st
	}
	return st
}

func sameToolNames(a, b []types.ToolSchema) bool {
	if len(a) != len(b) {
		return false
	}
	names := make(map[string]bool, len(a))
	for _, t := range a {
		names[t.Name] = true
	}
	for _, t := range b {
		if !names[t.Name] {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
