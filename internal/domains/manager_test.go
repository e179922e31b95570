package domains

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/scrypster/statline/internal/backend"
	"github.com/scrypster/statline/internal/config"
	"github.com/scrypster/statline/internal/storage"
	"github.com/scrypster/statline/internal/testutil"
	"github.com/scrypster/statline/pkg/types"
)

type stubBackend struct{ domain string }

func (s *stubBackend) FetchSchemas(ctx context.Context) ([]types.ToolSchema, error) {
	return nil, nil
}

func (s *stubBackend) Call(ctx context.Context, tool string, args map[string]interface{}) (*types.BackendResponse, error) {
	return &types.BackendResponse{Endpoint: tool}, nil
}

func stubFactory(cfg config.DomainConfig) (backend.Backend, error) {
	return &stubBackend{domain: cfg.Name}, nil
}

func testFile(t *testing.T) *config.DomainsFile {
	t.Helper()
	df, err := config.ParseDomains([]byte(`
default_domain: baseball
domains:
  - name: baseball
    enabled: true
    keywords: [baseball, MLB]
    store: {type: sqlite, path: ":memory:"}
    backend: {base_url: "http://localhost:8081"}
  - name: hockey
    enabled: true
    keywords: [hockey, nhl]
    store: {type: sqlite, path: ":memory:"}
    backend: {base_url: "http://localhost:8082"}
  - name: football
    enabled: false
    store: {type: sqlite, path: ":memory:"}
`))
	if err != nil {
		t.Fatalf("ParseDomains() failed: %v", err)
	}
	return df
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(testFile(t), WithBackendFactory(stubFactory))
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestStore_OpensAndCaches(t *testing.T) {
	m := newTestManager(t)

	s1, err := m.Store("baseball")
	if err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	s2, err := m.Store("BASEBALL")
	if err != nil {
		t.Fatalf("second Store() failed: %v", err)
	}
	if s1 != s2 {
		t.Error("Store() did not return the same cached instance")
	}

	def, err := m.Store("")
	if err != nil {
		t.Fatalf("Store(\"\") failed: %v", err)
	}
	if def != s1 {
		t.Error("empty domain should select the default domain")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	m := newTestManager(t)

	var wg sync.WaitGroup
	stores := make([]storage.EntityStore, 10)
	for i := range stores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Store("hockey")
			if err != nil {
				t.Errorf("Store() failed: %v", err)
				return
			}
			stores[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range stores[1:] {
		if s != stores[0] {
			t.Fatal("concurrent Store() calls opened more than one store")
		}
	}
}

func TestStore_UnknownAndDisabled(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Store("curling"); !errors.Is(err, ErrUnknownDomain) {
		t.Errorf("expected ErrUnknownDomain, got %v", err)
	}
	if _, err := m.Store("football"); !errors.Is(err, ErrDomainDisabled) {
		t.Errorf("expected ErrDomainDisabled, got %v", err)
	}
	if _, err := m.Backend("football"); !errors.Is(err, ErrDomainDisabled) {
		t.Errorf("expected ErrDomainDisabled from Backend(), got %v", err)
	}
}

func TestNamesKeywordsDefault(t *testing.T) {
	m := newTestManager(t)

	names := m.Names()
	if len(names) != 2 || names[0] != "baseball" || names[1] != "hockey" {
		t.Errorf("Names() = %v, want [baseball hockey]", names)
	}
	if got := m.DefaultDomain(); got != "baseball" {
		t.Errorf("DefaultDomain() = %q", got)
	}
	kw := m.Keywords()
	if len(kw["baseball"]) != 2 || kw["baseball"][1] != "mlb" {
		t.Errorf("Keywords()[baseball] = %v", kw["baseball"])
	}
	if _, ok := kw["football"]; ok {
		t.Error("disabled domains must not contribute keywords")
	}
}

func TestBackend_ReturnsFactoryClient(t *testing.T) {
	m := newTestManager(t)

	be, err := m.Backend("hockey")
	if err != nil {
		t.Fatalf("Backend() failed: %v", err)
	}
	sb, ok := be.(*stubBackend)
	if !ok || sb.domain != "hockey" {
		t.Errorf("Backend() = %#v", be)
	}
}

func TestDefaultBackendFactoryBuildsHTTPClient(t *testing.T) {
	m, err := NewManager(testFile(t))
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	defer func() { _ = m.Close() }()

	be, err := m.Backend("baseball")
	if err != nil {
		t.Fatalf("Backend() failed: %v", err)
	}
	if _, ok := be.(*backend.Client); !ok {
		t.Fatalf("expected *backend.Client, got %T", be)
	}
	if got := m.BreakerStates()["baseball"]; got != "closed" {
		t.Errorf("breaker state = %q, want closed", got)
	}
}

func TestReload_ClosesRemovedAndChanged(t *testing.T) {
	m := newTestManager(t)

	oldBaseball, err := m.Store("baseball")
	if err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	oldHockey, err := m.Store("hockey")
	if err != nil {
		t.Fatalf("Store() failed: %v", err)
	}

	df, err := config.ParseDomains([]byte(`
default_domain: hockey
domains:
  - name: hockey
    enabled: true
    keywords: [hockey, nhl, puck]
    store: {type: sqlite, path: ":memory:"}
    backend: {base_url: "http://localhost:8082"}
  - name: basketball
    enabled: true
    store: {type: sqlite, path: ":memory:"}
    backend: {base_url: "http://localhost:8083"}
`))
	if err != nil {
		t.Fatalf("ParseDomains() failed: %v", err)
	}

	res, err := m.Reload(df)
	if err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}
	if len(res.Removed) != 2 || res.Removed[0] != "baseball" || res.Removed[1] != "football" {
		t.Errorf("Removed = %v", res.Removed)
	}
	if len(res.Changed) != 1 || res.Changed[0] != "hockey" {
		t.Errorf("Changed = %v", res.Changed)
	}
	if len(res.Added) != 1 || res.Added[0] != "basketball" {
		t.Errorf("Added = %v", res.Added)
	}

	if err := oldBaseball.Ping(context.Background()); err == nil {
		t.Error("removed domain's store should be closed")
	}
	if err := oldHockey.Ping(context.Background()); err == nil {
		t.Error("changed domain's store should be closed")
	}

	newHockey, err := m.Store("hockey")
	if err != nil {
		t.Fatalf("Store() after reload failed: %v", err)
	}
	if newHockey == oldHockey {
		t.Error("changed domain should get a fresh store")
	}
	if m.DefaultDomain() != "hockey" {
		t.Errorf("DefaultDomain() = %q", m.DefaultDomain())
	}
}

func TestReload_KeepsUnchangedStore(t *testing.T) {
	m := newTestManager(t)

	before, err := m.Store("baseball")
	if err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	res, err := m.Reload(testFile(t))
	if err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}
	if len(res.Added)+len(res.Removed)+len(res.Changed) != 0 {
		t.Errorf("identical reload reported changes: %+v", res)
	}
	after, err := m.Store("baseball")
	if err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	if before != after {
		t.Error("unchanged domain lost its open store")
	}
}

func TestNewManagerWithStore_DoesNotCloseBorrowedStore(t *testing.T) {
	store := testutil.NewSeededStore(t, testutil.BaseballDataset())
	m := NewManagerWithStore("Baseball", store, &stubBackend{domain: "baseball"})

	reader, err := m.EntityReader("")
	if err != nil {
		t.Fatalf("EntityReader() failed: %v", err)
	}
	if reader != storage.EntityReader(store) {
		t.Error("EntityReader() should return the borrowed store")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("borrowed store was closed: %v", err)
	}
}

func TestNewManagerFromFile_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "domains.yaml")
	content := []byte(`
domains:
  - name: baseball
    enabled: true
    store: {type: sqlite, path: data/baseball.db}
    backend: {base_url: "http://localhost:8081"}
`)
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManagerFromFile(path, WithBackendFactory(stubFactory))
	if err != nil {
		t.Fatalf("NewManagerFromFile() failed: %v", err)
	}
	defer func() { _ = m.Close() }()

	if _, err := m.Store("baseball"); err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "baseball.db")); err != nil {
		t.Errorf("expected database file next to the domains file: %v", err)
	}
}

func TestSanitizeDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://statline:secret@db:5432/baseball?sslmode=disable", "postgres://statline:%5BREDACTED%5D@db:5432/baseball?sslmode=disable"},
		{"host=db user=statline password=secret dbname=baseball", "host=db user=statline password=[REDACTED] dbname=baseball"},
		{"postgres://db/baseball", "postgres://db/baseball"},
	}
	for _, tt := range tests {
		if got := sanitizeDSN(tt.in); got != tt.want {
			t.Errorf("sanitizeDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
