// Package storage provides composable storage interfaces for statline.
//
// The request path only ever reads: EntityReader is what the resolver and
// the extractor vocabulary depend on. Writes happen out-of-band through
// DatasetLoader, and the tool schema registry keeps its durable copies
// behind SchemaCache. Backends implement whichever interfaces they support.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/statline/pkg/types"
)

// EntityReader issues parameterized, domain-scoped reads against the
// entities and aliases tables. No method writes.
type EntityReader interface {
	// FindExact returns entities whose display name, abbreviation or city
	// equals q.Text case-insensitively. Display-name matches sort before
	// abbreviation matches, which sort before city matches.
	FindExact(ctx context.Context, q EntityQuery) ([]types.Entity, error)

	// FindByAlias returns entities with an alias equal to q.Text.
	FindByAlias(ctx context.Context, q EntityQuery) ([]AliasMatch, error)

	// FindContaining returns entities whose display name or city contains
	// q.Text, ranked name-prefix, then city-prefix, then any containment.
	FindContaining(ctx context.Context, q EntityQuery) ([]types.Entity, error)

	// GetEntity retrieves one entity by its canonical id.
	// Returns ErrNotFound if the entity doesn't exist.
	GetEntity(ctx context.Context, domain string, kind types.EntityKind, id string) (*types.Entity, error)

	// SurfaceForms returns every display name and alias in the domain,
	// lowercased, with the kind of entity each refers to.
	SurfaceForms(ctx context.Context, domain string) ([]SurfaceForm, error)

	// StatsFor returns the denormalized statistics rows for an entity,
	// most recent season first.
	StatsFor(ctx context.Context, domain string, kind types.EntityKind, id string) ([]types.StatLine, error)
}

// DatasetLoader replaces a domain's rows in one transaction.
// It is only used by out-of-band loads, never by request handling.
type DatasetLoader interface {
	ReplaceDataset(ctx context.Context, ds *types.Dataset) (*LoadStats, error)
}

// EntityStore is the full entity store: reads, loads and lifecycle.
type EntityStore interface {
	EntityReader
	DatasetLoader

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}

// SchemaCache is the durable copy of each domain's tool schemas.
type SchemaCache interface {
	// LoadSchemas returns the last saved schemas for a domain and the time
	// they were fetched. Returns ErrNotFound if nothing was ever saved.
	LoadSchemas(ctx context.Context, domain string) ([]types.ToolSchema, time.Time, error)

	// SaveSchemas replaces the durable copy for a domain.
	SaveSchemas(ctx context.Context, domain string, schemas []types.ToolSchema, fetchedAt time.Time) error

	// DeleteSchemas removes the durable copy for a domain. Deleting a
	// domain with no copy is not an error.
	DeleteSchemas(ctx context.Context, domain string) error

	// Domains lists every domain with a durable copy.
	Domains(ctx context.Context) ([]string, error)
}
