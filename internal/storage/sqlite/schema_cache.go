package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/statline/internal/storage"
	"github.com/scrypster/statline/pkg/types"
)

// SchemaCache implements storage.SchemaCache using SQLite. It keeps one row
// per domain holding the JSON-encoded schema list and its fetch time.
type SchemaCache struct {
	db *sql.DB
}

var _ storage.SchemaCache = (*SchemaCache)(nil)

// NewSchemaCache opens (or creates) a durable schema cache at dsn.
func NewSchemaCache(dsn string) (*SchemaCache, error) {
	db, err := openDB(dsn, SchemaCacheSchema)
	if err != nil {
		return nil, err
	}
	return &SchemaCache{db: db}, nil
}

// LoadSchemas returns the durable copy for domain.
func (c *SchemaCache) LoadSchemas(ctx context.Context, domain string) ([]types.ToolSchema, time.Time, error) {
	var raw string
	var fetchedAt time.Time
	err := c.db.QueryRowContext(ctx,
		`SELECT schemas, fetched_at FROM tool_schemas WHERE domain = ?`, domain,
	).Scan(&raw, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, storage.ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("sqlite: load schemas for %s: %w", domain, err)
	}

	var schemas []types.ToolSchema
	if err := json.Unmarshal([]byte(raw), &schemas); err != nil {
		return nil, time.Time{}, fmt.Errorf("sqlite: decode schemas for %s: %w", domain, err)
	}
	return schemas, fetchedAt, nil
}

// SaveSchemas replaces the durable copy for domain.
func (c *SchemaCache) SaveSchemas(ctx context.Context, domain string, schemas []types.ToolSchema, fetchedAt time.Time) error {
	if domain == "" {
		return fmt.Errorf("%w: domain is required", storage.ErrInvalidInput)
	}
	if schemas == nil {
		schemas = []types.ToolSchema{}
	}
	raw, err := json.Marshal(schemas)
	if err != nil {
		return fmt.Errorf("sqlite: encode schemas for %s: %w", domain, err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO tool_schemas (domain, schemas, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			schemas = excluded.schemas,
			fetched_at = excluded.fetched_at`,
		domain, string(raw), fetchedAt.UTC())
	if err != nil {
		return fmt.Errorf("sqlite: save schemas for %s: %w", domain, err)
	}
	return nil
}

// DeleteSchemas removes the durable copy for domain.
func (c *SchemaCache) DeleteSchemas(ctx context.Context, domain string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM tool_schemas WHERE domain = ?`, domain); err != nil {
		return fmt.Errorf("sqlite: delete schemas for %s: %w", domain, err)
	}
	return nil
}

// Domains lists every domain with a durable copy.
func (c *SchemaCache) Domains(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT domain FROM tool_schemas ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list schema domains: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("sqlite: scan schema domain: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close flushes the WAL and releases resources.
func (c *SchemaCache) Close() error {
	return closeDB(c.db)
}
