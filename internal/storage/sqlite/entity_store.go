// Package sqlite implements the statline entity store and durable tool
// schema cache on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/statline/internal/storage"
	"github.com/scrypster/statline/pkg/types"
)

// EntityStore implements storage.EntityStore using SQLite.
type EntityStore struct {
	db *sql.DB
}

var _ storage.EntityStore = (*EntityStore)(nil)

// NewEntityStore opens (or creates) an entity store at dsn.
// Use ":memory:" for an ephemeral store.
func NewEntityStore(dsn string) (*EntityStore, error) {
	db, err := openDB(dsn, Schema)
	if err != nil {
		return nil, err
	}
	if err := upgradeEntities(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return &EntityStore{db: db}, nil
}

// upgradeEntities adds any missing normalized lookup column, fills it from
// its source column and creates the lookup indexes.
func upgradeEntities(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info(entities)")
	if err != nil {
		return fmt.Errorf("sqlite: inspect entities: %w", err)
	}
	have := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: inspect entities: %w", err)
		}
		have[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: inspect entities: %w", err)
	}

	for _, col := range normalizedColumns {
		if have[col.name] {
			continue
		}
		if _, err := db.ExecContext(ctx, "ALTER TABLE entities ADD COLUMN "+col.name+" TEXT NOT NULL DEFAULT ''"); err != nil {
			return fmt.Errorf("sqlite: add %s: %w", col.name, err)
		}
		if err := backfill(ctx, db, col.name, col.source); err != nil {
			return err
		}
	}

	if _, err := db.ExecContext(ctx, lookupIndexes); err != nil {
		return fmt.Errorf("sqlite: create lookup indexes: %w", err)
	}
	return nil
}

// backfill sets column to the normalized value of source on every row.
func backfill(ctx context.Context, db *sql.DB, column, source string) error {
	type row struct{ domain, kind, id, value string }

	rs, err := db.QueryContext(ctx, "SELECT domain, kind, id, "+source+" FROM entities")
	if err != nil {
		return fmt.Errorf("sqlite: backfill %s: %w", column, err)
	}
	var pending []row
	for rs.Next() {
		var r row
		if err := rs.Scan(&r.domain, &r.kind, &r.id, &r.value); err != nil {
			rs.Close()
			return fmt.Errorf("sqlite: backfill %s: %w", column, err)
		}
		pending = append(pending, r)
	}
	rs.Close()
	if err := rs.Err(); err != nil {
		return fmt.Errorf("sqlite: backfill %s: %w", column, err)
	}

	for _, r := range pending {
		if _, err := db.ExecContext(ctx,
			"UPDATE entities SET "+column+" = ? WHERE domain = ? AND kind = ? AND id = ?",
			types.NormalizeText(r.value), r.domain, r.kind, r.id); err != nil {
			return fmt.Errorf("sqlite: backfill %s for %s: %w", column, r.id, err)
		}
	}
	return nil
}

// GetDB returns the underlying database handle.
func (s *EntityStore) GetDB() *sql.DB {
	return s.db
}

// Ping verifies the database is reachable.
func (s *EntityStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w: %v", storage.ErrStoreUnavailable, err)
	}
	return nil
}

// Close flushes the WAL and releases resources.
func (s *EntityStore) Close() error {
	return closeDB(s.db)
}

const entityColumns = `e.domain, e.kind, e.id, e.display_name, e.city, e.abbreviation,
	e.team_id, e.attributes, e.active, e.updated_at`

// kindOrder sorts teams before players when a query spans both kinds.
const kindOrder = `CASE e.kind WHEN 'team' THEN 0 ELSE 1 END`

// scopeClause builds the WHERE fragment shared by every read: domain, optional
// kind, and the optional owning-team restriction on players.
func scopeClause(q storage.EntityQuery) (string, []interface{}) {
	var b strings.Builder
	args := []interface{}{q.Domain}
	b.WriteString("e.domain = ?")

	if q.Kind != "" {
		b.WriteString(" AND e.kind = ?")
		args = append(args, string(q.Kind))
	}

	if q.TeamIDs != nil {
		if len(q.TeamIDs) == 0 {
			b.WriteString(" AND e.kind <> 'player'")
		} else {
			b.WriteString(" AND (e.kind <> 'player' OR e.team_id IN (")
			for i, id := range q.TeamIDs {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString("?")
				args = append(args, id)
			}
			b.WriteString("))")
		}
	}
	return b.String(), args
}

// FindExact returns entities whose display name, abbreviation or city equals q.Text.
func (s *EntityStore) FindExact(ctx context.Context, q storage.EntityQuery) ([]types.Entity, error) {
	if err := q.Normalize(); err != nil {
		return nil, err
	}
	if q.Text == "" {
		return nil, nil
	}

	scope, args := scopeClause(q)
	query := `
		SELECT ` + entityColumns + `
		FROM entities e
		WHERE ` + scope + `
		  AND (e.display_name_lc = ? OR e.abbreviation_lc = ? OR e.city_lc = ?)
		ORDER BY
			CASE WHEN e.display_name_lc = ? THEN 0
			     WHEN e.abbreviation_lc = ? THEN 1
			     ELSE 2 END,
			` + kindOrder + `, e.active DESC, e.display_name, e.id`
	args = append(args, q.Text, q.Text, q.Text, q.Text, q.Text)

	return s.queryEntities(ctx, query, args...)
}

// FindByAlias returns entities with an alias equal to q.Text.
func (s *EntityStore) FindByAlias(ctx context.Context, q storage.EntityQuery) ([]storage.AliasMatch, error) {
	if err := q.Normalize(); err != nil {
		return nil, err
	}
	if q.Text == "" {
		return nil, nil
	}

	scope, args := scopeClause(q)
	query := `
		SELECT ` + entityColumns + `, a.alias_type
		FROM aliases a
		JOIN entities e ON e.domain = a.domain AND e.kind = a.kind AND e.id = a.entity_id
		WHERE ` + scope + ` AND a.alias_text = ?
		ORDER BY ` + kindOrder + `, e.active DESC, e.display_name, e.id`
	args = append(args, q.Text)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: alias lookup: %w: %v", storage.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []storage.AliasMatch
	for rows.Next() {
		var m storage.AliasMatch
		var aliasType string
		if err := scanEntity(rows, &m.Entity, &aliasType); err != nil {
			return nil, err
		}
		m.AliasType = types.AliasType(aliasType)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: alias rows: %w: %v", storage.ErrStoreUnavailable, err)
	}
	return out, nil
}

// FindContaining returns entities whose display name or city contains q.Text,
// ranked name-prefix, city-prefix, then any containment.
func (s *EntityStore) FindContaining(ctx context.Context, q storage.EntityQuery) ([]types.Entity, error) {
	if err := q.Normalize(); err != nil {
		return nil, err
	}
	if q.Text == "" {
		return nil, nil
	}

	esc := storage.EscapeLike(q.Text)
	contains := "%" + esc + "%"
	prefix := esc + "%"

	scope, args := scopeClause(q)
	query := `
		SELECT ` + entityColumns + `
		FROM entities e
		WHERE ` + scope + `
		  AND (e.display_name_lc LIKE ? ESCAPE '\' OR e.city_lc LIKE ? ESCAPE '\')
		ORDER BY
			CASE WHEN e.display_name_lc LIKE ? ESCAPE '\' THEN 0
			     WHEN e.city_lc LIKE ? ESCAPE '\' THEN 1
			     ELSE 2 END,
			` + kindOrder + `, e.active DESC, e.display_name, e.id
		LIMIT ?`
	args = append(args, contains, contains, prefix, prefix, q.Limit)

	return s.queryEntities(ctx, query, args...)
}

// GetEntity retrieves one entity by id.
func (s *EntityStore) GetEntity(ctx context.Context, domain string, kind types.EntityKind, id string) (*types.Entity, error) {
	if domain == "" || id == "" || !kind.IsValid() {
		return nil, fmt.Errorf("%w: domain, kind and id are required", storage.ErrInvalidInput)
	}

	query := `SELECT ` + entityColumns + ` FROM entities e WHERE e.domain = ? AND e.kind = ? AND e.id = ?`
	row := s.db.QueryRowContext(ctx, query, domain, string(kind), id)

	var e types.Entity
	if err := scanEntity(row, &e); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// SurfaceForms returns every display name and alias in the domain.
func (s *EntityStore) SurfaceForms(ctx context.Context, domain string) ([]storage.SurfaceForm, error) {
	query := `
		SELECT display_name_lc, kind, id FROM entities WHERE domain = ?
		UNION
		SELECT alias_text, kind, entity_id FROM aliases WHERE domain = ?
		ORDER BY 1, 2, 3`

	rows, err := s.db.QueryContext(ctx, query, domain, domain)
	if err != nil {
		return nil, fmt.Errorf("sqlite: surface forms: %w: %v", storage.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []storage.SurfaceForm
	for rows.Next() {
		var f storage.SurfaceForm
		var kind string
		if err := rows.Scan(&f.Text, &kind, &f.EntityID); err != nil {
			return nil, fmt.Errorf("sqlite: scan surface form: %w", err)
		}
		f.Kind = types.EntityKind(kind)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: surface form rows: %w: %v", storage.ErrStoreUnavailable, err)
	}
	return out, nil
}

// StatsFor returns the statistics rows for an entity, most recent season first.
func (s *EntityStore) StatsFor(ctx context.Context, domain string, kind types.EntityKind, id string) ([]types.StatLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT season, stats FROM entity_stats
		WHERE domain = ? AND kind = ? AND entity_id = ?
		ORDER BY season DESC`, domain, string(kind), id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: stats lookup: %w: %v", storage.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []types.StatLine
	for rows.Next() {
		line := types.StatLine{EntityID: id, Kind: kind}
		var statsJSON string
		if err := rows.Scan(&line.Season, &statsJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan stats: %w", err)
		}
		if err := json.Unmarshal([]byte(statsJSON), &line.Stats); err != nil {
			return nil, fmt.Errorf("sqlite: decode stats for %s: %w", id, err)
		}
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: stats rows: %w: %v", storage.ErrStoreUnavailable, err)
	}
	return out, nil
}

// ReplaceDataset deletes every row of ds.Domain and inserts ds in one transaction.
func (s *EntityStore) ReplaceDataset(ctx context.Context, ds *types.Dataset) (*storage.LoadStats, error) {
	if ds == nil {
		return nil, storage.ErrInvalidInput
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"entity_stats", "aliases", "entities"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE domain = ?", ds.Domain); err != nil {
			return nil, fmt.Errorf("sqlite: clear %s: %w", table, err)
		}
	}

	now := time.Now().UTC()
	for _, e := range ds.Entities {
		attrs, err := marshalAttributes(e.Attributes)
		if err != nil {
			return nil, fmt.Errorf("sqlite: entity %s: %w", e.ID, err)
		}
		updated := e.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entities (domain, kind, id, display_name, city, abbreviation, team_id,
				display_name_lc, city_lc, abbreviation_lc, attributes, active, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ds.Domain, string(e.Kind), e.ID, e.DisplayName, e.City, e.Abbrev, e.TeamID,
			types.NormalizeText(e.DisplayName), types.NormalizeText(e.City), types.NormalizeText(e.Abbrev),
			attrs, e.Active, updated,
		); err != nil {
			return nil, fmt.Errorf("sqlite: insert entity %s: %w", e.ID, err)
		}
	}

	for _, a := range ds.Aliases {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO aliases (domain, kind, entity_id, alias_text, alias_type)
			VALUES (?, ?, ?, ?, ?)`,
			ds.Domain, string(a.Kind), a.EntityID, a.Text, string(a.Type),
		); err != nil {
			return nil, fmt.Errorf("sqlite: insert alias %q: %w", a.Text, err)
		}
	}

	for _, st := range ds.Stats {
		statsJSON, err := json.Marshal(st.Stats)
		if err != nil {
			return nil, fmt.Errorf("sqlite: encode stats for %s: %w", st.EntityID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entity_stats (domain, kind, entity_id, season, stats)
			VALUES (?, ?, ?, ?, ?)`,
			ds.Domain, string(st.Kind), st.EntityID, st.Season, string(statsJSON),
		); err != nil {
			return nil, fmt.Errorf("sqlite: insert stats for %s: %w", st.EntityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit load: %w", err)
	}

	return &storage.LoadStats{
		Domain:   ds.Domain,
		Entities: len(ds.Entities),
		Aliases:  len(ds.Aliases),
		Stats:    len(ds.Stats),
	}, nil
}

func (s *EntityStore) queryEntities(ctx context.Context, query string, args ...interface{}) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: entity query: %w: %v", storage.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []types.Entity
	for rows.Next() {
		var e types.Entity
		if err := scanEntity(rows, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: entity rows: %w: %v", storage.ErrStoreUnavailable, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEntity scans entityColumns followed by any extra destinations.
func scanEntity(row scanner, e *types.Entity, extra ...interface{}) error {
	var kind string
	var attrs sql.NullString
	dest := []interface{}{
		&e.Domain, &kind, &e.ID, &e.DisplayName, &e.City, &e.Abbrev,
		&e.TeamID, &attrs, &e.Active, &e.UpdatedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("sqlite: scan entity: %w", err)
	}
	e.Kind = types.EntityKind(kind)

	if attrs.Valid && attrs.String != "" {
		if err := json.Unmarshal([]byte(attrs.String), &e.Attributes); err != nil {
			return fmt.Errorf("sqlite: decode attributes for %s: %w", e.ID, err)
		}
	}
	return nil
}

func marshalAttributes(attrs map[string]interface{}) (sql.NullString, error) {
	if len(attrs) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
