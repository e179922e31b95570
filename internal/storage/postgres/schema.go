package postgres

// Schema is the PostgreSQL entity store DDL. All statements are idempotent.
// The *_lc columns hold types.NormalizeText of their source column and are
// written by ReplaceDataset; lookups never depend on the server's collation.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
	domain       TEXT NOT NULL,
	kind         TEXT NOT NULL CHECK (kind IN ('team', 'player')),
	id           TEXT NOT NULL,
	display_name TEXT NOT NULL,
	city         TEXT NOT NULL DEFAULT '',
	abbreviation TEXT NOT NULL DEFAULT '',
	team_id      TEXT NOT NULL DEFAULT '',
	attributes   JSONB,
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (domain, kind, id)
);

ALTER TABLE entities ADD COLUMN IF NOT EXISTS display_name_lc TEXT NOT NULL DEFAULT '';
ALTER TABLE entities ADD COLUMN IF NOT EXISTS city_lc TEXT NOT NULL DEFAULT '';
ALTER TABLE entities ADD COLUMN IF NOT EXISTS abbreviation_lc TEXT NOT NULL DEFAULT '';

-- Rows loaded before the *_lc columns existed.
UPDATE entities SET display_name_lc = lower(display_name), city_lc = lower(city), abbreviation_lc = lower(abbreviation)
WHERE display_name_lc = '' AND display_name <> '';

CREATE INDEX IF NOT EXISTS idx_entities_display_name_lc ON entities(domain, display_name_lc);
CREATE INDEX IF NOT EXISTS idx_entities_abbreviation_lc ON entities(domain, abbreviation_lc);
CREATE INDEX IF NOT EXISTS idx_entities_city_lc ON entities(domain, city_lc);
CREATE INDEX IF NOT EXISTS idx_entities_team ON entities(domain, team_id);

CREATE TABLE IF NOT EXISTS aliases (
	domain     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	entity_id  TEXT NOT NULL,
	alias_text TEXT NOT NULL,
	alias_type TEXT NOT NULL DEFAULT 'common',
	PRIMARY KEY (domain, kind, entity_id, alias_text),
	FOREIGN KEY (domain, kind, entity_id) REFERENCES entities(domain, kind, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_aliases_text ON aliases(domain, alias_text);

CREATE TABLE IF NOT EXISTS entity_stats (
	domain    TEXT NOT NULL,
	kind      TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	season    TEXT NOT NULL,
	stats     JSONB NOT NULL,
	PRIMARY KEY (domain, kind, entity_id, season),
	FOREIGN KEY (domain, kind, entity_id) REFERENCES entities(domain, kind, id) ON DELETE CASCADE
);
`
