package sqlite

// Schema is the entity store DDL. One database may hold several domains;
// every row is scoped by domain. The *_lc columns hold types.NormalizeText
// of their source column; SQLite's lower() only folds ASCII, so lookups
// compare against these instead.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
	domain       TEXT NOT NULL,
	kind         TEXT NOT NULL CHECK (kind IN ('team', 'player')),
	id           TEXT NOT NULL,
	display_name TEXT NOT NULL,
	city         TEXT NOT NULL DEFAULT '',
	abbreviation TEXT NOT NULL DEFAULT '',
	team_id      TEXT NOT NULL DEFAULT '',
	display_name_lc TEXT NOT NULL DEFAULT '',
	city_lc         TEXT NOT NULL DEFAULT '',
	abbreviation_lc TEXT NOT NULL DEFAULT '',
	attributes   TEXT,
	active       INTEGER NOT NULL DEFAULT 1,
	updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (domain, kind, id)
);

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
	stats     TEXT NOT NULL,
	PRIMARY KEY (domain, kind, entity_id, season),
	FOREIGN KEY (domain, kind, entity_id) REFERENCES entities(domain, kind, id) ON DELETE CASCADE
);
`

// normalizedColumns are the lookup columns added after the first release.
// Stores created before them are upgraded in place by upgradeEntities.
var normalizedColumns = []struct{ name, source string }{
	{"display_name_lc", "display_name"},
	{"city_lc", "city"},
	{"abbreviation_lc", "abbreviation"},
}

// lookupIndexes are created once the normalized columns are known to exist.
const lookupIndexes = `
CREATE INDEX IF NOT EXISTS idx_entities_display_name_lc ON entities(domain, display_name_lc);
CREATE INDEX IF NOT EXISTS idx_entities_abbreviation_lc ON entities(domain, abbreviation_lc);
CREATE INDEX IF NOT EXISTS idx_entities_city_lc ON entities(domain, city_lc);
`

// SchemaCacheSchema is the DDL for the durable tool schema cache.
const SchemaCacheSchema = `
CREATE TABLE IF NOT EXISTS tool_schemas (
	domain     TEXT NOT NULL PRIMARY KEY,
	schemas    TEXT NOT NULL,
	fetched_at TIMESTAMP NOT NULL
);
`
