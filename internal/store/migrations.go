package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS plugin_data (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS sync_runs (
	id               TEXT PRIMARY KEY,
	forwarding_alias TEXT NOT NULL,
	origin_email     TEXT NOT NULL,
	root_directory   TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'running'
		CHECK(status IN ('running', 'completed', 'failed')),
	started_at       DATETIME NOT NULL,
	finished_at      DATETIME,
	files_written    INTEGER NOT NULL DEFAULT 0,
	files_skipped    INTEGER NOT NULL DEFAULT 0,
	files_failed     INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS synced_files (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES sync_runs(id) ON DELETE CASCADE,
	email_id   TEXT NOT NULL,
	path       TEXT NOT NULL,
	outcome    TEXT NOT NULL CHECK(outcome IN ('written', 'skipped', 'failed')),
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_sync_runs_alias ON sync_runs(forwarding_alias);
CREATE INDEX IF NOT EXISTS idx_synced_files_run_id ON synced_files(run_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
