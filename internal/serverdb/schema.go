package serverdb

// step is one forward-only schema change. Steps are numbered from 1 and the
// database records the last applied number in PRAGMA user_version.
type step struct {
	name string
	sql  string
}

var steps = []step{
	{
		name: "documents",
		sql: `CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			payload    TEXT NOT NULL,
			version    INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at);`,
	},
	{
		name: "document_writes audit log",
		sql: `CREATE TABLE IF NOT EXISTS document_writes (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id TEXT NOT NULL,
			version     INTEGER NOT NULL,
			request_id  TEXT NOT NULL DEFAULT '',
			written_at  DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_document_writes_doc ON document_writes(document_id, version);`,
	},
}

// ServerSchemaVersion is the schema version a fully migrated database reports.
var ServerSchemaVersion = len(steps)
