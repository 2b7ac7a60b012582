package sqlite

import "database/sql"

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
    id         TEXT PRIMARY KEY,
    filename   TEXT NOT NULL,
    media_type TEXT NOT NULL,
    data       BLOB NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at);
`

func runMigrations(db *sql.DB) error {
	var current int
	row := db.QueryRow("SELECT version FROM schema_version LIMIT 1")
	if err := row.Scan(&current); err != nil {
		// Fresh database
		current = 0
	}

	if current >= schemaVersion {
		return nil
	}

	if current < 1 {
		if _, err := db.Exec(schemaV1); err != nil {
			return err
		}
	}

	_, err := db.Exec(`
		DELETE FROM schema_version;
		INSERT INTO schema_version (version) VALUES (?);
	`, schemaVersion)
	return err
}
