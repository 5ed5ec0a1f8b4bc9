package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS deploy_paths (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	path TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assets (
	uuid TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	location TEXT,
	repository TEXT NOT NULL,
	deploy_path_id INTEGER REFERENCES deploy_paths(id) ON DELETE SET NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assets_skeleton ON assets(created_at) WHERE location IS NULL;

CREATE TABLE IF NOT EXISTS asset_groups (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id INTEGER NOT NULL REFERENCES asset_groups(id) ON DELETE CASCADE,
	asset_uuid TEXT NOT NULL REFERENCES assets(uuid),
	PRIMARY KEY (group_id, asset_uuid)
);

CREATE TABLE IF NOT EXISTS remote_servers (
	name TEXT PRIMARY KEY,
	bucket_url TEXT NOT NULL,
	bucket_name TEXT NOT NULL,
	access_key TEXT NOT NULL,
	secret_key TEXT NOT NULL,
	region TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS secret_tokens (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	token_hash TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL
);
`

// InitDB opens the SQLite database at path and creates the metadata tables if
// they don't exist. Foreign keys are enforced on every connection.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error

	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
