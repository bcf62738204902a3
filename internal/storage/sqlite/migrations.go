package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/mmynk/tally/internal/storage"
)

// tables maps each entity table to its creation order. Every table stores one
// JSON document per entity keyed by ID.
var tables = []string{
	"people",
	"groups",
	"group_expenses",
	"subscriptions",
	"shared_subscriptions",
	"transactions",
	"price_changes",
}

// schema contains the SQL statements to set up a fresh database.
const metaSchema = `
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const tableSchema = `
CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    body TEXT NOT NULL
);
`

// runMigrations prepares the schema. A database without a meta table and
// without user tables is initialized; anything else must carry exactly
// storage.SchemaVersion or a SchemaMismatchError is returned.
func runMigrations(ctx context.Context, db *sql.DB) error {
	version, err := readSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	switch {
	case version == storage.SchemaVersion:
		return checkTables(ctx, db)
	case version != 0:
		return &storage.SchemaMismatchError{Found: version, Want: storage.SchemaVersion}
	}

	empty, err := isEmpty(ctx, db)
	if err != nil {
		return err
	}
	if !empty {
		return &storage.SchemaMismatchError{Want: storage.SchemaVersion, Reason: "database has no schema version"}
	}
	return initSchema(ctx, db)
}

func readSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'meta'",
	).Scan(&exists)
	if err != nil {
		return 0, classify("read schema", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var raw string
	err = db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'schema_version'").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &storage.SchemaMismatchError{Want: storage.SchemaVersion, Reason: "meta table has no schema_version"}
	}
	if err != nil {
		return 0, classify("read schema version", err)
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &storage.SchemaMismatchError{Want: storage.SchemaVersion, Reason: fmt.Sprintf("invalid schema_version %q", raw), Err: err}
	}
	return version, nil
}

func isEmpty(ctx context.Context, db *sql.DB) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'",
	).Scan(&n)
	if err != nil {
		return false, classify("inspect schema", err)
	}
	return n == 0, nil
}

func checkTables(ctx context.Context, db *sql.DB) error {
	for _, table := range tables {
		var n int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&n)
		if err != nil {
			return classify("inspect schema", err)
		}
		if n == 0 {
			return &storage.SchemaMismatchError{Found: storage.SchemaVersion, Want: storage.SchemaVersion, Reason: "missing table " + table}
		}
	}
	return nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin migration", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, metaSchema); err != nil {
		return classify("create meta table", err)
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(tableSchema, table)); err != nil {
			return classify("create table "+table, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES ('schema_version', ?)", strconv.Itoa(storage.SchemaVersion),
	); err != nil {
		return classify("write schema version", err)
	}
	if err := tx.Commit(); err != nil {
		return classify("commit migration", err)
	}
	return nil
}
