// Package sqlite provides a SQLite-backed implementation of the storage.Backend interface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mmynk/tally/internal/models"
	"github.com/mmynk/tally/internal/storage"
)

// Ensure SQLiteStore implements storage.Backend
var _ storage.Backend = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Backend using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
// Structural incompatibilities are reported as *storage.SchemaMismatchError.
func New(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps the pragmas below in effect for every statement.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, classify("enable WAL", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, classify("set busy timeout", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// Opener adapts New to storage.Opener.
func Opener(ctx context.Context, path string) (storage.Backend, error) {
	return New(ctx, path)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Durable is always true for the file-backed store.
func (s *SQLiteStore) Durable() bool { return true }

// Load reads every table into a snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (*storage.Snapshot, error) {
	snap := &storage.Snapshot{}
	var err error
	if snap.People, err = loadTable[models.Person](ctx, s.db, "people"); err != nil {
		return nil, err
	}
	if snap.Groups, err = loadTable[models.Group](ctx, s.db, "groups"); err != nil {
		return nil, err
	}
	if snap.Expenses, err = loadTable[models.GroupExpense](ctx, s.db, "group_expenses"); err != nil {
		return nil, err
	}
	if snap.Subscriptions, err = loadTable[models.Subscription](ctx, s.db, "subscriptions"); err != nil {
		return nil, err
	}
	if snap.Shared, err = loadTable[models.SharedSubscription](ctx, s.db, "shared_subscriptions"); err != nil {
		return nil, err
	}
	if snap.Transactions, err = loadTable[models.Transaction](ctx, s.db, "transactions"); err != nil {
		return nil, err
	}
	if snap.PriceChanges, err = loadTable[models.PriceChange](ctx, s.db, "price_changes"); err != nil {
		return nil, err
	}
	return snap, nil
}

// Save rewrites every table inside one SQL transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap *storage.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveTable(ctx, tx, "people", snap.People); err != nil {
		return err
	}
	if err := saveTable(ctx, tx, "groups", snap.Groups); err != nil {
		return err
	}
	if err := saveTable(ctx, tx, "group_expenses", snap.Expenses); err != nil {
		return err
	}
	if err := saveTable(ctx, tx, "subscriptions", snap.Subscriptions); err != nil {
		return err
	}
	if err := saveTable(ctx, tx, "shared_subscriptions", snap.Shared); err != nil {
		return err
	}
	if err := saveTable(ctx, tx, "transactions", snap.Transactions); err != nil {
		return err
	}
	if err := saveTable(ctx, tx, "price_changes", snap.PriceChanges); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func loadTable[T any](ctx context.Context, db *sql.DB, table string) ([]T, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT id, body FROM %s ORDER BY id", table))
	if err != nil {
		return nil, classify("query "+table, err)
	}
	defer rows.Close()

	var items []T
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, classify("scan "+table, err)
		}
		var item T
		if err := json.Unmarshal([]byte(body), &item); err != nil {
			return nil, &storage.SchemaMismatchError{
				Want:   storage.SchemaVersion,
				Reason: fmt.Sprintf("undecodable row %s in %s", id, table),
				Err:    err,
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate "+table, err)
	}
	return items, nil
}

func saveTable[T models.Entity](ctx context.Context, tx *sql.Tx, table string, items []T) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (id, body) VALUES (?, ?)", table))
	if err != nil {
		return fmt.Errorf("failed to prepare insert into %s: %w", table, err)
	}
	defer stmt.Close()

	for _, item := range items {
		body, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s: %w", table, item.EntityID(), err)
		}
		if _, err := stmt.ExecContext(ctx, item.EntityID(), string(body)); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}
	return nil
}

// classify maps driver errors that indicate an incompatible or non-SQLite
// file to SchemaMismatchError. Every other error is returned wrapped as is.
func classify(op string, err error) error {
	var sqlErr *msqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_SCHEMA:
			return &storage.SchemaMismatchError{Want: storage.SchemaVersion, Reason: op + ": " + sqlErr.Error(), Err: err}
		}
	}
	msg := err.Error()
	if strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column") {
		return &storage.SchemaMismatchError{Want: storage.SchemaVersion, Reason: op + ": " + msg, Err: err}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
