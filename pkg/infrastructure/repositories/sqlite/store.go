// Package sqlite provides a SQLite-backed implementation of the allocation store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/domain/repositories"
	"github.com/vsinha/affect/pkg/infrastructure/repositories/sqlite/migrations"
)

const (
	migrationTable = "schema_migrations"
	// fixedScale is the number of decimal digits kept by amount columns
	fixedScale = entities.MaxScale
	dateLayout = "2006-01-02"
)

// Store persists allocation state in SQLite. Transactions are serialized on
// a single connection.
type Store struct {
	db *sql.DB
}

// Verify interface compliance
var (
	_ repositories.Store = (*Store)(nil)
	_ repositories.Tx    = (*tx)(nil)
)

// Open opens or creates the database at path and applies the embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o750); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	dsn := cleanPath + "?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RunInTx runs fn in a SQL transaction, committing when fn returns nil
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// applyMigrations runs every embedded migration not yet recorded, each in its
// own transaction.
func applyMigrations(db *sql.DB, migrationFS fs.FS) error {
	if _, err := db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`, migrationTable)); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		var applied int
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE name = ?", migrationTable), file).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied > 0 {
			continue
		}
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		sqlTx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := sqlTx.Exec(upSection(string(content))); err != nil {
			_ = sqlTx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := sqlTx.Exec(fmt.Sprintf("INSERT INTO %s (name, applied_at) VALUES (?, ?)", migrationTable),
			file, time.Now().UTC().UnixMilli()); err != nil {
			_ = sqlTx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// upSection returns the SQL between the Up and Down markers
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	if i := strings.Index(content, up); i >= 0 {
		content = content[i+len(up):]
	}
	if i := strings.Index(content, down); i >= 0 {
		content = content[:i]
	}
	return content
}

type tx struct {
	tx *sql.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

func toFixed(d decimal.Decimal) int64 {
	return d.Shift(fixedScale).Round(0).IntPart()
}

func fromFixed(v int64) decimal.Decimal {
	return decimal.New(v, -fixedScale)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// where accumulates AND-ed conditions and their arguments
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

// ids restricts column to a set of ids; an empty set does not filter
func (w *where) ids(column string, ids []int64) {
	if len(ids) == 0 {
		return
	}
	marks := make([]string, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		w.args = append(w.args, id)
	}
	w.conds = append(w.conds, fmt.Sprintf("%s IN (%s)", column, strings.Join(marks, ", ")))
}

// refs restricts a (kind, id) column pair to a set of refs; an empty set does not filter
func (w *where) refs(kindColumn, idColumn string, refs []entities.Ref) {
	if len(refs) == 0 {
		return
	}
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = fmt.Sprintf("(%s = ? AND %s = ?)", kindColumn, idColumn)
		w.args = append(w.args, int(r.Kind), r.ID)
	}
	w.conds = append(w.conds, "("+strings.Join(parts, " OR ")+")")
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
