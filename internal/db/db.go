// Package db opens the agent's sqlite database and applies the embedded
// schema migrations.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

func init() {
	sqlx.BindDriver(DriverName, sqlx.QUESTION)
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// connPragmas run on every new connection. busy_timeout goes first so the
// others wait on a locked file instead of failing.
var connPragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"foreign_keys(1)",
}

type DB struct {
	x      *sqlx.DB
	logger *slog.Logger
}

func New(dbPath string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	x, err := sqlx.Connect(DriverName, dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer.
	x.SetMaxOpenConns(1)
	x.SetMaxIdleConns(1)

	d := &DB{x: x, logger: logger}

	ctx := context.Background()
	if err := d.migrate(ctx); err != nil {
		x.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	n, err := d.markInterruptedRuns(ctx)
	switch {
	case err != nil:
		logger.Warn("failed to mark interrupted runs", "error", err)
	case n > 0:
		logger.Info("marked interrupted runs as failed", "count", n)
	}

	return d, nil
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}

func (d *DB) Close() error {
	return d.x.Close()
}

// Conn returns the underlying database/sql handle.
func (d *DB) Conn() *sql.DB {
	return d.x.DB
}

// X returns the handle used for struct scanning.
func (d *DB) X() *sqlx.DB {
	return d.x
}

// migrate applies each embedded migration not yet listed in _migrations, in
// file name order, one transaction per file.
func (d *DB) migrate(ctx context.Context) error {
	if _, err := d.x.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
		name TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var done []string
	if err := d.x.SelectContext(ctx, &done, "SELECT name FROM _migrations"); err != nil {
		return fmt.Errorf("failed to list applied migrations: %w", err)
	}
	applied := make(map[string]bool, len(done))
	for _, name := range done {
		applied[name] = true
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	sort.Strings(names)

	for _, file := range names {
		name := filepath.Base(file)
		if applied[name] {
			continue
		}
		if err := d.apply(ctx, file, name); err != nil {
			return err
		}
		d.logger.Info("applied migration", "name", name)
	}
	return nil
}

func (d *DB) apply(ctx context.Context, file, name string) error {
	content, err := migrationsFS.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read migration %s: %w", name, err)
	}

	tx, err := d.x.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", name, err)
	}
	return tx.Commit()
}

// markInterruptedRuns fails runs left running by a previous process. Their
// poll loops died with it and nothing will ever finish them.
func (d *DB) markInterruptedRuns(ctx context.Context) (int64, error) {
	res, err := d.x.ExecContext(ctx,
		`UPDATE runs SET status = 'failed', error = 'interrupted by restart', updated_at = ? WHERE status = 'running'`,
		time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z"))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
