package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteFileName is the database file created inside BackendConfig.Dir.
const SQLiteFileName = "savekeep.db"

// SQLiteBackend implements Backend on a single SQLite file.
type SQLiteBackend struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteBackend opens (or creates) <Dir>/savekeep.db.
func NewSQLiteBackend(cfg BackendConfig, logger *slog.Logger) (*SQLiteBackend, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("sqlite: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create dir: %w", err)
	}
	path := filepath.Join(cfg.Dir, SQLiteFileName)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS tables (name TEXT PRIMARY KEY);`,
		`CREATE TABLE IF NOT EXISTS kv (
			tbl   TEXT NOT NULL,
			key   TEXT NOT NULL,
			value BLOB NOT NULL,
			PRIMARY KEY (tbl, key)
		);`,
		`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value BLOB NOT NULL);`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: init schema: %w", err)
		}
	}

	logger.Info("sqlite backend started", "path", path)
	return &SQLiteBackend{db: db, path: path, logger: logger}, nil
}

// Name implements Backend.
func (s *SQLiteBackend) Name() string { return EngineSQLite }

// View implements Backend. The transaction is always rolled back.
func (s *SQLiteBackend) View(ctx context.Context, fn func(Reader) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&sqliteTxn{ctx: ctx, tx: tx})
}

// Update implements Backend.
func (s *SQLiteBackend) Update(ctx context.Context, fn func(ReadWriter) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(&sqliteTxn{ctx: ctx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// GC checkpoints the WAL and vacuums the file.
func (s *SQLiteBackend) GC(ctx context.Context) (uint64, error) {
	before := s.fileSize()
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return 0, fmt.Errorf("sqlite: checkpoint: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		return 0, fmt.Errorf("sqlite: vacuum: %w", err)
	}
	after := s.fileSize()
	if after >= before {
		return 0, nil
	}
	s.logger.Info("gc completed", "bytes_reclaimed", before-after)
	return before - after, nil
}

func (s *SQLiteBackend) fileSize() uint64 {
	var total uint64
	for _, suffix := range []string{"", "-wal"} {
		if fi, err := os.Stat(s.path + suffix); err == nil {
			total += uint64(fi.Size())
		}
	}
	return total
}

// Stats implements Backend.
func (s *SQLiteBackend) Stats(ctx context.Context) (*Stats, error) {
	return &Stats{Engine: EngineSQLite, TotalSize: s.fileSize()}, nil
}

// Close implements Backend.
func (s *SQLiteBackend) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}
	s.logger.Info("sqlite backend closed", "path", s.path)
	return nil
}

type sqliteTxn struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqliteTxn) Get(table, key string) ([]byte, error) {
	var v []byte
	err := t.tx.QueryRowContext(t.ctx, `SELECT value FROM kv WHERE tbl = ? AND key = ?`, table, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	return v, err
}

func (t *sqliteTxn) Meta(key string) ([]byte, error) {
	var v []byte
	err := t.tx.QueryRowContext(t.ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	return v, err
}

func (t *sqliteTxn) Scan(table string, fn func(key string, value []byte) bool) error {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT key, value FROM kv WHERE tbl = ? ORDER BY key`, table)
	if err != nil {
		return err
	}
	type row struct {
		key   string
		value []byte
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.value); err != nil {
			rows.Close()
			return err
		}
		all = append(all, r)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, r := range all {
		if !fn(r.key, r.value) {
			break
		}
	}
	return nil
}

func (t *sqliteTxn) Tables() ([]string, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT name FROM tables ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (t *sqliteTxn) CreateTable(table string) error {
	if err := validTableName(table); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `INSERT OR IGNORE INTO tables(name) VALUES (?)`, table)
	return err
}

func (t *sqliteTxn) DropTable(table string) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM kv WHERE tbl = ?`, table); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM tables WHERE name = ?`, table)
	return err
}

func (t *sqliteTxn) Set(table, key string, value []byte) error {
	if err := t.CreateTable(table); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO kv(tbl, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(tbl, key) DO UPDATE SET value = excluded.value`, table, key, value)
	return err
}

func (t *sqliteTxn) Delete(table, key string) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM kv WHERE tbl = ? AND key = ?`, table, key)
	return err
}

func (t *sqliteTxn) SetMeta(key string, value []byte) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO meta(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
