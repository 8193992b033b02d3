// Package db implements a local workbook backend on SQLite. Each logical
// table is a row in workbook_tables holding its header; data rows live in
// workbook_rows ordered by insertion id, mirroring a worksheet's row order.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/soaringjerry/Coursepulse/internal/sheets"
)

// SQLiteStore is a sheets.Backend persisted in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ sheets.Backend = (*SQLiteStore)(nil)

// Open creates or opens the workbook at path and applies migrations.
func Open(ctx context.Context, path, migrationsDir string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", filepath.ToSlash(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time; SQLite serializes anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	store, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := RunMigrations(ctx, db, migrationsDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// NewSQLiteStore wraps an open database; migrations must already be applied.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeCells(row []string) (string, error) {
	if row == nil {
		row = []string{}
	}
	b, err := json.Marshal(row)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeCells(raw string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode cells: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func (s *SQLiteStore) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM workbook_tables ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) CreateTable(ctx context.Context, table string, header []string) error {
	cells, err := encodeCells(header)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workbook_tables(name, position, header)
		VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM workbook_tables), ?)
	`, table, cells)
	if err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func (s *SQLiteStore) Header(ctx context.Context, table string) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT header FROM workbook_tables WHERE name = ?`, table).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", sheets.ErrTableNotFound, table)
	}
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", table, err)
	}
	return decodeCells(raw)
}

func (s *SQLiteStore) SetHeader(ctx context.Context, table string, header []string) error {
	cells, err := encodeCells(header)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE workbook_tables SET header = ? WHERE name = ?`, cells, table)
	if err != nil {
		return fmt.Errorf("set header %s: %w", table, err)
	}
	return requireAffected(res, table)
}

func (s *SQLiteStore) Rows(ctx context.Context, table string) ([][]string, error) {
	if err := s.requireTable(ctx, table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT cells FROM workbook_rows WHERE table_name = ? ORDER BY id`, table)
	if err != nil {
		return nil, fmt.Errorf("read rows %s: %w", table, err)
	}
	defer rows.Close()
	out := [][]string{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		cells, err := decodeCells(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, cells)
	}
	return out, rows.Err()
}

// Append writes all rows in one transaction so a batch lands entirely or not
// at all.
func (s *SQLiteStore) Append(ctx context.Context, table string, rows [][]string) error {
	if err := s.requireTable(ctx, table); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append %s: begin tx: %w", table, err)
	}
	defer tx.Rollback() // no-op after commit
	for _, r := range rows {
		cells, err := encodeCells(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO workbook_rows(table_name, cells) VALUES (?, ?)`, table, cells); err != nil {
			return fmt.Errorf("append %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append %s: commit: %w", table, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRow(ctx context.Context, table string, index int, row []string) error {
	id, err := s.rowID(ctx, table, index)
	if err != nil {
		return err
	}
	cells, err := encodeCells(row)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE workbook_rows SET cells = ? WHERE id = ?`, cells, id); err != nil {
		return fmt.Errorf("update %s[%d]: %w", table, index, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteRow(ctx context.Context, table string, index int) error {
	id, err := s.rowID(ctx, table, index)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workbook_rows WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete %s[%d]: %w", table, index, err)
	}
	return nil
}

func (s *SQLiteStore) rowID(ctx context.Context, table string, index int) (int64, error) {
	if err := s.requireTable(ctx, table); err != nil {
		return 0, err
	}
	if index < 0 {
		return 0, fmt.Errorf("%w: %s[%d]", sheets.ErrRowOutOfRange, table, index)
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM workbook_rows WHERE table_name = ? ORDER BY id LIMIT 1 OFFSET ?
	`, table, index).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s[%d]", sheets.ErrRowOutOfRange, table, index)
	}
	if err != nil {
		return 0, fmt.Errorf("locate %s[%d]: %w", table, index, err)
	}
	return id, nil
}

func (s *SQLiteStore) requireTable(ctx context.Context, table string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM workbook_tables WHERE name = ?`, table).Scan(&n); err != nil {
		return fmt.Errorf("check table %s: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", sheets.ErrTableNotFound, table)
	}
	return nil
}

func requireAffected(res sql.Result, table string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", sheets.ErrTableNotFound, table)
	}
	return nil
}
