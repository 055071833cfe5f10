// Package telemetry persists signal events, anomalies, missed-signal
// events, trust overlay records, and session diagnostics to SQL through
// asynchronous batched writers. Rows are append-only and idempotent:
// duplicate inserts on the natural key are silent no-ops.
package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder style and DDL types per backend.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Store wraps one database handle plus its dialect. The backend is
// chosen at construction from the URI scheme; callers never branch on
// backend themselves.
type Store struct {
	db      *sql.DB
	dialect Dialect
	uri     string
}

// sqlitePathFromURI strips the sqlite:/// prefix, returning ok=false for
// non-sqlite URIs.
func sqlitePathFromURI(uri string) (string, bool) {
	const prefix = "sqlite:///"
	if strings.HasPrefix(uri, prefix) {
		return uri[len(prefix):], true
	}
	return "", false
}

// Open connects to the backend named by the URI scheme: sqlite:/// for
// embedded sqlite, postgres:// or postgresql:// for Postgres. Anything
// else is ErrUnsupportedScheme.
func Open(uri string, connectTimeout time.Duration) (*Store, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, ErrEmptyURI
	}
	if path, ok := sqlitePathFromURI(uri); ok {
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("telemetry: create sqlite dir: %w", err)
			}
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, err
		}
		if _, err := db.Exec("PRAGMA busy_timeout = " + fmt.Sprint(connectTimeout.Milliseconds()) + ";"); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Store{db: db, dialect: DialectSQLite, uri: uri}, nil
	}
	if strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://") {
		db, err := sql.Open("postgres", uri)
		if err != nil {
			return nil, err
		}
		db.SetConnMaxIdleTime(connectTimeout)
		return &Store{db: db, dialect: DialectPostgres, uri: uri}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, uri)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Rebind rewrites ?-style placeholders for the active dialect.
func (s *Store) Rebind(query string) string {
	if s.dialect == DialectSQLite {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Exec runs a ?-placeholder statement against the store.
func (s *Store) Exec(query string, args ...any) (sql.Result, error) {
	return s.db.Exec(s.Rebind(query), args...)
}

// Query runs a ?-placeholder query against the store.
func (s *Store) Query(query string, args ...any) (*sql.Rows, error) {
	return s.db.Query(s.Rebind(query), args...)
}

// QueryRow runs a ?-placeholder single-row query against the store.
func (s *Store) QueryRow(query string, args ...any) *sql.Row {
	return s.db.QueryRow(s.Rebind(query), args...)
}

// IsUniqueViolation reports whether an insert failed only because the
// row already exists. Matched by message to stay driver-agnostic.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

// TableExists reports whether the table is present.
func (s *Store) TableExists(table string) (bool, error) {
	var query string
	switch s.dialect {
	case DialectSQLite:
		query = `SELECT name FROM sqlite_master WHERE type='table' AND name = ?`
	default:
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_name = ?`
	}
	var name string
	err := s.QueryRow(query, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TableColumns lists the table's column names.
func (s *Store) TableColumns(table string) ([]string, error) {
	if s.dialect == DialectSQLite {
		rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var columns []string
		for rows.Next() {
			var (
				cid        int
				name       string
				columnType string
				notNull    int
				dflt       sql.NullString
				pk         int
			)
			if err := rows.Scan(&cid, &name, &columnType, &notNull, &dflt, &pk); err != nil {
				return nil, err
			}
			columns = append(columns, name)
		}
		return columns, rows.Err()
	}
	rows, err := s.Query(`SELECT column_name FROM information_schema.columns WHERE table_schema = 'public' AND table_name = ?`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}
