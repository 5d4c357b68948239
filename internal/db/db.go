package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	workspaceDir  = ".parcelflow"
	defaultDBName = "parcelflow.db"
)

// Dialect names the SQL flavour behind a connection.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

type Config struct {
	Workspace string
	// DSN selects Postgres when it starts with postgres:// or postgresql://.
	// Empty means the workspace SQLite file.
	DSN string
}

// DB is a *sql.DB that knows its dialect so queries written with ? placeholders
// can run on both backends.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens Postgres when cfg.DSN points at it, otherwise the workspace SQLite
// database with foreign keys and WAL on.
func Open(cfg Config) (*DB, error) {
	if isPostgresDSN(cfg.DSN) {
		conn, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &DB{DB: conn, Dialect: Postgres}, nil
	}
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	path := cfg.DSN
	if path == "" {
		path = dbPath(cfg.Workspace)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// single writer; every statement inside a transaction must go through the tx
	conn.SetMaxOpenConns(1)
	return &DB{DB: conn, Dialect: SQLite}, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Rebind rewrites ? placeholders to $n for Postgres. Quoted literals are left alone.
func (d *DB) Rebind(query string) string {
	if d == nil || d.Dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteByte(ch)
		case ch == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// On returns tx when non-nil, otherwise the pool.
func (d *DB) On(tx *sql.Tx) Querier {
	if tx != nil {
		return tx
	}
	return d.DB
}
