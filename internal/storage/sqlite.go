// Copyright 2025 James Ross
package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type sqliteBackend struct {
	db *sql.DB
}

func newSQLiteBackend(dsn string) (Backend, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers at the connection-pool level; a second
	// writer blocks on SQLITE_BUSY rather than getting a stale handle.
	db.SetMaxOpenConns(1)
	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Name() string  { return "sqlite" }
func (b *sqliteBackend) DB() *sql.DB   { return b.db }
func (b *sqliteBackend) Close() error  { return b.db.Close() }

func (b *sqliteBackend) Placeholder(n int) string { return "?" }

func (b *sqliteBackend) QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (b *sqliteBackend) UpsertClause(conflictColumns, allColumns []string) string {
	if len(conflictColumns) == 0 {
		return ""
	}
	sets := make([]string, 0, len(allColumns))
	for _, c := range allColumns {
		if contains(conflictColumns, c) {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", b.QuoteIdent(c), b.QuoteIdent(c)))
	}
	quoted := make([]string, len(conflictColumns))
	for i, c := range conflictColumns {
		quoted[i] = b.QuoteIdent(c)
	}
	if len(sets) == 0 {
		return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", strings.Join(quoted, ", "))
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(quoted, ", "), strings.Join(sets, ", "))
}

func (b *sqliteBackend) ColumnType(logical string) string {
	switch logical {
	case "uuid", "text", "jsonb":
		return "TEXT"
	case "timestamp":
		return "DATETIME"
	case "float":
		return "REAL"
	case "int":
		return "INTEGER"
	default:
		return "TEXT"
	}
}
