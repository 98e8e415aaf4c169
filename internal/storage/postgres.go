// Copyright 2025 James Ross
package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

type postgresBackend struct {
	db *sql.DB
}

func newPostgresBackend(dsn string) (Backend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresBackend{db: db}, nil
}

func (b *postgresBackend) Name() string  { return "postgres" }
func (b *postgresBackend) DB() *sql.DB   { return b.db }
func (b *postgresBackend) Close() error  { return b.db.Close() }

func (b *postgresBackend) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (b *postgresBackend) QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (b *postgresBackend) UpsertClause(conflictColumns, allColumns []string) string {
	if len(conflictColumns) == 0 {
		return ""
	}
	sets := make([]string, 0, len(allColumns))
	for _, c := range allColumns {
		if contains(conflictColumns, c) {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", b.QuoteIdent(c), b.QuoteIdent(c)))
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

func (b *postgresBackend) ColumnType(logical string) string {
	switch logical {
	case "uuid":
		return "UUID"
	case "timestamp":
		return "TIMESTAMPTZ"
	case "jsonb":
		return "JSONB"
	case "text":
		return "TEXT"
	case "float":
		return "DOUBLE PRECISION"
	case "int":
		return "BIGINT"
	default:
		return "TEXT"
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
