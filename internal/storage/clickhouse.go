// Copyright 2025 James Ross
package storage

import (
	"database/sql"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// clickhouseBackend backs the bulk_load write strategy: ClickHouse's
// MergeTree family has no row-level conflict resolution, so duplicate
// reconciliation is left to a ReplacingMergeTree engine and periodic
// background merges rather than an UPSERT clause. Batched inserts still
// go through *sql.Tx, which the clickhouse-go driver maps onto its native
// batch-insert protocol instead of a true multi-statement transaction.
type clickhouseBackend struct {
	db *sql.DB
}

func newClickHouseBackend(dsn string) (Backend, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	db := clickhouse.OpenDB(opts)
	return &clickhouseBackend{db: db}, nil
}

func (b *clickhouseBackend) Name() string { return "clickhouse" }
func (b *clickhouseBackend) DB() *sql.DB  { return b.db }
func (b *clickhouseBackend) Close() error { return b.db.Close() }

func (b *clickhouseBackend) Placeholder(n int) string { return "?" }

func (b *clickhouseBackend) QuoteIdent(ident string) string {
	return "`" + ident + "`"
}

// UpsertClause is empty: conflict resolution happens at the engine level
// (ReplacingMergeTree keyed on conflictColumns), not per-statement.
func (b *clickhouseBackend) UpsertClause(conflictColumns, allColumns []string) string {
	return ""
}

func (b *clickhouseBackend) ColumnType(logical string) string {
	switch logical {
	case "uuid":
		return "UUID"
	case "timestamp":
		return "DateTime64(3)"
	case "jsonb":
		return "String"
	case "text":
		return "String"
	case "float":
		return "Float64"
	case "int":
		return "Int64"
	default:
		return "String"
	}
}
