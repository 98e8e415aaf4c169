// Copyright 2025 James Ross
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/regulens/ingestion-engine/internal/ingesterr"
	"github.com/regulens/ingestion-engine/internal/model"
)

// recordColumns is the fixed column set every ingestion table carries,
// mirroring model.DataRecord's persisted fields. Content is stored as a
// JSON-typed column (JSONB/TEXT/String depending on backend) since the
// schema of ingested documents varies per source.
var recordColumns = []string{
	"record_id", "source_id", "ingested_at", "last_updated",
	"content", "content_hash", "quality", "quality_score",
}

// EnsureSchema creates cfg's table if absent and adds any indexes declared
// on it that don't already exist. It never drops or narrows a column: a
// schema mismatch surfaces as ingesterr.ErrSchemaMismatch rather than a
// silent destructive migration.
func EnsureSchema(ctx context.Context, b Backend, cfg model.StorageTableConfig) error {
	return withTx(ctx, b.DB(), func(tx *sql.Tx) error {
		if err := createTableIfAbsent(ctx, tx, b, cfg); err != nil {
			return err
		}
		for _, idx := range cfg.Indexes {
			if err := createIndexIfAbsent(ctx, tx, b, cfg.TableName, idx); err != nil {
				return err
			}
		}
		return nil
	})
}

func createTableIfAbsent(ctx context.Context, tx *sql.Tx, b Backend, cfg model.StorageTableConfig) error {
	cols := []string{
		fmt.Sprintf("%s %s NOT NULL", b.QuoteIdent("record_id"), b.ColumnType("uuid")),
		fmt.Sprintf("%s %s NOT NULL", b.QuoteIdent("source_id"), b.ColumnType("text")),
		fmt.Sprintf("%s %s NOT NULL", b.QuoteIdent("ingested_at"), b.ColumnType("timestamp")),
		fmt.Sprintf("%s %s NOT NULL", b.QuoteIdent("last_updated"), b.ColumnType("timestamp")),
		fmt.Sprintf("%s %s", b.QuoteIdent("content"), b.ColumnType("jsonb")),
		fmt.Sprintf("%s %s NOT NULL", b.QuoteIdent("content_hash"), b.ColumnType("text")),
		fmt.Sprintf("%s %s NOT NULL", b.QuoteIdent("quality"), b.ColumnType("text")),
		fmt.Sprintf("%s %s", b.QuoteIdent("quality_score"), b.ColumnType("float")),
	}
	if cfg.PartitionStrategy == model.PartitionTime && cfg.PartitionColumn != "" {
		cols = append(cols, fmt.Sprintf("%s %s", b.QuoteIdent(cfg.PartitionColumn), b.ColumnType("text")))
	}
	pk := ""
	if len(cfg.PrimaryKeyColumns) > 0 && b.Name() != "clickhouse" {
		quoted := make([]string, len(cfg.PrimaryKeyColumns))
		for i, c := range cfg.PrimaryKeyColumns {
			quoted[i] = b.QuoteIdent(c)
		}
		pk = fmt.Sprintf(", PRIMARY KEY (%s)", strings.Join(quoted, ", "))
	}
	engine := ""
	if b.Name() == "clickhouse" {
		order := "record_id"
		if len(cfg.ConflictColumns) > 0 {
			order = strings.Join(cfg.ConflictColumns, ", ")
		}
		engine = fmt.Sprintf(" ENGINE = ReplacingMergeTree() ORDER BY (%s)", order)
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s%s)%s",
		b.QuoteIdent(cfg.TableName), strings.Join(cols, ", "), pk, engine)
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return &ingesterr.PipelineInternalError{Stage: "storage_schema", Err: err}
	}
	return nil
}

func createIndexIfAbsent(ctx context.Context, tx *sql.Tx, b Backend, table string, idx model.IndexSpec) error {
	if b.Name() == "clickhouse" {
		// MergeTree indexing is engine-managed; skip explicit index DDL.
		return nil
	}
	quoted := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		quoted[i] = b.QuoteIdent(c)
	}
	where := ""
	if idx.Kind == model.IndexPartial && idx.Predicate != "" {
		where = " WHERE " + idx.Predicate
	}
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)%s",
		b.QuoteIdent("idx_"+table+"_"+idx.Name), b.QuoteIdent(table), strings.Join(quoted, ", "), where)
	_, err := tx.ExecContext(ctx, stmt)
	return err
}

// ListTables returns the user tables known to the backend.
func ListTables(ctx context.Context, b Backend) ([]string, error) {
	var query string
	switch b.Name() {
	case "postgres":
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'"
	case "sqlite":
		query = "SELECT name FROM sqlite_master WHERE type = 'table'"
	case "clickhouse":
		query = "SELECT name FROM system.tables WHERE database = currentDatabase()"
	default:
		return nil, fmt.Errorf("storage: ListTables unsupported for backend %q", b.Name())
	}
	rows, err := b.DB().QueryContext(ctx, query)
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
