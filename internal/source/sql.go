// Copyright 2025 James Ross
package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/regulens/ingestion-engine/internal/ingesterr"
	"github.com/regulens/ingestion-engine/internal/model"
)

// SQLAdapter pulls rows from a relational source via database/sql, using
// a watermark column for incremental fetches. The driver (postgres or
// sqlite3) is selected by cfg.StorageTable.Backend, the same field that
// picks the destination storage backend, so a source's origin database
// uses the same driver kind as its storage table.
type SQLAdapter struct {
	db     *sql.DB
	driver string
}

// NewSQLAdapter opens a connection pool to dsn using the driver named by
// backend ("postgres" or "sqlite").
func NewSQLAdapter(backend, dsn string) (*SQLAdapter, error) {
	driver, err := driverName(backend)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("source sql: open %s: %w", backend, err)
	}
	return &SQLAdapter{db: db, driver: driver}, nil
}

func driverName(backend string) (string, error) {
	switch backend {
	case "postgres":
		return "postgres", nil
	case "sqlite":
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("source sql: unsupported backend %q", backend)
	}
}

// Fetch runs cfg.Extract.Query, binding the current watermark, and
// returns the rows as RawRecords plus the new high-watermark value drawn
// from cfg.Extract.Watermark's column.
func (a *SQLAdapter) Fetch(ctx context.Context, cfg model.SourceConfig, watermark string) ([]model.RawRecord, string, error) {
	query := cfg.Extract.Query
	if query == "" {
		return nil, watermark, &ingesterr.PermanentTransport{Op: "sql_fetch", Err: fmt.Errorf("extract.query must be set")}
	}

	rows, err := a.db.QueryContext(ctx, query, watermark)
	if err != nil {
		return nil, watermark, classifySQLErr(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, watermark, &ingesterr.ParseError{Op: "sql_columns", Err: err}
	}

	var out []model.RawRecord
	newWatermark := watermark
	now := time.Now()
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, watermark, &ingesterr.ParseError{Op: "sql_scan", Err: err}
		}
		content := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			content[col] = normalizeSQLValue(values[i])
		}
		out = append(out, model.RawRecord{SourceID: cfg.SourceID, Content: content, FetchedAt: now})

		if cfg.Extract.Watermark != "" {
			if v, ok := content[cfg.Extract.Watermark]; ok {
				newWatermark = fmt.Sprintf("%v", v)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, watermark, classifySQLErr(err)
	}

	return out, newWatermark, nil
}

// Close shuts down the underlying connection pool.
func (a *SQLAdapter) Close() error {
	return a.db.Close()
}

func normalizeSQLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return val
	}
}

func classifySQLErr(err error) error {
	if err == sql.ErrConnDone || err == sql.ErrTxDone {
		return &ingesterr.TransientTransport{Op: "sql_fetch", Err: err}
	}
	return &ingesterr.TransientTransport{Op: "sql_fetch", Err: err}
}
