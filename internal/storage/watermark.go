// Copyright 2025 James Ross
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const watermarkTable = "ingestion_watermarks"

// ensureWatermarkTable creates the side table backing LoadWatermark/
// SaveWatermark, shared by every source on a given backend.
func ensureWatermarkTable(ctx context.Context, b Backend) error {
	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s %s NOT NULL, %s %s NOT NULL, %s %s NOT NULL%s)",
		b.QuoteIdent(watermarkTable),
		b.QuoteIdent("source_id"), b.ColumnType("text"),
		b.QuoteIdent("watermark"), b.ColumnType("text"),
		b.QuoteIdent("updated_at"), b.ColumnType("timestamp"),
		primaryKeyClause(b, "source_id"),
	)
	_, err := b.DB().ExecContext(ctx, stmt)
	return err
}

func primaryKeyClause(b Backend, col string) string {
	if b.Name() == "clickhouse" {
		return ""
	}
	return fmt.Sprintf(", PRIMARY KEY (%s)", b.QuoteIdent(col))
}

// LoadWatermark returns the last-persisted watermark value for sourceID,
// or "" if none has been recorded yet.
func LoadWatermark(ctx context.Context, b Backend, sourceID string) (string, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		b.QuoteIdent("watermark"), b.QuoteIdent(watermarkTable), b.QuoteIdent("source_id"), b.Placeholder(1))
	var wm string
	err := b.DB().QueryRowContext(ctx, query, sourceID).Scan(&wm)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return wm, nil
}

// SaveWatermark upserts sourceID's watermark inside an existing
// transaction, so it commits atomically with the batch it came from.
func SaveWatermark(ctx context.Context, tx *sql.Tx, b Backend, sourceID, watermark string, log *zap.Logger) error {
	upsert := b.UpsertClause([]string{"source_id"}, []string{"source_id", "watermark", "updated_at"})
	stmt := fmt.Sprintf("INSERT INTO %s (%s, %s, %s) VALUES (%s, %s, %s) %s",
		b.QuoteIdent(watermarkTable),
		b.QuoteIdent("source_id"), b.QuoteIdent("watermark"), b.QuoteIdent("updated_at"),
		b.Placeholder(1), b.Placeholder(2), b.Placeholder(3),
		upsert)
	if upsert == "" {
		// ClickHouse: ReplacingMergeTree reconciles duplicates at merge
		// time, so a plain insert is sufficient.
		stmt = fmt.Sprintf("INSERT INTO %s (%s, %s, %s) VALUES (%s, %s, %s)",
			b.QuoteIdent(watermarkTable),
			b.QuoteIdent("source_id"), b.QuoteIdent("watermark"), b.QuoteIdent("updated_at"),
			b.Placeholder(1), b.Placeholder(2), b.Placeholder(3))
	}
	_, err := tx.ExecContext(ctx, stmt, sourceID, watermark, time.Now())
	if err != nil && log != nil {
		log.Warn("watermark upsert failed", zap.String("source_id", sourceID), zap.Error(err))
	}
	return err
}
