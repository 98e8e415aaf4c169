// Copyright 2025 James Ross
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/regulens/ingestion-engine/internal/config"
	"github.com/regulens/ingestion-engine/internal/ingesterr"
	"github.com/regulens/ingestion-engine/internal/model"
	"github.com/regulens/ingestion-engine/internal/obs"
)

// Adapter is the Storage Engine of spec §4.3: it dispatches each source's
// StorageTableConfig to the right Backend, lazily creates and migrates
// schema, and commits every batch atomically — batch metadata, records,
// and the advancing watermark all land in one transaction or none do.
// It satisfies coordinator.StorageAdapter and pipeline.AuthoritativeChecker.
type Adapter struct {
	registry *BackendRegistry
	dsns     map[string]string // backend name -> DSN, from config.StorageConfig
	log      *zap.Logger

	mu       sync.Mutex
	prepared map[string]bool // "backend|table" -> schema ensured
}

// NewAdapter builds the Storage Engine from the resolved configuration's
// backend DSNs.
func NewAdapter(cfg *config.Config, log *zap.Logger) *Adapter {
	return &Adapter{
		registry: NewBackendRegistry(),
		dsns:     cfg.Storage.DSNs,
		log:      log,
		prepared: make(map[string]bool),
	}
}

// Close releases every backend connection pool the adapter opened.
func (a *Adapter) Close() error {
	return a.registry.Close()
}

func (a *Adapter) backendFor(cfg model.StorageTableConfig) (Backend, error) {
	dsn, ok := a.dsns[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("%w: no dsn configured for backend %q", ingesterr.ErrSchemaMismatch, cfg.Backend)
	}
	return a.registry.Open(cfg.Backend, dsn)
}

func (a *Adapter) ensurePrepared(ctx context.Context, b Backend, cfg model.StorageTableConfig) error {
	key := b.Name() + "|" + cfg.TableName
	a.mu.Lock()
	if a.prepared[key] {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if err := EnsureSchema(ctx, b, cfg); err != nil {
		return err
	}
	if err := ensureWatermarkTable(ctx, b); err != nil {
		return err
	}

	a.mu.Lock()
	a.prepared[key] = true
	a.mu.Unlock()
	return nil
}

// LoadWatermark implements coordinator.StorageAdapter.
func (a *Adapter) LoadWatermark(ctx context.Context, sourceID string) (string, error) {
	for backendName, dsn := range a.dsns {
		b, err := a.registry.Open(backendName, dsn)
		if err != nil {
			continue
		}
		if err := ensureWatermarkTable(ctx, b); err != nil {
			continue
		}
		wm, err := LoadWatermark(ctx, b, sourceID)
		if err == nil && wm != "" {
			return wm, nil
		}
	}
	return "", nil
}

// HashExists implements pipeline.AuthoritativeChecker: the final word on
// whether a content hash was ever persisted, consulted only after both
// duplicate-index cache tiers miss.
func (a *Adapter) HashExists(ctx context.Context, sourceID, hash string) (bool, error) {
	for backendName, dsn := range a.dsns {
		b, err := a.registry.Open(backendName, dsn)
		if err != nil {
			continue
		}
		exists, err := hashExistsInBackend(ctx, b, sourceID, hash)
		if err == nil && exists {
			return true, nil
		}
	}
	return false, nil
}

func hashExistsInBackend(ctx context.Context, b Backend, sourceID, hash string) (bool, error) {
	tables, err := ListTables(ctx, b)
	if err != nil {
		return false, err
	}
	for _, table := range tables {
		if table == watermarkTable {
			continue
		}
		query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s AND %s = %s LIMIT 1",
			b.QuoteIdent(table), b.QuoteIdent("source_id"), b.Placeholder(1),
			b.QuoteIdent("content_hash"), b.Placeholder(2))
		var one int
		err := b.DB().QueryRowContext(ctx, query, sourceID, hash).Scan(&one)
		if err == nil {
			return true, nil
		}
	}
	return false, nil
}

// CommitBatch implements coordinator.StorageAdapter: it persists every
// accepted record (neither rejected nor tagged duplicate) per cfg's
// write/partition strategy, then advances the source's watermark — all
// inside one transaction. A per-record
// constraint failure (e.g. a racing duplicate insert under insert_only)
// downgrades that record from succeeded to failed via a savepoint rather
// than aborting the whole batch; any other error aborts and rolls back.
func (a *Adapter) CommitBatch(ctx context.Context, cfg model.SourceConfig, batch *model.IngestionBatch, stats *model.BatchStats) error {
	tcfg := cfg.StorageTable
	b, err := a.backendFor(tcfg)
	if err != nil {
		return err
	}
	if err := a.ensurePrepared(ctx, b, tcfg); err != nil {
		return fmt.Errorf("storage: ensure schema for %q: %w", tcfg.TableName, err)
	}

	ctx, span := obs.StartStorageSpan(ctx, tcfg.TableName, string(tcfg.Strategy))
	defer span.End()

	supportsSavepoint := b.Name() != "clickhouse"
	newWatermark := ""

	err = withTx(ctx, b.DB(), func(tx *sql.Tx) error {
		for _, r := range batch.Records {
			if r.Quality == model.QualityRejected || hasTag(r, "duplicate") {
				continue
			}
			partTable := tcfg.TableName
			if tcfg.PartitionStrategy != model.PartitionNone {
				var colValue interface{}
				if tcfg.PartitionColumn != "" {
					colValue = r.Content[tcfg.PartitionColumn]
				}
				partTable = partitionTableName(tcfg, colValue, r.IngestedAt)
				if err := ensurePartition(ctx, tx, b, tcfg, partTable); err != nil {
					return err
				}
			}

			var rowErr error
			if supportsSavepoint {
				if _, err := tx.ExecContext(ctx, "SAVEPOINT ingest_row"); err != nil {
					return err
				}
				rowErr = writeRecord(ctx, tx, b, tcfg, partTable, r)
				if rowErr != nil {
					if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT ingest_row"); err != nil {
						return err
					}
				} else if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT ingest_row"); err != nil {
					return err
				}
			} else {
				rowErr = writeRecord(ctx, tx, b, tcfg, partTable, r)
			}

			if rowErr != nil {
				if !supportsSavepoint {
					return rowErr
				}
				a.log.Warn("record write failed, downgrading to failed",
					zap.String("record_id", r.RecordID), zap.Error(rowErr))
				stats.Succeeded--
				stats.Failed++
				continue
			}

			if cfg.Extract.Watermark != "" {
				if v, ok := r.Content[cfg.Extract.Watermark]; ok {
					newWatermark = fmt.Sprintf("%v", v)
				}
			}
		}

		if newWatermark != "" {
			if err := SaveWatermark(ctx, tx, b, batch.SourceID, newWatermark, a.log); err != nil {
				return err
			}
		}
		return insertBatchMetadata(ctx, tx, b, batch, *stats)
	})
	if err != nil {
		obs.RecordError(ctx, err)
		return fmt.Errorf("storage: commit batch %s: %w", batch.BatchID, classifyStorageErr(err))
	}
	obs.SetSpanSuccess(ctx)
	return nil
}

func writeRecord(ctx context.Context, tx *sql.Tx, b Backend, tcfg model.StorageTableConfig, table string, r *model.DataRecord) error {
	contentJSON, err := json.Marshal(r.Content)
	if err != nil {
		return err
	}
	cols := append([]string{}, recordColumns...)
	vals := []interface{}{r.RecordID, r.SourceID, r.IngestedAt, r.LastUpdated, string(contentJSON), r.ContentHash, string(r.Quality), r.QualityScore}

	placeholders := make([]string, len(vals))
	for i := range vals {
		placeholders[i] = b.Placeholder(i + 1)
	}
	quotedCols := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i] = b.QuoteIdent(c)
	}

	upsert := ""
	switch tcfg.Strategy {
	case model.StrategyUpsert, model.StrategyMergeUpdate, model.StrategyPartitioned:
		conflict := tcfg.ConflictColumns
		if len(conflict) == 0 {
			conflict = []string{"record_id"}
		}
		upsert = b.UpsertClause(conflict, cols)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.QuoteIdent(table), strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))
	if upsert != "" {
		stmt += " " + upsert
	}
	_, err = tx.ExecContext(ctx, stmt, vals...)
	return err
}

const batchMetadataTable = "ingestion_batches"

func ensureBatchMetadataTable(ctx context.Context, tx *sql.Tx, b Backend) error {
	cols := []string{
		fmt.Sprintf("%s %s NOT NULL", b.QuoteIdent("batch_id"), b.ColumnType("uuid")),
		fmt.Sprintf("%s %s NOT NULL", b.QuoteIdent("source_id"), b.ColumnType("text")),
		fmt.Sprintf("%s %s NOT NULL", b.QuoteIdent("created_at"), b.ColumnType("timestamp")),
		fmt.Sprintf("%s %s NOT NULL", b.QuoteIdent("status"), b.ColumnType("text")),
		fmt.Sprintf("%s %s NOT NULL", b.QuoteIdent("attempted"), b.ColumnType("int")),
		fmt.Sprintf("%s %s NOT NULL", b.QuoteIdent("succeeded"), b.ColumnType("int")),
		fmt.Sprintf("%s %s NOT NULL", b.QuoteIdent("failed"), b.ColumnType("int")),
		fmt.Sprintf("%s %s NOT NULL", b.QuoteIdent("duplicated"), b.ColumnType("int")),
		fmt.Sprintf("%s %s NOT NULL", b.QuoteIdent("rejected"), b.ColumnType("int")),
	}
	pk := primaryKeyClause(b, "batch_id")
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s%s)", b.QuoteIdent(batchMetadataTable), strings.Join(cols, ", "), pk)
	_, err := tx.ExecContext(ctx, stmt)
	return err
}

func insertBatchMetadata(ctx context.Context, tx *sql.Tx, b Backend, batch *model.IngestionBatch, stats model.BatchStats) error {
	if err := ensureBatchMetadataTable(ctx, tx, b); err != nil {
		return err
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)",
		b.QuoteIdent(batchMetadataTable),
		b.QuoteIdent("batch_id"), b.QuoteIdent("source_id"), b.QuoteIdent("created_at"), b.QuoteIdent("status"),
		b.QuoteIdent("attempted"), b.QuoteIdent("succeeded"), b.QuoteIdent("failed"), b.QuoteIdent("duplicated"), b.QuoteIdent("rejected"),
		b.Placeholder(1), b.Placeholder(2), b.Placeholder(3), b.Placeholder(4),
		b.Placeholder(5), b.Placeholder(6), b.Placeholder(7), b.Placeholder(8), b.Placeholder(9))
	_, err := tx.ExecContext(ctx, stmt,
		batch.BatchID, batch.SourceID, batch.CreatedAt, string(model.BatchCompleted),
		stats.Attempted, stats.Succeeded, stats.Failed, stats.Duplicated, stats.Rejected)
	return err
}

// hasTag reports whether r carries tag, used here to drop duplicate-tagged
// records from the committed output without rejecting them outright.
func hasTag(r *model.DataRecord, tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// classifyStorageErr maps a driver-level error to the nearest declared
// storage sentinel when the driver doesn't already return one, so callers
// classifying by ingesterr.ClassOf get a sensible recovery class instead
// of defaulting to internal.
func classifyStorageErr(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "unique constraint"), strings.Contains(msg, "constraint failed"):
		return fmt.Errorf("%w: %v", ingesterr.ErrConstraintViolation, err)
	case strings.Contains(msg, "deadlock"):
		return fmt.Errorf("%w: %v", ingesterr.ErrDeadlock, err)
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return fmt.Errorf("%w: %v", ingesterr.ErrConnectionUnavailable, err)
	case strings.Contains(msg, "no such table"), strings.Contains(msg, "undefined column"), strings.Contains(msg, "undefined table"):
		return fmt.Errorf("%w: %v", ingesterr.ErrSchemaMismatch, err)
	default:
		return err
	}
}
