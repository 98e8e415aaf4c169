// Copyright 2025 James Ross
package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regulens/ingestion-engine/internal/config"
	"github.com/regulens/ingestion-engine/internal/model"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	cfg := &config.Config{Storage: config.StorageConfig{
		DSNs: map[string]string{"sqlite": "file:" + t.Name() + "?mode=memory&cache=shared"},
	}}
	a := NewAdapter(cfg, zap.NewNop())
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func testSourceConfig(strategy model.WriteStrategy) model.SourceConfig {
	return model.SourceConfig{
		SourceID: "src-1",
		StorageTable: model.StorageTableConfig{
			TableName:         "widgets",
			Backend:           "sqlite",
			Strategy:          strategy,
			PrimaryKeyColumns: []string{"record_id"},
			ConflictColumns:   []string{"source_id", "content_hash"},
		},
	}
}

func testBatch() (*model.IngestionBatch, model.BatchStats) {
	rec := model.NewDataRecord(model.RawRecord{SourceID: "src-1", Content: map[string]interface{}{"name": "widget"}}, time.Now())
	rec.ContentHash = model.ContentHash(rec.Content)
	rec.Quality = model.QualityEnriched
	score := 0.9
	rec.QualityScore = &score
	batch := model.NewIngestionBatch("src-1", []*model.DataRecord{rec}, time.Now())
	stats := model.BatchStats{Attempted: 1, Succeeded: 1}
	return batch, stats
}

func TestCommitBatchInsertsAndReconciles(t *testing.T) {
	a := testAdapter(t)
	cfg := testSourceConfig(model.StrategyInsertOnly)
	batch, stats := testBatch()

	err := a.CommitBatch(context.Background(), cfg, batch, &stats)
	require.NoError(t, err)
	assert.True(t, stats.Reconciles())

	exists, err := a.HashExists(context.Background(), "src-1", batch.Records[0].ContentHash)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCommitBatchUpsertOnConflict(t *testing.T) {
	a := testAdapter(t)
	cfg := testSourceConfig(model.StrategyUpsert)
	batch, stats := testBatch()

	require.NoError(t, a.CommitBatch(context.Background(), cfg, batch, &stats))

	batch2, stats2 := testBatch()
	batch2.Records[0].RecordID = batch.Records[0].RecordID
	batch2.Records[0].ContentHash = batch.Records[0].ContentHash
	err := a.CommitBatch(context.Background(), cfg, batch2, &stats2)
	require.NoError(t, err)
	assert.True(t, stats2.Reconciles())
}

func TestLoadWatermarkRoundTrips(t *testing.T) {
	a := testAdapter(t)
	cfg := testSourceConfig(model.StrategyInsertOnly)
	cfg.Extract = model.ExtractConfig{Watermark: "updated_at"}
	batch, stats := testBatch()
	batch.Records[0].Content["updated_at"] = "2026-01-01T00:00:00Z"
	batch.Records[0].ContentHash = model.ContentHash(batch.Records[0].Content)

	require.NoError(t, a.CommitBatch(context.Background(), cfg, batch, &stats))

	wm, err := a.LoadWatermark(context.Background(), "src-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", wm)
}

func TestLoadWatermarkUnknownSourceIsEmpty(t *testing.T) {
	a := testAdapter(t)
	wm, err := a.LoadWatermark(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, wm)
}
