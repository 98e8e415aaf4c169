// Copyright 2025 James Ross
package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regulens/ingestion-engine/internal/model"
)

func testConfig() model.SourceConfig {
	return model.SourceConfig{
		SourceID: "src-1",
		Stages:   model.AllStages,
		ValidationRules: []model.ValidationRule{
			{Field: "name", Op: "required", Code: "name_required"},
		},
	}
}

func TestPipelineRejectsMissingRequiredField(t *testing.T) {
	p := New(zap.NewNop(), NewLocalLRUIndex(10))
	cfg := testConfig()
	batch := model.NewIngestionBatch("src-1", []*model.DataRecord{
		model.NewDataRecord(model.RawRecord{SourceID: "src-1", Content: map[string]interface{}{}}, time.Now()),
	}, time.Now())

	stats, err := p.Run(context.Background(), cfg, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rejected)
	assert.True(t, stats.Reconciles())
	assert.Equal(t, model.QualityRejected, batch.Records[0].Quality)
}

func TestPipelineAcceptsValidRecord(t *testing.T) {
	p := New(zap.NewNop(), NewLocalLRUIndex(10))
	cfg := testConfig()
	batch := model.NewIngestionBatch("src-1", []*model.DataRecord{
		model.NewDataRecord(model.RawRecord{SourceID: "src-1", Content: map[string]interface{}{"name": "acme corp"}}, time.Now()),
	}, time.Now())

	stats, err := p.Run(context.Background(), cfg, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.True(t, stats.Reconciles())
	r := batch.Records[0]
	require.NotNil(t, r.QualityScore)
	assert.GreaterOrEqual(t, *r.QualityScore, 0.0)
	assert.LessOrEqual(t, *r.QualityScore, 1.0)
	assert.NotEmpty(t, r.ContentHash)
	assert.False(t, r.LastUpdated.Before(r.IngestedAt))
}

func TestPipelineDetectsDuplicateAcrossBatches(t *testing.T) {
	idx := NewLocalLRUIndex(10)
	p := New(zap.NewNop(), idx)
	cfg := testConfig()

	mk := func() *model.IngestionBatch {
		return model.NewIngestionBatch("src-1", []*model.DataRecord{
			model.NewDataRecord(model.RawRecord{SourceID: "src-1", Content: map[string]interface{}{"name": "acme corp"}}, time.Now()),
		}, time.Now())
	}

	b1 := mk()
	_, err := p.Run(context.Background(), cfg, b1)
	require.NoError(t, err)
	assert.NotContains(t, b1.Records[0].Tags, "duplicate")

	b2 := mk()
	stats, err := p.Run(context.Background(), cfg, b2)
	require.NoError(t, err)
	assert.Contains(t, b2.Records[0].Tags, "duplicate")
	assert.Equal(t, 1, stats.Duplicated)
}

func TestStageDisabledIsSkipped(t *testing.T) {
	p := New(zap.NewNop(), NewLocalLRUIndex(10))
	cfg := testConfig()
	cfg.Stages = []model.Stage{model.StageCleaning, model.StageStoragePrep} // validation disabled

	batch := model.NewIngestionBatch("src-1", []*model.DataRecord{
		model.NewDataRecord(model.RawRecord{SourceID: "src-1", Content: map[string]interface{}{}}, time.Now()),
	}, time.Now())

	stats, err := p.Run(context.Background(), cfg, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
}

func TestComplianceRedaction(t *testing.T) {
	p := New(zap.NewNop(), NewLocalLRUIndex(10))
	cfg := testConfig()
	cfg.ComplianceRules = []model.ComplianceRule{
		{Field: "ssn", Action: "redact", Code: "pii_ssn"},
	}
	batch := model.NewIngestionBatch("src-1", []*model.DataRecord{
		model.NewDataRecord(model.RawRecord{SourceID: "src-1", Content: map[string]interface{}{"name": "x", "ssn": "123-45-6789"}}, time.Now()),
	}, time.Now())

	_, err := p.Run(context.Background(), cfg, batch)
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", batch.Records[0].Content["ssn"])
}
