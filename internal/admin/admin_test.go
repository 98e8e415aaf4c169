// Copyright 2025 James Ross
package admin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regulens/ingestion-engine/internal/coordinator"
	"github.com/regulens/ingestion-engine/internal/model"
	"github.com/regulens/ingestion-engine/internal/storage"
	"github.com/regulens/ingestion-engine/internal/config"
)

type stubPipeline struct{}

func (stubPipeline) Run(ctx context.Context, cfg model.SourceConfig, batch *model.IngestionBatch) (model.BatchStats, error) {
	return model.BatchStats{}, nil
}

func testCoordinator(t *testing.T) (*coordinator.Coordinator, *storage.Adapter) {
	t.Helper()
	st := storage.NewAdapter(&config.Config{Storage: config.StorageConfig{
		DSNs: map[string]string{"sqlite": "file:" + t.Name() + "?mode=memory&cache=shared"},
	}}, zap.NewNop())
	t.Cleanup(func() { _ = st.Close() })
	return coordinator.New(zap.NewNop(), stubPipeline{}, st, 2, 16), st
}

func testRESTSourceConfig(id string) model.SourceConfig {
	return model.SourceConfig{
		SourceID: id,
		Kind:     model.SourceKindREST,
		Mode:     model.ModeScheduled,
		Endpoint: "http://example.invalid/records",
		StorageTable: model.StorageTableConfig{
			TableName: "widgets",
			Backend:   "sqlite",
		},
	}
}

func TestRegisterStartStopUnregisterSource(t *testing.T) {
	c, _ := testCoordinator(t)
	cfg := testRESTSourceConfig("src-1")

	require.NoError(t, RegisterSource(context.Background(), c, cfg, "", nil))

	snap := SourcesSnapshot(c)
	require.Len(t, snap, 1)
	assert.Equal(t, "src-1", snap[0].SourceID)
	assert.Equal(t, model.StateRegistered, snap[0].FSMState)

	require.NoError(t, StartSource(context.Background(), c, "src-1"))
	require.NoError(t, StopSource(c, "src-1"))
	require.NoError(t, UnregisterSource(c, "src-1"))

	assert.Empty(t, SourcesSnapshot(c))
}

func TestRegisterSourceRejectsDuplicate(t *testing.T) {
	c, _ := testCoordinator(t)
	cfg := testRESTSourceConfig("src-1")
	require.NoError(t, RegisterSource(context.Background(), c, cfg, "", nil))
	err := RegisterSource(context.Background(), c, cfg, "", nil)
	assert.Error(t, err)
}

func TestSourceSnapshotUnknownErrors(t *testing.T) {
	c, _ := testCoordinator(t)
	_, err := SourceSnapshot(c, "nope")
	assert.Error(t, err)
}

func TestQueryRecordExists(t *testing.T) {
	_, st := testCoordinator(t)
	res, err := QueryRecordExists(context.Background(), st, "src-1", "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "src-1", res.SourceID)
	assert.False(t, res.Exists)
}
