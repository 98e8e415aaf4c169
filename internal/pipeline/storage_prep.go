// Copyright 2025 James Ross
package pipeline

import (
	"context"
	"time"

	"github.com/regulens/ingestion-engine/internal/model"
)

// StoragePrepStage is the final stage: it stamps the record's definitive
// content hash (in case earlier stages mutated Content after duplicate
// detection ran) and enforces the ingested_at <= last_updated invariant
// before the batch reaches the Storage Adapter.
type StoragePrepStage struct{}

func (s *StoragePrepStage) Name() model.Stage { return model.StageStoragePrep }

func (s *StoragePrepStage) Process(ctx context.Context, cfg model.SourceConfig, batch *model.IngestionBatch) error {
	now := time.Now()
	for _, r := range batch.Records {
		if r.Quality == model.QualityRejected {
			continue
		}
		r.ContentHash = model.ContentHash(r.Content)
		if r.LastUpdated.Before(r.IngestedAt) {
			r.LastUpdated = r.IngestedAt
		}
		if r.LastUpdated.IsZero() {
			r.LastUpdated = now
		}
	}
	return nil
}
