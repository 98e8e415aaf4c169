// Copyright 2025 James Ross
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/regulens/ingestion-engine/internal/model"
)

// CleaningStage normalizes whitespace and drops nil-valued fields, and
// stamps LastUpdated since content may have changed shape.
type CleaningStage struct{}

func (s *CleaningStage) Name() model.Stage { return model.StageCleaning }

func (s *CleaningStage) Process(ctx context.Context, cfg model.SourceConfig, batch *model.IngestionBatch) error {
	for _, r := range batch.Records {
		if r.Quality == model.QualityRejected {
			continue
		}
		for k, v := range r.Content {
			switch val := v.(type) {
			case string:
				trimmed := strings.TrimSpace(val)
				if trimmed == "" {
					delete(r.Content, k)
					continue
				}
				r.Content[k] = trimmed
			case nil:
				delete(r.Content, k)
			}
		}
		r.Quality = model.QualityCleaned
		r.LastUpdated = time.Now()
	}
	return nil
}
