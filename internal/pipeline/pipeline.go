// Copyright 2025 James Ross
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/regulens/ingestion-engine/internal/ingesterr"
	"github.com/regulens/ingestion-engine/internal/model"
	"github.com/regulens/ingestion-engine/internal/obs"
)

// Stage processes every record in a batch for one pipeline concern.
// Stages never reorder or drop records; rejection is expressed by calling
// Reject on the record, which later stages must skip over.
type Stage interface {
	Name() model.Stage
	Process(ctx context.Context, cfg model.SourceConfig, batch *model.IngestionBatch) error
}

// Pipeline runs the eight fixed-order stages over a batch, skipping any
// stage disabled for the source, per spec §4.2: stages may be
// enabled/disabled but never reordered.
type Pipeline struct {
	log    *zap.Logger
	stages []Stage
}

// New builds the full fixed-order pipeline. dupIndex backs the duplicate
// detection stage.
func New(log *zap.Logger, dupIndex DuplicateIndex) *Pipeline {
	return &Pipeline{
		log: log,
		stages: []Stage{
			&ValidationStage{},
			&CleaningStage{},
			&TransformationStage{},
			&EnrichmentStage{},
			&QualityScoringStage{},
			&DuplicateDetectionStage{Index: dupIndex},
			&ComplianceStage{},
			&StoragePrepStage{},
		},
	}
}

// Run executes every enabled stage in fixed order, tracing each, and
// reconciles the final batch into BatchStats satisfying the universal
// invariant attempted = succeeded + failed + duplicated + rejected.
func (p *Pipeline) Run(ctx context.Context, cfg model.SourceConfig, batch *model.IngestionBatch) (model.BatchStats, error) {
	batch.Status = model.BatchProcessing

	for _, stage := range p.stages {
		if !cfg.StageEnabled(stage.Name()) {
			continue
		}
		stageCtx, span := obs.StartStageSpan(ctx, string(stage.Name()), batch.BatchID)
		err := stage.Process(stageCtx, cfg, batch)
		if err != nil {
			obs.RecordError(stageCtx, err)
			span.End()
			return model.BatchStats{}, &ingesterr.PipelineInternalError{Stage: string(stage.Name()), Err: err}
		}
		obs.SetSpanSuccess(stageCtx)
		span.End()
	}

	stats := reconcile(batch)
	if !stats.Reconciles() {
		p.log.Error("batch stats failed to reconcile",
			zap.String("batch_id", batch.BatchID),
			zap.Int("attempted", stats.Attempted),
			zap.Int("succeeded", stats.Succeeded),
			zap.Int("failed", stats.Failed),
			zap.Int("duplicated", stats.Duplicated),
			zap.Int("rejected", stats.Rejected),
		)
	}
	for _, r := range batch.Records {
		if r.Quality == model.QualityRejected {
			obs.RecordsRejected.WithLabelValues(batch.SourceID, rejectingStage(r)).Inc()
		}
	}
	return stats, nil
}

func reconcile(batch *model.IngestionBatch) model.BatchStats {
	stats := model.BatchStats{Attempted: len(batch.Records)}
	for _, r := range batch.Records {
		switch {
		case r.Quality == model.QualityRejected:
			stats.Rejected++
		case hasTag(r, "duplicate"):
			stats.Duplicated++
		default:
			stats.Succeeded++
		}
	}
	return stats
}

func hasTag(r *model.DataRecord, tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func rejectingStage(r *model.DataRecord) string {
	if len(r.Errors) == 0 {
		return "unknown"
	}
	return r.Errors[len(r.Errors)-1].Stage
}
