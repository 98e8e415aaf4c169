// Copyright 2025 James Ross
package pipeline

import (
	"context"

	"github.com/regulens/ingestion-engine/internal/model"
)

// QualityScoringStage computes a weighted [0,1] score per record from
// four dimensions, defaulting to 0.25 each per spec §6 when a source
// doesn't override QualityWeights.
type QualityScoringStage struct{}

func (s *QualityScoringStage) Name() model.Stage { return model.StageQuality }

func (s *QualityScoringStage) Process(ctx context.Context, cfg model.SourceConfig, batch *model.IngestionBatch) error {
	weights := cfg.QualityWeights
	if weights == (model.QualityWeights{}) {
		weights = model.DefaultQualityWeights()
	}

	for _, r := range batch.Records {
		if r.Quality == model.QualityRejected {
			continue
		}
		completeness := completenessScore(r, cfg)
		accuracy := accuracyScore(r)
		consistency := consistencyScore(r)
		timeliness := timelinessScore(r)

		score := weights.Completeness*completeness +
			weights.Accuracy*accuracy +
			weights.Consistency*consistency +
			weights.Timeliness*timeliness
		r.SetQualityScore(score)
	}
	return nil
}

// completenessScore is the fraction of configured validation-rule fields
// that are present and non-empty.
func completenessScore(r *model.DataRecord, cfg model.SourceConfig) float64 {
	if len(cfg.ValidationRules) == 0 {
		return 1.0
	}
	present := 0
	for _, rule := range cfg.ValidationRules {
		if v, ok := r.Content[rule.Field]; ok && v != nil && v != "" {
			present++
		}
	}
	return float64(present) / float64(len(cfg.ValidationRules))
}

// accuracyScore penalizes records that have already accumulated
// non-rejecting annotations from earlier stages (coercion failures etc).
func accuracyScore(r *model.DataRecord) float64 {
	if len(r.Errors) == 0 {
		return 1.0
	}
	score := 1.0 - 0.2*float64(len(r.Errors))
	if score < 0 {
		return 0
	}
	return score
}

// consistencyScore rewards records whose content hash is stable, i.e.
// non-empty content that serializes deterministically.
func consistencyScore(r *model.DataRecord) float64 {
	if len(r.Content) == 0 {
		return 0
	}
	return 1.0
}

// timelinessScore is 1 when LastUpdated is within one second of
// IngestedAt and 0.8 otherwise. No event-time field in Content is read,
// and the score does not fall further as the gap grows.
func timelinessScore(r *model.DataRecord) float64 {
	if r.LastUpdated.Sub(r.IngestedAt).Seconds() <= 1 {
		return 1.0
	}
	return 0.8
}
