// Copyright 2025 James Ross
package pipeline

import (
	"context"

	"github.com/regulens/ingestion-engine/internal/model"
)

// ComplianceStage applies PII handling rules: redact masks a field's
// value in place, reject fails the record, and tag annotates without
// changing its value.
type ComplianceStage struct{}

func (s *ComplianceStage) Name() model.Stage { return model.StageCompliance }

func (s *ComplianceStage) Process(ctx context.Context, cfg model.SourceConfig, batch *model.IngestionBatch) error {
	for _, r := range batch.Records {
		if r.Quality == model.QualityRejected {
			continue
		}
		for _, rule := range cfg.ComplianceRules {
			if _, present := r.Content[rule.Field]; !present {
				continue
			}
			switch rule.Action {
			case "redact":
				r.Content[rule.Field] = "[REDACTED]"
				r.Annotate(string(model.StageCompliance), rule.Code, "redacted "+rule.Field)
			case "reject":
				r.Reject(string(model.StageCompliance), rule.Code, "disallowed field "+rule.Field)
			case "tag":
				r.Tags = append(r.Tags, rule.Code)
			}
		}
	}
	return nil
}
