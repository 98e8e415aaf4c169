// Copyright 2025 James Ross
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/regulens/ingestion-engine/internal/model"
)

// TransformationStage renames and coerces fields per the source's
// TransformationRules.
type TransformationStage struct{}

func (s *TransformationStage) Name() model.Stage { return model.StageTransformation }

func (s *TransformationStage) Process(ctx context.Context, cfg model.SourceConfig, batch *model.IngestionBatch) error {
	for _, r := range batch.Records {
		if r.Quality == model.QualityRejected {
			continue
		}
		for _, rule := range cfg.TransformationRules {
			v, ok := r.Content[rule.SourceField]
			if !ok {
				continue
			}
			coerced, err := coerce(v, rule.Type)
			if err != nil {
				r.Annotate(string(model.StageTransformation), "coercion_failed", fmt.Sprintf("%s: %v", rule.SourceField, err))
				continue
			}
			target := rule.TargetField
			if target == "" {
				target = rule.SourceField
			}
			if target != rule.SourceField {
				delete(r.Content, rule.SourceField)
			}
			r.Content[target] = coerced
		}
		r.LastUpdated = time.Now()
	}
	return nil
}

func coerce(v interface{}, kind string) (interface{}, error) {
	s := fmt.Sprintf("%v", v)
	switch kind {
	case "", "string":
		return s, nil
	case "int":
		return strconv.Atoi(s)
	case "float":
		return strconv.ParseFloat(s, 64)
	case "bool":
		return strconv.ParseBool(s)
	case "date_iso8601":
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, err
		}
		return t.Format(time.RFC3339), nil
	default:
		return v, nil
	}
}
