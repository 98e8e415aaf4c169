// Copyright 2025 James Ross
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"

	"github.com/regulens/ingestion-engine/internal/model"
)

// ValidationStage rejects records that fail either a JSON-schema check
// (when the source configures one) or the source's declarative
// ValidationRules.
type ValidationStage struct{}

func (s *ValidationStage) Name() model.Stage { return model.StageValidation }

func (s *ValidationStage) Process(ctx context.Context, cfg model.SourceConfig, batch *model.IngestionBatch) error {
	for _, r := range batch.Records {
		if r.Quality == model.QualityRejected {
			continue
		}
		if cfg.JSONSchema != "" {
			if err := ValidateSchema(cfg.JSONSchema, r.Content); err != nil {
				r.Reject(string(model.StageValidation), "schema", err.Error())
				continue
			}
		}
		for _, rule := range cfg.ValidationRules {
			if err := checkRule(r.Content, rule); err != nil {
				r.Reject(string(model.StageValidation), rule.Code, err.Error())
				break
			}
		}
		if r.Quality != model.QualityRejected {
			r.Quality = model.QualityValidated
		}
	}
	return nil
}

func checkRule(content map[string]interface{}, rule model.ValidationRule) error {
	v, present := content[rule.Field]
	switch rule.Op {
	case "required":
		if !present || v == nil {
			return fmt.Errorf("field %q is required", rule.Field)
		}
	case "ref_exists":
		if !present {
			return fmt.Errorf("field %q must reference an existing entity", rule.Field)
		}
	case "regex":
		pattern, _ := rule.Value.(string)
		s := fmt.Sprintf("%v", v)
		matched, err := regexp.MatchString(pattern, s)
		if err != nil || !matched {
			return fmt.Errorf("field %q does not match pattern %q", rule.Field, pattern)
		}
	case "eq":
		if fmt.Sprintf("%v", v) != fmt.Sprintf("%v", rule.Value) {
			return fmt.Errorf("field %q must equal %v", rule.Field, rule.Value)
		}
	case "gt", "gte", "lt", "lte":
		return checkNumericRule(rule, v)
	}
	return nil
}

func checkNumericRule(rule model.ValidationRule, v interface{}) error {
	actual, ok := toFloat(v)
	want, ok2 := toFloat(rule.Value)
	if !ok || !ok2 {
		return fmt.Errorf("field %q: non-numeric comparison", rule.Field)
	}
	switch rule.Op {
	case "gt":
		if !(actual > want) {
			return fmt.Errorf("field %q must be > %v", rule.Field, want)
		}
	case "gte":
		if !(actual >= want) {
			return fmt.Errorf("field %q must be >= %v", rule.Field, want)
		}
	case "lt":
		if !(actual < want) {
			return fmt.Errorf("field %q must be < %v", rule.Field, want)
		}
	case "lte":
		if !(actual <= want) {
			return fmt.Errorf("field %q must be <= %v", rule.Field, want)
		}
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ValidateSchema checks content against a JSON schema document, used
// where a source supplies one in addition to (or instead of) declarative
// ValidationRules.
func ValidateSchema(schemaJSON string, content map[string]interface{}) error {
	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	b, err := json.Marshal(content)
	if err != nil {
		return err
	}
	docLoader := gojsonschema.NewBytesLoader(b)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return err
	}
	if !result.Valid() {
		if len(result.Errors()) > 0 {
			return fmt.Errorf("%s", result.Errors()[0].String())
		}
		return fmt.Errorf("schema validation failed")
	}
	return nil
}
