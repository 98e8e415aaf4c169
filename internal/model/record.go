// Copyright 2025 James Ross
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// RawRecord is the opaque document a source adapter hands back, plus
// provenance about where it came from.
type RawRecord struct {
	SourceID    string                 `json:"source_id"`
	FetchedAt   time.Time              `json:"fetched_at"`
	Page        string                 `json:"page,omitempty"`
	Cursor      string                 `json:"cursor,omitempty"`
	Content     map[string]interface{} `json:"content"`
}

// Quality is the lifecycle stage a DataRecord has reached in the pipeline.
type Quality string

const (
	QualityRaw       Quality = "raw"
	QualityValidated Quality = "validated"
	QualityCleaned   Quality = "cleaned"
	QualityEnriched  Quality = "enriched"
	QualityRejected  Quality = "rejected"
)

// StageError is a single stage-produced error descriptor attached to a
// DataRecord's Errors slice.
type StageError struct {
	Stage  string `json:"stage"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

func (e StageError) String() string {
	if e.Detail == "" {
		return e.Stage + ":" + e.Code
	}
	return e.Stage + ":" + e.Code + ":" + e.Detail
}

// DataRecord is the canonical unit passed through the pipeline and stored.
type DataRecord struct {
	RecordID     string                 `json:"record_id"`
	SourceID     string                 `json:"source_id"`
	IngestedAt   time.Time              `json:"ingested_at"`
	LastUpdated  time.Time              `json:"last_updated"`
	Content      map[string]interface{} `json:"content"`
	ContentHash  string                 `json:"content_hash"`
	Quality      Quality                `json:"quality"`
	QualityScore *float64               `json:"quality_score,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
	Errors       []StageError           `json:"errors,omitempty"`
}

// NewDataRecord materializes a DataRecord from a RawRecord, assigning a
// record_id and stamping ingested_at/last_updated. Content is copied
// verbatim; transformation stages mutate it in place afterwards.
func NewDataRecord(raw RawRecord, now time.Time) *DataRecord {
	return &DataRecord{
		RecordID:    uuid.NewString(),
		SourceID:    raw.SourceID,
		IngestedAt:  now,
		LastUpdated: now,
		Content:     raw.Content,
		Quality:     QualityRaw,
	}
}

// Reject marks the record rejected and appends a stage error. Per spec,
// quality=rejected requires a non-empty Errors slice; Reject is the only
// place that transition should happen so the invariant can't be violated
// by a partial update.
func (r *DataRecord) Reject(stage, code, detail string) {
	r.Quality = QualityRejected
	r.Errors = append(r.Errors, StageError{Stage: stage, Code: code, Detail: detail})
}

// Annotate appends a non-rejecting error (e.g. enrichment_missing) without
// changing Quality.
func (r *DataRecord) Annotate(stage, code, detail string) {
	r.Errors = append(r.Errors, StageError{Stage: stage, Code: code, Detail: detail})
}

// SetQualityScore clamps the score into [0,1] before assigning it.
func (r *DataRecord) SetQualityScore(score float64) {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	r.QualityScore = &score
}

// CanonicalizeContent produces a deterministic byte representation of
// content, independent of field ordering, for hashing and comparison.
func CanonicalizeContent(content map[string]interface{}) []byte {
	b, _ := json.Marshal(canonicalizeValue(content))
	return b
}

// canonicalizeValue recursively sorts map keys so two structurally equal
// documents with differently ordered fields canonicalize identically.
func canonicalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]keyValue, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, keyValue{Key: k, Value: canonicalizeValue(val[k])})
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = canonicalizeValue(item)
		}
		return out
	default:
		return val
	}
}

type keyValue struct {
	Key   string      `json:"k"`
	Value interface{} `json:"v"`
}

// ContentHash computes the stable hash of canonicalized content used for
// duplicate detection. It is a pure function of content: field order in
// the source document never changes the result.
func ContentHash(content map[string]interface{}) string {
	sum := sha256.Sum256(CanonicalizeContent(content))
	return hex.EncodeToString(sum[:])
}
