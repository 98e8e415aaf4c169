// Copyright 2025 James Ross
package model

import "time"

// SourceKind names an adapter variant.
type SourceKind string

const (
	SourceKindREST     SourceKind = "rest"
	SourceKindWeb      SourceKind = "web"
	SourceKindSQL      SourceKind = "sql"
	SourceKindRealtime SourceKind = "realtime"
)

// IngestionMode selects how ticks are generated for a source; see spec §4.4.
type IngestionMode string

const (
	ModeBatch     IngestionMode = "batch"
	ModeStreaming IngestionMode = "streaming"
	ModeScheduled IngestionMode = "scheduled"
	ModeRealtime  IngestionMode = "realtime"
)

// Stage names one of the eight fixed pipeline stages. Stages may only be
// enabled/disabled, never reordered.
type Stage string

const (
	StageValidation     Stage = "validation"
	StageCleaning       Stage = "cleaning"
	StageTransformation Stage = "transformation"
	StageEnrichment     Stage = "enrichment"
	StageQuality        Stage = "quality"
	StageDuplicate      Stage = "duplicate"
	StageCompliance     Stage = "compliance"
	StageStoragePrep    Stage = "storage_prep"
)

// AllStages is the fixed stage ordering; a source's Stages enable-set is
// intersected against this slice, never reordered.
var AllStages = []Stage{
	StageValidation, StageCleaning, StageTransformation, StageEnrichment,
	StageQuality, StageDuplicate, StageCompliance, StageStoragePrep,
}

// RateLimitConfig is a token-bucket specification.
type RateLimitConfig struct {
	Capacity      int     `mapstructure:"capacity" yaml:"capacity"`
	RefillPerSec  float64 `mapstructure:"refill_per_sec" yaml:"refill_per_sec"`
}

// RetryConfig controls exponential backoff with jitter.
type RetryConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Jitter      float64       `mapstructure:"jitter" yaml:"jitter"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// BreakerConfig controls the per-source circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	OpenCooldown     time.Duration `mapstructure:"open_cooldown" yaml:"open_cooldown"`
	ProbeAfter       time.Duration `mapstructure:"probe_after" yaml:"probe_after"`
}

// QualityWeights are the configurable weights of the quality-scoring stage.
// Defaults to 0.25 each per spec §6.
type QualityWeights struct {
	Completeness float64 `mapstructure:"completeness" yaml:"completeness"`
	Accuracy     float64 `mapstructure:"accuracy" yaml:"accuracy"`
	Consistency  float64 `mapstructure:"consistency" yaml:"consistency"`
	Timeliness   float64 `mapstructure:"timeliness" yaml:"timeliness"`
}

// DefaultQualityWeights returns the spec §6 default (0.25 each).
func DefaultQualityWeights() QualityWeights {
	return QualityWeights{Completeness: 0.25, Accuracy: 0.25, Consistency: 0.25, Timeliness: 0.25}
}

// ValidationRule is a single declarative validation constraint, evaluated
// by the validation stage in addition to any JSON-schema-expressible rules.
type ValidationRule struct {
	Field    string `mapstructure:"field" yaml:"field"`
	Op       string `mapstructure:"op" yaml:"op"` // required, gt, gte, lt, lte, eq, regex, ref_exists
	Value    interface{} `mapstructure:"value" yaml:"value"`
	Code     string `mapstructure:"code" yaml:"code"`
}

// TransformationRule renames, coerces, or normalizes a field.
type TransformationRule struct {
	SourceField string `mapstructure:"source_field" yaml:"source_field"`
	TargetField string `mapstructure:"target_field" yaml:"target_field"`
	Type        string `mapstructure:"type" yaml:"type"` // string, int, float, bool, date_iso8601
}

// ComplianceRule declares a PII/redaction requirement evaluated by the
// compliance stage.
type ComplianceRule struct {
	Field  string `mapstructure:"field" yaml:"field"`
	Action string `mapstructure:"action" yaml:"action"` // redact, reject, tag
	Code   string `mapstructure:"code" yaml:"code"`
}

// AuthConfig configures a REST/Web adapter's transport-level auth.
type AuthConfig struct {
	Mode         string `mapstructure:"mode" yaml:"mode"` // none, api_key, basic, oauth2_client_credentials, jwt_bearer
	HeaderName   string `mapstructure:"header_name" yaml:"header_name"`
	QueryParam   string `mapstructure:"query_param" yaml:"query_param"`
	APIKey       string `mapstructure:"api_key" yaml:"api_key"`
	Username     string `mapstructure:"username" yaml:"username"`
	Password     string `mapstructure:"password" yaml:"password"`
	TokenURL     string `mapstructure:"token_url" yaml:"token_url"`
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	BearerToken  string `mapstructure:"bearer_token" yaml:"bearer_token"`
}

// PaginationConfig configures a REST adapter's pagination mode.
type PaginationConfig struct {
	Mode          string `mapstructure:"mode" yaml:"mode"` // offset_limit, page_number, cursor_token, link_header
	Limit         int    `mapstructure:"limit" yaml:"limit"`
	CursorParam   string `mapstructure:"cursor_param" yaml:"cursor_param"`
	PageParam     string `mapstructure:"page_param" yaml:"page_param"`
	OffsetParam   string `mapstructure:"offset_param" yaml:"offset_param"`
}

// ExtractConfig configures how records are pulled out of a fetched payload.
type ExtractConfig struct {
	RecordsPath string            `mapstructure:"records_path" yaml:"records_path"` // JSONPath for REST
	Selectors   map[string]string `mapstructure:"selectors" yaml:"selectors"`        // CSS-like selectors for Web
	Watermark   string            `mapstructure:"watermark_column" yaml:"watermark_column"`
	Query       string            `mapstructure:"query" yaml:"query"` // SQL source query
}

// SourceConfig identifies a registered source and its adapter, schedule,
// and pipeline configuration. Mutated only while the source is stopped;
// destroyed only after the source is stopped.
type SourceConfig struct {
	SourceID           string              `mapstructure:"source_id" yaml:"source_id"`
	Kind               SourceKind          `mapstructure:"kind" yaml:"kind"`
	Mode               IngestionMode       `mapstructure:"mode" yaml:"mode"`
	Schedule           string              `mapstructure:"schedule" yaml:"schedule"` // fixed interval ("30s") or cron expression
	RateLimit          RateLimitConfig     `mapstructure:"rate_limit" yaml:"rate_limit"`
	Retry              RetryConfig         `mapstructure:"retry" yaml:"retry"`
	Breaker            BreakerConfig       `mapstructure:"breaker" yaml:"breaker"`
	Stages             []Stage             `mapstructure:"stages" yaml:"stages"`
	ValidationRules    []ValidationRule    `mapstructure:"validation_rules" yaml:"validation_rules"`
	JSONSchema         string              `mapstructure:"json_schema" yaml:"json_schema"` // optional; checked ahead of ValidationRules
	TransformationRules []TransformationRule `mapstructure:"transformation_rules" yaml:"transformation_rules"`
	ComplianceRules    []ComplianceRule    `mapstructure:"compliance_rules" yaml:"compliance_rules"`
	QualityWeights     QualityWeights      `mapstructure:"quality_weights" yaml:"quality_weights"`
	StorageTable       StorageTableConfig  `mapstructure:"storage_table" yaml:"storage_table"`
	Auth               AuthConfig          `mapstructure:"auth" yaml:"auth"`
	Pagination         PaginationConfig    `mapstructure:"pagination" yaml:"pagination"`
	Extract            ExtractConfig       `mapstructure:"extract" yaml:"extract"`
	Endpoint           string              `mapstructure:"endpoint" yaml:"endpoint"` // REST/Web URL or NATS subject
	AuditRejected      bool                `mapstructure:"audit_rejected" yaml:"audit_rejected"`
}

// StageEnabled reports whether stage s is in the source's enable-set.
func (c SourceConfig) StageEnabled(s Stage) bool {
	for _, enabled := range c.Stages {
		if enabled == s {
			return true
		}
	}
	return false
}

// WriteStrategy selects how the storage adapter reconciles new records
// with existing state.
type WriteStrategy string

const (
	StrategyInsertOnly   WriteStrategy = "insert_only"
	StrategyUpsert       WriteStrategy = "upsert_on_conflict"
	StrategyMergeUpdate  WriteStrategy = "merge_update"
	StrategyBulkLoad     WriteStrategy = "bulk_load"
	StrategyPartitioned  WriteStrategy = "partitioned"
)

// PartitionStrategy selects how a partitioned table divides its rows.
type PartitionStrategy string

const (
	PartitionNone   PartitionStrategy = ""
	PartitionTime   PartitionStrategy = "time_based"
	PartitionRange  PartitionStrategy = "range_based"
	PartitionHash   PartitionStrategy = "hash_based"
	PartitionList   PartitionStrategy = "list_based"
)

// IndexKind names a supported index shape.
type IndexKind string

const (
	IndexSingle           IndexKind = "single"
	IndexComposite        IndexKind = "composite"
	IndexPartial          IndexKind = "partial"
	IndexDocumentInverted IndexKind = "document_inverted"
	IndexSpatial          IndexKind = "spatial"
)

// IndexSpec declares one index to maintain on a table.
type IndexSpec struct {
	Name      string    `mapstructure:"name" yaml:"name"`
	Kind      IndexKind `mapstructure:"kind" yaml:"kind"`
	Columns   []string  `mapstructure:"columns" yaml:"columns"`
	Predicate string    `mapstructure:"predicate" yaml:"predicate"`
}

// PartitionRange declares one bucket of a range_based partition over
// PartitionColumn's numeric value: [Min, Max).
type PartitionRange struct {
	Label string  `mapstructure:"label" yaml:"label"`
	Min   float64 `mapstructure:"min" yaml:"min"`
	Max   float64 `mapstructure:"max" yaml:"max"`
}

// StorageTableConfig is exclusively owned by the Storage Adapter; other
// components consult it by id but never mutate it.
type StorageTableConfig struct {
	TableName          string            `mapstructure:"table_name" yaml:"table_name"`
	Backend            string            `mapstructure:"backend" yaml:"backend"` // postgres, sqlite, clickhouse
	Strategy           WriteStrategy     `mapstructure:"strategy" yaml:"strategy"`
	PrimaryKeyColumns  []string          `mapstructure:"primary_key_columns" yaml:"primary_key_columns"`
	ConflictColumns    []string          `mapstructure:"conflict_columns" yaml:"conflict_columns"`
	Indexes            []IndexSpec       `mapstructure:"indexes" yaml:"indexes"`
	PartitionStrategy  PartitionStrategy `mapstructure:"partition_strategy" yaml:"partition_strategy"`
	PartitionColumn    string            `mapstructure:"partition_column" yaml:"partition_column"`
	PartitionInterval  string            `mapstructure:"partition_interval" yaml:"partition_interval"` // hour, day, week, month
	PartitionRanges    []PartitionRange  `mapstructure:"partition_ranges" yaml:"partition_ranges"`      // range_based buckets over PartitionColumn
	PartitionValues    []string          `mapstructure:"partition_values" yaml:"partition_values"`      // list_based discrete values of PartitionColumn
	BatchSize          int               `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout       time.Duration     `mapstructure:"batch_timeout" yaml:"batch_timeout"`
}
