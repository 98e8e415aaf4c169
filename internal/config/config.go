// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/regulens/ingestion-engine/internal/model"
)

// CoordinatorConfig controls the Ingestion Coordinator's worker pool and
// reaper sweep.
type CoordinatorConfig struct {
	WorkerCount     int           `mapstructure:"worker_count"`
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	ReaperInterval  time.Duration `mapstructure:"reaper_interval"`
	StuckBatchAfter time.Duration `mapstructure:"stuck_batch_after"`
}

// StorageConfig names the default backend and connection strings available
// to the Storage Adapter; individual sources pick a backend by name via
// model.StorageTableConfig.Backend.
type StorageConfig struct {
	DefaultBackend string            `mapstructure:"default_backend"`
	DSNs           map[string]string `mapstructure:"dsns"`
}

// DuplicateCacheConfig controls the in-process/Redis-backed LRU that backs
// the pipeline's duplicate-detection stage.
type DuplicateCacheConfig struct {
	LocalCapacity int           `mapstructure:"local_capacity"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// TracingConfig mirrors the OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Endpoint     string  `mapstructure:"endpoint"`
	Environment  string  `mapstructure:"environment"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// ObservabilityConfig controls logging, metrics, and tracing.
type ObservabilityConfig struct {
	MetricsPort int           `mapstructure:"metrics_port"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFile     string        `mapstructure:"log_file"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// AdminConfig controls the external admin REST surface.
type AdminConfig struct {
	Addr string `mapstructure:"addr"`
}

// RealtimeConfig names the message broker shared by every SourceKindRealtime
// source registered on this engine instance.
type RealtimeConfig struct {
	NATSURL string `mapstructure:"nats_url"`
}

// Config is the top-level configuration for the ingestion engine.
type Config struct {
	Coordinator    CoordinatorConfig    `mapstructure:"coordinator"`
	Storage        StorageConfig        `mapstructure:"storage"`
	DuplicateCache DuplicateCacheConfig `mapstructure:"duplicate_cache"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
	Admin          AdminConfig          `mapstructure:"admin"`
	Realtime       RealtimeConfig       `mapstructure:"realtime"`
	Sources        []model.SourceConfig `mapstructure:"sources"`
}

func defaultConfig() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			WorkerCount:     16,
			QueueCapacity:   1024,
			ReaperInterval:  30 * time.Second,
			StuckBatchAfter: 5 * time.Minute,
		},
		Storage: StorageConfig{
			DefaultBackend: "postgres",
			DSNs:           map[string]string{},
		},
		DuplicateCache: DuplicateCacheConfig{
			LocalCapacity: 10000,
			TTL:           24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			MetricsPort: 9090,
			LogLevel:    "info",
			Tracing:     TracingConfig{Enabled: false},
		},
		Admin: AdminConfig{
			Addr: ":8090",
		},
		Realtime: RealtimeConfig{
			NATSURL: "nats://127.0.0.1:4222",
		},
	}
}

// Load reads configuration from a YAML file with env-var overrides
// (dots become underscores, e.g. OBSERVABILITY_LOG_LEVEL).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("coordinator.worker_count", def.Coordinator.WorkerCount)
	v.SetDefault("coordinator.queue_capacity", def.Coordinator.QueueCapacity)
	v.SetDefault("coordinator.reaper_interval", def.Coordinator.ReaperInterval)
	v.SetDefault("coordinator.stuck_batch_after", def.Coordinator.StuckBatchAfter)

	v.SetDefault("storage.default_backend", def.Storage.DefaultBackend)

	v.SetDefault("duplicate_cache.local_capacity", def.DuplicateCache.LocalCapacity)
	v.SetDefault("duplicate_cache.ttl", def.DuplicateCache.TTL)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)

	v.SetDefault("admin.addr", def.Admin.Addr)

	v.SetDefault("realtime.nats_url", def.Realtime.NATSURL)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Coordinator.WorkerCount < 1 {
		return fmt.Errorf("coordinator.worker_count must be >= 1")
	}
	if cfg.Coordinator.QueueCapacity < 1 {
		return fmt.Errorf("coordinator.queue_capacity must be >= 1")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	seen := make(map[string]bool, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if s.SourceID == "" {
			return fmt.Errorf("sources: source_id must be non-empty")
		}
		if seen[s.SourceID] {
			return fmt.Errorf("sources: duplicate source_id %q", s.SourceID)
		}
		seen[s.SourceID] = true
		if s.StorageTable.TableName == "" {
			return fmt.Errorf("sources[%s]: storage_table.table_name must be non-empty", s.SourceID)
		}
	}
	return nil
}
