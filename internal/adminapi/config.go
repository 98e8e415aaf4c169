// Copyright 2025 James Ross
package adminapi

import "time"

// Config configures the admin HTTP surface: its listen address, auth,
// rate limiting, audit logging, and CORS policy.
type Config struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	JWTSecret     string `mapstructure:"jwt_secret"`
	RequireAuth   bool   `mapstructure:"require_auth"`
	DenyByDefault bool   `mapstructure:"deny_by_default"`

	RateLimitEnabled   bool `mapstructure:"rate_limit_enabled"`
	RateLimitPerMinute int  `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst     int  `mapstructure:"rate_limit_burst"`

	AuditEnabled    bool   `mapstructure:"audit_enabled"`
	AuditLogPath    string `mapstructure:"audit_log_path"`
	AuditRotateSize int64  `mapstructure:"audit_rotate_size"`
	AuditMaxBackups int    `mapstructure:"audit_max_backups"`

	CORSEnabled      bool     `mapstructure:"cors_enabled"`
	CORSAllowOrigins []string `mapstructure:"cors_allow_origins"`
}

// DefaultConfig mirrors the ingestion engine's conservative defaults: auth
// and rate limiting on, audit logging on, CORS off.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":8090",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,

		RequireAuth:   true,
		DenyByDefault: true,

		RateLimitEnabled:   true,
		RateLimitPerMinute: 120,
		RateLimitBurst:     20,

		AuditEnabled:    true,
		AuditLogPath:    "/var/log/ingestion-engine/admin-audit.log",
		AuditRotateSize: 100 * 1024 * 1024,
		AuditMaxBackups: 10,

		CORSEnabled:      false,
		CORSAllowOrigins: []string{"*"},
	}
}
