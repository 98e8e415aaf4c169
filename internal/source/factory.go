// Copyright 2025 James Ross
package source

import (
	"fmt"

	"github.com/regulens/ingestion-engine/internal/coordinator"
	"github.com/regulens/ingestion-engine/internal/model"
)

// New dispatches on cfg.Kind to build the concrete adapter a source needs,
// satisfying coordinator.SourceAdapter. natsURL and onRealtimeMessage are
// only used by SourceKindRealtime (cfg.Endpoint carries the subject, not
// the broker URL, since every realtime source on one engine instance
// shares a broker) and may be zero-valued for every other kind.
func New(cfg model.SourceConfig, natsURL string, onRealtimeMessage func()) (coordinator.SourceAdapter, error) {
	switch cfg.Kind {
	case model.SourceKindREST:
		return NewRESTAdapter(cfg)
	case model.SourceKindWeb:
		return NewWebAdapter(cfg), nil
	case model.SourceKindSQL:
		return NewSQLAdapter(cfg.StorageTable.Backend, cfg.Endpoint)
	case model.SourceKindRealtime:
		return NewRealtimeAdapter(natsURL, cfg.Endpoint, onRealtimeMessage)
	default:
		return nil, fmt.Errorf("source: unknown kind %q", cfg.Kind)
	}
}
