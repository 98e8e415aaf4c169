// Copyright 2025 James Ross
package admin

import (
	"context"
	"fmt"
	"sort"

	"github.com/regulens/ingestion-engine/internal/coordinator"
	"github.com/regulens/ingestion-engine/internal/model"
	"github.com/regulens/ingestion-engine/internal/source"
	"github.com/regulens/ingestion-engine/internal/storage"
)

// RegisterSource adds a new source to the running coordinator, building
// its adapter from cfg.Kind. It is the business-logic entry point shared
// by the engine's startup wiring and the admin HTTP surface, per spec §4.1's
// register_source operation.
func RegisterSource(ctx context.Context, c *coordinator.Coordinator, cfg model.SourceConfig, natsURL string, onRealtimeMessage func()) error {
	adapter, err := source.New(cfg, natsURL, onRealtimeMessage)
	if err != nil {
		return err
	}
	return c.RegisterSource(ctx, cfg, adapter)
}

// UnregisterSource removes a source, refusing to act on one still running.
func UnregisterSource(c *coordinator.Coordinator, sourceID string) error {
	return c.UnregisterSource(sourceID)
}

func StartSource(ctx context.Context, c *coordinator.Coordinator, sourceID string) error {
	return c.StartSource(ctx, sourceID)
}

func StopSource(c *coordinator.Coordinator, sourceID string) error {
	return c.StopSource(sourceID)
}

func PauseSource(c *coordinator.Coordinator, sourceID string) error {
	return c.PauseSource(sourceID)
}

func ResumeSource(ctx context.Context, c *coordinator.Coordinator, sourceID string) error {
	return c.ResumeSource(ctx, sourceID)
}

// IngestNow triggers an out-of-schedule tick for sourceID, the manual
// trigger every batch-mode source relies on.
func IngestNow(c *coordinator.Coordinator, sourceID string) error {
	return c.IngestNow(sourceID)
}

// SourcesSnapshot returns every registered source's current state, sorted
// by source id for stable HTTP output.
func SourcesSnapshot(c *coordinator.Coordinator) []model.SourceState {
	snap := c.Snapshot()
	sort.Slice(snap, func(i, j int) bool { return snap[i].SourceID < snap[j].SourceID })
	return snap
}

// SourceSnapshot returns a single source's state, or an error if unknown.
func SourceSnapshot(c *coordinator.Coordinator, sourceID string) (model.SourceState, error) {
	for _, s := range SourcesSnapshot(c) {
		if s.SourceID == sourceID {
			return s, nil
		}
	}
	return model.SourceState{}, fmt.Errorf("admin: unknown source %q", sourceID)
}

// QueryRecordsResult is the response for a content-hash lookup against a
// source's storage table, used by operators chasing down a specific
// record without a full SQL console.
type QueryRecordsResult struct {
	SourceID string `json:"source_id"`
	Hash     string `json:"content_hash"`
	Exists   bool   `json:"exists"`
}

// QueryRecordExists reports whether sourceID has ever persisted a record
// with the given content hash, delegating to the storage adapter's
// authoritative index.
func QueryRecordExists(ctx context.Context, adapter *storage.Adapter, sourceID, hash string) (QueryRecordsResult, error) {
	exists, err := adapter.HashExists(ctx, sourceID, hash)
	if err != nil {
		return QueryRecordsResult{}, err
	}
	return QueryRecordsResult{SourceID: sourceID, Hash: hash, Exists: exists}, nil
}
