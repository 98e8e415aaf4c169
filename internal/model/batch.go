// Copyright 2025 James Ross
package model

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus is the lifecycle status of an IngestionBatch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchPartial    BatchStatus = "partial"
)

// IngestionBatch is a set of records processed and stored together as one
// logical operation. It is immutable once Status is Completed or Failed.
type IngestionBatch struct {
	BatchID   string       `json:"batch_id"`
	SourceID  string       `json:"source_id"`
	Records   []*DataRecord `json:"records"`
	CreatedAt time.Time    `json:"created_at"`
	Status    BatchStatus  `json:"status"`
}

// NewIngestionBatch allocates a batch id and stamps CreatedAt.
func NewIngestionBatch(sourceID string, records []*DataRecord, now time.Time) *IngestionBatch {
	return &IngestionBatch{
		BatchID:   uuid.NewString(),
		SourceID:  sourceID,
		Records:   records,
		CreatedAt: now,
		Status:    BatchPending,
	}
}

// Immutable reports whether the batch has reached a terminal status and
// must no longer be mutated.
func (b *IngestionBatch) Immutable() bool {
	return b.Status == BatchCompleted || b.Status == BatchFailed
}

// BatchStats summarizes the outcome of a completed batch, used both for
// persisted batch metadata and for the universal invariant
// attempted = succeeded + failed + duplicated + rejected.
type BatchStats struct {
	Attempted  int `json:"attempted"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Duplicated int `json:"duplicated"`
	Rejected   int `json:"rejected"`
}

// Reconciles reports whether the stats satisfy the universal invariant
// for a completed batch.
func (s BatchStats) Reconciles() bool {
	return s.Attempted == s.Succeeded+s.Failed+s.Duplicated+s.Rejected
}

// OperationStatus is the lifecycle status of a runtime StorageOperation.
type OperationStatus string

const (
	OperationPending    OperationStatus = "pending"
	OperationRunning    OperationStatus = "running"
	OperationCompleted  OperationStatus = "completed"
	OperationFailed     OperationStatus = "failed"
)

// StorageOperation is the runtime record of a single store_batch call,
// created when a batch enters the Storage Adapter and discarded once its
// status is terminal and metrics have been recorded.
type StorageOperation struct {
	OperationID string          `json:"operation_id"`
	Table       string          `json:"table"`
	Strategy    WriteStrategy   `json:"strategy"`
	Records     []*DataRecord   `json:"-"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at,omitempty"`
	Attempted   int             `json:"attempted"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Status      OperationStatus `json:"status"`
	Errors      []string        `json:"errors,omitempty"`
}

// NewStorageOperation starts a new operation for the given table/strategy.
func NewStorageOperation(table string, strategy WriteStrategy, records []*DataRecord, now time.Time) *StorageOperation {
	return &StorageOperation{
		OperationID: uuid.NewString(),
		Table:       table,
		Strategy:    strategy,
		Records:     records,
		StartedAt:   now,
		Attempted:   len(records),
		Status:      OperationPending,
	}
}
