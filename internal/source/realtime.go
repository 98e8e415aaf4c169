// Copyright 2025 James Ross
package source

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/regulens/ingestion-engine/internal/ingesterr"
	"github.com/regulens/ingestion-engine/internal/model"
)

// RealtimeAdapter subscribes to a NATS subject and buffers incoming
// messages until the Coordinator's next IngestNow-triggered Fetch drains
// them, per the realtime ingestion mode of spec §4.4.
type RealtimeAdapter struct {
	sub *nats.Subscription
	nc  *nats.Conn

	mu  sync.Mutex
	buf []model.RawRecord

	onMessage func() // notifies the Coordinator a tick should be enqueued
}

// NewRealtimeAdapter connects to natsURL and subscribes to subject,
// buffering decoded JSON payloads for the next Fetch call. onMessage, if
// non-nil, is invoked after each buffered message so the caller can push
// an immediate tick (e.g. Coordinator.IngestNow).
func NewRealtimeAdapter(natsURL, subject string, onMessage func()) (*RealtimeAdapter, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, &ingesterr.TransientTransport{Op: "realtime_connect", Err: err}
	}

	a := &RealtimeAdapter{nc: nc, onMessage: onMessage}
	sub, err := nc.Subscribe(subject, a.handle)
	if err != nil {
		nc.Close()
		return nil, &ingesterr.PermanentTransport{Op: "realtime_subscribe", Err: err}
	}
	a.sub = sub
	return a, nil
}

func (a *RealtimeAdapter) handle(msg *nats.Msg) {
	var content map[string]interface{}
	if err := json.Unmarshal(msg.Data, &content); err != nil {
		return
	}
	a.mu.Lock()
	a.buf = append(a.buf, model.RawRecord{FetchedAt: time.Now(), Content: content})
	a.mu.Unlock()
	if a.onMessage != nil {
		a.onMessage()
	}
}

// Fetch drains every message buffered since the last call. watermark is
// unused; realtime sources have no position to resume from beyond "now".
func (a *RealtimeAdapter) Fetch(ctx context.Context, cfg model.SourceConfig, watermark string) ([]model.RawRecord, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.buf
	a.buf = nil
	for i := range out {
		out[i].SourceID = cfg.SourceID
	}
	return out, watermark, nil
}

// Close unsubscribes and closes the NATS connection.
func (a *RealtimeAdapter) Close() error {
	if a.sub != nil {
		_ = a.sub.Unsubscribe()
	}
	a.nc.Close()
	return nil
}
