// Copyright 2025 James Ross
package obs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/regulens/ingestion-engine/internal/config"
)

func TestMaybeInitTracingDisabled(t *testing.T) {
	cfg := &config.Config{
		Observability: config.ObservabilityConfig{
			Tracing: config.TracingConfig{Enabled: false},
		},
	}
	tp, err := MaybeInitTracing(cfg)
	assert.NoError(t, err)
	assert.Nil(t, tp)
}

func TestMaybeInitTracingEnabledNoEndpoint(t *testing.T) {
	cfg := &config.Config{
		Observability: config.ObservabilityConfig{
			Tracing: config.TracingConfig{Enabled: true, Endpoint: ""},
		},
	}
	tp, err := MaybeInitTracing(cfg)
	assert.NoError(t, err)
	assert.Nil(t, tp)
}

func TestStartBatchSpan(t *testing.T) {
	ctx, span := StartBatchSpan(context.Background(), "source-a", "batch-1")
	assert.NotNil(t, ctx)
	span.End()
}

func TestRecordErrorAndSuccess(t *testing.T) {
	ctx, span := StartStageSpan(context.Background(), "validation", "batch-1")
	RecordError(ctx, errors.New("boom"))
	SetSpanSuccess(ctx)
	span.End()
}

func TestKeyValue(t *testing.T) {
	assert.Equal(t, "x", KeyValue("k", "x").Value.AsString())
	assert.Equal(t, int64(5), KeyValue("k", 5).Value.AsInt64())
}

func TestTracerShutdownNil(t *testing.T) {
	assert.NoError(t, TracerShutdown(context.Background(), nil))
}
