package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "dicomgw", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
}

func TestSpanHelpersWithoutProvider(t *testing.T) {
	_, err := Init(context.Background(), DefaultConfig())
	require.NoError(t, err)

	ctx, span := StartTransferSpan(context.Background(), SpanUpload, 3, "edge/a1/1.2.3.dcm")
	require.NotNil(t, span)
	RecordError(ctx, errors.New("network down"))
	AddEvent(ctx, "retry")
	span.End()

	// The no-op tracer never produces valid ids.
	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))

	_, span = StartSendSpan(context.Background(), "J1", "PACS", "10.0.0.5", 104, 2)
	span.End()
	_, span = StartQueueSpan(context.Background(), SpanReceive, "edge_receiver.fifo")
	span.End()
}

func TestRecordErrorNil(t *testing.T) {
	ctx, span := StartStoreSpan(context.Background(), "a1", "1.2.3")
	defer span.End()
	RecordError(ctx, nil)
}

func TestSamplerFor(t *testing.T) {
	assert.Contains(t, samplerFor(1).Description(), "AlwaysOn")
	assert.Contains(t, samplerFor(0).Description(), "AlwaysOff")
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased")
}

func TestParseProfileType(t *testing.T) {
	for _, name := range []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines", "mutex_count", "mutex_duration", "block_count", "block_duration"} {
		_, err := parseProfileType(name)
		assert.NoError(t, err, name)
	}
	_, err := parseProfileType("heap")
	assert.Error(t, err)
}

func TestInitProfilingDisabled(t *testing.T) {
	stop, err := InitProfiling(ProfilingConfig{}, "edge-1")
	require.NoError(t, err)
	assert.False(t, IsProfilingEnabled())
	assert.NoError(t, stop())
}
