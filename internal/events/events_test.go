package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBusDeliversInOrderDespiteFailures(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	bus := NewBus(zap.New(core))

	var order []string
	bus.Subscribe("first", SinkFunc(func(context.Context, Event) error {
		order = append(order, "first")
		return errors.New("boom")
	}))
	bus.Subscribe("panics", SinkFunc(func(context.Context, Event) error {
		order = append(order, "panics")
		panic("sink exploded")
	}))
	rec := &Recorder{}
	bus.Subscribe("recorder", rec)

	bus.Publish(context.Background(), Event{Type: StageStarted, IncidentID: "SH-4429", Stage: "SignalMonitor"})

	assert.Equal(t, []string{"first", "panics"}, order)
	require.Len(t, rec.Events(), 1)
	assert.False(t, rec.Events()[0].At.IsZero())
	assert.Equal(t, 1, logs.FilterMessage("event sink failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("event sink panicked").Len())
}

func TestNilBusDrops(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), Event{Type: StageLog})
	})
}

func TestRecorderOfType(t *testing.T) {
	rec := &Recorder{}
	ctx := context.Background()
	_ = rec.Handle(ctx, Event{Type: StageStarted})
	_ = rec.Handle(ctx, Event{Type: StateChanged})
	_ = rec.Handle(ctx, Event{Type: StageStarted})
	assert.Len(t, rec.OfType(StageStarted), 2)
	assert.Len(t, rec.OfType(StageSkipped), 0)
}

func TestLogSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := LogSink(zap.New(core))
	ctx := context.Background()

	require.NoError(t, sink.Handle(ctx, Event{Type: StageLog, Level: "warn", Message: "audit unavailable"}))
	require.NoError(t, sink.Handle(ctx, Event{Type: StateChanged, From: "IDLE", To: "AT_RISK", Diff: "-a\n+b\n"}))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, "state_changed", entries[1].Message)
	assert.Equal(t, "context diff", entries[2].Message)
}

func TestSnapshotDiff(t *testing.T) {
	before := map[string]json.RawMessage{"trigger": json.RawMessage(`{"incident_id":"SH-4429"}`)}
	after := map[string]json.RawMessage{
		"trigger":         json.RawMessage(`{"incident_id":"SH-4429"}`),
		"signal_analysis": json.RawMessage(`{"severity":72}`),
	}

	diff, err := SnapshotDiff(before, after)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(diff, "--- before\n+++ after\n"))
	assert.Contains(t, diff, `+  "signal_analysis": {`)

	same, err := SnapshotDiff(after, after)
	require.NoError(t, err)
	assert.Empty(t, same)
}
