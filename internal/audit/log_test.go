package audit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ajith-Anand-R/VANGUARD/internal/events"
)

func TestLogAndList(t *testing.T) {
	l := NewLogger(filepath.Join(t.TempDir(), "audit", "audit.sqlite"))
	ctx := context.Background()

	require.NoError(t, l.LogEvent("cli", "incident_reset", "SH-4429", map[string]string{"by": "operator"}))
	require.NoError(t, l.LogEvent("Sentinel", "sentinel_check", "", map[string]float64{"aggregate_risk": 26}))

	all, err := l.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "sentinel_check", all[0].Type)
	assert.Equal(t, "incident_reset", all[1].Type)

	only, err := l.List(ctx, "SH-4429", 10)
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.JSONEq(t, `{"by":"operator"}`, string(only[0].Payload))
	assert.False(t, only[0].Timestamp.IsZero())
}

func TestSinkSkipsStageLogs(t *testing.T) {
	l := NewLogger(filepath.Join(t.TempDir(), "audit.sqlite"))
	ctx := context.Background()
	sink := l.Sink()

	require.NoError(t, sink.Handle(ctx, events.Event{Type: events.StageLog, IncidentID: "SH-4429", Message: "noise"}))
	require.NoError(t, sink.Handle(ctx, events.Event{Type: events.StateChanged, IncidentID: "SH-4429", From: "IDLE", To: "AT_RISK"}))
	require.NoError(t, sink.Handle(ctx, events.Event{Type: events.StageStarted, IncidentID: "SH-4429", Stage: "SignalMonitor"}))

	entries, err := l.List(ctx, "SH-4429", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "SignalMonitor", entries[0].Actor)
	assert.Equal(t, "scheduler", entries[1].Actor)

	var ev events.Event
	require.NoError(t, json.Unmarshal(entries[1].Payload, &ev))
	assert.Equal(t, "AT_RISK", ev.To)
}
