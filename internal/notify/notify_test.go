package notify

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ajith-Anand-R/VANGUARD/internal/events"
)

type call struct {
	name string
	args []string
}

func recording(calls *[]call, err error) func(string, ...string) error {
	return func(name string, args ...string) error {
		*calls = append(*calls, call{name: name, args: args})
		return err
	}
}

func TestCommand(t *testing.T) {
	name, args, ok := command("darwin", `say "hi"`, "body")
	require.True(t, ok)
	assert.Equal(t, "osascript", name)
	assert.Equal(t, `display notification "body" with title "say \"hi\""`, args[1])

	name, args, ok = command("linux", "t", "m")
	require.True(t, ok)
	assert.Equal(t, "notify-send", name)
	assert.Equal(t, []string{"t", "m"}, args)

	_, _, ok = command("windows", "t", "m")
	assert.False(t, ok)
}

func TestDisabledNotifierDoesNothing(t *testing.T) {
	var calls []call
	n := &Notifier{run: recording(&calls, nil)}
	require.NoError(t, n.Send("t", "m"))
	assert.Empty(t, calls)
}

func TestSendWrapsErrors(t *testing.T) {
	var calls []call
	n := &Notifier{Enabled: true, run: recording(&calls, errors.New("no display"))}
	err := n.Send("t", "m")
	if _, _, ok := command(runtime.GOOS, "t", "m"); !ok {
		assert.NoError(t, err)
		return
	}
	assert.ErrorContains(t, err, "no display")
}

func TestFormats(t *testing.T) {
	title, msg := FormatEscalation("SH-4429", "retries exhausted")
	assert.Contains(t, title, "Manual Intervention")
	assert.Equal(t, "SH-4429: retries exhausted", msg)

	_, msg = FormatIntervention("SH-4429", "split_shipment", 2500)
	assert.Equal(t, "SH-4429: split_shipment for $2500", msg)

	_, msg = FormatSentinelBreach(80, 65)
	assert.Equal(t, "aggregate risk 80 above 65", msg)
}

func TestSinkFiltersEvents(t *testing.T) {
	var calls []call
	n := &Notifier{Enabled: true, run: recording(&calls, nil)}
	sink := n.Sink()
	ctx := context.Background()

	require.NoError(t, sink.Handle(ctx, events.Event{Type: events.StageStarted, IncidentID: "SH-4429"}))
	require.NoError(t, sink.Handle(ctx, events.Event{Type: events.StateChanged, IncidentID: "SH-4429", To: "NEGOTIATING"}))
	require.NoError(t, sink.Handle(ctx, events.Event{Type: events.StateChanged, IncidentID: "SH-4429", To: "MANUAL_INTERVENTION", Reason: "boom"}))
	require.NoError(t, sink.Handle(ctx, events.Event{
		Type: events.StageEnded, IncidentID: "SH-4429", Stage: "Treasurer",
		Fields: map[string]any{"status": "insufficient_funds", "option_type": "split_shipment", "cost": 2500.0},
	}))
	require.NoError(t, sink.Handle(ctx, events.Event{
		Type: events.StageEnded, IncidentID: "SH-4429", Stage: "Treasurer",
		Fields: map[string]any{"status": "completed", "option_type": "split_shipment", "cost": 2500.0},
	}))

	if _, _, ok := command(runtime.GOOS, "t", "m"); !ok {
		assert.Empty(t, calls)
		return
	}
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].args[len(calls[0].args)-1], "boom")
	assert.Contains(t, calls[1].args[len(calls[1].args)-1], "split_shipment for $2500")
}
