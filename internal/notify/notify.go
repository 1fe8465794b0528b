package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/Ajith-Anand-R/VANGUARD/internal/events"
)

// Notifier sends system notifications.
type Notifier struct {
	Enabled bool
	// run executes the platform command. Nil uses os/exec.
	run func(name string, args ...string) error
}

// Send sends a system notification.
// On macOS, uses osascript; on Linux, notify-send. Elsewhere it is a no-op.
func (n *Notifier) Send(title, message string) error {
	if n == nil || !n.Enabled {
		return nil
	}
	name, args, ok := command(runtime.GOOS, title, message)
	if !ok {
		return nil
	}
	run := n.run
	if run == nil {
		run = func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		}
	}
	if err := run(name, args...); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

func command(goos, title, message string) (string, []string, bool) {
	switch goos {
	case "darwin":
		title = strings.ReplaceAll(title, `"`, `\"`)
		message = strings.ReplaceAll(message, `"`, `\"`)
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)
		return "osascript", []string{"-e", script}, true
	case "linux":
		return "notify-send", []string{title, message}, true
	default:
		return "", nil, false
	}
}

// FormatEscalation formats a manual intervention notification message.
func FormatEscalation(incidentID, reason string) (title, message string) {
	title = "🚨 VANGUARD Manual Intervention"
	message = fmt.Sprintf("%s: %s", incidentID, reason)
	return title, message
}

// FormatIntervention formats an executed intervention notification message.
func FormatIntervention(incidentID, optionType string, cost float64) (title, message string) {
	title = "✅ VANGUARD Intervention Executed"
	message = fmt.Sprintf("%s: %s for $%.0f", incidentID, optionType, cost)
	return title, message
}

// FormatSentinelBreach formats a risk threshold breach notification message.
func FormatSentinelBreach(aggregate, threshold float64) (title, message string) {
	title = "⚠️ VANGUARD Risk Threshold Exceeded"
	message = fmt.Sprintf("aggregate risk %.0f above %.0f", aggregate, threshold)
	return title, message
}

// Sink turns escalations and completed ledger executions into notifications.
func (n *Notifier) Sink() events.Sink {
	return events.SinkFunc(func(_ context.Context, ev events.Event) error {
		switch {
		case ev.Type == events.StateChanged && ev.To == "MANUAL_INTERVENTION":
			reason := ev.Reason
			if reason == "" {
				reason = "escalated"
			}
			return n.Send(FormatEscalation(ev.IncidentID, reason))
		case ev.Type == events.StageEnded && ev.Stage == "Treasurer":
			if status, _ := ev.Fields["status"].(string); status != "completed" {
				return nil
			}
			optionType, _ := ev.Fields["option_type"].(string)
			cost, _ := ev.Fields["cost"].(float64)
			return n.Send(FormatIntervention(ev.IncidentID, optionType, cost))
		}
		return nil
	})
}
