package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/Ajith-Anand-R/VANGUARD/internal/decision"
	"github.com/Ajith-Anand-R/VANGUARD/internal/incident"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func phaseLabel(p incident.Phase) string {
	switch {
	case p == incident.PhaseStabilized:
		return green(p)
	case p == incident.PhaseManualIntervention || p == incident.PhaseFailed:
		return red(p)
	case p == incident.PhaseNoViableSolution:
		return yellow(p)
	case p.Active():
		return cyan(p)
	}
	return string(p)
}

func outcomeLabel(o decision.Outcome) string {
	switch o {
	case decision.InterventionExecuted:
		return green(o)
	case decision.FailureInternal:
		return red(o)
	case decision.ObservedOnly:
		return string(o)
	}
	return yellow(o)
}

func money(v float64) string {
	return "$" + humanize.CommafWithDigits(v, 2)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
