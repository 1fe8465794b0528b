// Package events carries scheduler lifecycle notifications to observers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"

	"github.com/Ajith-Anand-R/VANGUARD/internal/logging"
)

// Type names a lifecycle event.
type Type string

const (
	StageStarted Type = "stage_started"
	StageLog     Type = "stage_log"
	StageEnded   Type = "stage_ended"
	StageSkipped Type = "stage_skipped"
	StateChanged Type = "state_changed"
)

// Event is one lifecycle notification.
type Event struct {
	Type       Type           `json:"type"`
	IncidentID string         `json:"incident_id"`
	Stage      string         `json:"stage,omitempty"`
	Phase      string         `json:"phase,omitempty"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	Level      string         `json:"level,omitempty"`
	Message    string         `json:"message,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Diff       string         `json:"diff,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	At         time.Time      `json:"at"`
}

// Sink receives events. Errors are logged by the bus and never propagate.
type Sink interface {
	Handle(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Handle implements Sink.
func (f SinkFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type namedSink struct {
	name string
	sink Sink
}

// Bus fans events out to sinks synchronously, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	sinks  []namedSink
	logger *zap.Logger
	now    func() time.Time
}

// NewBus returns an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logging.OrNop(logger), now: time.Now}
}

// Subscribe adds a sink.
func (b *Bus) Subscribe(name string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, namedSink{name: name, sink: sink})
}

// Publish delivers ev to every sink. A failing or panicking sink does not
// stop delivery to the others. A nil bus drops the event.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = b.now().UTC()
	}
	b.mu.RLock()
	sinks := append([]namedSink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, s := range sinks {
		b.deliver(ctx, s, ev)
	}
}

func (b *Bus) deliver(ctx context.Context, s namedSink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event sink panicked",
				zap.String("sink", s.name),
				zap.String("event", string(ev.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	if err := s.sink.Handle(ctx, ev); err != nil {
		b.logger.Warn("event sink failed",
			zap.String("sink", s.name),
			zap.String("event", string(ev.Type)),
			zap.Error(err),
		)
	}
}

// LogSink writes every event to logger.
func LogSink(logger *zap.Logger) Sink {
	logger = logging.OrNop(logger)
	return SinkFunc(func(_ context.Context, ev Event) error {
		fields := []zap.Field{
			zap.String("incident", ev.IncidentID),
			zap.String("event", string(ev.Type)),
		}
		if ev.Stage != "" {
			fields = append(fields, zap.String("stage", ev.Stage))
		}
		if ev.From != "" || ev.To != "" {
			fields = append(fields, zap.String("from", ev.From), zap.String("to", ev.To))
		}
		if ev.Reason != "" {
			fields = append(fields, zap.String("reason", ev.Reason))
		}
		msg := ev.Message
		if msg == "" {
			msg = string(ev.Type)
		}
		switch ev.Level {
		case "error":
			logger.Error(msg, fields...)
		case "warn":
			logger.Warn(msg, fields...)
		case "debug":
			logger.Debug(msg, fields...)
		default:
			logger.Info(msg, fields...)
		}
		if ev.Diff != "" {
			logger.Debug("context diff", zap.String("incident", ev.IncidentID), zap.String("diff", ev.Diff))
		}
		return nil
	})
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Handle implements Sink.
func (r *Recorder) Handle(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// SnapshotDiff renders a unified diff between two folded context views.
func SnapshotDiff(before, after map[string]json.RawMessage) (string, error) {
	a, err := indent(before)
	if err != nil {
		return "", err
	}
	b, err := indent(after)
	if err != nil {
		return "", err
	}
	if a == b {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "before",
		ToFile:   "after",
		Context:  1,
	})
}

func indent(snapshot map[string]json.RawMessage) (string, error) {
	if snapshot == nil {
		snapshot = map[string]json.RawMessage{}
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render snapshot: %w", err)
	}
	return string(data) + "\n", nil
}
