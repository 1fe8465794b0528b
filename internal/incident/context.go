package incident

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ContextSchemaVersion is the version of the context layout written by this build.
const ContextSchemaVersion = 1

// Well-known context keys.
const (
	KeyTrigger        = "trigger"
	KeyAggregateRisk  = "aggregate_risk"
	KeySignalAnalysis = "signal_analysis"
	KeyRootCause      = "root_cause"
	KeyGuardrailsPre  = "guardrails_pre"
	KeyOptionsData    = "options_data"
	KeyAuditorData    = "auditor_data"
	KeyGuardrailsPost = "guardrails_post"
	KeyApprovedBudget = "approved_budget"
	KeyNegotiation    = "negotiation"
	KeyExecution      = "execution"
	KeyPostExecution  = "post_execution"
	KeyFinalDecision  = "final_decision"
	KeyFinalLog       = "final_log"
	KeyError          = "error"
)

// TriggerStage is the writer name of the entries that open a pass.
const TriggerStage = "Trigger"

// Entry is one value written into the context by a stage.
type Entry struct {
	Stage string          `json:"stage"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	At    time.Time       `json:"at"`
}

// Context is the append-only record of stage outputs for one incident.
// Entries are never removed; the folded view lets later keys shadow earlier ones.
type Context struct {
	Version int     `json:"schema_version"`
	Entries []Entry `json:"entries"`
}

// NewContext returns an empty context at the current schema version.
func NewContext() Context {
	return Context{Version: ContextSchemaVersion}
}

// Merge appends one entry per key in values, in key order.
func (c *Context) Merge(stage string, at time.Time, values map[string]any) error {
	if c.Version == 0 {
		c.Version = ContextSchemaVersion
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		raw, err := json.Marshal(values[k])
		if err != nil {
			return fmt.Errorf("marshal context key %s: %w", k, err)
		}
		entries = append(entries, Entry{Stage: stage, Key: k, Value: raw, At: at.UTC()})
	}
	c.Entries = append(c.Entries, entries...)
	return nil
}

// Snapshot folds the entries into a key/value view.
func (c Context) Snapshot() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(c.Entries))
	for _, e := range c.Entries {
		out[e.Key] = e.Value
	}
	return out
}

// SnapshotJSON renders the folded view as a JSON object with sorted keys.
func (c Context) SnapshotJSON() ([]byte, error) {
	return json.Marshal(c.Snapshot())
}

// Has reports whether key has been written.
func (c Context) Has(key string) bool {
	_, ok := c.Latest(key)
	return ok
}

// Latest returns the most recent entry for key.
func (c Context) Latest(key string) (Entry, bool) {
	for i := len(c.Entries) - 1; i >= 0; i-- {
		if c.Entries[i].Key == key {
			return c.Entries[i], true
		}
	}
	return Entry{}, false
}

// Decode unmarshals the latest value of key into v. It returns false when
// the key is absent.
func (c Context) Decode(key string, v any) (bool, error) {
	e, ok := c.Latest(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.Value, v); err != nil {
		return true, fmt.Errorf("decode context key %s: %w", key, err)
	}
	return true, nil
}

// Clone returns a deep copy.
func (c Context) Clone() Context {
	out := Context{Version: c.Version, Entries: make([]Entry, len(c.Entries))}
	for i, e := range c.Entries {
		e.Value = append(json.RawMessage(nil), e.Value...)
		out.Entries[i] = e
	}
	return out
}

// Stages returns the distinct stages that wrote entries, in first-write order.
func (c Context) Stages() []string {
	seen := make(map[string]bool)
	var stages []string
	for _, e := range c.Entries {
		if !seen[e.Stage] {
			seen[e.Stage] = true
			stages = append(stages, e.Stage)
		}
	}
	return stages
}

// Until returns the context as it stood after the first n entries.
func (c Context) Until(n int) Context {
	if n > len(c.Entries) {
		n = len(c.Entries)
	}
	return Context{Version: c.Version, Entries: c.Entries[:n]}
}

// CurrentPass returns the entries written since the most recent trigger. A
// context that was never triggered is returned whole.
func (c Context) CurrentPass() Context {
	last := -1
	for i := len(c.Entries) - 1; i >= 0; i-- {
		if c.Entries[i].Stage == TriggerStage {
			last = i
			break
		}
	}
	if last < 0 {
		return c
	}
	start := last
	for start > 0 && c.Entries[start-1].Stage == TriggerStage && c.Entries[start-1].At.Equal(c.Entries[last].At) {
		start--
	}
	return Context{Version: c.Version, Entries: c.Entries[start:]}
}
