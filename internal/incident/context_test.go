package incident

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeShadowsEarlierKeys(t *testing.T) {
	c := NewContext()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Merge("SignalMonitor", at, map[string]any{"severity": 40, "note": "first"}))
	require.NoError(t, c.Merge("SignalMonitor", at.Add(time.Second), map[string]any{"severity": 72}))

	var severity int
	ok, err := c.Decode("severity", &severity)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 72, severity)
	assert.Len(t, c.Entries, 3)

	snap := c.Snapshot()
	assert.JSONEq(t, `"first"`, string(snap["note"]))
}

func TestDecodeMissingKey(t *testing.T) {
	c := NewContext()
	var v map[string]any
	ok, err := c.Decode("absent", &v)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCloneIsIndependent(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.Merge("A", time.Now(), map[string]any{"k": "v"}))
	clone := c.Clone()
	clone.Entries[0].Value[1] = 'X'
	assert.JSONEq(t, `"v"`, string(c.Snapshot()["k"]))
}

func TestStagesInFirstWriteOrder(t *testing.T) {
	c := NewContext()
	now := time.Now()
	require.NoError(t, c.Merge("B", now, map[string]any{"x": 1}))
	require.NoError(t, c.Merge("A", now, map[string]any{"y": 1}))
	require.NoError(t, c.Merge("B", now, map[string]any{"z": 1}))
	assert.Equal(t, []string{"B", "A"}, c.Stages())
	assert.Len(t, c.Until(2).Entries, 2)
	assert.Len(t, c.Until(10).Entries, 3)
}

func TestCurrentPassStartsAtLastTrigger(t *testing.T) {
	c := NewContext()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Merge(TriggerStage, t0, map[string]any{KeyTrigger: 1, KeyAggregateRisk: 70}))
	require.NoError(t, c.Merge("Treasurer", t0.Add(time.Minute), map[string]any{KeyExecution: "done"}))
	require.NoError(t, c.Merge(TriggerStage, t0.Add(time.Hour), map[string]any{KeyTrigger: 2, KeyAggregateRisk: 80}))

	pass := c.CurrentPass()
	assert.Len(t, pass.Entries, 2)
	assert.False(t, pass.Has(KeyExecution))
	assert.True(t, c.Has(KeyExecution))

	untriggered := NewContext()
	require.NoError(t, untriggered.Merge("A", t0, map[string]any{"x": 1}))
	assert.Len(t, untriggered.CurrentPass().Entries, 1)
}

func TestPhaseClassification(t *testing.T) {
	for _, p := range Phases() {
		assert.True(t, p.Valid(), p)
		assert.False(t, p.Active() && p.Terminal(), p)
	}
	assert.False(t, PhaseDecisionPending.Active())
	assert.False(t, PhaseDecisionPending.Terminal())
	assert.True(t, PhaseAtRisk.Active())
	assert.True(t, PhaseManualIntervention.Terminal())
	assert.False(t, Phase("BOGUS").Valid())
}

func TestMutationApply(t *testing.T) {
	rec := Record{ID: "SH-1", Phase: PhaseIdle, Context: NewContext(), RetryCount: 2}
	at := time.Now()

	require.NoError(t, Mutation{Phase: PhaseAnalyzing, SetActiveStage: true, ActiveStage: "SignalMonitor", IncrementRetry: true}.Apply(&rec, at))
	assert.Equal(t, PhaseAnalyzing, rec.Phase)
	assert.Equal(t, "SignalMonitor", rec.ActiveStage)
	assert.Equal(t, 3, rec.RetryCount)

	require.NoError(t, Mutation{Context: map[string]any{"k": 1}, ResetRetry: true}.Apply(&rec, at))
	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, []string{"System"}, rec.Context.Stages())

	err := Mutation{Phase: "NOPE"}.Apply(&rec, at)
	assert.Error(t, err)
}

func validPrecheckContext(t *testing.T) Context {
	t.Helper()
	c := NewContext()
	require.NoError(t, c.Merge("SignalMonitor", time.Now(), map[string]any{
		KeySignalAnalysis: map[string]any{
			"disruption_detected": true,
			"severity":            72,
			"shipment_id":         "SH-4429",
		},
	}))
	require.NoError(t, c.Merge("RootCauseAnalyst", time.Now(), map[string]any{
		KeyRootCause: map[string]any{"root_cause": "SUPPLIER_DELAY", "confidence": 0.9},
	}))
	return c
}

func TestValidateStageInputAcceptsWellFormedContext(t *testing.T) {
	require.NoError(t, ValidateStageInput(PhaseGuardrailsPrecheck, validPrecheckContext(t)))
	require.NoError(t, ValidateStageInput(PhaseAnalyzing, NewContext()))
}

func TestValidateStageInputRejectsMissingKeys(t *testing.T) {
	err := ValidateStageInput(PhaseNegotiating, validPrecheckContext(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrContractViolation))
}

func TestValidateStageInputRejectsWrongTypes(t *testing.T) {
	c := validPrecheckContext(t)
	require.NoError(t, c.Merge("OptionGenerator", time.Now(), map[string]any{
		KeyOptionsData: map[string]any{"options": "not-a-list", "options_count": 1},
	}))
	err := ValidateStageInput(PhaseGuardrailsPostcheck, c)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContractViolation)
}

func TestValidateStageInputRejectsUnknownVersion(t *testing.T) {
	c := validPrecheckContext(t)
	c.Version = 99
	err := ValidateStageInput(PhaseGuardrailsPrecheck, c)
	assert.ErrorIs(t, err, ErrContractViolation)
}

func TestContextJSONRoundTripKeepsVersion(t *testing.T) {
	c := validPrecheckContext(t)
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"schema_version":1`)
}
