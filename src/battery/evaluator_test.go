package battery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator(t *testing.T, rearm bool) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(ForCells(3), rearm)
	require.NoError(t, err)
	return e
}

// countWarnings feeds a voltage sequence through one state and counts
// the warnings raised per band
func countWarnings(e *Evaluator, state *NotificationState, voltages ...float64) map[Band]int {
	counts := map[Band]int{}
	for _, v := range voltages {
		r := e.Evaluate(v, state)
		if r.Has(ActionWarn) {
			counts[r.Band]++
		}
	}
	return counts
}

func TestNewEvaluator_RejectsBadThresholds(t *testing.T) {
	th := ForCells(3)
	th.VeryLow = th.Low + 0.1

	e, err := NewEvaluator(th, false)
	assert.Nil(t, e)
	assert.ErrorIs(t, err, ErrInvalidThresholds)
}

func TestEvaluate_Normal(t *testing.T) {
	e := newTestEvaluator(t, false)
	state := &NotificationState{}

	r := e.Evaluate(12.3, state)

	assert.Equal(t, Normal, r.Band)
	assert.InDelta(t, 0.8889, r.Percentage, 1e-4)
	assert.Equal(t, []Action{ActionReport}, r.Actions)
	assert.Equal(t, NotificationState{}, *state)
	assert.Equal(t, "12.300V (88.89%)", r.Summary())
}

func TestEvaluate_Low(t *testing.T) {
	e := newTestEvaluator(t, false)
	state := &NotificationState{}

	// 10.0V is below LOW (10.8) but above VLOW (10.5)
	first := e.Evaluate(10.0, state)
	assert.Equal(t, Low, first.Band)
	assert.Equal(t, []Action{ActionReport, ActionWarn}, first.Actions)
	assert.True(t, state.SentLow)
	assert.False(t, state.SentVeryLow)
	assert.Equal(t, "Warning: battery level low (10.000V / 3.70%)", first.WarningMessage())

	// Same reading again only reports
	second := e.Evaluate(10.0, state)
	assert.Equal(t, []Action{ActionReport}, second.Actions)
}

func TestEvaluate_VeryLowWarnsOnce(t *testing.T) {
	e := newTestEvaluator(t, false)
	state := &NotificationState{}

	counts := countWarnings(e, state, 12.0, 11.0, 10.4, 10.4, 10.3, 10.45, 10.2)

	assert.Equal(t, 1, counts[VeryLow])
	// The pack dropped straight past the low band
	assert.Equal(t, 0, counts[Low])
	assert.True(t, state.SentVeryLow)
	assert.False(t, state.SentLow)
}

func TestEvaluate_LatchedStateFromOutside(t *testing.T) {
	e := newTestEvaluator(t, false)

	state := &NotificationState{SentLow: true}
	assert.False(t, e.Evaluate(10.7, state).Has(ActionWarn))

	state = &NotificationState{SentVeryLow: true}
	assert.False(t, e.Evaluate(10.4, state).Has(ActionWarn))
	// The low latch is independent
	assert.True(t, e.Evaluate(10.7, state).Has(ActionWarn))
}

func TestEvaluate_CriticalEveryTick(t *testing.T) {
	e := newTestEvaluator(t, false)
	state := &NotificationState{}

	for i := 0; i < 5; i++ {
		r := e.Evaluate(9.5, state)
		assert.Equal(t, Critical, r.Band)
		assert.Equal(t, []Action{ActionReport, ActionWarn, ActionShutdown}, r.Actions)
		assert.Equal(t, 0.0, r.Percentage)
	}
	assert.Equal(t, NotificationState{}, *state)

	r := e.Evaluate(10.0, state)
	assert.Equal(t, Low, r.Band)
	assert.False(t, r.Has(ActionShutdown))
}

func TestEvaluate_ExtremeVoltages(t *testing.T) {
	e := newTestEvaluator(t, false)
	state := &NotificationState{}

	r := e.Evaluate(-1e12, state)
	assert.Equal(t, Critical, r.Band)
	assert.Equal(t, 0.0, r.Percentage)

	r = e.Evaluate(1e12, state)
	assert.Equal(t, Normal, r.Band)
	assert.Equal(t, 1.0, r.Percentage)
}

func TestEvaluate_Reentry(t *testing.T) {
	dip := []float64{12.0, 10.4, 10.4, 12.0, 12.2, 10.4, 10.3}

	t.Run("latches hold for the whole session by default", func(t *testing.T) {
		e := newTestEvaluator(t, false)
		counts := countWarnings(e, &NotificationState{}, dip...)
		assert.Equal(t, 1, counts[VeryLow])
	})

	t.Run("rearm warns again after recovery", func(t *testing.T) {
		e := newTestEvaluator(t, true)
		counts := countWarnings(e, &NotificationState{}, dip...)
		assert.Equal(t, 2, counts[VeryLow])
	})

	t.Run("rearm clears only latches above the current band", func(t *testing.T) {
		e := newTestEvaluator(t, true)
		state := &NotificationState{SentLow: true, SentVeryLow: true}

		// Back into low: very low re-arms, low stays latched
		r := e.Evaluate(10.7, state)
		assert.False(t, r.Has(ActionWarn))
		assert.True(t, state.SentLow)
		assert.False(t, state.SentVeryLow)

		// Recovered fully
		e.Evaluate(11.5, state)
		assert.Equal(t, NotificationState{}, *state)
	})

	t.Run("rearm leaves latches alone while critical", func(t *testing.T) {
		e := newTestEvaluator(t, true)
		state := &NotificationState{SentLow: true, SentVeryLow: true}
		e.Evaluate(9.0, state)
		assert.Equal(t, NotificationState{SentLow: true, SentVeryLow: true}, *state)
	})
}

func TestMessages(t *testing.T) {
	r := Result{Voltage: 10.4, Percentage: 0.185185, Band: VeryLow}
	assert.Equal(t, "10.400V (18.52%)", r.Summary())
	assert.Equal(t, "Warning: battery level very low (10.400V / 18.52%)", r.WarningMessage())

	r = Result{Voltage: 9.5, Percentage: 0, Band: Critical}
	assert.Equal(t, "Warning: battery level critical (9.500V / 0.00%)", r.WarningMessage())
	assert.Equal(t, "Warning: battery level critical. Shutting down now...", ShutdownMessage)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "report", ActionReport.String())
	assert.Equal(t, "warn", ActionWarn.String())
	assert.Equal(t, "shutdown", ActionShutdown.String())
}
