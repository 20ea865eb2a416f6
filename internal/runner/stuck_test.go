package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/specterhq/specterqa/api/schemas"
)

func newTestDetector(t *testing.T, escalate schemas.EscalationFunc) *stuckDetector {
	t.Helper()
	return newStuckDetector(schemas.Step{ID: "step-1"}, testRunnerConfig(), zaptest.NewLogger(t), escalate)
}

func TestStuckDetector_FingerprintWarnsThenAborts(t *testing.T) {
	var events []schemas.EscalationEvent
	sd := newTestDetector(t, func(e schemas.EscalationEvent) { events = append(events, e) })

	var aborted stuckStatus
	for i := 0; i < 10; i++ {
		st := sd.observeFingerprint("same", i)
		switch {
		case i < 4:
			assert.False(t, st.Escalate, "iteration %d should be quiet", i)
			assert.False(t, st.Abort)
		case i < 9:
			assert.True(t, st.Escalate, "iteration %d should escalate", i)
			assert.False(t, st.Abort)
			assert.Contains(t, st.Context, "not changed")
		default:
			aborted = st
		}
	}

	require.True(t, aborted.Abort)
	assert.Contains(t, aborted.Reason, "10")

	// One warn transition, one abort transition.
	require.Len(t, events, 2)
	assert.Equal(t, schemas.EscalationWarn, events[0].Level)
	assert.Equal(t, 5, events[0].ConsecutiveSameFingerprint)
	assert.Equal(t, schemas.EscalationAbort, events[1].Level)
	assert.Equal(t, 10, events[1].ConsecutiveSameFingerprint)
}

func TestStuckDetector_FingerprintCounterResetsOnChange(t *testing.T) {
	sd := newTestDetector(t, nil)

	for i := 0; i < 4; i++ {
		sd.observeFingerprint("a", i)
	}
	st := sd.observeFingerprint("b", 4)
	assert.False(t, st.Escalate)

	// Four more repeats of the new fingerprint still sit below the warn
	// threshold because the counter restarted.
	for i := 5; i < 8; i++ {
		st = sd.observeFingerprint("b", i)
		assert.False(t, st.Escalate, "iteration %d", i)
	}
	st = sd.observeFingerprint("b", 8)
	assert.True(t, st.Escalate)
}

func TestStuckDetector_ActionRepetitionEscalatesNeverAborts(t *testing.T) {
	var events []schemas.EscalationEvent
	sd := newTestDetector(t, func(e schemas.EscalationEvent) { events = append(events, e) })

	d := schemas.Decision{Action: schemas.ActionClick, Target: "Submit"}
	ok := schemas.ActionResult{Success: true, StateChanged: true}

	st := sd.observeResult(d, ok, 0)
	assert.False(t, st.Escalate)
	st = sd.observeResult(d, ok, 1)
	assert.False(t, st.Escalate)
	st = sd.observeResult(d, ok, 2)
	require.True(t, st.Escalate)
	assert.False(t, st.Abort)
	assert.Contains(t, st.Context, "Submit")
	assert.Contains(t, st.Context, "3")

	require.NotEmpty(t, events)
	assert.Equal(t, schemas.EscalationWarn, events[len(events)-1].Level)
}

func TestStuckDetector_ActionRepetitionWindowBreaksOnDifferentAction(t *testing.T) {
	sd := newTestDetector(t, nil)
	ok := schemas.ActionResult{Success: true, StateChanged: true}

	sd.observeResult(schemas.Decision{Action: schemas.ActionClick, Target: "Submit"}, ok, 0)
	sd.observeResult(schemas.Decision{Action: schemas.ActionClick, Target: "Submit"}, ok, 1)
	st := sd.observeResult(schemas.Decision{Action: schemas.ActionScroll, Target: "down"}, ok, 2)
	assert.False(t, st.Escalate)
	st = sd.observeResult(schemas.Decision{Action: schemas.ActionClick, Target: "Submit"}, ok, 3)
	assert.False(t, st.Escalate)
}

func TestStuckDetector_NoChangeRunAborts(t *testing.T) {
	sd := newTestDetector(t, nil)
	noop := schemas.ActionResult{Success: true, StateChanged: false}

	// Vary the target so action repetition stays quiet.
	targets := []string{"a", "b", "c", "d", "e"}
	var st stuckStatus
	for i, target := range targets {
		st = sd.observeResult(schemas.Decision{Action: schemas.ActionClick, Target: target}, noop, i)
		if i < len(targets)-1 {
			assert.False(t, st.Abort, "iteration %d", i)
		}
	}
	require.True(t, st.Abort)
	assert.Contains(t, st.Reason, "5")
}

func TestStuckDetector_NoChangeRunResetsOnChange(t *testing.T) {
	sd := newTestDetector(t, nil)
	noop := schemas.ActionResult{Success: true, StateChanged: false}
	moved := schemas.ActionResult{Success: true, StateChanged: true}

	targets := []string{"a", "b", "c", "d"}
	for i, target := range targets {
		sd.observeResult(schemas.Decision{Action: schemas.ActionClick, Target: target}, noop, i)
	}
	sd.observeResult(schemas.Decision{Action: schemas.ActionClick, Target: "e"}, moved, 4)
	st := sd.observeResult(schemas.Decision{Action: schemas.ActionClick, Target: "f"}, noop, 5)
	assert.False(t, st.Abort)
}

func TestStuckDetector_StuckDecisionCounter(t *testing.T) {
	sd := newTestDetector(t, nil)

	abort, _ := sd.observeStuckDecision(3)
	assert.False(t, abort)
	abort, _ = sd.observeStuckDecision(3)
	assert.False(t, abort)

	sd.resetStuckDecisions()
	abort, _ = sd.observeStuckDecision(3)
	assert.False(t, abort)
	abort, _ = sd.observeStuckDecision(3)
	assert.False(t, abort)
	abort, reason := sd.observeStuckDecision(3)
	assert.True(t, abort)
	assert.Contains(t, reason, "3")
}

func TestStuckDetector_EscalationCallbackPanicIsContained(t *testing.T) {
	sd := newTestDetector(t, func(schemas.EscalationEvent) { panic("observer bug") })

	assert.NotPanics(t, func() {
		for i := 0; i < 10; i++ {
			sd.observeFingerprint("same", i)
		}
	})
}
