package runner

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/specterhq/specterqa/api/schemas"
	"github.com/specterhq/specterqa/internal/config"
)

// stuckStatus is one detector verdict. Escalate asks the next oracle call to
// use the powerful tier with Context prepended to the goal; Abort ends the
// step. Escalation never aborts by itself.
type stuckStatus struct {
	Abort    bool
	Reason   string
	Escalate bool
	Context  string
}

// stuckDetector watches a single step for the three independent no-progress
// signals: repeated state fingerprints, repeated (action, target) pairs and
// consecutive actions that changed nothing. All state lives here, created at
// step start and discarded at step end.
type stuckDetector struct {
	logger   *zap.Logger
	stepID   string
	escalate schemas.EscalationFunc

	warnThreshold   int
	abortThreshold  int
	repeatThreshold int
	noChangeAbort   int
	historySize     int

	fingerprints []string
	fpRepeats    int
	fpWarned     bool

	actionPairs    []string
	noChangeRun    int
	stuckDecisions int
	verifyFailures int
}

// newStuckDetector builds a detector for one step, applying per-step
// threshold overrides on top of the engine defaults.
func newStuckDetector(step schemas.Step, cfg config.RunnerConfig, logger *zap.Logger, escalate schemas.EscalationFunc) *stuckDetector {
	pick := func(override, def int) int {
		if override > 0 {
			return override
		}
		return def
	}
	return &stuckDetector{
		logger:          logger.Named("stuck_detector"),
		stepID:          step.ID,
		escalate:        escalate,
		warnThreshold:   pick(step.StuckWarnThreshold, cfg.StuckWarnThreshold),
		abortThreshold:  pick(step.StuckAbortThreshold, cfg.StuckAbortThreshold),
		repeatThreshold: pick(step.ActionRepeatThreshold, cfg.ActionRepeatThreshold),
		noChangeAbort:   cfg.NoChangeAbortThreshold,
		historySize:     cfg.HistorySize,
	}
}

// notify invokes the escalation callback. The callback is observational;
// anything it does, including panicking, stays out of the loop.
func (sd *stuckDetector) notify(event schemas.EscalationEvent) {
	if sd.escalate == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			sd.logger.Warn("Escalation callback panicked", zap.Any("panic", r))
		}
	}()
	sd.escalate(event)
}

// observeFingerprint feeds one pre-decision state fingerprint into the
// detector. Identical consecutive fingerprints escalate at the warn
// threshold and abort at the abort threshold; any change resets the counter.
func (sd *stuckDetector) observeFingerprint(fp string, actionIndex int) stuckStatus {
	if len(sd.fingerprints) > 0 && sd.fingerprints[len(sd.fingerprints)-1] == fp {
		sd.fpRepeats++
	} else {
		sd.fpRepeats = 1
		sd.fpWarned = false
	}
	sd.fingerprints = append(sd.fingerprints, fp)
	if sd.historySize > 0 && len(sd.fingerprints) > sd.historySize {
		sd.fingerprints = sd.fingerprints[len(sd.fingerprints)-sd.historySize:]
	}

	if sd.fpRepeats >= sd.abortThreshold {
		reason := fmt.Sprintf("no progress: identical page state observed %d consecutive times", sd.fpRepeats)
		sd.logger.Warn("Stuck abort threshold reached",
			zap.String("step_id", sd.stepID), zap.Int("repeats", sd.fpRepeats))
		sd.notify(schemas.EscalationEvent{
			StepID:                     sd.stepID,
			ActionIndex:                actionIndex,
			ConsecutiveSameFingerprint: sd.fpRepeats,
			Level:                      schemas.EscalationAbort,
			Reason:                     reason,
		})
		return stuckStatus{Abort: true, Reason: reason}
	}

	if sd.fpRepeats >= sd.warnThreshold {
		context := fmt.Sprintf(
			"WARNING: the page has not changed for %d consecutive observations. Your recent actions are not working. Try a substantially different approach.",
			sd.fpRepeats)
		if !sd.fpWarned {
			sd.fpWarned = true
			sd.logger.Info("Stuck warn threshold reached",
				zap.String("step_id", sd.stepID), zap.Int("repeats", sd.fpRepeats))
			sd.notify(schemas.EscalationEvent{
				StepID:                     sd.stepID,
				ActionIndex:                actionIndex,
				ConsecutiveSameFingerprint: sd.fpRepeats,
				Level:                      schemas.EscalationWarn,
				Reason:                     context,
			})
		}
		return stuckStatus{Escalate: true, Context: context}
	}

	return stuckStatus{}
}

// observeResult feeds one executed decision and its outcome into the
// detector: action-pair repetition escalates, a run of no-change results
// aborts.
func (sd *stuckDetector) observeResult(d schemas.Decision, res schemas.ActionResult, actionIndex int) stuckStatus {
	pair := string(d.Action) + "|" + d.ShortTarget()
	sd.actionPairs = append(sd.actionPairs, pair)
	if sd.historySize > 0 && len(sd.actionPairs) > sd.historySize {
		sd.actionPairs = sd.actionPairs[len(sd.actionPairs)-sd.historySize:]
	}

	if res.StateChanged {
		sd.noChangeRun = 0
	} else {
		sd.noChangeRun++
		if sd.noChangeRun >= sd.noChangeAbort {
			reason := fmt.Sprintf("no progress: %d consecutive actions produced no page change", sd.noChangeRun)
			sd.logger.Warn("No-change abort threshold reached",
				zap.String("step_id", sd.stepID), zap.Int("run", sd.noChangeRun))
			sd.notify(schemas.EscalationEvent{
				StepID:      sd.stepID,
				ActionIndex: actionIndex,
				Level:       schemas.EscalationAbort,
				Reason:      reason,
			})
			return stuckStatus{Abort: true, Reason: reason}
		}
	}

	if sd.repeatThreshold > 0 && len(sd.actionPairs) >= sd.repeatThreshold {
		tail := sd.actionPairs[len(sd.actionPairs)-sd.repeatThreshold:]
		identical := true
		for _, p := range tail {
			if p != tail[0] {
				identical = false
				break
			}
		}
		if identical {
			context := fmt.Sprintf(
				"WARNING: you have tried %q on %q %d times in a row without success. Do not repeat it; choose a different element or strategy.",
				d.Action, d.ShortTarget(), sd.repeatThreshold)
			sd.logger.Info("Action repetition detected",
				zap.String("step_id", sd.stepID),
				zap.String("action", string(d.Action)),
				zap.String("target", d.ShortTarget()))
			sd.notify(schemas.EscalationEvent{
				StepID:      sd.stepID,
				ActionIndex: actionIndex,
				Level:       schemas.EscalationWarn,
				Reason:      context,
			})
			return stuckStatus{Escalate: true, Context: context}
		}
	}

	return stuckStatus{}
}

// observeStuckDecision counts consecutive stuck decisions from the oracle.
func (sd *stuckDetector) observeStuckDecision(limit int) (abort bool, reason string) {
	sd.stuckDecisions++
	if sd.stuckDecisions >= limit {
		return true, fmt.Sprintf("agent reported stuck %d consecutive times", sd.stuckDecisions)
	}
	return false, ""
}

// resetStuckDecisions clears the consecutive-stuck counter after any
// non-stuck decision.
func (sd *stuckDetector) resetStuckDecisions() {
	sd.stuckDecisions = 0
}

// recordVerificationFailure increments and returns the per-step verification
// failure count.
func (sd *stuckDetector) recordVerificationFailure() int {
	sd.verifyFailures++
	return sd.verifyFailures
}
