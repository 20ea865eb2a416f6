package schemas

import "time"

// ActionResult reports the outcome of executing a single Decision against the
// application under test. Execution failures are carried in-band via Success
// and Error; the executor never raises them as Go errors.
type ActionResult struct {
	Success bool   `json:"success"`
	Action  Action `json:"action"`
	Target  string `json:"target,omitempty"`
	Value   string `json:"value,omitempty"`
	// Error is a human-readable failure description when Success is false.
	Error string `json:"error,omitempty"`
	// DurationMs is wall-clock execution time for the action.
	DurationMs int64 `json:"duration_ms"`
	// StateChanged reports whether the page fingerprint moved as a result of
	// the action. Click actions re-check once after a short delay before
	// this is allowed to be false.
	StateChanged bool `json:"state_changed"`
	// ChangeDetails lists human-readable descriptions of what changed, e.g.
	// "navigated to /checkout" or "modal opened".
	ChangeDetails []string `json:"change_details,omitempty"`
	// OverlayDismissals counts overlays dismissed automatically while
	// resolving this action.
	OverlayDismissals int `json:"overlay_dismissals,omitempty"`
}

// ActionRecord is one entry of the rolling action history shown to the
// decision oracle and used for repetition detection.
type ActionRecord struct {
	Action  Action `json:"action"`
	Target  string `json:"target,omitempty"`
	Value   string `json:"value,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Step is the unit of work given to the step runner: one goal pursued through
// repeated observe/decide/act iterations.
type Step struct {
	ID   string `json:"id" yaml:"id"`
	Goal string `json:"goal" yaml:"goal"`
	// SuccessCriteria, when non-empty, forces a verification pass before a
	// goal_achieved decision is accepted.
	SuccessCriteria []string `json:"success_criteria,omitempty" yaml:"success_criteria,omitempty"`
	// MaxActions caps loop iterations. Zero means the engine default (30).
	MaxActions int `json:"max_actions,omitempty" yaml:"max_actions,omitempty"`
	// MaxDurationSeconds caps wall-clock time. Zero means the default (180).
	MaxDurationSeconds int `json:"max_duration_seconds,omitempty" yaml:"max_duration_seconds,omitempty"`
	// StartURL, when set, is navigated to before the loop begins.
	StartURL string `json:"start_url,omitempty" yaml:"start_url,omitempty"`
	// Per-step overrides of the engine stuck thresholds. Zero means the
	// engine default.
	StuckWarnThreshold    int `json:"stuck_warn_threshold,omitempty" yaml:"stuck_warn_threshold,omitempty"`
	StuckAbortThreshold   int `json:"stuck_abort_threshold,omitempty" yaml:"stuck_abort_threshold,omitempty"`
	ActionRepeatThreshold int `json:"action_repeat_threshold,omitempty" yaml:"action_repeat_threshold,omitempty"`
}

// StepResult is the full outcome of running one Step.
//
// Invariant: Passed is true exactly when GoalAchieved is true and Error is
// empty. A step that reports a goal but also an error did not pass.
type StepResult struct {
	StepID          string         `json:"step_id"`
	Passed          bool           `json:"passed"`
	GoalAchieved    bool           `json:"goal_achieved"`
	Error           string         `json:"error,omitempty"`
	Screenshots     [][]byte       `json:"-"`
	ScreenshotCount int            `json:"screenshot_count"`
	UXObservations  []string       `json:"ux_observations,omitempty"`
	ActionsTaken    []ActionRecord `json:"actions_taken"`
	ActionCount     int            `json:"action_count"`
	DurationSeconds float64        `json:"duration_seconds"`
	// CheckpointsReached holds checkpoint names in arrival order, deduplicated.
	CheckpointsReached []string `json:"checkpoints_reached,omitempty"`
	Findings           []Finding `json:"findings,omitempty"`
	CostUSD            float64   `json:"cost_usd"`
}

// Finalize derives the redundant fields from the primary ones. Every code
// path that constructs a StepResult must call this before returning it.
func (r *StepResult) Finalize(start time.Time) {
	r.Passed = r.GoalAchieved && r.Error == ""
	r.ActionCount = len(r.ActionsTaken)
	r.ScreenshotCount = len(r.Screenshots)
	r.DurationSeconds = time.Since(start).Seconds()
}

// Finding is a noteworthy defect or anomaly observed during a step, distinct
// from plain UX commentary.
type Finding struct {
	StepID      string `json:"step_id"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// EscalationLevel classifies stuck-detector transitions reported through the
// escalation callback.
type EscalationLevel string

const (
	EscalationWarn  EscalationLevel = "warn"
	EscalationAbort EscalationLevel = "abort"
)

// EscalationEvent describes a stuck-detector state transition. Consumers are
// observational; nothing they do feeds back into the loop.
type EscalationEvent struct {
	StepID                     string          `json:"step_id"`
	ActionIndex                int             `json:"action_index"`
	ConsecutiveSameFingerprint int             `json:"consecutive_same_fingerprint"`
	Level                      EscalationLevel `json:"level"`
	Reason                     string          `json:"reason"`
}
