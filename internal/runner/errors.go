package runner

import "fmt"

// StuckError ends a step when the detector or the oracle concludes no
// forward progress is possible. The reason carries the triggering signal and
// its count.
type StuckError struct {
	StepID string
	Reason string
}

func (e *StuckError) Error() string {
	return fmt.Sprintf("step %s is stuck: %s", e.StepID, e.Reason)
}

// VerificationError ends a step whose completion claims kept failing
// verification against the declared success criteria.
type VerificationError struct {
	StepID     string
	Failures   int
	LastReason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("Verification failed %d times: %s", e.Failures, e.LastReason)
}
