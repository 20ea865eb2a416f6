package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/specterhq/specterqa/api/schemas"
	"github.com/specterhq/specterqa/internal/config"
)

func testRunnerConfig() config.RunnerConfig {
	return config.RunnerConfig{
		MaxActions:              30,
		MaxDuration:             3 * time.Minute,
		SettleDelay:             0,
		StuckWarnThreshold:      5,
		StuckAbortThreshold:     10,
		ActionRepeatThreshold:   3,
		NoChangeAbortThreshold:  5,
		MaxConsecutiveStuck:     3,
		MaxVerificationFailures: 2,
		HistorySize:             10,
	}
}

// scriptedDecider replays a fixed sequence of decisions and verification
// verdicts, recording every request it receives.
type scriptedDecider struct {
	mu        sync.Mutex
	decisions []schemas.Decision
	decideErr map[int]error
	verdicts  []schemas.VerificationResult

	decideCalls []schemas.DecideRequest
	verifyCalls []schemas.VerifyRequest
	resets      int
}

func (d *scriptedDecider) Decide(_ context.Context, req schemas.DecideRequest) (schemas.Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := len(d.decideCalls)
	d.decideCalls = append(d.decideCalls, req)
	if err, ok := d.decideErr[idx]; ok {
		return schemas.Decision{}, err
	}
	if idx >= len(d.decisions) {
		return d.decisions[len(d.decisions)-1], nil
	}
	return d.decisions[idx], nil
}

func (d *scriptedDecider) Verify(_ context.Context, req schemas.VerifyRequest) (schemas.VerificationResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := len(d.verifyCalls)
	d.verifyCalls = append(d.verifyCalls, req)
	if idx >= len(d.verdicts) {
		return schemas.VerificationResult{Verified: true}, nil
	}
	return d.verdicts[idx], nil
}

func (d *scriptedDecider) Close() error { return nil }

func (d *scriptedDecider) ResetStep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets++
}

// fakeExecutor produces a fresh screenshot per capture by default, so the
// fingerprint signal stays quiet unless a test pins it.
type fakeExecutor struct {
	mu           sync.Mutex
	shots        int
	frozenShot   []byte
	executeFn    func(schemas.Decision) schemas.ActionResult
	executed     []schemas.Decision
	navigatedTo  []string
	navErr       error
	screenshotErr error
}

func (e *fakeExecutor) Execute(_ context.Context, d schemas.Decision) schemas.ActionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, d)
	if e.executeFn != nil {
		return e.executeFn(d)
	}
	return schemas.ActionResult{
		Success:      true,
		Action:       d.Action,
		Target:       d.Target,
		StateChanged: true,
	}
}

func (e *fakeExecutor) Screenshot(_ context.Context) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.screenshotErr != nil {
		return nil, e.screenshotErr
	}
	if e.frozenShot != nil {
		return e.frozenShot, nil
	}
	e.shots++
	return []byte(fmt.Sprintf("shot-%d", e.shots)), nil
}

func (e *fakeExecutor) Navigate(_ context.Context, url string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.navigatedTo = append(e.navigatedTo, url)
	return e.navErr
}

func clickDecision(target string) schemas.Decision {
	return schemas.Decision{Action: schemas.ActionClick, Target: target, Reasoning: "test"}
}

func doneDecision() schemas.Decision {
	return schemas.Decision{Action: schemas.ActionDone, GoalAchieved: true, Reasoning: "test"}
}
