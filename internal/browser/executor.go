package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/specterhq/specterqa/api/schemas"
	"github.com/specterhq/specterqa/internal/config"
)

// Executor turns oracle decisions into real browser interactions on one
// session. Execution never returns a Go error and never panics outward:
// every failure is folded into the ActionResult so the decision loop always
// receives something it can reason about.
type Executor struct {
	session *Session
	cfg     config.BrowserConfig
	logger  *zap.Logger
}

// NewExecutor binds an executor to a live session.
func NewExecutor(session *Session, cfg config.BrowserConfig, logger *zap.Logger) *Executor {
	return &Executor{
		session: session,
		cfg:     cfg,
		logger:  logger.Named("executor"),
	}
}

// clickRecheckDelay gives async UI (animations, fetches kicked off by a
// click) a moment to land before declaring that nothing changed.
const clickRecheckDelay = 500 * time.Millisecond

// Execute performs one decision and reports what happened.
func (e *Executor) Execute(ctx context.Context, d schemas.Decision) (res schemas.ActionResult) {
	start := time.Now()
	res = schemas.ActionResult{
		Action: d.Action,
		Target: d.Target,
		Value:  d.Value,
	}
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("action panicked: %v", r)
			e.logger.Error("Recovered from panic during action execution",
				zap.String("action", string(d.Action)), zap.Any("panic", r))
		}
		res.DurationMs = time.Since(start).Milliseconds()
	}()

	before, stateErr := e.capturePageState(ctx)
	if stateErr != nil {
		e.logger.Debug("Pre-action state capture failed", zap.Error(stateErr))
	}

	var err error
	switch d.Action {
	case schemas.ActionClick:
		err = e.executeClick(ctx, d, &res)
	case schemas.ActionFill:
		err = e.executeFill(ctx, d)
	case schemas.ActionNavigate:
		err = e.executeNavigate(ctx, d)
	case schemas.ActionScroll:
		err = e.executeScroll(ctx, d)
	case schemas.ActionKeyboard:
		err = e.executeKeyboard(ctx, d)
	case schemas.ActionWait:
		err = e.executeWait(ctx, d)
	default:
		err = fmt.Errorf("action %q is not executable", d.Action)
	}

	if err != nil {
		res.Success = false
		res.Error = err.Error()
		e.logger.Warn("Action failed",
			zap.String("action", string(d.Action)),
			zap.String("target", d.ShortTarget()),
			zap.Error(err))
		return res
	}
	res.Success = true

	after, _ := e.capturePageState(ctx)
	changed, details := diffPageStates(before, after)

	// Clicks often trigger async work; give the page one more beat before
	// reporting a no-op.
	if !changed && d.Action == schemas.ActionClick {
		if serr := e.session.Sleep(ctx, clickRecheckDelay); serr == nil {
			after, _ = e.capturePageState(ctx)
			changed, details = diffPageStates(before, after)
		}
	}

	res.StateChanged = changed
	res.ChangeDetails = details
	e.logger.Debug("Action completed",
		zap.String("action", string(d.Action)),
		zap.String("target", d.ShortTarget()),
		zap.Bool("state_changed", changed),
		zap.Strings("changes", details))
	return res
}

// Screenshot captures the current viewport.
func (e *Executor) Screenshot(ctx context.Context) ([]byte, error) {
	return e.session.Screenshot(ctx)
}

// Navigate loads a URL directly, bypassing decision handling. The step
// runner uses this for start URLs.
func (e *Executor) Navigate(ctx context.Context, url string) error {
	return e.session.Navigate(ctx, url)
}

var _ schemas.ActionExecutor = (*Executor)(nil)
