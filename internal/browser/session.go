package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Session wraps one browser tab. All interaction with the tab funnels
// through RunActions so operational timeouts and tab lifetime compose
// consistently.
type Session struct {
	id            string
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *zap.Logger
	navTimeout    time.Duration
	actionTimeout time.Duration
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// Close tears down the tab.
func (s *Session) Close() {
	s.cancel()
}

// RunActions executes chromedp actions against the tab while honoring the
// operational context: whichever of the two contexts dies first wins.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("session closed: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(s.ctx, actions...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Evaluate runs a JavaScript expression (typically an IIFE) and unmarshals
// the result. Promises are awaited; JS exceptions surface as null results
// rather than protocol errors.
func (s *Session) Evaluate(ctx context.Context, script string, out *json.RawMessage) error {
	opCtx, cancel := context.WithTimeout(ctx, s.actionTimeout)
	defer cancel()

	err := s.RunActions(opCtx,
		chromedp.Evaluate(script, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}),
	)
	if err != nil && opCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("script evaluation timed out after %v: %w", s.actionTimeout, opCtx.Err())
	}
	return err
}

// Navigate loads a URL and waits for the document to become ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.navTimeout)
	defer cancel()

	err := s.RunActions(opCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation to %s timed out after %v: %w", url, s.navTimeout, opCtx.Err())
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Screenshot captures the current viewport as PNG bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.actionTimeout)
	defer cancel()

	var buf []byte
	err := s.RunActions(opCtx, chromedp.ActionFunc(func(cctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(cctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}
	return buf, nil
}

// CurrentURL returns the tab's location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var raw json.RawMessage
	if err := s.Evaluate(ctx, "window.location.href", &raw); err != nil {
		return "", err
	}
	var url string
	if err := json.Unmarshal(raw, &url); err != nil {
		return "", fmt.Errorf("unexpected location payload: %w", err)
	}
	return url, nil
}

// ClickAt dispatches a full press/release mouse cycle at CSS coordinates.
func (s *Session) ClickAt(ctx context.Context, x, y float64) error {
	opCtx, cancel := context.WithTimeout(ctx, s.actionTimeout)
	defer cancel()

	press := input.DispatchMouseEvent(input.MousePressed, x, y).
		WithButton(input.Left).
		WithClickCount(1)
	release := input.DispatchMouseEvent(input.MouseReleased, x, y).
		WithButton(input.Left).
		WithClickCount(1)

	err := s.RunActions(opCtx, press, release)
	if err != nil && opCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("mouse click timed out after %v: %w", s.actionTimeout, opCtx.Err())
	}
	return err
}

// SendKeys types a string into whatever element currently holds focus.
func (s *Session) SendKeys(ctx context.Context, keys string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.actionTimeout)
	defer cancel()

	err := s.RunActions(opCtx, chromedp.KeyEvent(keys))
	if err != nil && opCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("key dispatch timed out after %v: %w", s.actionTimeout, opCtx.Err())
	}
	return err
}

// Sleep pauses while staying responsive to both contexts.
func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	return s.RunActions(ctx, chromedp.Sleep(d))
}

// jsonEncode is a helper to safely encode a value (especially strings) for JS injection.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Fallback for safety, although Marshal shouldn't fail often for simple types
		return `""`
	}
	return string(b)
}
