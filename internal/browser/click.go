package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/specterhq/specterqa/api/schemas"
)

// resolveResult is the wire shape returned by the target resolution script.
type resolveResult struct {
	Found       bool    `json:"found"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Method      string  `json:"method"`
	Label       string  `json:"label"`
	Intercepted bool    `json:"intercepted"`
	Blocker     string  `json:"blocker"`
}

// resolveTargetScriptTmpl locates the best element for a list of candidate
// labels. Search order per candidate: role+accessible-name exact match,
// visible text substring, aria-label substring. Candidates with a context
// part only match elements whose ancestry (8 levels) mentions the context.
// Scope is the top-most visible modal unless fullPage is set. The script
// scrolls the winner into view and reports whether another element would
// swallow a click at its center.
const resolveTargetScriptTmpl = `
((candidates, fullPage) => {
    const norm = (s) => (s || '').trim().toLowerCase().replace(/\s+/g, ' ');
    const isVisible = (el) => {
        const r = el.getBoundingClientRect();
        const st = window.getComputedStyle(el);
        return r.width > 0 && r.height > 0 && st.display !== 'none' &&
               st.visibility !== 'hidden' && st.opacity !== '0';
    };
    const accName = (el) => norm(el.getAttribute('aria-label') || el.innerText || el.textContent || el.value || '');
    const inViewport = (el) => {
        const r = el.getBoundingClientRect();
        return r.bottom > 0 && r.top < window.innerHeight && r.right > 0 && r.left < window.innerWidth;
    };
    const ancestorMatches = (el, context) => {
        if (!context) return true;
        const needle = norm(context);
        let node = el.parentElement;
        for (let depth = 0; node && depth < 8; depth++) {
            const hay = norm((node.getAttribute('aria-label') || '') + ' ' + node.id + ' ' + node.className);
            if (hay.includes(needle)) return true;
            // Region landmarks often carry the context as a heading.
            const heading = node.querySelector && node.querySelector('h1,h2,h3,h4,legend,[role="heading"]');
            if (heading && norm(heading.textContent).includes(needle)) return true;
            node = node.parentElement;
        }
        return false;
    };

    let scope = document;
    if (!fullPage) {
        const modals = Array.from(document.querySelectorAll('[role="dialog"], [aria-modal="true"], dialog[open], .modal'))
            .filter(isVisible);
        if (modals.length > 0) scope = modals[modals.length - 1];
    }

    const clickableSel = 'button, [role="button"], a, [role="link"], [role="tab"], [role="menuitem"], [role="option"], input[type="submit"], input[type="button"], input[type="checkbox"], input[type="radio"], label, summary';
    const textSel = clickableSel + ', span, div, li, td, th, p';

    const pick = (matches) => {
        if (matches.length === 0) return null;
        const onScreen = matches.filter(inViewport);
        return (onScreen.length > 0 ? onScreen : matches)[0];
    };

    let winner = null;
    let method = '';
    let matchedLabel = '';

    for (const cand of candidates) {
        const want = norm(cand.label);
        if (!want) continue;

        // 1. Role-based exact accessible name.
        let matches = Array.from(scope.querySelectorAll(clickableSel))
            .filter((el) => isVisible(el) && accName(el) === want && ancestorMatches(el, cand.context));
        winner = pick(matches);
        if (winner) { method = 'role'; matchedLabel = cand.label; break; }

        // 2. Visible text substring on clickable-ish elements.
        matches = Array.from(scope.querySelectorAll(textSel))
            .filter((el) => {
                if (!isVisible(el)) return false;
                const text = norm(el.innerText || el.textContent);
                if (!text || text.length > want.length + 120) return false;
                return text.includes(want) && ancestorMatches(el, cand.context);
            });
        winner = pick(matches);
        if (winner) { method = 'text'; matchedLabel = cand.label; break; }

        // 3. aria-label substring.
        matches = Array.from(scope.querySelectorAll('[aria-label]'))
            .filter((el) => isVisible(el) && norm(el.getAttribute('aria-label')).includes(want) && ancestorMatches(el, cand.context));
        winner = pick(matches);
        if (winner) { method = 'aria'; matchedLabel = cand.label; break; }
    }

    if (!winner) return { found: false };

    winner.scrollIntoView({ block: 'center', inline: 'center' });
    const r = winner.getBoundingClientRect();
    const cx = r.left + r.width / 2;
    const cy = r.top + r.height / 2;

    // If a different element owns the click point, the click would be
    // swallowed by an overlay.
    let intercepted = false;
    let blocker = '';
    const hit = document.elementFromPoint(cx, cy);
    if (hit && hit !== winner && !winner.contains(hit) && !hit.contains(winner)) {
        intercepted = true;
        blocker = hit.tagName + (hit.id ? '#' + hit.id : '') + (hit.className && typeof hit.className === 'string' ? '.' + hit.className.split(' ')[0] : '');
    }

    return { found: true, x: cx, y: cy, method: method, label: matchedLabel, intercepted: intercepted, blocker: blocker };
})(%s, %s)`

// forcedClickScriptTmpl re-resolves and fires a synthetic click directly on
// the element, bypassing whatever sits on top of it.
const forcedClickScriptTmpl = `
((candidates) => {
    const norm = (s) => (s || '').trim().toLowerCase().replace(/\s+/g, ' ');
    const accName = (el) => norm(el.getAttribute('aria-label') || el.innerText || el.textContent || el.value || '');
    const sel = 'button, [role="button"], a, [role="link"], [role="tab"], [role="menuitem"], input[type="submit"], input[type="button"], label, span, div, li';
    for (const cand of candidates) {
        const want = norm(cand.label);
        if (!want) continue;
        for (const el of document.querySelectorAll(sel)) {
            const name = accName(el);
            if (name === want || (name && name.includes(want))) {
                el.click();
                return { clicked: true, label: cand.label };
            }
        }
    }
    return { clicked: false };
})(%s)`

// dismissOverlayScript clicks the close control of the top-most overlay, or
// its backdrop as a fallback. Returns the method used, if any.
const dismissOverlayScript = `
(() => {
    const isVisible = (el) => {
        const r = el.getBoundingClientRect();
        const st = window.getComputedStyle(el);
        return r.width > 0 && r.height > 0 && st.display !== 'none' && st.visibility !== 'hidden';
    };
    const overlays = Array.from(document.querySelectorAll('[role="dialog"], [aria-modal="true"], dialog[open], .modal, [class*="overlay"], [class*="popup"], [class*="cookie"]'))
        .filter(isVisible);
    const scope = overlays.length > 0 ? overlays[overlays.length - 1] : document;

    const closeSel = '[aria-label="Close"], [aria-label="Dismiss"], [aria-label="close"], button.close, [class*="close"]';
    for (const el of scope.querySelectorAll(closeSel)) {
        if (isVisible(el)) { el.click(); return { dismissed: true, method: 'close-button' }; }
    }
    const txt = (el) => (el.innerText || el.textContent || '').trim().toLowerCase();
    for (const el of scope.querySelectorAll('button, [role="button"]')) {
        const t = txt(el);
        if (isVisible(el) && (t === '×' || t === '✕' || t === 'x' || t === 'close' || t === 'dismiss' || t === 'got it' || t === 'accept')) {
            el.click();
            return { dismissed: true, method: 'close-text' };
        }
    }
    for (const el of document.querySelectorAll('.modal-backdrop, [class*="backdrop"], [class*="overlay"]')) {
        if (isVisible(el)) { el.click(); return { dismissed: true, method: 'backdrop' }; }
    }
    return { dismissed: false };
})()`

// executeClick resolves and performs a click decision. Resolution order:
// dismiss/menu fast paths, label candidates scoped to the active modal, the
// same candidates against the full page, then coordinates.
func (e *Executor) executeClick(ctx context.Context, d schemas.Decision, res *schemas.ActionResult) error {
	target := strings.TrimSpace(d.Target)
	if target == "" {
		target = strings.TrimSpace(d.Value)
	}
	if target == "" {
		return fmt.Errorf("click requires a target")
	}

	if isDismissTarget(target) {
		return e.dismissOverlayCascade(ctx, res)
	}

	candidates := deriveClickCandidates(target)
	if isMenuOpenTarget(target) {
		candidates = append([]clickCandidate{
			{Label: "Open navigation menu"},
			{Label: "Menu"},
		}, candidates...)
	}

	for _, fullPage := range []bool{false, true} {
		r, err := e.resolveTarget(ctx, candidates, fullPage)
		if err != nil {
			return err
		}
		if !r.Found {
			continue
		}

		if r.Intercepted {
			// One automatic dismissal, one retry, then force the click.
			e.logger.Debug("Click point intercepted by overlay",
				zap.String("blocker", r.Blocker), zap.String("target", target))
			if dismissed, _ := e.dismissTopOverlay(ctx); dismissed {
				res.OverlayDismissals++
				retry, rerr := e.resolveTarget(ctx, candidates, fullPage)
				if rerr == nil && retry.Found && !retry.Intercepted {
					r = retry
				} else {
					return e.forcedClick(ctx, candidates, target)
				}
			} else {
				return e.forcedClick(ctx, candidates, target)
			}
		}

		e.logger.Debug("Click target resolved",
			zap.String("method", r.Method), zap.String("label", r.Label),
			zap.Float64("x", r.X), zap.Float64("y", r.Y))
		return e.session.ClickAt(ctx, r.X, r.Y)
	}

	if x, y, ok := parseCoordinates(target); ok {
		cx, cy := toCSSCoords(x, y, e.cfg)
		e.logger.Debug("Clicking by coordinates",
			zap.Float64("x", cx), zap.Float64("y", cy))
		return e.session.ClickAt(ctx, cx, cy)
	}

	return fmt.Errorf("element not found for click target %q", target)
}

// resolveTarget runs the resolution script for one scope.
func (e *Executor) resolveTarget(ctx context.Context, candidates []clickCandidate, fullPage bool) (*resolveResult, error) {
	script := fmt.Sprintf(resolveTargetScriptTmpl, jsonEncode(candidates), jsonEncode(fullPage))

	var raw json.RawMessage
	if err := e.session.Evaluate(ctx, script, &raw); err != nil {
		return nil, fmt.Errorf("target resolution script failed: %w", err)
	}
	var r resolveResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("unexpected resolution payload: %w", err)
	}
	return &r, nil
}

// forcedClick fires a synthetic click directly on the first matching element.
func (e *Executor) forcedClick(ctx context.Context, candidates []clickCandidate, target string) error {
	script := fmt.Sprintf(forcedClickScriptTmpl, jsonEncode(candidates))

	var raw json.RawMessage
	if err := e.session.Evaluate(ctx, script, &raw); err != nil {
		return fmt.Errorf("forced click script failed: %w", err)
	}
	var out struct {
		Clicked bool `json:"clicked"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || !out.Clicked {
		return fmt.Errorf("element not found for click target %q", target)
	}
	return nil
}

// dismissTopOverlay makes a single attempt to get the top overlay out of the
// way via its close control or backdrop.
func (e *Executor) dismissTopOverlay(ctx context.Context) (bool, error) {
	var raw json.RawMessage
	if err := e.session.Evaluate(ctx, dismissOverlayScript, &raw); err != nil {
		return false, err
	}
	var out struct {
		Dismissed bool   `json:"dismissed"`
		Method    string `json:"method"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, err
	}
	if out.Dismissed {
		e.logger.Debug("Overlay dismissed", zap.String("method", out.Method))
	}
	return out.Dismissed, nil
}

// dismissOverlayCascade is the fast path for explicit dismissal targets:
// close controls first, Escape second, backdrop click last.
func (e *Executor) dismissOverlayCascade(ctx context.Context, res *schemas.ActionResult) error {
	before, _ := e.capturePageState(ctx)

	if dismissed, _ := e.dismissTopOverlay(ctx); dismissed {
		res.OverlayDismissals++
		return nil
	}

	// Escape closes most dialogs and menus.
	if err := e.session.RunActions(ctx, chromedp.KeyEvent(kb.Escape)); err == nil {
		after, _ := e.capturePageState(ctx)
		if before != nil && after != nil && after.ModalCount < before.ModalCount {
			res.OverlayDismissals++
			return nil
		}
	}

	// Last resort: click where a backdrop would be.
	if err := e.session.ClickAt(ctx, 10, 10); err != nil {
		return fmt.Errorf("could not dismiss overlay: %w", err)
	}
	res.OverlayDismissals++
	return nil
}
