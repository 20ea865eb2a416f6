package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp/kb"

	"github.com/specterhq/specterqa/api/schemas"
)

// executeNavigate validates the decision URL and loads it. Relative paths
// resolve against the current location so the oracle can say "/checkout".
func (e *Executor) executeNavigate(ctx context.Context, d schemas.Decision) error {
	raw := strings.TrimSpace(d.Target)
	if raw == "" {
		raw = strings.TrimSpace(d.Value)
	}
	if raw == "" {
		return fmt.Errorf("navigate requires a URL")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid navigation URL %q: %w", raw, err)
	}

	if !u.IsAbs() {
		current, cerr := e.session.CurrentURL(ctx)
		if cerr != nil {
			return fmt.Errorf("cannot resolve relative URL %q: %w", raw, cerr)
		}
		base, berr := url.Parse(current)
		if berr != nil {
			return fmt.Errorf("cannot resolve relative URL %q against %q", raw, current)
		}
		u = base.ResolveReference(u)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("refusing to navigate to non-http URL %q", u.String())
	}
	return e.session.Navigate(ctx, u.String())
}

// scrollAmountRegex pulls an explicit pixel amount out of targets like
// "down 800" or "scroll down by 500px".
var scrollAmountRegex = regexp.MustCompile(`(\d+)\s*(?:px|pixels)?`)

// scrollScriptTmpl scrolls the nearest scrollable container (falling back to
// the window) by one viewport step, or to an absolute edge.
const scrollScriptTmpl = `
((direction, amount) => {
    const scrollable = (el) => {
        const st = window.getComputedStyle(el);
        return (st.overflowY === 'auto' || st.overflowY === 'scroll') && el.scrollHeight > el.clientHeight + 10;
    };
    // Prefer the scroll container of the top-most modal when one is open.
    let container = null;
    const modals = document.querySelectorAll('[role="dialog"], [aria-modal="true"], dialog[open], .modal');
    for (const m of modals) {
        if (scrollable(m)) { container = m; break; }
        const inner = Array.from(m.querySelectorAll('*')).find(scrollable);
        if (inner) { container = inner; break; }
    }

    const step = amount > 0 ? amount : Math.round(window.innerHeight * 0.8);
    const tgt = container || window;
    const maxY = container ? container.scrollHeight : document.body.scrollHeight;

    switch (direction) {
        case 'top':    tgt.scrollTo({ top: 0, behavior: 'instant' }); break;
        case 'bottom': tgt.scrollTo({ top: maxY, behavior: 'instant' }); break;
        case 'up':     tgt.scrollBy({ top: -step, behavior: 'instant' }); break;
        case 'left':   tgt.scrollBy({ left: -step, behavior: 'instant' }); break;
        case 'right':  tgt.scrollBy({ left: step, behavior: 'instant' }); break;
        default:       tgt.scrollBy({ top: step, behavior: 'instant' }); break;
    }
    return { scrolledContainer: container !== null };
})(%s, %s)`

// executeScroll moves the page or the active modal's scroll container.
func (e *Executor) executeScroll(ctx context.Context, d schemas.Decision) error {
	phrase := strings.ToLower(strings.TrimSpace(d.Target + " " + d.Value))

	direction := "down"
	switch {
	case strings.Contains(phrase, "top") || strings.Contains(phrase, "beginning"):
		direction = "top"
	case strings.Contains(phrase, "bottom") || strings.Contains(phrase, "end of"):
		direction = "bottom"
	case strings.Contains(phrase, "up"):
		direction = "up"
	case strings.Contains(phrase, "left"):
		direction = "left"
	case strings.Contains(phrase, "right"):
		direction = "right"
	}

	amount := 0
	if m := scrollAmountRegex.FindStringSubmatch(phrase); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 && n < 20000 {
			amount = n
		}
	}

	script := fmt.Sprintf(scrollScriptTmpl, jsonEncode(direction), jsonEncode(amount))
	var raw json.RawMessage
	if err := e.session.Evaluate(ctx, script, &raw); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}

// keyAliases maps the names the oracle uses to CDP key identifiers.
var keyAliases = map[string]string{
	"enter":     kb.Enter,
	"return":    kb.Enter,
	"tab":       kb.Tab,
	"escape":    kb.Escape,
	"esc":       kb.Escape,
	"backspace": kb.Backspace,
	"delete":    kb.Delete,
	"space":     " ",
	"spacebar":  " ",
	"up":        kb.ArrowUp,
	"arrowup":   kb.ArrowUp,
	"arrow up":  kb.ArrowUp,
	"down":      kb.ArrowDown,
	"arrowdown": kb.ArrowDown,
	"arrow down": kb.ArrowDown,
	"left":       kb.ArrowLeft,
	"arrowleft":  kb.ArrowLeft,
	"arrow left": kb.ArrowLeft,
	"right":      kb.ArrowRight,
	"arrowright": kb.ArrowRight,
	"arrow right": kb.ArrowRight,
	"pageup":      kb.PageUp,
	"page up":     kb.PageUp,
	"pagedown":    kb.PageDown,
	"page down":   kb.PageDown,
	"home":        kb.Home,
	"end":         kb.End,
}

// executeKeyboard sends a named key or a literal character sequence.
func (e *Executor) executeKeyboard(ctx context.Context, d schemas.Decision) error {
	spec := strings.TrimSpace(d.Value)
	if spec == "" {
		spec = strings.TrimSpace(d.Target)
	}
	if spec == "" {
		return fmt.Errorf("keyboard requires a key")
	}

	normalized := strings.ToLower(strings.TrimSuffix(strings.ToLower(spec), " key"))
	normalized = strings.TrimPrefix(normalized, "press ")
	if key, ok := keyAliases[normalized]; ok {
		return e.session.SendKeys(ctx, key)
	}
	return e.session.SendKeys(ctx, spec)
}

// executeWait pauses for the requested duration. Bare numbers above 100 are
// read as milliseconds, smaller ones as seconds; the wait is capped so a
// confused oracle cannot stall a whole step.
func (e *Executor) executeWait(ctx context.Context, d schemas.Decision) error {
	spec := strings.ToLower(strings.TrimSpace(d.Value))
	if spec == "" {
		spec = strings.ToLower(strings.TrimSpace(d.Target))
	}

	d2 := 2 * time.Second
	if spec != "" {
		if parsed, err := time.ParseDuration(spec); err == nil {
			d2 = parsed
		} else if m := scrollAmountRegex.FindStringSubmatch(spec); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				if n > 100 || strings.Contains(spec, "ms") || strings.Contains(spec, "milli") {
					d2 = time.Duration(n) * time.Millisecond
				} else {
					d2 = time.Duration(n) * time.Second
				}
			}
		}
	}

	const maxWait = 15 * time.Second
	if d2 > maxWait {
		d2 = maxWait
	}
	if d2 <= 0 {
		d2 = 2 * time.Second
	}
	return e.session.Sleep(ctx, d2)
}
