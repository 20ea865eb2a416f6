package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/specterhq/specterqa/api/schemas"
)

// fieldSuffixRegex strips trailing element nouns from fill targets:
// "Email field" -> "Email", "the Search box" -> "the Search".
var fieldSuffixRegex = regexp.MustCompile(`(?i)\s+(?:field|input|box|textbox|text box|textarea|dropdown|select|area)\s*$`)

// quotedRegex extracts a quoted fragment, which usually names the exact
// label or placeholder the oracle saw on screen.
var quotedRegex = regexp.MustCompile(`['"]([^'"]+)['"]`)

// dateLayouts are the spellings the oracle produces for dates. Native date
// inputs reject everything except ISO, so values matching any of these are
// offered in ISO form as well.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// normalizeDateValue returns the ISO form of a date-looking value, or ""
// when the value is not a date.
func normalizeDateValue(value string) string {
	trimmed := strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// deriveFillLabels turns a fill target phrase into ordered label variants.
func deriveFillLabels(target string) []string {
	trimmed := strings.TrimSpace(target)
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		key := strings.ToLower(s)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, s)
	}

	if m := quotedRegex.FindStringSubmatch(trimmed); m != nil {
		add(m[1])
	}

	stripped := strings.TrimSpace(fieldSuffixRegex.ReplaceAllString(trimmed, ""))
	stripped = strings.TrimPrefix(stripped, "the ")
	stripped = strings.TrimPrefix(stripped, "The ")
	add(stripped)

	if primary, context := splitContext(stripped); context != "" {
		add(fieldSuffixRegex.ReplaceAllString(primary, ""))
		add(primary)
	}

	add(trimmed)
	return out
}

// fillFieldScriptTmpl resolves a form field and sets its value in one round
// trip. Strategies in order: label exact, label partial, select with a
// matching option, placeholder, aria-label, name/id attribute, keyword scan
// across all attributes. Values are written through the native setter so
// framework-managed inputs observe the change, then verified; fields that
// refuse a programmatic write come back with needsTyping and a click point.
const fillFieldScriptTmpl = `
((labels, value, isoValue) => {
    const norm = (s) => (s || '').trim().toLowerCase().replace(/\s+/g, ' ');
    const isVisible = (el) => {
        const r = el.getBoundingClientRect();
        const st = window.getComputedStyle(el);
        return r.width > 0 && r.height > 0 && st.display !== 'none' && st.visibility !== 'hidden';
    };
    const fieldSel = 'input:not([type="hidden"]):not([type="submit"]):not([type="button"]), textarea, select, [contenteditable="true"], [role="textbox"], [role="combobox"]';
    const allFields = () => Array.from(document.querySelectorAll(fieldSel)).filter(isVisible);

    const controlForLabel = (lab) => {
        if (lab.htmlFor) {
            const el = document.getElementById(lab.htmlFor);
            if (el && isVisible(el)) return el;
        }
        const el = lab.querySelector(fieldSel);
        return el && isVisible(el) ? el : null;
    };

    const resolve = () => {
        const labelEls = Array.from(document.querySelectorAll('label')).filter(isVisible);
        for (const want of labels.map(norm)) {
            if (!want) continue;

            // 1. Label exact.
            for (const lab of labelEls) {
                if (norm(lab.textContent) === want) {
                    const el = controlForLabel(lab);
                    if (el) return { el: el, method: 'label-exact' };
                }
            }
            // 2. Label partial.
            for (const lab of labelEls) {
                const t = norm(lab.textContent);
                if (t && (t.includes(want) || want.includes(t))) {
                    const el = controlForLabel(lab);
                    if (el) return { el: el, method: 'label-partial' };
                }
            }
            // 3. Select whose options contain the value.
            for (const sel of allFields()) {
                if (sel.tagName !== 'SELECT') continue;
                const wantVal = norm(value);
                for (const opt of sel.options) {
                    const t = norm(opt.textContent);
                    if (t === wantVal || (wantVal && t.includes(wantVal))) {
                        return { el: sel, method: 'select-option' };
                    }
                }
            }
            // 4. Placeholder.
            for (const el of allFields()) {
                const ph = norm(el.getAttribute('placeholder'));
                if (ph && (ph === want || ph.includes(want) || want.includes(ph))) {
                    return { el: el, method: 'placeholder' };
                }
            }
            // 5. aria-label.
            for (const el of allFields()) {
                const al = norm(el.getAttribute('aria-label'));
                if (al && (al === want || al.includes(want))) {
                    return { el: el, method: 'aria-label' };
                }
            }
            // 6. name/id attributes.
            const slug = want.replace(/[^a-z0-9]+/g, '');
            if (slug) {
                for (const el of allFields()) {
                    const nameId = norm(el.name + ' ' + el.id).replace(/[^a-z0-9]+/g, '');
                    if (nameId.includes(slug)) return { el: el, method: 'attribute' };
                }
            }
            // 7. Keyword scan across every attribute we know about.
            const words = want.split(' ').filter((w) => w.length > 2);
            for (const el of allFields()) {
                const hay = norm(el.name + ' ' + el.id + ' ' + (el.getAttribute('placeholder') || '') + ' ' + (el.getAttribute('aria-label') || '') + ' ' + (el.getAttribute('autocomplete') || ''));
                if (words.some((w) => hay.includes(w))) return { el: el, method: 'keyword' };
            }
        }
        return null;
    };

    const hit = resolve();
    if (!hit) return { found: false };
    const el = hit.el;
    el.scrollIntoView({ block: 'center' });

    if (el.tagName === 'SELECT') {
        const wantVal = norm(value);
        let idx = -1;
        for (let i = 0; i < el.options.length; i++) {
            if (norm(el.options[i].textContent) === wantVal) { idx = i; break; }
        }
        if (idx < 0) {
            for (let i = 0; i < el.options.length; i++) {
                if (norm(el.options[i].textContent).includes(wantVal)) { idx = i; break; }
            }
        }
        if (idx < 0) return { found: true, method: hit.method, filled: false, error: 'no matching option for ' + value };
        el.selectedIndex = idx;
        el.dispatchEvent(new Event('input', { bubbles: true }));
        el.dispatchEvent(new Event('change', { bubbles: true }));
        return { found: true, method: hit.method, filled: true, verified: true };
    }

    if (el.isContentEditable) {
        el.focus();
        el.textContent = value;
        el.dispatchEvent(new Event('input', { bubbles: true }));
        return { found: true, method: hit.method, filled: true, verified: true };
    }

    const writeValue = el.type === 'date' && isoValue ? isoValue : value;
    el.focus();
    const proto = el.tagName === 'TEXTAREA' ? window.HTMLTextAreaElement.prototype : window.HTMLInputElement.prototype;
    const setter = Object.getOwnPropertyDescriptor(proto, 'value');
    if (setter && setter.set) {
        setter.set.call(el, writeValue);
    } else {
        el.value = writeValue;
    }
    el.dispatchEvent(new Event('input', { bubbles: true }));
    el.dispatchEvent(new Event('change', { bubbles: true }));

    if (el.value === writeValue) {
        return { found: true, method: hit.method, filled: true, verified: true };
    }

    // The page rewrote the value (masked inputs, custom widgets). Hand the
    // field back for real keystrokes.
    setter && setter.set ? setter.set.call(el, '') : (el.value = '');
    el.dispatchEvent(new Event('input', { bubbles: true }));
    el.focus();
    const r = el.getBoundingClientRect();
    return { found: true, method: hit.method, filled: false, needsTyping: true, x: r.left + r.width / 2, y: r.top + r.height / 2 };
})(%s, %s, %s)`

// fillOutcome is the wire shape returned by the fill script.
type fillOutcome struct {
	Found       bool    `json:"found"`
	Method      string  `json:"method"`
	Filled      bool    `json:"filled"`
	Verified    bool    `json:"verified"`
	NeedsTyping bool    `json:"needsTyping"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Error       string  `json:"error"`
}

// executeFill resolves a form field and writes the decision value into it.
// Fields that reject programmatic writes get clicked and typed into; targets
// that never resolve fall back to coordinates when the target carries any.
func (e *Executor) executeFill(ctx context.Context, d schemas.Decision) error {
	target := strings.TrimSpace(d.Target)
	if target == "" {
		return fmt.Errorf("fill requires a target")
	}

	labels := deriveFillLabels(target)
	isoValue := normalizeDateValue(d.Value)
	script := fmt.Sprintf(fillFieldScriptTmpl,
		jsonEncode(labels), jsonEncode(d.Value), jsonEncode(isoValue))

	var raw json.RawMessage
	if err := e.session.Evaluate(ctx, script, &raw); err != nil {
		return fmt.Errorf("fill script failed: %w", err)
	}
	var out fillOutcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unexpected fill payload: %w", err)
	}

	switch {
	case out.Found && out.Filled:
		e.logger.Debug("Field filled",
			zap.String("method", out.Method), zap.String("target", target))
		return nil

	case out.Found && out.NeedsTyping:
		// Masked or widget-backed input: click it and send real keystrokes.
		e.logger.Debug("Field requires keystrokes",
			zap.String("method", out.Method), zap.String("target", target))
		if err := e.session.ClickAt(ctx, out.X, out.Y); err != nil {
			return fmt.Errorf("could not focus field %q: %w", target, err)
		}
		return e.session.SendKeys(ctx, d.Value)

	case out.Found && out.Error != "":
		return fmt.Errorf("fill failed for %q: %s", target, out.Error)
	}

	// Coordinate fallback: click the point, then type.
	if x, y, ok := parseCoordinates(target); ok {
		cx, cy := toCSSCoords(x, y, e.cfg)
		if err := e.session.ClickAt(ctx, cx, cy); err != nil {
			return fmt.Errorf("could not click field at coordinates: %w", err)
		}
		return e.session.SendKeys(ctx, d.Value)
	}

	return fmt.Errorf("field not found for fill target %q", target)
}
