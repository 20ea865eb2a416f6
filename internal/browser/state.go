package browser

import (
	"context"
	"encoding/json"
	"fmt"
)

// pageState is a cheap structural fingerprint of the page, captured before
// and after each action to answer "did anything actually happen?".
type pageState struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	ModalCount  int    `json:"modalCount"`
	TextLength  int    `json:"textLength"`
	ScrollX     int    `json:"scrollX"`
	ScrollY     int    `json:"scrollY"`
	FocusedTag  string `json:"focusedTag"`
	FocusedID   string `json:"focusedId"`
	FormCount   int    `json:"formCount"`
	AlertCount  int    `json:"alertCount"`
}

// pageStateScript collects the fingerprint in one round trip. Modal counting
// is heuristic: role=dialog, aria-modal, and fixed-position elements that
// cover a meaningful share of the viewport.
const pageStateScript = `
(() => {
    const isVisible = (el) => {
        const r = el.getBoundingClientRect();
        const st = window.getComputedStyle(el);
        return r.width > 0 && r.height > 0 && st.display !== 'none' &&
               st.visibility !== 'hidden' && st.opacity !== '0';
    };

    let modalCount = 0;
    for (const el of document.querySelectorAll('[role="dialog"], [aria-modal="true"], dialog[open], .modal, .MuiModal-root')) {
        if (isVisible(el)) modalCount++;
    }

    const focused = document.activeElement;

    let alertCount = 0;
    for (const el of document.querySelectorAll('[role="alert"], [role="alertdialog"], .alert, .error-message, [aria-live="assertive"]')) {
        if (isVisible(el) && (el.textContent || '').trim().length > 0) alertCount++;
    }

    return {
        url: window.location.href,
        title: document.title,
        modalCount: modalCount,
        textLength: (document.body ? document.body.innerText.length : 0),
        scrollX: Math.round(window.scrollX),
        scrollY: Math.round(window.scrollY),
        focusedTag: focused ? focused.tagName : '',
        focusedId: focused ? (focused.id || '') : '',
        formCount: document.forms.length,
        alertCount: alertCount
    };
})()`

// capturePageState snapshots the fingerprint.
func (e *Executor) capturePageState(ctx context.Context) (*pageState, error) {
	var raw json.RawMessage
	if err := e.session.Evaluate(ctx, pageStateScript, &raw); err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, fmt.Errorf("page state script returned null")
	}
	var st pageState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal page state: %w", err)
	}
	return &st, nil
}

// textChangeThreshold filters out jitter from clocks, carousels and ad slots.
const textChangeThreshold = 30

// diffPageStates compares two fingerprints and names what moved. Either
// snapshot may be nil when capture failed; that counts as "changed" so a
// flaky page never inflates the no-change stuck counter.
func diffPageStates(before, after *pageState) (changed bool, details []string) {
	if before == nil || after == nil {
		return true, []string{"page state unavailable"}
	}

	if before.URL != after.URL {
		details = append(details, fmt.Sprintf("navigated to %s", after.URL))
	}
	if before.Title != after.Title {
		details = append(details, fmt.Sprintf("title changed to %q", after.Title))
	}
	switch {
	case after.ModalCount > before.ModalCount:
		details = append(details, "modal opened")
	case after.ModalCount < before.ModalCount:
		details = append(details, "modal closed")
	}
	if delta := after.TextLength - before.TextLength; delta > textChangeThreshold || delta < -textChangeThreshold {
		details = append(details, fmt.Sprintf("content changed (%+d chars)", delta))
	}
	if before.ScrollX != after.ScrollX || before.ScrollY != after.ScrollY {
		details = append(details, fmt.Sprintf("scrolled to (%d, %d)", after.ScrollX, after.ScrollY))
	}
	if before.FocusedTag != after.FocusedTag || before.FocusedID != after.FocusedID {
		details = append(details, "focus moved")
	}
	if before.FormCount != after.FormCount {
		details = append(details, "form count changed")
	}
	if after.AlertCount > before.AlertCount {
		details = append(details, "alert appeared")
	}

	return len(details) > 0, details
}
