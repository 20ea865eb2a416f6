package schemas

import (
	"fmt"
	"strings"
)

// Action identifies what the decision oracle wants the engine to do next.
type Action string

const (
	ActionClick    Action = "click"    // Click an element or coordinate.
	ActionFill     Action = "fill"     // Type a value into a form field.
	ActionNavigate Action = "navigate" // Load a URL or path.
	ActionScroll   Action = "scroll"   // Scroll the page or nearest container.
	ActionKeyboard Action = "keyboard" // Press a key or key combination.
	ActionWait     Action = "wait"     // Pause for a duration.
	ActionDone     Action = "done"     // The oracle believes the goal is achieved.
	ActionStuck    Action = "stuck"    // The oracle cannot make progress.
)

// actionAliases maps common oracle phrasings onto canonical actions. Vision
// models are inconsistent about verbs, so normalization is deliberately
// generous with synonyms but never guesses on an unknown token.
var actionAliases = map[string]Action{
	"click":       ActionClick,
	"tap":         ActionClick,
	"press":       ActionClick,
	"select":      ActionFill,
	"choose":      ActionFill,
	"fill":        ActionFill,
	"type":        ActionFill,
	"enter":       ActionFill,
	"input":       ActionFill,
	"navigate":    ActionNavigate,
	"goto":        ActionNavigate,
	"go":          ActionNavigate,
	"open":        ActionNavigate,
	"visit":       ActionNavigate,
	"load":        ActionNavigate,
	"scroll":      ActionScroll,
	"swipe":       ActionScroll,
	"keyboard":    ActionKeyboard,
	"key":         ActionKeyboard,
	"keypress":    ActionKeyboard,
	"wait":        ActionWait,
	"pause":       ActionWait,
	"sleep":       ActionWait,
	"done":        ActionDone,
	"complete":    ActionDone,
	"completed":   ActionDone,
	"finish":      ActionDone,
	"finished":    ActionDone,
	"success":     ActionDone,
	"stuck":       ActionStuck,
	"blocked":     ActionStuck,
	"stop":        ActionStuck,
	"giveup":      ActionStuck,
	"impossible":  ActionStuck,
	"cannot":      ActionStuck,
	"unavailable": ActionStuck,
}

// NormalizeAction maps a raw action token from the oracle onto a canonical
// Action. Multi-word tokens ("go to", "click on") fall back to their first
// word. Unrecognized tokens return an error; callers must surface that as an
// explicit failure rather than pick an action on the oracle's behalf.
func NormalizeAction(raw string) (Action, error) {
	token := strings.ToLower(strings.TrimSpace(raw))
	if token == "" {
		return "", fmt.Errorf("empty action")
	}
	if a, ok := actionAliases[token]; ok {
		return a, nil
	}
	// "go to url", "click on" and similar: only the leading verb matters.
	if first, _, found := strings.Cut(token, " "); found {
		if a, ok := actionAliases[first]; ok {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", raw)
}

// Decision is a single instruction produced by the decision oracle for one
// iteration of the observe/decide/act loop.
type Decision struct {
	// Action is the canonical action verb. Always one of the Action
	// constants after normalization.
	Action Action `json:"action"`
	// Target describes what to act on: a visible label, an accessible name,
	// or a coordinate phrase such as "x=120, y=340".
	Target string `json:"target,omitempty"`
	// Value carries the payload for fill (text), navigate (URL), scroll
	// (direction/amount), keyboard (key name) and wait (duration).
	Value string `json:"value,omitempty"`
	// Reasoning is the oracle's short justification. Logged, never parsed.
	Reasoning string `json:"reasoning,omitempty"`
	// Observation is what the oracle saw on the current screenshot.
	Observation string `json:"observation,omitempty"`
	// UXNotes is optional free-form usability commentary collected into the
	// step result. Its presence forces the next decision to the powerful
	// tier so the commentary thread stays coherent.
	UXNotes string `json:"ux_notes,omitempty"`
	// Checkpoint names a milestone the oracle believes was just reached.
	Checkpoint string `json:"checkpoint,omitempty"`
	// GoalAchieved signals the step goal is met. Triggers verification when
	// the step declares success criteria.
	GoalAchieved bool `json:"goal_achieved"`
}

// IsTerminal reports whether the decision ends the loop on its own.
func (d Decision) IsTerminal() bool {
	return d.Action == ActionDone || d.Action == ActionStuck
}

// ShortTarget returns the target truncated for history keys and log lines.
func (d Decision) ShortTarget() string {
	const max = 50
	if len(d.Target) <= max {
		return d.Target
	}
	return d.Target[:max]
}
