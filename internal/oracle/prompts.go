package oracle

import (
	"fmt"
	"strings"
)

// systemPrompt frames the model as a single-minded UI tester and pins down
// the JSON contract for decisions. Kept provider-agnostic; formatting quirks
// are absorbed by the parser, not by prompt tweaks.
const systemPrompt = `You are a meticulous QA engineer testing a web application by looking at screenshots.

On every turn you receive a screenshot of the current page, the goal you are pursuing, and a record of recent actions. Decide the single next action that makes progress toward the goal.

Respond with ONLY a JSON object, no prose, in this exact shape:
{
  "action": "click|fill|navigate|scroll|keyboard|wait|done|stuck",
  "target": "visible label, accessible name, or coordinates like x=120, y=340",
  "value": "text to type / URL / scroll direction / key name / wait duration",
  "reasoning": "one short sentence",
  "observation": "what you can see on the screenshot",
  "ux_notes": "optional usability concern worth recording",
  "checkpoint": "optional milestone name you just reached",
  "goal_achieved": false
}

Rules:
- Prefer visible text labels over coordinates. Use coordinates only when no label exists.
- "fill" needs both target (the field) and value (the text).
- Set "goal_achieved": true together with "action": "done" only when the screenshot proves the goal is met.
- Use "stuck" only when no action could possibly make progress.
- Never invent UI elements that are not on the screenshot.`

// verificationSystemPrompt is used for the post-goal verification pass.
const verificationSystemPrompt = `You are a strict QA verifier. You receive a screenshot and a list of success criteria. Confirm each criterion against what is actually visible.

Respond with ONLY a JSON object:
{"verified": true|false, "reason": "short explanation, naming any criterion that is not met"}

Be skeptical: if a criterion cannot be confirmed from the screenshot alone, it is not met.`

// buildUserPrompt assembles the per-iteration prompt shown alongside the
// screenshot.
func buildUserPrompt(goal string, historyJSON string, prevError string, stuckContext string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "GOAL: %s\n", goal)

	if historyJSON != "" && historyJSON != "[]" {
		fmt.Fprintf(&b, "\nRECENT ACTIONS (oldest first):\n%s\n", historyJSON)
	}
	if prevError != "" {
		fmt.Fprintf(&b, "\nPREVIOUS ACTION FAILED: %s\nChoose a different approach, do not repeat the failed action verbatim.\n", prevError)
	}
	if stuckContext != "" {
		fmt.Fprintf(&b, "\nWARNING: %s\n", stuckContext)
	}

	b.WriteString("\nLook at the attached screenshot and decide the next action. Respond with only the JSON object.")
	return b.String()
}

// buildVerificationPrompt lists the declared success criteria for the
// verification pass.
func buildVerificationPrompt(goal string, criteria []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The goal was: %s\n\nVERIFY that ALL of the following are true on the attached screenshot:\n", goal)
	for i, c := range criteria {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	b.WriteString("\nRespond with only the JSON verdict object.")
	return b.String()
}
