package schemas

import (
	"context"
)

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, cheaper model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, slower model.
)

// GenerationOptions provides detailed parameters to control the text
// generation process of the LLM, such as creativity (temperature) and output
// format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
}

// InlineImage is a binary image attached to a generation request, sent to the
// provider as inline base64 data.
type InlineImage struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, attached screenshots, the desired model tier, and
// generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Images       []InlineImage     `json:"-"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// TokenUsage reports provider-side token accounting for one generation.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResult is the text completion plus the metadata needed for cost
// accounting.
type GenerationResult struct {
	Text  string     `json:"text"`
	Model string     `json:"model"`
	Usage TokenUsage `json:"usage"`
}

// LLMClient defines a standard interface for interacting with a Large
// Language Model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	// Generate produces a completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
	// Close cleans up any resources held by the client.
	Close() error
}

// -- Engine Interfaces --

// DecideRequest carries everything the decision oracle needs for one
// iteration of the loop.
type DecideRequest struct {
	StepID string
	// Goal is the step goal, possibly amended with verification feedback.
	Goal string
	// Screenshot is the current viewport capture (PNG).
	Screenshot []byte
	// History is the rolling record of recent actions, oldest first.
	History []ActionRecord
	// ActionIndex is the zero-based index of the upcoming action.
	ActionIndex int
	// Prev is the result of the previous action, nil on the first iteration.
	Prev *ActionResult
	// ForceTier, when non-empty, overrides tier routing for this call.
	ForceTier ModelTier
	// StuckContext is injected guidance from the stuck detector, empty in
	// the normal case.
	StuckContext string
}

// VerifyRequest asks the oracle to confirm declared success criteria against
// the same screenshot that produced a goal_achieved decision.
type VerifyRequest struct {
	StepID     string
	Goal       string
	Criteria   []string
	Screenshot []byte
}

// VerificationResult is the oracle's verdict on a VerifyRequest.
type VerificationResult struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

// Decider is the decision oracle. Implementations must return a Decision with
// Action == ActionStuck rather than an error when the model's output cannot
// be parsed; errors are reserved for unrecoverable transport or budget
// failures.
type Decider interface {
	Decide(ctx context.Context, req DecideRequest) (Decision, error)
	Verify(ctx context.Context, req VerifyRequest) (VerificationResult, error)
	Close() error
}

// ActionExecutor resolves and performs decisions against the application
// under test. Execute reports failures in-band through ActionResult and must
// not panic or return them as Go errors.
type ActionExecutor interface {
	Execute(ctx context.Context, d Decision) ActionResult
	Screenshot(ctx context.Context) ([]byte, error)
	Navigate(ctx context.Context, url string) error
}

// CostFunc receives the incremental spend after each oracle call. Callback
// failures are swallowed by the caller; they never affect the loop.
type CostFunc func(action string, costUSD float64)

// EscalationFunc receives stuck-detector transitions. Observational only.
type EscalationFunc func(event EscalationEvent)
