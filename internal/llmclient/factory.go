// -- internal/llmclient/factory.go --
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/specterhq/specterqa/api/schemas"
	"github.com/specterhq/specterqa/internal/config"
)

// NewClient is a factory function that creates an LLMClient for one model slot.
func NewClient(cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	// Using constants defined in config package to avoid magic strings.
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}

// NewRouterFromConfig wires both tiers of the oracle configuration into a router.
func NewRouterFromConfig(cfg config.OracleConfig, logger *zap.Logger) (*LLMRouter, error) {
	fast, err := NewClient(cfg.Fast, logger)
	if err != nil {
		return nil, fmt.Errorf("building fast tier client: %w", err)
	}
	powerful, err := NewClient(cfg.Powerful, logger)
	if err != nil {
		fast.Close()
		return nil, fmt.Errorf("building powerful tier client: %w", err)
	}
	return NewLLMRouter(logger, fast, powerful)
}
