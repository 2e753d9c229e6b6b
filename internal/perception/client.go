package perception

import (
	"context"
	"fmt"
	"time"

	"tasknerd/internal/config"
)

// LLMClient defines the interface for LLM providers.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// NewClientFromConfig builds the client for cfg.Provider. It returns (nil, nil)
// when no reasoning service is configured; the resolver then runs on rules alone.
func NewClientFromConfig(ctx context.Context, cfg config.LLMConfig, timeout time.Duration) (LLMClient, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	switch cfg.Provider {
	case "openai":
		oc := DefaultOpenAIConfig(cfg.APIKey)
		oc.Model = cfg.ModelOrDefault()
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		if timeout > 0 {
			oc.Timeout = timeout
		}
		return NewOpenAIClientWithConfig(oc), nil
	case "gemini":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.ModelOrDefault(),
			BaseURL: cfg.BaseURL,
			Timeout: timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}
