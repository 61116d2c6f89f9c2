package llm

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Provider identifies a model backend.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// ProviderConfig holds the resolved provider and credentials.
type ProviderConfig struct {
	Provider Provider
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// DetectProvider resolves provider configuration from the environment.
// Priority: GEMINI_API_KEY > OPENAI_API_KEY.
func DetectProvider() (*ProviderConfig, error) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return &ProviderConfig{Provider: ProviderGemini, APIKey: key}, nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return &ProviderConfig{Provider: ProviderOpenAI, APIKey: key}, nil
	}
	return nil, fmt.Errorf("no API key found; set GEMINI_API_KEY or OPENAI_API_KEY")
}

// NewClient builds a Client from a provider config.
func NewClient(ctx context.Context, cfg *ProviderConfig) (Client, error) {
	switch cfg.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
	case ProviderOpenAI:
		oc := DefaultOpenAIConfig(cfg.APIKey)
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		if cfg.Timeout > 0 {
			oc.Timeout = cfg.Timeout
		}
		return NewOpenAIClientWithConfig(oc), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// NewClientFromEnv builds a Client from environment variables.
func NewClientFromEnv(ctx context.Context) (Client, error) {
	cfg, err := DetectProvider()
	if err != nil {
		return nil, err
	}
	return NewClient(ctx, cfg)
}
