// Package assistant produces assistant replies for chat sessions using a
// configurable LLM provider.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/assistant/internal/models"
	"go.uber.org/zap"
)

const (
	ProviderOpenAI    = "openai"
	ProviderDeepSeek  = "deepseek"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"

	DefaultDeepSeekBaseURL = "https://api.deepseek.com/v1"

	DefaultSystemPrompt = "You are a helpful and friendly assistant that helps users with their questions and tasks."
	// FallbackReply is stored as the assistant message when the provider fails.
	FallbackReply = "Sorry, an error occurred while processing your message."
)

// Responder generates the next assistant message for a conversation. history
// is in chronological order and ends with the user's latest message.
type Responder interface {
	Reply(ctx context.Context, history []*models.Message) (string, error)
}

type Config struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
	// Timeout bounds one provider request. Zero leaves it to the caller's context.
	Timeout time.Duration
}

var defaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderDeepSeek:  "deepseek-chat",
	ProviderAnthropic: "claude-3-5-haiku-latest",
}

// New builds the Responder for cfg.Provider. The "none" provider, or an empty
// one, returns a nil Responder: conversations then store user messages only.
func New(cfg Config, logger *zap.Logger) (Responder, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" || provider == ProviderNone {
		logger.Info("LLM replies disabled")
		return nil, nil
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm provider %q requires an api key", provider)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModels[provider]
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	switch provider {
	case ProviderOpenAI:
		logger.Info("Using OpenAI responder", zap.String("model", cfg.Model))
		return NewOpenAIResponder(cfg, logger), nil
	case ProviderDeepSeek:
		if cfg.BaseURL == "" {
			cfg.BaseURL = DefaultDeepSeekBaseURL
		}
		logger.Info("Using DeepSeek responder", zap.String("model", cfg.Model))
		return NewOpenAIResponder(cfg, logger), nil
	case ProviderAnthropic:
		logger.Info("Using Anthropic responder", zap.String("model", cfg.Model))
		return NewAnthropicResponder(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
