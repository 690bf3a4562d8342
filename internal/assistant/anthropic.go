package assistant

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	"github.com/xaenox/assistant/internal/models"
	"go.uber.org/zap"
)

type AnthropicResponder struct {
	client       *anthropic.Client
	model        string
	maxTokens    int
	temperature  float32
	systemPrompt string
	logger       *zap.Logger
}

func NewAnthropicResponder(cfg Config, logger *zap.Logger) *AnthropicResponder {
	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, anthropic.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	return &AnthropicResponder{
		client:       anthropic.NewClient(cfg.APIKey, opts...),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  float32(cfg.Temperature),
		systemPrompt: cfg.SystemPrompt,
		logger:       logger,
	}
}

func (r *AnthropicResponder) Reply(ctx context.Context, history []*models.Message) (string, error) {
	req, err := r.request(history)
	if err != nil {
		return "", err
	}

	resp, err := r.client.CreateMessages(ctx, req)
	if err != nil {
		r.logger.Error("Failed to create message", zap.Error(err), zap.String("model", r.model))
		return "", fmt.Errorf("create message: %w", err)
	}

	var reply strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			reply.WriteString(*block.Text)
		}
	}
	text := strings.TrimSpace(reply.String())
	if text == "" {
		return "", errEmptyReply
	}
	r.logger.Debug("Received message",
		zap.String("model", r.model),
		zap.Int("history", len(history)),
		zap.Int("output_tokens", resp.Usage.OutputTokens))
	return text, nil
}

func (r *AnthropicResponder) request(history []*models.Message) (anthropic.MessagesRequest, error) {
	var systemParts []anthropic.MessageSystemPart
	if r.systemPrompt != "" {
		systemParts = append(systemParts, anthropic.MessageSystemPart{Type: "text", Text: r.systemPrompt})
	}

	var messages []anthropic.Message
	for _, msg := range history {
		switch msg.Role {
		case models.RoleSystem:
			systemParts = append(systemParts, anthropic.MessageSystemPart{Type: "text", Text: msg.Content})
		case models.RoleAssistant:
			// The conversation must open with a user turn.
			if len(messages) == 0 {
				continue
			}
			messages = append(messages, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
		default:
			messages = append(messages, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
		}
	}
	if len(messages) == 0 {
		return anthropic.MessagesRequest{}, fmt.Errorf("no user message to reply to")
	}

	temperature := r.temperature
	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(r.model),
		Messages:    messages,
		MaxTokens:   r.maxTokens,
		Temperature: &temperature,
	}
	if len(systemParts) > 0 {
		req.MultiSystem = systemParts
	}
	return req, nil
}
