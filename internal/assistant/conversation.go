package assistant

import (
	"context"
	"fmt"

	"github.com/xaenox/assistant/internal/chat"
	"github.com/xaenox/assistant/internal/models"
	"go.uber.org/zap"
)

const DefaultHistoryLimit = 20

// Conversation stores a user message, asks the Responder for a reply and
// stores the reply in the same session.
type Conversation struct {
	chat         *chat.Service
	responder    Responder
	historyLimit int
	logger       *zap.Logger
}

// NewConversation wires a Conversation. responder may be nil, in which case
// Send only stores the user message.
func NewConversation(svc *chat.Service, responder Responder, historyLimit int, logger *zap.Logger) *Conversation {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Conversation{
		chat:         svc,
		responder:    responder,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// Send records content as a user message and returns it together with the
// assistant reply. A provider failure is not an error: the reply is stored
// with status error and FallbackReply as its content. reply is nil when no
// responder is configured.
func (c *Conversation) Send(ctx context.Context, sessionID, content string, metadata models.Metadata) (user, reply *models.Message, err error) {
	if sessionID == "" || content == "" {
		return nil, nil, fmt.Errorf("%w: session id and content are required", chat.ErrValidation)
	}
	// Load the stored history first; AddMessage on a cold cache would hide it.
	if _, err := c.chat.GetSessionMessages(ctx, sessionID, chat.MessageQuery{Limit: 1}); err != nil {
		return nil, nil, fmt.Errorf("failed to load history: %w", err)
	}

	user, err = c.chat.AddMessage(ctx, sessionID, content, models.RoleUser, metadata, models.MessageSent)
	if err != nil {
		return nil, nil, err
	}
	if c.responder == nil {
		return user, nil, nil
	}

	recent, err := c.chat.GetSessionMessages(ctx, sessionID, chat.MessageQuery{Limit: c.historyLimit})
	if err != nil {
		return user, nil, fmt.Errorf("failed to load history: %w", err)
	}
	history := make([]*models.Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		// Fallback replies are not part of the conversation the model sees.
		if recent[i].Status == models.MessageError {
			continue
		}
		history = append(history, recent[i])
	}

	text, replyErr := c.responder.Reply(ctx, history)
	if replyErr != nil {
		c.logger.Warn("Assistant reply failed, storing fallback",
			zap.Error(replyErr),
			zap.String("session_id", sessionID))
		reply, err = c.chat.AddMessage(ctx, sessionID, FallbackReply, models.RoleAssistant,
			models.Metadata{"fallback": models.Bool(true)}, models.MessageError)
	} else {
		reply, err = c.chat.AddMessage(ctx, sessionID, text, models.RoleAssistant, nil, models.MessageDelivered)
	}
	if err != nil {
		return user, nil, err
	}
	return user, reply, nil
}
