package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/xaenox/assistant/internal/chat"
	"github.com/xaenox/assistant/internal/models"
)

const maxMessageLimit = 200

type sendMessageRequest struct {
	Content  string          `json:"content"`
	Metadata models.Metadata `json:"metadata"`
}

// GetSessionMessages retrieves messages for a session, newest first.
// GET /api/chat/sessions/:session_id/messages?limit=&before=&status=
func (h *Handler) GetSessionMessages(c echo.Context) error {
	limit := chat.DefaultMessageLimit
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = min(val, maxMessageLimit)
		}
	}
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	if _, err := h.chat.GetSession(ctx, userID(c), sessionID); err != nil {
		return h.fail(c, err)
	}

	// One extra row tells whether an older page exists.
	messages, err := h.chat.GetSessionMessages(ctx, sessionID, chat.MessageQuery{
		Limit:    limit + 1,
		BeforeID: c.QueryParam("before"),
		Status:   models.MessageStatus(c.QueryParam("status")),
	})
	if err != nil {
		return h.fail(c, err)
	}
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"has_more": hasMore,
	})
}

// SendMessage stores the caller's message and the assistant reply.
// POST /api/chat/sessions/:session_id/messages
func (h *Handler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	if _, err := h.chat.GetSession(ctx, userID(c), sessionID); err != nil {
		return h.fail(c, err)
	}

	user, reply, err := h.conversation.Send(ctx, sessionID, req.Content, req.Metadata)
	if err != nil {
		return h.fail(c, err)
	}
	messages := []*models.Message{user}
	if reply != nil {
		messages = append(messages, reply)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"messages": messages,
	})
}
