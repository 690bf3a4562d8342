package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xaenox/assistant/internal/models"
)

type createSessionRequest struct {
	Title    string          `json:"title"`
	Metadata models.Metadata `json:"metadata"`
}

type updateSessionRequest struct {
	Status   models.SessionStatus `json:"status"`
	Metadata models.Metadata      `json:"metadata"`
}

// ListSessions returns the caller's sessions.
// GET /api/chat/sessions?status=
func (h *Handler) ListSessions(c echo.Context) error {
	status := models.SessionStatus(c.QueryParam("status"))
	sessions, err := h.chat.GetSessions(c.Request().Context(), userID(c), status)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

// CreateSession starts a new session for the caller.
// POST /api/chat/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	ctx := c.Request().Context()
	// Load stored sessions first; CreateSession on a cold cache would hide them.
	if _, err := h.chat.GetSessions(ctx, userID(c), ""); err != nil {
		return h.fail(c, err)
	}
	session, err := h.chat.CreateSession(ctx, userID(c), req.Title, req.Metadata)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

// UpdateSession changes a session's status and, when given, its metadata.
// PATCH /api/chat/sessions/:session_id
func (h *Handler) UpdateSession(c echo.Context) error {
	var req updateSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	current, err := h.chat.GetSession(ctx, userID(c), sessionID)
	if err != nil {
		return h.fail(c, err)
	}
	status := req.Status
	if status == "" {
		status = current.Status
	}
	session, err := h.chat.UpdateSessionStatus(ctx, sessionID, status, req.Metadata)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// ArchiveSession marks a session archived.
// POST /api/chat/sessions/:session_id/archive
func (h *Handler) ArchiveSession(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	if _, err := h.chat.GetSession(ctx, userID(c), sessionID); err != nil {
		return h.fail(c, err)
	}
	session, err := h.chat.ArchiveSession(ctx, sessionID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// DeleteSession removes a session and its messages.
// DELETE /api/chat/sessions/:session_id
func (h *Handler) DeleteSession(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	if _, err := h.chat.GetSession(ctx, userID(c), sessionID); err != nil {
		return h.fail(c, err)
	}
	if _, err := h.chat.DeleteSession(ctx, sessionID); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
