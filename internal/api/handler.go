package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xaenox/assistant/internal/assistant"
	"github.com/xaenox/assistant/internal/chat"
	"go.uber.org/zap"
)

const (
	DefaultUserHeader = "X-User-ID"
	userIDKey         = "user_id"
)

// Handler handles HTTP requests.
type Handler struct {
	chat         *chat.Service
	conversation *assistant.Conversation
	gatherer     prometheus.Gatherer
	logger       *zap.Logger
}

// NewHandler creates a new handler. gatherer may be nil to disable /metrics.
func NewHandler(svc *chat.Service, conversation *assistant.Conversation, gatherer prometheus.Gatherer, logger *zap.Logger) *Handler {
	return &Handler{
		chat:         svc,
		conversation: conversation,
		gatherer:     gatherer,
		logger:       logger,
	}
}

// RegisterRoutes registers the chat API and operational endpoints. limiter may be nil.
func (h *Handler) RegisterRoutes(e *echo.Echo, userHeader string, limiter echo.MiddlewareFunc) {
	e.GET("/health", h.Health)
	if h.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	g := e.Group("/api/chat", requireUser(userHeader))
	if limiter != nil {
		g.Use(limiter)
	}

	g.GET("/sessions", h.ListSessions)
	g.POST("/sessions", h.CreateSession)
	g.PATCH("/sessions/:session_id", h.UpdateSession)
	g.POST("/sessions/:session_id/archive", h.ArchiveSession)
	g.DELETE("/sessions/:session_id", h.DeleteSession)

	g.GET("/sessions/:session_id/messages", h.GetSessionMessages)
	g.POST("/sessions/:session_id/messages", h.SendMessage)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func requireUser(header string) echo.MiddlewareFunc {
	if header == "" {
		header = DefaultUserHeader
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := c.Request().Header.Get(header)
			if userID == "" {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: "missing " + header + " header"})
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

// fail maps service errors onto HTTP responses.
func (h *Handler) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, chat.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "session not found"})
	}
	h.logger.Error("Request failed",
		zap.Error(err),
		zap.String("path", c.Path()),
		zap.String("user_id", userID(c)))
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}
