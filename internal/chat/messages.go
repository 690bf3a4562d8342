package chat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xaenox/assistant/internal/models"
	"github.com/xaenox/assistant/internal/storage"
	"go.uber.org/zap"
)

// MessageQuery narrows GetSessionMessages. Zero values disable a filter.
type MessageQuery struct {
	Limit    int
	BeforeID string
	Status   models.MessageStatus
}

// AddMessage appends a message to the session's cached history and touches the
// owning session. Empty role and status default to user and sent. Like
// CreateSession it never reads storage: on a cold session the cached list
// starts with this message, so load the history with GetSessionMessages first
// when it matters.
func (s *Service) AddMessage(ctx context.Context, sessionID, content string, role models.Role, metadata models.Metadata, status models.MessageStatus) (*models.Message, error) {
	if sessionID == "" || content == "" {
		return nil, fmt.Errorf("%w: session id and content are required", ErrValidation)
	}
	if role == "" {
		role = models.RoleUser
	}
	if status == "" {
		status = models.MessageSent
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown message status %q", ErrValidation, status)
	}
	if metadata == nil {
		metadata = models.Metadata{}
	}

	now := s.timestamp()

	s.mu.Lock()
	list := s.messages[sessionID]
	// Creation times are strictly increasing within a session.
	if n := len(list); n > 0 && !now.After(list[n-1].CreatedAt) {
		now = list[n-1].CreatedAt.Add(time.Microsecond)
	}
	msg := &models.Message{
		ID:        newID(),
		SessionID: sessionID,
		Content:   content,
		Role:      role,
		Status:    status,
		Metadata:  metadata.Clone(),
		CreatedAt: now,
	}
	s.messages[sessionID] = append(list, msg)
	s.dirtyMessages[sessionID] = struct{}{}

	if session := s.findSessionLocked(sessionID); session != nil {
		if msg.CreatedAt.After(session.LastMessageAt) {
			session.LastMessageAt = msg.CreatedAt
		}
		if msg.CreatedAt.After(session.UpdatedAt) {
			session.UpdatedAt = msg.CreatedAt
		}
		s.dirtySessions[sessionID] = struct{}{}
	}
	result := msg.Clone()
	s.mu.Unlock()

	s.logger.Debug("Added message",
		zap.String("session_id", sessionID),
		zap.String("role", string(role)))
	return result, nil
}

// GetSessionMessages returns up to q.Limit messages, newest first. On a cache
// miss the session's full history is loaded from storage and cached, so cached
// and uncached reads answer the same query identically.
func (s *Service) GetSessionMessages(ctx context.Context, sessionID string, q MessageQuery) ([]*models.Message, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown message status %q", ErrValidation, q.Status)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultMessageLimit
	}

	s.mu.Lock()
	if list, ok := s.messages[sessionID]; ok {
		result := messageView(list, q)
		s.mu.Unlock()
		return result, nil
	}
	deletions := s.deletions
	s.mu.Unlock()

	stored, err := s.store.ListMessages(ctx, storage.MessageQuery{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	// Storage returns newest first; the cache keeps append order.
	history := make([]*models.Message, len(stored))
	for i, msg := range stored {
		history[len(stored)-1-i] = msg
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deletions != deletions {
		return messageView(history, q), nil
	}

	if list, ok := s.messages[sessionID]; ok {
		// Messages appended while the store was being read are kept.
		seen := make(map[string]struct{}, len(list))
		for _, msg := range list {
			seen[msg.ID] = struct{}{}
		}
		for _, msg := range history {
			if _, dup := seen[msg.ID]; !dup {
				list = append(list, msg)
			}
		}
		sort.SliceStable(list, func(i, j int) bool {
			return lessMessage(list[i], list[j])
		})
		history = list
	}
	s.messages[sessionID] = history

	s.logger.Debug("Loaded messages from storage",
		zap.String("session_id", sessionID),
		zap.Int("count", len(stored)))
	return messageView(history, q), nil
}

// lessMessage orders by creation time, then id.
func lessMessage(a, b *models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func messageView(list []*models.Message, q MessageQuery) []*models.Message {
	result := make([]*models.Message, 0, len(list))
	for _, msg := range list {
		if q.Status != "" && msg.Status != q.Status {
			continue
		}
		if q.BeforeID != "" && msg.ID >= q.BeforeID {
			continue
		}
		result = append(result, msg)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return lessMessage(result[j], result[i])
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	for i, msg := range result {
		result[i] = msg.Clone()
	}
	return result
}
