package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/xaenox/assistant/internal/models"
	"github.com/xaenox/assistant/internal/storage"
	"go.uber.org/zap"
)

// CreateSession adds an active session to the cache. No storage I/O happens
// until the next persistence cycle. When the user's sessions are not cached
// yet the new session becomes the whole cached view, so callers that want
// stored sessions to stay visible load them with GetSessions first.
func (s *Service) CreateSession(ctx context.Context, userID, title string, metadata models.Metadata) (*models.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if title == "" {
		title = s.title
	}
	if metadata == nil {
		metadata = models.Metadata{}
	}

	now := s.timestamp()
	session := &models.Session{
		ID:            newID(),
		UserID:        userID,
		Title:         title,
		Status:        models.SessionActive,
		Metadata:      metadata.Clone(),
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	userSessions, ok := s.sessions[userID]
	if !ok {
		userSessions = make(map[string]*models.Session)
		s.sessions[userID] = userSessions
	}
	userSessions[session.ID] = session
	s.dirtySessions[session.ID] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug("Created chat session",
		zap.String("user_id", userID),
		zap.String("session_id", session.ID))
	return session.Clone(), nil
}

// GetSessions returns the user's sessions, most recent activity first. An
// empty status matches every session. On a cache miss all of the user's
// sessions are loaded from storage so later filtered reads stay complete.
func (s *Service) GetSessions(ctx context.Context, userID string, status models.SessionStatus) ([]*models.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown session status %q", ErrValidation, status)
	}

	s.mu.Lock()
	if userSessions, ok := s.sessions[userID]; ok {
		result := sessionView(userSessions, status)
		s.mu.Unlock()
		return result, nil
	}
	deletions := s.deletions
	s.mu.Unlock()

	stored, err := s.store.ListSessions(ctx, storage.SessionQuery{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deletions != deletions {
		fresh := make(map[string]*models.Session, len(stored))
		for _, session := range stored {
			fresh[session.ID] = session
		}
		return sessionView(fresh, status), nil
	}

	userSessions, ok := s.sessions[userID]
	if !ok {
		userSessions = make(map[string]*models.Session, len(stored))
		s.sessions[userID] = userSessions
	}
	for _, session := range stored {
		// Entries created while the store was being read win over stored ones.
		if _, exists := userSessions[session.ID]; !exists {
			userSessions[session.ID] = session
		}
	}

	s.logger.Debug("Loaded sessions from storage",
		zap.String("user_id", userID),
		zap.Int("count", len(stored)))
	return sessionView(userSessions, status), nil
}

// GetSession returns one of the user's sessions, or ErrNotFound when the
// session does not exist or belongs to someone else.
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}
	sessions, err := s.GetSessions(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	for _, session := range sessions {
		if session.ID == sessionID {
			return session, nil
		}
	}
	return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
}

// UpdateSessionStatus changes the status (and optionally replaces the
// metadata) of a session. Cached sessions are updated in memory; otherwise the
// change is written straight to storage.
func (s *Service) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, metadata models.Metadata) (*models.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown session status %q", ErrValidation, status)
	}
	now := s.timestamp()

	s.mu.Lock()
	if session := s.findSessionLocked(sessionID); session != nil {
		session.Status = status
		session.UpdatedAt = now
		if metadata != nil {
			session.Metadata = metadata.Clone()
		}
		s.dirtySessions[sessionID] = struct{}{}
		result := session.Clone()
		s.mu.Unlock()

		s.logger.Debug("Updated session status",
			zap.String("session_id", sessionID),
			zap.String("status", string(status)))
		return result, nil
	}
	s.mu.Unlock()

	updated, err := s.store.UpdateSessionStatus(ctx, storage.StatusUpdate{
		SessionID: sessionID,
		Status:    status,
		Metadata:  metadata.Clone(),
		UpdatedAt: now,
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update session status: %w", err)
	}

	s.logger.Debug("Updated session status in storage",
		zap.String("session_id", sessionID),
		zap.String("status", string(status)))
	return updated, nil
}

// ArchiveSession sets the session's status to archived.
func (s *Service) ArchiveSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.UpdateSessionStatus(ctx, sessionID, models.SessionArchived, nil)
}

// DeleteSession removes the session and all of its messages from the cache
// and from storage. It reports whether storage held the session.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, fmt.Errorf("%w: session id is required", ErrValidation)
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	for _, userSessions := range s.sessions {
		delete(userSessions, sessionID)
	}
	delete(s.messages, sessionID)
	delete(s.dirtySessions, sessionID)
	delete(s.dirtyMessages, sessionID)
	s.deletions++
	s.mu.Unlock()

	if _, err := s.store.DeleteMessages(ctx, sessionID); err != nil {
		return false, fmt.Errorf("failed to delete messages: %w", err)
	}
	deleted, err := s.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}

	if deleted {
		s.logger.Debug("Deleted session and its messages", zap.String("session_id", sessionID))
	}
	return deleted, nil
}

func (s *Service) findSessionLocked(sessionID string) *models.Session {
	for _, userSessions := range s.sessions {
		if session, ok := userSessions[sessionID]; ok {
			return session
		}
	}
	return nil
}

func sessionView(userSessions map[string]*models.Session, status models.SessionStatus) []*models.Session {
	result := make([]*models.Session, 0, len(userSessions))
	for _, session := range userSessions {
		if status != "" && session.Status != status {
			continue
		}
		result = append(result, session.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastMessageAt.Equal(result[j].LastMessageAt) {
			return result[i].LastMessageAt.After(result[j].LastMessageAt)
		}
		return result[i].ID > result[j].ID
	})
	return result
}
