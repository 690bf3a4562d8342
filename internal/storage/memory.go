package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/xaenox/assistant/internal/models"
)

type MemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string]*models.Message
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions: make(map[string]*models.Session),
		messages: make(map[string]*models.Message),
	}
}

// Session methods
func (s *MemoryStorage) ListSessions(ctx context.Context, q SessionQuery) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*models.Session{}
	for _, session := range s.sessions {
		if session.UserID != q.UserID {
			continue
		}
		if q.Status != "" && session.Status != q.Status {
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
	return result, nil
}

func (s *MemoryStorage) UpsertSessions(ctx context.Context, sessions []*models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range sessions {
		s.sessions[session.ID] = session.Clone()
	}
	return nil
}

func (s *MemoryStorage) UpdateSessionStatus(ctx context.Context, u StatusUpdate) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[u.SessionID]
	if !exists {
		return nil, ErrNotFound
	}

	session.Status = u.Status
	session.UpdatedAt = u.UpdatedAt
	if u.Metadata != nil {
		session.Metadata = u.Metadata.Clone()
	}
	return session.Clone(), nil
}

func (s *MemoryStorage) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return false, nil
	}
	delete(s.sessions, sessionID)
	return true, nil
}

// Message methods
func (s *MemoryStorage) ListMessages(ctx context.Context, q MessageQuery) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*models.Message{}
	for _, msg := range s.messages {
		if msg.SessionID != q.SessionID {
			continue
		}
		if q.Status != "" && msg.Status != q.Status {
			continue
		}
		if q.BeforeID != "" && msg.ID >= q.BeforeID {
			continue
		}
		result = append(result, msg.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (s *MemoryStorage) UpsertMessages(ctx context.Context, messages []*models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range messages {
		s.messages[msg.ID] = msg.Clone()
	}
	return nil
}

func (s *MemoryStorage) DeleteMessages(ctx context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, msg := range s.messages {
		if msg.SessionID == sessionID {
			delete(s.messages, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
