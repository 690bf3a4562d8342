package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xaenox/assistant/internal/models"
	"go.uber.org/zap"
)

func (s *Service) runPersistenceWorker(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycleCtx, cancel := context.WithTimeout(ctx, s.interval)
			// Errors are logged and counted inside the cycle; entries stay dirty.
			_ = s.persistDirtyData(cycleCtx)
			cancel()
		}
	}
}

// persistDirtyData drains the dirty sets and upserts the captured entries.
// The sets are swapped for empty ones under the lock, so markers added while
// the upserts run are kept for the next cycle. A failed step puts its ids back.
func (s *Service) persistDirtyData(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	sessionIDs := s.dirtySessions
	messageIDs := s.dirtyMessages
	s.dirtySessions = make(map[string]struct{})
	s.dirtyMessages = make(map[string]struct{})

	var sessions []*models.Session
	if len(sessionIDs) > 0 {
		for _, userSessions := range s.sessions {
			for id, session := range userSessions {
				if _, dirty := sessionIDs[id]; dirty {
					sessions = append(sessions, session.Clone())
				}
			}
		}
	}
	var messages []*models.Message
	for id := range messageIDs {
		for _, msg := range s.messages[id] {
			messages = append(messages, msg.Clone())
		}
	}
	s.mu.Unlock()

	var errs []error

	if len(sessions) > 0 {
		if err := s.store.UpsertSessions(ctx, sessions); err != nil {
			s.requeue(sessionIDs, nil)
			s.metrics.cycleFailed(kindSessions)
			s.logger.Error("Failed to persist sessions",
				zap.Error(err),
				zap.Int("count", len(sessions)))
			errs = append(errs, fmt.Errorf("persist sessions: %w", err))
		} else {
			s.metrics.persisted(kindSessions, len(sessions))
			s.logger.Debug("Persisted sessions", zap.Int("count", len(sessions)))
		}
	}

	if len(messages) > 0 {
		if err := s.store.UpsertMessages(ctx, messages); err != nil {
			s.requeue(nil, messageIDs)
			s.metrics.cycleFailed(kindMessages)
			s.logger.Error("Failed to persist messages",
				zap.Error(err),
				zap.Int("count", len(messages)),
				zap.Int("sessions", len(messageIDs)))
			errs = append(errs, fmt.Errorf("persist messages: %w", err))
		} else {
			s.metrics.persisted(kindMessages, len(messages))
			s.logger.Debug("Persisted messages", zap.Int("count", len(messages)))
		}
	}

	s.mu.Lock()
	s.metrics.setPending(len(s.dirtySessions), len(s.dirtyMessages))
	s.mu.Unlock()

	if len(errs) > 0 {
		s.metrics.cycle(resultError)
		return errors.Join(errs...)
	}
	s.metrics.cycle(resultOK)
	return nil
}

func (s *Service) requeue(sessionIDs, messageIDs map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range sessionIDs {
		s.dirtySessions[id] = struct{}{}
	}
	for id := range messageIDs {
		s.dirtyMessages[id] = struct{}{}
	}
}

// Pending reports how many sessions and message lists await persistence.
func (s *Service) Pending() (sessions, messageLists int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirtySessions), len(s.dirtyMessages)
}
