// Package chat implements the write-back cache for chat sessions and messages.
//
// Mutations are applied to in-memory state and marked dirty; a background
// worker periodically upserts dirty entries into the backing storage.Storage.
// A crash between a successful mutation and the next flush loses that
// mutation, so hosts must call Flush before exiting.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/assistant/internal/models"
	"github.com/xaenox/assistant/internal/storage"
	"go.uber.org/zap"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
)

const (
	DefaultPersistInterval = 60 * time.Second
	DefaultTitle           = "New Conversation"
	DefaultMessageLimit    = 50
)

type Config struct {
	PersistInterval time.Duration
	DefaultTitle    string
	// Now overrides the clock. nil uses time.Now.
	Now func() time.Time
}

type Service struct {
	store    storage.Storage
	logger   *zap.Logger
	metrics  *Metrics
	interval time.Duration
	title    string
	now      func() time.Time

	mu            sync.Mutex
	sessions      map[string]map[string]*models.Session // user id -> session id -> session
	messages      map[string][]*models.Message          // session id -> messages in append order
	dirtySessions map[string]struct{}
	dirtyMessages map[string]struct{}
	// deletions counts DeleteSession calls so that a cache-miss read which
	// raced with a delete does not repopulate the cache with stale rows.
	deletions uint64
	cancel    context.CancelFunc
	done      chan struct{}

	// persistMu serializes persistence cycles and store-side deletes.
	persistMu sync.Mutex
}

// NewService builds a Service. metrics may be nil. The persistence worker is
// not running until Start is called.
func NewService(store storage.Storage, cfg Config, logger *zap.Logger, metrics *Metrics) *Service {
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = DefaultPersistInterval
	}
	if cfg.DefaultTitle == "" {
		cfg.DefaultTitle = DefaultTitle
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:         store,
		logger:        logger,
		metrics:       metrics,
		interval:      cfg.PersistInterval,
		title:         cfg.DefaultTitle,
		now:           cfg.Now,
		sessions:      make(map[string]map[string]*models.Session),
		messages:      make(map[string][]*models.Message),
		dirtySessions: make(map[string]struct{}),
		dirtyMessages: make(map[string]struct{}),
	}
}

// Start launches the persistence worker. Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.runPersistenceWorker(ctx, s.done)
	s.logger.Info("Chat service started", zap.Duration("persist_interval", s.interval))
}

// Stop cancels the persistence worker and waits for it to exit. It does not
// flush; call Flush afterwards when durability is required.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Chat service stopped")
}

// Flush runs one persistence cycle immediately.
func (s *Service) Flush(ctx context.Context) error {
	return s.persistDirtyData(ctx)
}

func (s *Service) timestamp() time.Time {
	// Postgres keeps microseconds; truncating keeps cache and store identical.
	return s.now().UTC().Truncate(time.Microsecond)
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}
