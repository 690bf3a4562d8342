package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/assistant/internal/models"
	"go.uber.org/zap/zaptest"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(offset int) time.Time {
	return base.Add(time.Duration(offset) * time.Second)
}

func newSession(userID, title string, last time.Time) *models.Session {
	return &models.Session{
		ID:            uuid.Must(uuid.NewV7()).String(),
		UserID:        userID,
		Title:         title,
		Status:        models.SessionActive,
		Metadata:      models.Metadata{"source": models.String("test")},
		LastMessageAt: last,
		CreatedAt:     base,
		UpdatedAt:     last,
	}
}

func newMessage(sessionID, content string, created time.Time) *models.Message {
	return &models.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Content:   content,
		Role:      models.RoleUser,
		Status:    models.MessageSent,
		Metadata:  models.Metadata{},
		CreatedAt: created,
	}
}

// runStorageTests exercises the behaviour every Storage implementation shares.
func runStorageTests(t *testing.T, open func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("sessions round trip", func(t *testing.T) {
		store := open(t)
		user := "user-" + uuid.NewString()
		older := newSession(user, "older", at(1))
		newer := newSession(user, "newer", at(2))
		newer.Metadata = models.Metadata{
			"tags":  models.Array(models.String("a"), models.Number(2)),
			"flags": models.Object(map[string]models.Value{"pinned": models.Bool(true)}),
			"none":  models.Null(),
		}
		require.NoError(t, store.UpsertSessions(ctx, []*models.Session{older, newer}))

		sessions, err := store.ListSessions(ctx, SessionQuery{UserID: user})
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, newer.ID, sessions[0].ID)
		assert.Equal(t, older.ID, sessions[1].ID)
		assert.Equal(t, newer.Title, sessions[0].Title)
		assert.True(t, newer.LastMessageAt.Equal(sessions[0].LastMessageAt))
		assert.True(t, newer.CreatedAt.Equal(sessions[0].CreatedAt))
		assert.Equal(t, newer.Metadata, sessions[0].Metadata)

		other, err := store.ListSessions(ctx, SessionQuery{UserID: "nobody-" + uuid.NewString()})
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("upsert replaces by id", func(t *testing.T) {
		store := open(t)
		user := "user-" + uuid.NewString()
		session := newSession(user, "first", at(1))
		require.NoError(t, store.UpsertSessions(ctx, []*models.Session{session}))

		session.Title = "second"
		session.Status = models.SessionArchived
		session.LastMessageAt = at(5)
		require.NoError(t, store.UpsertSessions(ctx, []*models.Session{session}))

		sessions, err := store.ListSessions(ctx, SessionQuery{UserID: user})
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, "second", sessions[0].Title)
		assert.Equal(t, models.SessionArchived, sessions[0].Status)
		assert.True(t, at(5).Equal(sessions[0].LastMessageAt))
	})

	t.Run("status filter", func(t *testing.T) {
		store := open(t)
		user := "user-" + uuid.NewString()
		active := newSession(user, "active", at(1))
		archived := newSession(user, "archived", at(2))
		archived.Status = models.SessionArchived
		require.NoError(t, store.UpsertSessions(ctx, []*models.Session{active, archived}))

		sessions, err := store.ListSessions(ctx, SessionQuery{UserID: user, Status: models.SessionArchived})
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, archived.ID, sessions[0].ID)
	})

	t.Run("update session status", func(t *testing.T) {
		store := open(t)
		user := "user-" + uuid.NewString()
		session := newSession(user, "s", at(1))
		require.NoError(t, store.UpsertSessions(ctx, []*models.Session{session}))

		updated, err := store.UpdateSessionStatus(ctx, StatusUpdate{
			SessionID: session.ID,
			Status:    models.SessionArchived,
			UpdatedAt: at(9),
		})
		require.NoError(t, err)
		assert.Equal(t, models.SessionArchived, updated.Status)
		assert.True(t, at(9).Equal(updated.UpdatedAt))
		assert.Equal(t, session.Metadata, updated.Metadata, "nil metadata keeps the stored value")

		updated, err = store.UpdateSessionStatus(ctx, StatusUpdate{
			SessionID: session.ID,
			Status:    models.SessionActive,
			Metadata:  models.Metadata{"k": models.String("v")},
			UpdatedAt: at(10),
		})
		require.NoError(t, err)
		assert.Equal(t, models.Metadata{"k": models.String("v")}, updated.Metadata)

		_, err = store.UpdateSessionStatus(ctx, StatusUpdate{
			SessionID: "missing-" + uuid.NewString(),
			Status:    models.SessionArchived,
			UpdatedAt: at(11),
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("messages newest first with cursor and limit", func(t *testing.T) {
		store := open(t)
		sessionID := uuid.NewString()
		var msgs []*models.Message
		for i := 0; i < 5; i++ {
			msgs = append(msgs, newMessage(sessionID, fmt.Sprintf("m%d", i), at(i)))
		}
		msgs[3].Status = models.MessageError
		require.NoError(t, store.UpsertMessages(ctx, msgs))
		require.NoError(t, store.UpsertMessages(ctx, []*models.Message{newMessage(uuid.NewString(), "other", at(0))}))

		all, err := store.ListMessages(ctx, MessageQuery{SessionID: sessionID})
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, msg := range all {
			assert.Equal(t, fmt.Sprintf("m%d", 4-i), msg.Content)
			assert.Equal(t, sessionID, msg.SessionID)
		}
		assert.True(t, at(4).Equal(all[0].CreatedAt))

		limited, err := store.ListMessages(ctx, MessageQuery{SessionID: sessionID, Limit: 2})
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, "m4", limited[0].Content)

		before, err := store.ListMessages(ctx, MessageQuery{SessionID: sessionID, BeforeID: msgs[2].ID})
		require.NoError(t, err)
		require.Len(t, before, 2)
		assert.Equal(t, "m1", before[0].Content)
		assert.Equal(t, "m0", before[1].Content)

		failed, err := store.ListMessages(ctx, MessageQuery{SessionID: sessionID, Status: models.MessageError})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, "m3", failed[0].Content)
	})

	t.Run("message upsert is idempotent", func(t *testing.T) {
		store := open(t)
		sessionID := uuid.NewString()
		msg := newMessage(sessionID, "hello", at(1))
		require.NoError(t, store.UpsertMessages(ctx, []*models.Message{msg}))
		msg.Status = models.MessageDelivered
		require.NoError(t, store.UpsertMessages(ctx, []*models.Message{msg}))

		messages, err := store.ListMessages(ctx, MessageQuery{SessionID: sessionID})
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, models.MessageDelivered, messages[0].Status)
	})

	t.Run("delete", func(t *testing.T) {
		store := open(t)
		user := "user-" + uuid.NewString()
		session := newSession(user, "s", at(1))
		require.NoError(t, store.UpsertSessions(ctx, []*models.Session{session}))
		require.NoError(t, store.UpsertMessages(ctx, []*models.Message{
			newMessage(session.ID, "a", at(1)),
			newMessage(session.ID, "b", at(2)),
			newMessage(session.ID, "c", at(3)),
		}))

		n, err := store.DeleteMessages(ctx, session.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)

		deleted, err := store.DeleteSession(ctx, session.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = store.DeleteSession(ctx, session.ID)
		require.NoError(t, err)
		assert.False(t, deleted)

		messages, err := store.ListMessages(ctx, MessageQuery{SessionID: session.ID})
		require.NoError(t, err)
		assert.Empty(t, messages)
	})
}

func TestMemoryStorage(t *testing.T) {
	runStorageTests(t, func(t *testing.T) Storage {
		return NewMemoryStorage()
	})
}

func TestMemoryStorageReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	session := newSession("u1", "original", at(1))
	require.NoError(t, store.UpsertSessions(ctx, []*models.Session{session}))
	session.Title = "changed"

	sessions, err := store.ListSessions(ctx, SessionQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "original", sessions[0].Title)
}

func TestSQLiteStorage(t *testing.T) {
	runStorageTests(t, func(t *testing.T) Storage {
		store, err := NewSQLiteStorage(":memory:", zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestPostgresStorage(t *testing.T) {
	dsn := os.Getenv("ASSISTANT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ASSISTANT_TEST_POSTGRES_DSN not set")
	}
	runStorageTests(t, func(t *testing.T) Storage {
		store, err := openPostgres(dsn, zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestOpen(t *testing.T) {
	logger := zaptest.NewLogger(t)

	store, err := Open(DatabaseConfig{Driver: DriverMemory}, logger)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, store)

	store, err = Open(DatabaseConfig{Driver: DriverSQLite, Path: ":memory:"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &SQLStorage{}, store)
	require.NoError(t, store.Close())

	_, err = Open(DatabaseConfig{Driver: "mongo"}, logger)
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &SQLStorage{dialect: postgresDialect}
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 WHERE a = ? AND b = ?"))

	lite := &SQLStorage{dialect: sqliteDialect}
	assert.Equal(t, "SELECT 1 WHERE a = ?", lite.rebind("SELECT 1 WHERE a = ?"))
}

func TestDBNameOf(t *testing.T) {
	assert.Equal(t, "chat", dbNameOf("host=db port=5432 user=u password=p dbname=chat sslmode=disable"))
	assert.Equal(t, "", dbNameOf("host=db"))
}

func TestTimestampScan(t *testing.T) {
	var got time.Time
	want := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)

	require.NoError(t, timestamp{&got}.Scan(want.UnixMicro()))
	assert.True(t, want.Equal(got))

	require.NoError(t, timestamp{&got}.Scan(want.In(time.FixedZone("x", 3600))))
	assert.Equal(t, time.UTC, got.Location())

	require.NoError(t, timestamp{&got}.Scan([]byte(want.Format(time.RFC3339Nano))))
	assert.True(t, want.Equal(got))

	assert.Error(t, timestamp{&got}.Scan(3.5))
}
