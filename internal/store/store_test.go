package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createSession(t *testing.T, s *Store, userID string) *ChatSession {
	t.Helper()
	sess := &ChatSession{UserID: userID, Vehicle: Vehicle{Manufacturer: "Honda", Model: "Civic", Year: 2020}}
	require.NoError(t, s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.CreateSession(context.Background(), sess)
	}))
	return sess
}

func TestVehicleString(t *testing.T) {
	assert.Equal(t, "2020 Honda Civic", Vehicle{Manufacturer: "Honda", Model: "Civic", Year: 2020}.String())
}

func TestCreateAndGetSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := createSession(t, s, "user-1")
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, DefaultTextSize, sess.TextSize)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		got, err := tx.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, sess.Vehicle, got.Vehicle)
		assert.WithinDuration(t, sess.CreatedAt, got.CreatedAt, 0)

		_, err = tx.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestMessagesAreOrdered(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := createSession(t, s, "user-1")

	const n = 25
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
			return tx.AppendMessage(ctx, &Message{SessionID: sess.ID, Role: role, Content: fmt.Sprintf("msg %d", i)})
		}))
	}

	var msgs []Message
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) (err error) {
		msgs, err = tx.ListMessages(ctx, sess.ID)
		return err
	}))
	require.Len(t, msgs, n)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("msg %d", i), m.Content)
		if i > 0 {
			assert.False(t, m.Timestamp.Before(msgs[i-1].Timestamp))
		}
	}
}

func TestMessageProductsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := createSession(t, s, "user-1")
	products := `[{"id":1}]`

	var msgs []Message
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) (err error) {
		require.NoError(t, tx.AppendMessage(ctx, &Message{SessionID: sess.ID, Role: RoleAssistant, Content: "a", Products: &products}))
		require.NoError(t, tx.AppendMessage(ctx, &Message{SessionID: sess.ID, Role: RoleUser, Content: "b"}))
		msgs, err = tx.ListMessages(ctx, sess.ID)
		return err
	}))
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[0].Products)
	assert.Equal(t, products, *msgs[0].Products)
	assert.Nil(t, msgs[1].Products)
}

func TestRejectsUnknownRole(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := createSession(t, s, "user-1")
	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.AppendMessage(ctx, &Message{SessionID: sess.ID, Role: "model", Content: "x"})
	})
	assert.Error(t, err)
}

func TestDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := createSession(t, s, "user-1")
	other := createSession(t, s, "user-1")

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		for _, id := range []string{sess.ID, sess.ID, other.ID} {
			if err := tx.AppendMessage(ctx, &Message{SessionID: id, Role: RoleUser, Content: "hi"}); err != nil {
				return err
			}
		}
		return tx.DeleteSession(ctx, sess.ID)
	}))

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		msgs, err := tx.ListMessages(ctx, sess.ID)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		msgs, err = tx.ListMessages(ctx, other.ID)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)

		_, err = tx.GetSession(ctx, sess.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, tx.DeleteSession(ctx, sess.ID), ErrNotFound)
		return nil
	}))

	var orphans int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM messages WHERE session_id = ?", sess.ID).Scan(&orphans))
	assert.Zero(t, orphans)
}

func TestListAndClearByUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first := createSession(t, s, "user-1")
	time.Sleep(2 * time.Millisecond)
	second := createSession(t, s, "user-1")
	foreign := createSession(t, s, "user-2")

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		require.NoError(t, tx.AppendMessage(ctx, &Message{SessionID: first.ID, Role: RoleUser, Content: "one"}))
		require.NoError(t, tx.AppendMessage(ctx, &Message{SessionID: first.ID, Role: RoleAssistant, Content: "two"}))
		return nil
	}))

	var summaries []SessionSummary
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) (err error) {
		summaries, err = tx.ListSessionsByUser(ctx, "user-1")
		return err
	}))
	require.Len(t, summaries, 2)
	assert.Equal(t, second.ID, summaries[0].ID)
	assert.Equal(t, 0, summaries[0].MessageCount)
	assert.Equal(t, "", summaries[0].LastMessage)
	assert.Equal(t, first.ID, summaries[1].ID)
	assert.Equal(t, 2, summaries[1].MessageCount)
	assert.Equal(t, "two", summaries[1].LastMessage)

	var deleted int64
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) (err error) {
		deleted, err = tx.DeleteSessionsByUser(ctx, "user-1")
		return err
	}))
	assert.Equal(t, int64(2), deleted)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		left, err := tx.ListSessionsByUser(ctx, "user-1")
		require.NoError(t, err)
		assert.Empty(t, left)
		_, err = tx.GetSession(ctx, foreign.ID)
		return err
	}))
}

func TestUpdateTextSize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := createSession(t, s, "user-1")

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		require.NoError(t, tx.UpdateTextSize(ctx, sess.ID, "large"))
		got, err := tx.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "large", got.TextSize)
		assert.ErrorIs(t, tx.UpdateTextSize(ctx, "missing", "large"), ErrNotFound)
		return nil
	}))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := createSession(t, s, "user-1")
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx *Tx) error {
		require.NoError(t, tx.AppendMessage(ctx, &Message{SessionID: sess.ID, Role: RoleUser, Content: "lost"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = s.WithTx(ctx, func(tx *Tx) error {
			_ = tx.AppendMessage(ctx, &Message{SessionID: sess.ID, Role: RoleUser, Content: "lost too"})
			panic("kaboom")
		})
	})

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		msgs, err := tx.ListMessages(ctx, sess.ID)
		require.NoError(t, err)
		assert.Empty(t, msgs)
		return nil
	}))
}

func TestRebind(t *testing.T) {
	query := "UPDATE chat_sessions SET text_size = ? WHERE id = ?"

	sqlite := &Tx{dialect: dialectSQLite}
	assert.Equal(t, query, sqlite.rebind(query))

	pg := &Tx{dialect: dialectPostgres}
	assert.Equal(t, "UPDATE chat_sessions SET text_size = $1 WHERE id = $2", pg.rebind(query))
}
