package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state", "dotchat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedUser(t *testing.T, st *SQLiteStore, id string) {
	t.Helper()
	now := time.UnixMilli(time.Now().UnixMilli())
	require.NoError(t, st.CreateUser(context.Background(), User{
		ID:              id,
		ChatID:          "chat-" + id,
		Profile:         Profile{Username: "u" + id, FirstName: "First"},
		CurrentChatMode: "assistant",
		LastInteraction: now,
		FirstSeen:       now,
	}))
}

func TestSQLiteStore_UserLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	exists, err := st.UserExists(ctx, "42")
	require.NoError(t, err)
	assert.False(t, exists)

	_, found, err := st.GetUser(ctx, "42")
	require.NoError(t, err)
	assert.False(t, found, "missing user must be reported through found flag")

	seedUser(t, st, "42")
	// Creating twice is a no-op.
	seedUser(t, st, "42")

	u, found, err := st.GetUser(ctx, "42")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "chat-42", u.ChatID)
	assert.Equal(t, "u42", u.Profile.Username)
	assert.Equal(t, "assistant", u.CurrentChatMode)
	assert.Empty(t, u.CurrentDialogID)
	assert.Empty(t, u.APIKey)
	assert.Zero(t, u.UsedTokens)

	require.NoError(t, st.SetAPIKey(ctx, "42", "sk-test"))
	require.NoError(t, st.SetChatMode(ctx, "42", "movie_expert"))
	require.NoError(t, st.UpdateProfile(ctx, "42", "", Profile{Username: "renamed"}))
	at := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, st.SetLastInteraction(ctx, "42", at))

	u, _, err = st.GetUser(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", u.APIKey)
	assert.Equal(t, "movie_expert", u.CurrentChatMode)
	assert.Equal(t, "renamed", u.Profile.Username)
	assert.Equal(t, "chat-42", u.ChatID, "empty chat id keeps the stored one")
	assert.True(t, u.LastInteraction.Equal(at))

	require.NoError(t, st.SetAPIKey(ctx, "42", ""))
	u, _, err = st.GetUser(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, u.APIKey)

	assert.Error(t, st.SetChatMode(ctx, "missing", "assistant"))
}

func TestSQLiteStore_DialogTurnsRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedUser(t, st, "1")

	id, err := st.CreateDialog(ctx, "1", "assistant", time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	turns, found, err := st.GetDialogTurns(ctx, "1", id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, turns)

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	want := []Turn{
		{User: "Hello", Bot: "Hi!", Timestamp: ts},
		{User: "How are you?", Bot: "Fine <b>thanks</b>", Timestamp: ts.Add(time.Minute)},
	}
	require.NoError(t, st.SetDialogTurns(ctx, "1", id, want))

	got, found, err := st.GetDialogTurns(ctx, "1", id)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got, 2)
	for i := range want {
		assert.Equal(t, want[i].User, got[i].User)
		assert.Equal(t, want[i].Bot, got[i].Bot)
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
	}

	// Dialogs are scoped to their owner.
	_, found, err = st.GetDialogTurns(ctx, "2", id)
	require.NoError(t, err)
	assert.False(t, found)

	err = st.SetDialogTurns(ctx, "1", "no-such-dialog", want)
	assert.True(t, errors.Is(err, ErrDialogNotFound))

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Users: 1, Dialogs: 1, Turns: 2}, stats)
}

func TestSQLiteStore_AddUsedTokensConcurrent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedUser(t, st, "a")
	seedUser(t, st, "b")

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(2)
		go func(n int64) {
			defer wg.Done()
			_, err := st.AddUsedTokens(ctx, "a", n)
			assert.NoError(t, err)
		}(int64(i))
		go func() {
			defer wg.Done()
			_, err := st.AddUsedTokens(ctx, "b", 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	a, _, err := st.GetUser(ctx, "a")
	require.NoError(t, err)
	b, _, err := st.GetUser(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(210), a.UsedTokens)
	assert.Equal(t, int64(60), b.UsedTokens)

	_, err = st.AddUsedTokens(ctx, "a", -1)
	assert.Error(t, err)
}

func TestSQLiteStore_InTxRollsBackOnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedUser(t, st, "1")
	id, err := st.CreateDialog(ctx, "1", "assistant", time.Now())
	require.NoError(t, err)

	boom := errors.New("boom")
	err = st.InTx(ctx, func(tx Store) error {
		if err := tx.SetDialogTurns(ctx, "1", id, []Turn{{User: "x", Bot: "y", Timestamp: time.Now()}}); err != nil {
			return err
		}
		if _, err := tx.AddUsedTokens(ctx, "1", 50); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	turns, _, err := st.GetDialogTurns(ctx, "1", id)
	require.NoError(t, err)
	assert.Empty(t, turns)
	u, _, err := st.GetUser(ctx, "1")
	require.NoError(t, err)
	assert.Zero(t, u.UsedTokens)

	require.NoError(t, st.InTx(ctx, func(tx Store) error {
		if err := tx.SetDialogTurns(ctx, "1", id, []Turn{{User: "x", Bot: "y", Timestamp: time.Now()}}); err != nil {
			return err
		}
		_, err := tx.AddUsedTokens(ctx, "1", 50)
		return err
	}))
	u, _, err = st.GetUser(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), u.UsedTokens)
}

func TestSQLiteStore_SweepKeepsActiveDialogs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedUser(t, st, "1")

	old, err := st.CreateDialog(ctx, "1", "assistant", time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	active, err := st.CreateDialog(ctx, "1", "assistant", time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	require.NoError(t, st.SetCurrentDialog(ctx, "1", active))

	n, err := st.SweepInactiveDialogs(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, found, err := st.GetDialog(ctx, "1", old)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = st.GetDialog(ctx, "1", active)
	require.NoError(t, err)
	assert.True(t, found)

	dialogs, err := st.ListDialogs(ctx, "1", 10)
	require.NoError(t, err)
	require.Len(t, dialogs, 1)
	assert.Equal(t, active, dialogs[0].ID)
}
