package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotsetgreg/dotchat/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSweeper(t *testing.T) {
	s, err := NewSweeper(nil, 0, "")
	require.NoError(t, err)
	assert.Nil(t, s, "retention disabled")

	_, err = NewSweeper(nil, 30, "not a cron")
	assert.Error(t, err)

	s, err = NewSweeper(nil, 30, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule, s.schedule)
	assert.Equal(t, 30*24*time.Hour, s.maxAge)
}

func TestSweepOnce_DeletesOnlyStaleInactiveDialogs(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dotchat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, st.CreateUser(ctx, store.User{ID: "u", CurrentChatMode: "assistant"}))
	stale, err := st.CreateDialog(ctx, "u", "assistant", now.Add(-10*24*time.Hour))
	require.NoError(t, err)
	recent, err := st.CreateDialog(ctx, "u", "assistant", now.Add(-time.Hour))
	require.NoError(t, err)
	active, err := st.CreateDialog(ctx, "u", "assistant", now.Add(-20*24*time.Hour))
	require.NoError(t, err)
	require.NoError(t, st.SetCurrentDialog(ctx, "u", active))

	s, err := NewSweeper(st, 7, "@daily")
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	n, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[string]bool{stale: false, recent: true, active: true} {
		_, found, err := st.GetDialog(ctx, "u", id)
		require.NoError(t, err)
		assert.Equal(t, want, found, id)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, err := NewSweeper(nil, 1, "@yearly")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
