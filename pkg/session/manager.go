// DotChat - chat assistant front-end for OpenAI-compatible models
// License: MIT
//
// Copyright (c) 2026 DotChat contributors

// Package session owns per-user dialog state: which dialog is active, its
// turn history and the selected chat mode.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dotsetgreg/dotchat/pkg/chatmode"
	"github.com/dotsetgreg/dotchat/pkg/logger"
	"github.com/dotsetgreg/dotchat/pkg/store"
)

var (
	ErrUnknownChatMode = errors.New("unknown chat mode")
	ErrEmptyHistory    = errors.New("no turn available")

	// ErrUserNotFound means an operation ran before EnsureUser.
	ErrUserNotFound   = errors.New("user not found")
	ErrNoActiveDialog = errors.New("no active dialog")
)

// Manager is the only writer of a user's active dialog pointer, chat mode
// and dialog turns. Callers serialize per-user work with Lock.
type Manager struct {
	store   store.Store
	catalog *chatmode.Catalog
	locks   *userLocks
	now     func() time.Time
}

func NewManager(st store.Store, catalog *chatmode.Catalog) *Manager {
	return &Manager{
		store:   st,
		catalog: catalog,
		locks:   newUserLocks(),
		now:     time.Now,
	}
}

// WithStore returns a manager sharing locks and catalog but reading and
// writing through st, typically a transaction-scoped store.
func (m *Manager) WithStore(st store.Store) *Manager {
	cp := *m
	cp.store = st
	return &cp
}

// SetClock replaces the time source used for dialog timestamps.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

func (m *Manager) Catalog() *chatmode.Catalog { return m.catalog }

// Lock serializes operations for one user. It blocks until the lock is
// free or ctx is done.
func (m *Manager) Lock(ctx context.Context, userID string) (unlock func(), err error) {
	return m.locks.acquire(ctx, userID)
}

// EnsureUser creates the user and an initial dialog on first contact, and
// repairs a missing or dangling active dialog. Repeated calls are no-ops.
func (m *Manager) EnsureUser(ctx context.Context, userID, chatID string, profile store.Profile) error {
	return m.store.InTx(ctx, func(tx store.Store) error {
		sm := m.WithStore(tx)
		u, found, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if !found {
			now := sm.now()
			if err := tx.CreateUser(ctx, store.User{
				ID:              userID,
				ChatID:          chatID,
				Profile:         profile,
				CurrentChatMode: sm.catalog.Default().Key,
				LastInteraction: now,
				FirstSeen:       now,
			}); err != nil {
				return err
			}
			logger.InfoCF("session", "Registered new user", map[string]any{
				"user_id": userID,
				"chat_id": chatID,
			})
			_, err := sm.startNewDialog(ctx, userID, sm.catalog.Default().Key)
			return err
		}

		if profile == (store.Profile{}) {
			profile = u.Profile
		}
		if (chatID != "" && chatID != u.ChatID) || profile != u.Profile {
			if err := tx.UpdateProfile(ctx, userID, chatID, profile); err != nil {
				return err
			}
		}

		mode := u.CurrentChatMode
		if !sm.catalog.Has(mode) {
			mode = sm.catalog.Default().Key
			logger.WarnCF("session", "Stored chat mode no longer in catalog, resetting to default", map[string]any{
				"user_id": userID,
				"mode":    u.CurrentChatMode,
			})
			if err := tx.SetChatMode(ctx, userID, mode); err != nil {
				return err
			}
		}

		if u.CurrentDialogID != "" {
			_, found, err := tx.GetDialog(ctx, userID, u.CurrentDialogID)
			if err != nil {
				return err
			}
			if found {
				return nil
			}
		}
		_, err = sm.startNewDialog(ctx, userID, mode)
		return err
	})
}

// StartNewDialog makes a fresh empty dialog active. The previous dialog is
// left as it was.
func (m *Manager) StartNewDialog(ctx context.Context, userID string) (string, error) {
	var id string
	err := m.store.InTx(ctx, func(tx store.Store) error {
		sm := m.WithStore(tx)
		u, err := sm.user(ctx, userID)
		if err != nil {
			return err
		}
		id, err = sm.startNewDialog(ctx, userID, u.CurrentChatMode)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (m *Manager) startNewDialog(ctx context.Context, userID, mode string) (string, error) {
	id, err := m.store.CreateDialog(ctx, userID, mode, m.now())
	if err != nil {
		return "", err
	}
	if err := m.store.SetCurrentDialog(ctx, userID, id); err != nil {
		return "", err
	}
	logger.DebugCF("session", "Started new dialog", map[string]any{
		"user_id":   userID,
		"dialog_id": id,
		"mode":      mode,
	})
	return id, nil
}

// History returns the active dialog's turns, or an empty slice.
func (m *Manager) History(ctx context.Context, userID string) ([]store.Turn, error) {
	u, err := m.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.CurrentDialogID == "" {
		return []store.Turn{}, nil
	}
	turns, found, err := m.store.GetDialogTurns(ctx, userID, u.CurrentDialogID)
	if err != nil {
		return nil, err
	}
	if !found || turns == nil {
		return []store.Turn{}, nil
	}
	return turns, nil
}

// ReplaceHistory overwrites the active dialog's turns.
func (m *Manager) ReplaceHistory(ctx context.Context, userID string, turns []store.Turn) error {
	u, err := m.user(ctx, userID)
	if err != nil {
		return err
	}
	if u.CurrentDialogID == "" {
		return fmt.Errorf("replace history for %s: %w", userID, ErrNoActiveDialog)
	}
	return m.store.SetDialogTurns(ctx, userID, u.CurrentDialogID, turns)
}

// PopLastTurn removes and returns the newest turn of the active dialog.
func (m *Manager) PopLastTurn(ctx context.Context, userID string) (store.Turn, error) {
	var last store.Turn
	err := m.store.InTx(ctx, func(tx store.Store) error {
		sm := m.WithStore(tx)
		turns, err := sm.History(ctx, userID)
		if err != nil {
			return err
		}
		if len(turns) == 0 {
			return ErrEmptyHistory
		}
		last = turns[len(turns)-1]
		return sm.ReplaceHistory(ctx, userID, turns[:len(turns)-1])
	})
	if err != nil {
		return store.Turn{}, err
	}
	return last, nil
}

// SetChatMode switches the user's mode and starts a new dialog under it.
func (m *Manager) SetChatMode(ctx context.Context, userID, key string) error {
	if !m.catalog.Has(key) {
		return fmt.Errorf("%w: %q", ErrUnknownChatMode, key)
	}
	return m.store.InTx(ctx, func(tx store.Store) error {
		sm := m.WithStore(tx)
		if _, err := sm.user(ctx, userID); err != nil {
			return err
		}
		if err := tx.SetChatMode(ctx, userID, key); err != nil {
			return err
		}
		_, err := sm.startNewDialog(ctx, userID, key)
		return err
	})
}

// TimeoutElapsed reports whether the user has been idle for longer than
// threshold while holding a non-empty dialog. now is compared at the
// millisecond precision interaction times are stored with.
func (m *Manager) TimeoutElapsed(ctx context.Context, userID string, now time.Time, threshold time.Duration) (bool, error) {
	u, err := m.user(ctx, userID)
	if err != nil {
		return false, err
	}
	if time.UnixMilli(now.UnixMilli()).Sub(u.LastInteraction) <= threshold {
		return false, nil
	}
	turns, err := m.History(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(turns) > 0, nil
}

// ChatMode resolves the user's current mode against the catalog.
func (m *Manager) ChatMode(ctx context.Context, userID string) (chatmode.Mode, error) {
	u, err := m.user(ctx, userID)
	if err != nil {
		return chatmode.Mode{}, err
	}
	if mode, ok := m.catalog.Get(u.CurrentChatMode); ok {
		return mode, nil
	}
	return m.catalog.Default(), nil
}

// User returns the stored user record.
func (m *Manager) User(ctx context.Context, userID string) (store.User, error) {
	return m.user(ctx, userID)
}

func (m *Manager) user(ctx context.Context, userID string) (store.User, error) {
	u, found, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	if !found {
		return store.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return u, nil
}
