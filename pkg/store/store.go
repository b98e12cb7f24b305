package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStoreUnavailable wraps every engine failure. Callers treat it as
	// fatal to the current operation.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrDialogNotFound is returned when writing turns to a dialog that does
	// not exist for the given user.
	ErrDialogNotFound = errors.New("dialog not found")
)

// Store persists user records and dialog turn sequences. Absence is reported
// through found flags, never through errors.
type Store interface {
	Close() error
	Ping(ctx context.Context) error

	UserExists(ctx context.Context, userID string) (bool, error)
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, userID string) (User, bool, error)
	UpdateProfile(ctx context.Context, userID, chatID string, profile Profile) error
	SetCurrentDialog(ctx context.Context, userID, dialogID string) error
	SetChatMode(ctx context.Context, userID, mode string) error
	SetLastInteraction(ctx context.Context, userID string, at time.Time) error
	SetAPIKey(ctx context.Context, userID, apiKey string) error
	AddUsedTokens(ctx context.Context, userID string, delta int64) (int64, error)

	CreateDialog(ctx context.Context, userID, chatMode string, startedAt time.Time) (string, error)
	GetDialog(ctx context.Context, userID, dialogID string) (Dialog, bool, error)
	GetDialogTurns(ctx context.Context, userID, dialogID string) ([]Turn, bool, error)
	SetDialogTurns(ctx context.Context, userID, dialogID string, turns []Turn) error
	ListDialogs(ctx context.Context, userID string, limit int) ([]Dialog, error)

	// InTx runs fn against a transaction-scoped Store. The transaction
	// commits only when fn returns nil.
	InTx(ctx context.Context, fn func(Store) error) error

	SweepInactiveDialogs(ctx context.Context, olderThan time.Time) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
