package providers

import (
	"context"
	"errors"

	"github.com/dotsetgreg/dotchat/pkg/chatmode"
	"github.com/dotsetgreg/dotchat/pkg/store"
)

// ErrCompletion matches every *CompletionError via errors.Is.
var ErrCompletion = errors.New("completion failed")

// CompletionError reports an upstream completion failure with a
// human-readable reason.
type CompletionError struct {
	Reason string
	Err    error
}

func (e *CompletionError) Error() string {
	return e.Reason
}

func (e *CompletionError) Unwrap() error { return e.Err }

func (e *CompletionError) Is(target error) bool { return target == ErrCompletion }

func completionError(reason string, err error) *CompletionError {
	return &CompletionError{Reason: reason, Err: err}
}

// CompletionRequest is a new prompt plus the active dialog history.
type CompletionRequest struct {
	Prompt  string
	History []store.Turn
	Mode    chatmode.Mode
	// APIKey is the user's own key; empty falls back to the configured one.
	APIKey string
}

type Completion struct {
	Answer     string
	TokensUsed int
	// MessagesDropped counts leading history turns removed to fit the
	// model's context window.
	MessagesDropped int
}

// Completer turns a prompt and history into an answer.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}
