package store

import "time"

// Profile holds the display fields reported by the transport.
type Profile struct {
	Username  string
	FirstName string
	LastName  string
}

// User is the root record of per-user conversational state.
type User struct {
	ID      string
	ChatID  string
	Profile Profile
	// CurrentDialogID is empty when the user has no active dialog.
	CurrentDialogID string
	CurrentChatMode string
	UsedTokens      int64
	LastInteraction time.Time
	// APIKey is the user's own completion key; empty means unset.
	APIKey    string
	FirstSeen time.Time
}

// Turn is one user message and the bot answer to it.
type Turn struct {
	User      string    `json:"user"`
	Bot       string    `json:"bot"`
	Timestamp time.Time `json:"date"`
}

// Dialog is one contiguous conversational context owned by a user.
type Dialog struct {
	ID        string
	UserID    string
	ChatMode  string
	StartedAt time.Time
	UpdatedAt time.Time
	Turns     []Turn
}

// Stats summarizes store contents for status output.
type Stats struct {
	Users   int
	Dialogs int
	Turns   int
}
