package bus

import "github.com/dotsetgreg/dotchat/pkg/store"

// Kind tells the orchestrator how to route an inbound message.
type Kind string

const (
	KindText     Kind = "text"
	KindCommand  Kind = "command"
	KindCallback Kind = "callback"
	// KindEdited marks an edit of a previously sent message.
	KindEdited Kind = "edited"
)

type InboundMessage struct {
	Channel  string
	SenderID string
	ChatID   string
	Content  string
	Kind     Kind
	Profile  store.Profile
	Metadata map[string]string
}

// UserKey is the id under which the sender's state is stored. Senders are
// namespaced by channel so ids from different transports never collide.
func (m InboundMessage) UserKey() string {
	return m.Channel + ":" + m.SenderID
}
