package channels

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/dotsetgreg/dotchat/pkg/bus"
	"github.com/dotsetgreg/dotchat/pkg/logger"
	"github.com/dotsetgreg/dotchat/pkg/store"
)

var (
	// ErrDeliveryFormat means the channel rejected the content itself, so a
	// plain redelivery may succeed.
	ErrDeliveryFormat = errors.New("message rejected by channel formatting rules")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrNotRunning     = errors.New("channel not running")
)

// FormatError is a format rejection that may follow a partial delivery.
// Undelivered holds the source text that has not reached the user, so a
// redelivery never repeats what was already sent.
type FormatError struct {
	Undelivered string
	Err         error
}

func (e *FormatError) Error() string { return e.Err.Error() }
func (e *FormatError) Unwrap() error { return e.Err }

// Choice is a selectable reply option. Data comes back as a callback
// message when the user picks it.
type Choice struct {
	Label string
	Data  string
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	// Plain disables markup interpretation.
	Plain   bool
	Choices []Choice
}

// Transport delivers replies and typing indicators to users.
type Transport interface {
	Send(ctx context.Context, msg OutboundMessage) error
	ShowTyping(ctx context.Context, channel, chatID string)
}

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg OutboundMessage) error
	ShowTyping(ctx context.Context, chatID string) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

type BaseChannel struct {
	bus       *bus.MessageBus
	running   atomic.Bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, bus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		bus:       bus,
		name:      name,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

// IsAllowed checks senderID against the allow-list. An empty list allows
// everyone. senderID may be compound, "123456|username".
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		candidate := strings.TrimSpace(strings.TrimPrefix(allowed, "@"))
		if candidate == "" {
			continue
		}
		if candidate == senderID || candidate == idPart || (userPart != "" && strings.EqualFold(candidate, userPart)) {
			return true
		}
	}

	return false
}

// HandleMessage publishes an inbound message after the allow-list check.
// Text starting with "/" is classified as a command.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, kind bus.Kind, profile store.Profile, metadata map[string]string) {
	allowID := senderID
	if profile.Username != "" {
		allowID = senderID + "|" + profile.Username
	}
	if !c.IsAllowed(allowID) {
		logger.DebugCF(c.name, "Message rejected by allowlist", map[string]any{
			"sender_id": senderID,
		})
		return
	}

	if kind == "" || kind == bus.KindText {
		kind = bus.KindText
		if strings.HasPrefix(strings.TrimSpace(content), "/") {
			kind = bus.KindCommand
		}
	}

	msg := bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		Kind:     kind,
		Profile:  profile,
		Metadata: metadata,
	}

	if !c.bus.PublishInbound(msg) {
		logger.WarnCF(c.name, "Inbound queue full, message dropped", map[string]any{
			"sender_id": senderID,
			"chat_id":   chatID,
		})
	}
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
