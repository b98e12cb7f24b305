package channels

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/dotsetgreg/dotchat/pkg/bus"
	"github.com/dotsetgreg/dotchat/pkg/store"
)

const (
	CLIChannelName = "cli"
	cliChatID      = "local"
)

// CLIChannel talks to a single local user through a terminal. Offered
// choices are shown as a numbered list; typing the number picks one.
type CLIChannel struct {
	*BaseChannel
	out     io.Writer
	userID  string
	profile store.Profile

	mu      sync.Mutex
	choices []Choice
}

func NewCLIChannel(out io.Writer, bus *bus.MessageBus, userID string) *CLIChannel {
	if strings.TrimSpace(userID) == "" {
		userID = "local-user"
	}
	return &CLIChannel{
		BaseChannel: NewBaseChannel(CLIChannelName, bus, nil),
		out:         out,
		userID:      userID,
		profile:     store.Profile{Username: userID},
	}
}

func (c *CLIChannel) Start(ctx context.Context) error {
	c.setRunning(true)
	return nil
}

func (c *CLIChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	return nil
}

func (c *CLIChannel) Send(ctx context.Context, msg OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("cli: %w", ErrNotRunning)
	}

	var b strings.Builder
	content := msg.Content
	if !msg.Plain {
		content = stripTags(content)
	}
	if content != "" {
		b.WriteString(content)
		b.WriteString("\n")
	}
	for i, choice := range msg.Choices {
		fmt.Fprintf(&b, "  %d) %s\n", i+1, stripTags(choice.Label))
	}

	c.mu.Lock()
	if len(msg.Choices) > 0 {
		c.choices = append([]Choice(nil), msg.Choices...)
	}
	_, err := io.WriteString(c.out, b.String())
	c.mu.Unlock()
	return err
}

func (c *CLIChannel) ShowTyping(ctx context.Context, chatID string) error {
	return nil
}

// Submit hands one line of user input to the bus. A bare number selects a
// pending choice.
func (c *CLIChannel) Submit(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if data, ok := c.pickChoice(line); ok {
		c.HandleMessage(c.userID, cliChatID, data, bus.KindCallback, c.profile, nil)
		return
	}
	c.HandleMessage(c.userID, cliChatID, line, bus.KindText, c.profile, nil)
}

func (c *CLIChannel) pickChoice(line string) (string, bool) {
	n, err := strconv.Atoi(line)
	if err != nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 || n > len(c.choices) {
		return "", false
	}
	data := c.choices[n-1].Data
	c.choices = nil
	return data, true
}
