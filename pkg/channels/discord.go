package channels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dotsetgreg/dotchat/pkg/bus"
	"github.com/dotsetgreg/dotchat/pkg/config"
	"github.com/dotsetgreg/dotchat/pkg/logger"
	"github.com/dotsetgreg/dotchat/pkg/store"
)

const (
	sendTimeout           = 10 * time.Second
	typingRefreshInterval = 8 * time.Second

	// Discord allows 2000 characters per message; the rest is headroom for
	// keeping code blocks whole.
	discordChunkLimit = 1500
	discordMaxContent = 2000
	buttonsPerRow     = 5
	maxButtonRows     = 5
	maxButtonLabel    = 80
)

type DiscordChannel struct {
	*BaseChannel
	session  *discordgo.Session
	config   config.DiscordConfig
	typing   map[string]*typingSession
	typingMu sync.Mutex
}

type typingSession struct {
	pending int
	cancel  context.CancelFunc
}

func NewDiscordChannel(cfg config.DiscordConfig, bus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	base := NewBaseChannel("discord", bus, cfg.AllowFrom)

	return &DiscordChannel{
		BaseChannel: base,
		session:     session,
		config:      cfg,
		typing:      make(map[string]*typingSession),
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.session.AddHandler(c.handleMessage)
	c.session.AddHandler(c.handleMessageUpdate)
	c.session.AddHandler(c.handleInteraction)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]any{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})

	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)
	c.stopAllTyping()

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}

	return nil
}

func (c *DiscordChannel) Send(ctx context.Context, msg OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord: %w", ErrNotRunning)
	}

	channelID := msg.ChatID
	if channelID == "" {
		return fmt.Errorf("channel ID is empty")
	}
	defer c.endTyping(channelID)

	return sendChunks(msg, func(send *discordgo.MessageSend) error {
		return c.sendChunk(ctx, channelID, send)
	})
}

// sendChunks splits the source text and renders each chunk on its own, so a
// format rejection can report exactly which text is still undelivered.
func sendChunks(msg OutboundMessage, send func(*discordgo.MessageSend) error) error {
	render := renderMarkdown
	if msg.Plain {
		render = renderPlain
	}
	if strings.TrimSpace(render(msg.Content)) == "" && len(msg.Choices) == 0 {
		return nil
	}

	parts := splitMessage(msg.Content, discordChunkLimit)
	if len(parts) == 0 {
		parts = []string{""}
	}
	for i, part := range parts {
		// Escaping can grow a plain chunk past the hard limit.
		pieces := splitMessage(render(part), discordMaxContent)
		if len(pieces) == 0 {
			pieces = []string{""}
		}
		for j, piece := range pieces {
			out := &discordgo.MessageSend{Content: piece}
			if msg.Plain {
				out.AllowedMentions = &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
			}
			if i == len(parts)-1 && j == len(pieces)-1 && len(msg.Choices) > 0 {
				out.Components = buttonRows(msg.Choices)
			}
			err := send(out)
			if err == nil {
				continue
			}
			if !msg.Plain && errors.Is(err, ErrDeliveryFormat) {
				return &FormatError{Undelivered: strings.Join(parts[i:], "\n"), Err: err}
			}
			return err
		}
	}
	return nil
}

func (c *DiscordChannel) ShowTyping(ctx context.Context, chatID string) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord: %w", ErrNotRunning)
	}
	c.beginTyping(chatID)
	return nil
}

func buttonRows(choices []Choice) []discordgo.MessageComponent {
	rows := make([]discordgo.MessageComponent, 0, (len(choices)+buttonsPerRow-1)/buttonsPerRow)
	var row discordgo.ActionsRow
	for _, choice := range choices {
		row.Components = append(row.Components, discordgo.Button{
			Label:    truncate(choice.Label, maxButtonLabel),
			Style:    discordgo.SecondaryButton,
			CustomID: choice.Data,
		})
		if len(row.Components) == buttonsPerRow {
			rows = append(rows, row)
			row = discordgo.ActionsRow{}
		}
	}
	if len(row.Components) > 0 {
		rows = append(rows, row)
	}
	if len(rows) > maxButtonRows {
		rows = rows[:maxButtonRows]
	}
	return rows
}

// splitMessage splits long messages into chunks, preserving code block integrity
// Uses natural boundaries (newlines, spaces) and extends messages slightly to avoid breaking code blocks
func splitMessage(content string, limit int) []string {
	var messages []string

	for len(content) > 0 {
		if len(content) <= limit {
			messages = append(messages, content)
			break
		}

		msgEnd := findLastNewline(content[:limit], 200)
		if msgEnd <= 0 {
			msgEnd = findLastSpace(content[:limit], 100)
		}
		if msgEnd <= 0 {
			msgEnd = limit
		}

		candidate := content[:msgEnd]
		unclosedIdx := findLastUnclosedCodeBlock(candidate)

		if unclosedIdx >= 0 {
			extendedLimit := limit + 500
			if len(content) > extendedLimit {
				closingIdx := findNextClosingCodeBlock(content, msgEnd)
				if closingIdx > 0 && closingIdx <= extendedLimit {
					msgEnd = closingIdx
				} else {
					// No closing fence in reach, split before the block
					msgEnd = findLastNewline(content[:unclosedIdx], 200)
					if msgEnd <= 0 {
						msgEnd = findLastSpace(content[:unclosedIdx], 100)
					}
					if msgEnd <= 0 {
						msgEnd = unclosedIdx
					}
				}
			} else {
				msgEnd = len(content)
			}
		}

		if msgEnd <= 0 {
			msgEnd = limit
		}

		messages = append(messages, content[:msgEnd])
		content = strings.TrimSpace(content[msgEnd:])
	}

	return messages
}

// findLastUnclosedCodeBlock returns the position of the last ``` without a
// closing fence, or -1.
func findLastUnclosedCodeBlock(text string) int {
	count := 0
	lastOpenIdx := -1

	for i := 0; i < len(text); i++ {
		if i+2 < len(text) && text[i] == '`' && text[i+1] == '`' && text[i+2] == '`' {
			if count%2 == 0 {
				lastOpenIdx = i
			}
			count++
			i += 2
		}
	}

	if count%2 == 1 {
		return lastOpenIdx
	}
	return -1
}

// findNextClosingCodeBlock returns the position after the next ``` at or
// after startIdx, or -1.
func findNextClosingCodeBlock(text string, startIdx int) int {
	for i := startIdx; i < len(text); i++ {
		if i+2 < len(text) && text[i] == '`' && text[i+1] == '`' && text[i+2] == '`' {
			return i + 3
		}
	}
	return -1
}

func findLastNewline(s string, searchWindow int) int {
	searchStart := len(s) - searchWindow
	if searchStart < 0 {
		searchStart = 0
	}
	for i := len(s) - 1; i >= searchStart; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}

func findLastSpace(s string, searchWindow int) int {
	searchStart := len(s) - searchWindow
	if searchStart < 0 {
		searchStart = 0
	}
	for i := len(s) - 1; i >= searchStart; i-- {
		if s[i] == ' ' || s[i] == '\t' {
			return i
		}
	}
	return -1
}

func (c *DiscordChannel) sendChunk(ctx context.Context, channelID string, send *discordgo.MessageSend) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(sendCtx))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return classifySendError(err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}

// classifySendError marks request-body rejections as format errors.
func classifySendError(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("%w: %v", ErrDeliveryFormat, err)
	}
	return fmt.Errorf("failed to send discord message: %w", err)
}

func (c *DiscordChannel) sendTyping(channelID string) {
	if channelID == "" || c.session == nil {
		return
	}
	if err := c.session.ChannelTyping(channelID); err != nil {
		logger.DebugCF("discord", "Failed to send typing indicator", map[string]any{
			"error": err.Error(),
		})
	}
}

func (c *DiscordChannel) beginTyping(channelID string) {
	if channelID == "" {
		return
	}

	c.typingMu.Lock()
	if sess, ok := c.typing[channelID]; ok {
		sess.pending++
		c.typingMu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.typing[channelID] = &typingSession{
		pending: 1,
		cancel:  cancel,
	}
	c.typingMu.Unlock()

	c.sendTyping(channelID)

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !c.IsRunning() {
					return
				}
				c.sendTyping(channelID)
			}
		}
	}()
}

func (c *DiscordChannel) endTyping(channelID string) {
	if channelID == "" {
		return
	}

	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	sess, ok := c.typing[channelID]
	if !ok {
		return
	}
	sess.pending--
	if sess.pending > 0 {
		return
	}
	delete(c.typing, channelID)
	sess.cancel()
}

func (c *DiscordChannel) stopAllTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	for channelID, sess := range c.typing {
		sess.cancel()
		delete(c.typing, channelID)
	}
}

func discordProfile(u *discordgo.User) store.Profile {
	if u == nil {
		return store.Profile{}
	}
	return store.Profile{
		Username:  u.Username,
		FirstName: u.GlobalName,
	}
}

func (c *DiscordChannel) isSelf(s *discordgo.Session, u *discordgo.User) bool {
	return u == nil || (s.State != nil && s.State.User != nil && u.ID == s.State.User.ID)
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || c.isSelf(s, m.Author) || m.Author.Bot {
		return
	}

	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	logger.DebugCF("discord", "Received message", map[string]any{
		"sender_name": m.Author.Username,
		"sender_id":   m.Author.ID,
		"preview":     truncate(content, 50),
	})

	c.HandleMessage(m.Author.ID, m.ChannelID, content, bus.KindText, discordProfile(m.Author), map[string]string{
		"message_id": m.ID,
		"guild_id":   m.GuildID,
		"is_dm":      fmt.Sprintf("%t", m.GuildID == ""),
	})
}

// handleMessageUpdate forwards user edits. Updates without an edit
// timestamp are embed unfurls and are ignored.
func (c *DiscordChannel) handleMessageUpdate(s *discordgo.Session, m *discordgo.MessageUpdate) {
	if m == nil || m.Message == nil || c.isSelf(s, m.Author) || m.Author.Bot || m.EditedTimestamp == nil {
		return
	}

	c.HandleMessage(m.Author.ID, m.ChannelID, m.Content, bus.KindEdited, discordProfile(m.Author), map[string]string{
		"message_id": m.ID,
		"guild_id":   m.GuildID,
	})
}

func (c *DiscordChannel) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}

	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		logger.WarnCF("discord", "Failed to acknowledge interaction", map[string]any{
			"error": err.Error(),
		})
	}

	data := i.MessageComponentData()
	c.HandleMessage(user.ID, i.ChannelID, data.CustomID, bus.KindCallback, discordProfile(user), map[string]string{
		"interaction_id": i.ID,
		"guild_id":       i.GuildID,
	})
}
