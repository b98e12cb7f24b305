package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotchat/pkg/bus"
	"github.com/dotsetgreg/dotchat/pkg/channels"
	"github.com/dotsetgreg/dotchat/pkg/logger"
	"github.com/dotsetgreg/dotchat/pkg/metrics"
	"github.com/dotsetgreg/dotchat/pkg/session"
)

type commandHandler func(o *Orchestrator, ctx context.Context, msg bus.InboundMessage, args []string) ([]Reply, error)

var commands = map[string]commandHandler{
	"start":       (*Orchestrator).cmdStart,
	"help":        (*Orchestrator).cmdHelp,
	"new":         (*Orchestrator).cmdNew,
	"retry":       (*Orchestrator).cmdRetry,
	"mode":        (*Orchestrator).cmdMode,
	"balance":     (*Orchestrator).cmdBalance,
	"set_api_key": (*Orchestrator).cmdSetAPIKey,
	"setkey":      (*Orchestrator).cmdSetAPIKey,
	"my_api_key":  (*Orchestrator).cmdShowAPIKey,
	"showkey":     (*Orchestrator).cmdShowAPIKey,
}

// parseCommand splits "/name@bot arg1 arg2" into its lowercased name and
// arguments.
func parseCommand(content string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(content))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:]
}

func (o *Orchestrator) handleCommand(ctx context.Context, msg bus.InboundMessage) ([]Reply, error) {
	name, args := parseCommand(msg.Content)
	handler, ok := commands[name]
	if !ok {
		metrics.CommandsTotal.WithLabelValues("unknown").Inc()
		logger.DebugCF("agent", "Unknown command", map[string]any{
			"command": name,
			"channel": msg.Channel,
		})
		return []Reply{plain(unknownCommand)}, nil
	}
	metrics.CommandsTotal.WithLabelValues(name).Inc()
	return handler(o, ctx, msg, args)
}

// touch registers the sender if needed and records the interaction.
func (o *Orchestrator) touch(ctx context.Context, msg bus.InboundMessage) error {
	userID := msg.UserKey()
	if err := o.sessions.EnsureUser(ctx, userID, msg.ChatID, msg.Profile); err != nil {
		return err
	}
	return o.store.SetLastInteraction(ctx, userID, o.now())
}

func (o *Orchestrator) cmdStart(ctx context.Context, msg bus.InboundMessage, _ []string) ([]Reply, error) {
	if err := o.touch(ctx, msg); err != nil {
		return nil, err
	}
	if _, err := o.sessions.StartNewDialog(ctx, msg.UserKey()); err != nil {
		return nil, err
	}
	metrics.DialogResetsTotal.WithLabelValues("start").Inc()
	return []Reply{formatted(startGreeting + helpMessage + startOutro)}, nil
}

func (o *Orchestrator) cmdHelp(ctx context.Context, msg bus.InboundMessage, _ []string) ([]Reply, error) {
	if err := o.touch(ctx, msg); err != nil {
		return nil, err
	}
	return []Reply{formatted(helpMessage)}, nil
}

func (o *Orchestrator) cmdNew(ctx context.Context, msg bus.InboundMessage, _ []string) ([]Reply, error) {
	if err := o.touch(ctx, msg); err != nil {
		return nil, err
	}
	userID := msg.UserKey()
	if _, err := o.sessions.StartNewDialog(ctx, userID); err != nil {
		return nil, err
	}
	metrics.DialogResetsTotal.WithLabelValues("command").Inc()

	mode, err := o.sessions.ChatMode(ctx, userID)
	if err != nil {
		return nil, err
	}
	return []Reply{plain(newDialogNotice), formatted(mode.WelcomeMessage)}, nil
}

func (o *Orchestrator) cmdRetry(ctx context.Context, msg bus.InboundMessage, _ []string) ([]Reply, error) {
	return o.HandleRetry(ctx, msg)
}

func (o *Orchestrator) cmdMode(ctx context.Context, msg bus.InboundMessage, _ []string) ([]Reply, error) {
	if err := o.touch(ctx, msg); err != nil {
		return nil, err
	}
	modes := o.sessions.Catalog().Modes()
	choices := make([]channels.Choice, 0, len(modes))
	for _, m := range modes {
		choices = append(choices, channels.Choice{Label: m.Name, Data: setChatModePrefix + m.Key})
	}
	return []Reply{{Text: selectModePrompt, Plain: true, Choices: choices}}, nil
}

func (o *Orchestrator) cmdBalance(ctx context.Context, msg bus.InboundMessage, _ []string) ([]Reply, error) {
	if err := o.touch(ctx, msg); err != nil {
		return nil, err
	}
	u, err := o.sessions.User(ctx, msg.UserKey())
	if err != nil {
		return nil, err
	}
	return []Reply{formatted(o.billing.Summary(u.UsedTokens))}, nil
}

func (o *Orchestrator) cmdSetAPIKey(ctx context.Context, msg bus.InboundMessage, args []string) ([]Reply, error) {
	if err := o.touch(ctx, msg); err != nil {
		return nil, err
	}
	switch {
	case len(args) > 1:
		return []Reply{plain(apiKeyTooManyArgs)}, nil
	case len(args) == 0:
		return []Reply{plain(apiKeyMissingArg)}, nil
	}
	if err := o.store.SetAPIKey(ctx, msg.UserKey(), args[0]); err != nil {
		return nil, err
	}
	logger.InfoCF("agent", "User API key updated", map[string]any{
		"user_id": msg.UserKey(),
	})
	return []Reply{plain(apiKeySet)}, nil
}

func (o *Orchestrator) cmdShowAPIKey(ctx context.Context, msg bus.InboundMessage, _ []string) ([]Reply, error) {
	if err := o.touch(ctx, msg); err != nil {
		return nil, err
	}
	u, err := o.sessions.User(ctx, msg.UserKey())
	if err != nil {
		return nil, err
	}
	if u.APIKey == "" {
		return []Reply{plain(apiKeyNotFound)}, nil
	}
	return []Reply{plain(fmt.Sprintf(apiKeyShow, maskAPIKey(u.APIKey)))}, nil
}

// handleCallback applies a button pick. Only chat mode selection exists.
func (o *Orchestrator) handleCallback(ctx context.Context, msg bus.InboundMessage) ([]Reply, error) {
	key, ok := strings.CutPrefix(msg.Content, setChatModePrefix)
	if !ok {
		logger.WarnCF("agent", "Ignoring unknown callback", map[string]any{
			"channel": msg.Channel,
			"data":    truncateForLog(msg.Content, 64),
		})
		return nil, nil
	}
	if err := o.touch(ctx, msg); err != nil {
		return nil, err
	}

	err := o.sessions.SetChatMode(ctx, msg.UserKey(), key)
	if errors.Is(err, session.ErrUnknownChatMode) {
		return []Reply{plain(unknownChatMode)}, nil
	}
	if err != nil {
		return nil, err
	}
	metrics.DialogResetsTotal.WithLabelValues("mode").Inc()

	mode, _ := o.sessions.Catalog().Get(key)
	logger.InfoCF("agent", "Chat mode changed", map[string]any{
		"user_id": msg.UserKey(),
		"mode":    key,
	})
	return []Reply{formatted(modeSetNotice(mode.Name)), formatted(mode.WelcomeMessage)}, nil
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
