// DotChat - chat assistant front-end for OpenAI-compatible models
// License: MIT
//
// Copyright (c) 2026 DotChat contributors

package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dotsetgreg/dotchat/pkg/billing"
	"github.com/dotsetgreg/dotchat/pkg/bus"
	"github.com/dotsetgreg/dotchat/pkg/channels"
	"github.com/dotsetgreg/dotchat/pkg/logger"
	"github.com/dotsetgreg/dotchat/pkg/metrics"
	"github.com/dotsetgreg/dotchat/pkg/providers"
	"github.com/dotsetgreg/dotchat/pkg/session"
	"github.com/dotsetgreg/dotchat/pkg/store"
)

const defaultMaxWorkers = 16

type Options struct {
	Store     store.Store
	Sessions  *session.Manager
	Completer providers.Completer
	Transport channels.Transport
	Bus       *bus.MessageBus
	Billing   billing.Estimator
	// NewDialogTimeout is the idle time after which a non-empty dialog is
	// replaced by a fresh one.
	NewDialogTimeout time.Duration
	// MaxWorkers bounds how many users are served at once.
	MaxWorkers int
	Now        func() time.Time
}

// Orchestrator drives inbound messages through the session manager and the
// completion provider and delivers the replies.
type Orchestrator struct {
	store      store.Store
	sessions   *session.Manager
	completer  providers.Completer
	transport  channels.Transport
	bus        *bus.MessageBus
	billing    billing.Estimator
	timeout    time.Duration
	maxWorkers int
	now        func() time.Time
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Store == nil:
		return nil, fmt.Errorf("agent: store is required")
	case opts.Sessions == nil:
		return nil, fmt.Errorf("agent: session manager is required")
	case opts.Completer == nil:
		return nil, fmt.Errorf("agent: completer is required")
	case opts.Transport == nil:
		return nil, fmt.Errorf("agent: transport is required")
	case opts.NewDialogTimeout <= 0:
		return nil, fmt.Errorf("agent: new dialog timeout must be positive")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = defaultMaxWorkers
	}
	return &Orchestrator{
		store:      opts.Store,
		sessions:   opts.Sessions,
		completer:  opts.Completer,
		transport:  opts.Transport,
		bus:        opts.Bus,
		billing:    opts.Billing,
		timeout:    opts.NewDialogTimeout,
		maxWorkers: workers,
		now:        now,
	}, nil
}

// HandleIncoming runs one conversational turn for text. The caller must hold
// the user's session lock. A completion failure is reported as a reply and
// leaves history and token count untouched; other errors are returned.
func (o *Orchestrator) HandleIncoming(ctx context.Context, msg bus.InboundMessage, text string, isRetry bool) ([]Reply, error) {
	userID := msg.UserKey()
	if err := o.sessions.EnsureUser(ctx, userID, msg.ChatID, msg.Profile); err != nil {
		return nil, err
	}

	var replies []Reply
	now := o.now()
	if !isRetry {
		elapsed, err := o.sessions.TimeoutElapsed(ctx, userID, now, o.timeout)
		if err != nil {
			return nil, err
		}
		if elapsed {
			if _, err := o.sessions.StartNewDialog(ctx, userID); err != nil {
				return nil, err
			}
			metrics.DialogResetsTotal.WithLabelValues("timeout").Inc()
			logger.InfoCF("agent", "Dialog rolled over after inactivity", map[string]any{
				"user_id": userID,
			})
			replies = append(replies, plain(timeoutResetNotice))
		}
	}

	if err := o.store.SetLastInteraction(ctx, userID, now); err != nil {
		return replies, err
	}

	o.transport.ShowTyping(ctx, msg.Channel, msg.ChatID)

	history, err := o.sessions.History(ctx, userID)
	if err != nil {
		return replies, err
	}
	mode, err := o.sessions.ChatMode(ctx, userID)
	if err != nil {
		return replies, err
	}
	user, err := o.sessions.User(ctx, userID)
	if err != nil {
		return replies, err
	}

	started := time.Now()
	completion, err := o.completer.Complete(ctx, providers.CompletionRequest{
		Prompt:  text,
		History: history,
		Mode:    mode,
		APIKey:  user.APIKey,
	})
	if err != nil {
		metrics.CompletionDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.TurnsTotal.WithLabelValues("cancelled").Inc()
			return replies, ctxErr
		}
		if !errors.Is(err, providers.ErrCompletion) {
			return replies, err
		}
		metrics.TurnsTotal.WithLabelValues("completion_error").Inc()
		logger.ErrorCF("agent", "Completion failed", map[string]any{
			"user_id": userID,
			"mode":    mode.Key,
			"retry":   isRetry,
			"error":   err.Error(),
		})
		return append(replies, plain(fmt.Sprintf(completionFailed, err.Error()))), nil
	}
	metrics.CompletionDuration.WithLabelValues("ok").Observe(time.Since(started).Seconds())

	// Nothing is written once the caller has given up. From here on both
	// writes run to completion together.
	if ctxErr := ctx.Err(); ctxErr != nil {
		metrics.TurnsTotal.WithLabelValues("cancelled").Inc()
		return replies, ctxErr
	}
	commitCtx := context.WithoutCancel(ctx)
	turn := store.Turn{User: text, Bot: completion.Answer, Timestamp: o.now()}
	err = o.store.InTx(commitCtx, func(tx store.Store) error {
		sm := o.sessions.WithStore(tx)
		current, err := sm.History(commitCtx, userID)
		if err != nil {
			return err
		}
		if err := sm.ReplaceHistory(commitCtx, userID, append(current, turn)); err != nil {
			return err
		}
		_, err = tx.AddUsedTokens(commitCtx, userID, int64(completion.TokensUsed))
		return err
	})
	if err != nil {
		return replies, fmt.Errorf("commit turn: %w", err)
	}

	metrics.TurnsTotal.WithLabelValues("success").Inc()
	metrics.TokensTotal.Add(float64(completion.TokensUsed))
	logger.DebugCF("agent", "Turn completed", map[string]any{
		"user_id":      userID,
		"mode":         mode.Key,
		"tokens":       completion.TokensUsed,
		"dropped":      completion.MessagesDropped,
		"history_size": len(history) + 1,
		"retry":        isRetry,
	})

	if completion.MessagesDropped > 0 {
		metrics.TruncatedMessagesTotal.Add(float64(completion.MessagesDropped))
		replies = append(replies, formatted(truncationNotice(completion.MessagesDropped)))
	}
	return append(replies, formatted(completion.Answer)), nil
}

// HandleRetry drops the last turn and asks again with its text. A retry
// never triggers the inactivity rollover.
func (o *Orchestrator) HandleRetry(ctx context.Context, msg bus.InboundMessage) ([]Reply, error) {
	userID := msg.UserKey()
	if err := o.sessions.EnsureUser(ctx, userID, msg.ChatID, msg.Profile); err != nil {
		return nil, err
	}
	if err := o.store.SetLastInteraction(ctx, userID, o.now()); err != nil {
		return nil, err
	}

	last, err := o.sessions.PopLastTurn(ctx, userID)
	if errors.Is(err, session.ErrEmptyHistory) {
		return []Reply{plain(nothingToRetry)}, nil
	}
	if err != nil {
		return nil, err
	}
	return o.HandleIncoming(ctx, msg, last.User, true)
}

// Process routes msg by kind and returns the replies to deliver.
func (o *Orchestrator) Process(ctx context.Context, msg bus.InboundMessage) ([]Reply, error) {
	logger.InfoCF("agent", fmt.Sprintf("Processing %s from %s:%s", msg.Kind, msg.Channel, msg.SenderID), map[string]any{
		"channel":   msg.Channel,
		"chat_id":   msg.ChatID,
		"sender_id": msg.SenderID,
		"kind":      string(msg.Kind),
	})

	switch msg.Kind {
	case bus.KindEdited:
		return []Reply{formatted(editNotSupported)}, nil
	case bus.KindCallback:
		return o.handleCallback(ctx, msg)
	case bus.KindCommand:
		return o.handleCommand(ctx, msg)
	default:
		return o.HandleIncoming(ctx, msg, msg.Content, false)
	}
}

// deliver sends replies in order. A format rejection is retried once as
// plain text, starting from the first undelivered chunk; any other failure
// stops delivery.
func (o *Orchestrator) deliver(ctx context.Context, msg bus.InboundMessage, replies []Reply) error {
	for _, r := range replies {
		out := channels.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: r.Text,
			Plain:   r.Plain,
			Choices: r.Choices,
		}
		err := o.transport.Send(ctx, out)
		if err == nil {
			continue
		}
		if out.Plain || !errors.Is(err, channels.ErrDeliveryFormat) {
			return err
		}

		logger.WarnCF("agent", "Reply rejected by channel formatting, resending as plain text", map[string]any{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
		var formatErr *channels.FormatError
		if errors.As(err, &formatErr) {
			out.Content = formatErr.Undelivered
		}
		out.Plain = true
		if err := o.transport.Send(ctx, out); err != nil {
			metrics.DeliveryFallbacksTotal.WithLabelValues("failed").Inc()
			return fmt.Errorf("plain redelivery: %w", err)
		}
		metrics.DeliveryFallbacksTotal.WithLabelValues("ok").Inc()
	}
	return nil
}
