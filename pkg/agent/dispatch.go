package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/dotsetgreg/dotchat/pkg/bus"
	"github.com/dotsetgreg/dotchat/pkg/channels"
	"github.com/dotsetgreg/dotchat/pkg/logger"
	"github.com/dotsetgreg/dotchat/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// HandleMessage processes one inbound message under the sender's lock and
// delivers the replies. Internal failures are reported to the user with a
// generic notice before the error is returned.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg bus.InboundMessage) (err error) {
	unlock, err := o.sessions.Lock(ctx, msg.UserKey())
	if err != nil {
		return err
	}
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsTotal.Inc()
			logger.ErrorCF("agent", "Recovered panic while handling message", map[string]any{
				"channel": msg.Channel,
				"user_id": msg.UserKey(),
				"panic":   fmt.Sprint(r),
				"stack":   string(debug.Stack()),
			})
			o.notifyFailure(ctx, msg)
			err = fmt.Errorf("panic while handling message: %v", r)
		}
	}()

	replies, procErr := o.Process(ctx, msg)
	if procErr != nil {
		if ctx.Err() != nil {
			return procErr
		}
		logger.ErrorCF("agent", "Error processing message", map[string]any{
			"channel": msg.Channel,
			"user_id": msg.UserKey(),
			"kind":    string(msg.Kind),
			"error":   procErr.Error(),
		})
		replies = append(replies, plain(genericFailure))
	}

	if err := o.deliver(ctx, msg, replies); err != nil {
		logger.ErrorCF("agent", "Failed to deliver reply", map[string]any{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
		return errors.Join(procErr, err)
	}
	return procErr
}

func (o *Orchestrator) notifyFailure(ctx context.Context, msg bus.InboundMessage) {
	err := o.transport.Send(ctx, channels.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: genericFailure,
		Plain:   true,
	})
	if err != nil {
		logger.WarnCF("agent", "Failed to send failure notice", map[string]any{
			"channel": msg.Channel,
			"error":   err.Error(),
		})
	}
}

// userQueues keeps one FIFO of waiting messages per user. A user with an
// entry is being served by exactly one worker.
type userQueues struct {
	mu      sync.Mutex
	pending map[string][]bus.InboundMessage
}

// push queues msg and reports whether the caller must start a worker for
// its user.
func (q *userQueues) push(msg bus.InboundMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := msg.UserKey()
	if waiting, active := q.pending[key]; active {
		q.pending[key] = append(waiting, msg)
		return false
	}
	q.pending[key] = nil
	return true
}

// next pops the following message for key, or releases the user when none
// is waiting.
func (q *userQueues) next(key string) (bus.InboundMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	waiting := q.pending[key]
	if len(waiting) == 0 {
		delete(q.pending, key)
		return bus.InboundMessage{}, false
	}
	msg := waiting[0]
	q.pending[key] = waiting[1:]
	return msg, true
}

// Run consumes the inbound bus until ctx is done or the bus is closed.
// Messages from one user are handled in arrival order; different users are
// served concurrently up to MaxWorkers.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.bus == nil {
		return fmt.Errorf("agent: message bus is required to run")
	}

	queues := &userQueues{pending: make(map[string][]bus.InboundMessage)}
	var g errgroup.Group
	g.SetLimit(o.maxWorkers)

	logger.InfoCF("agent", "Orchestrator started", map[string]any{
		"max_workers": o.maxWorkers,
	})

	for {
		msg, ok := o.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		if !queues.push(msg) {
			continue
		}
		g.Go(func() error {
			o.serveUser(ctx, queues, msg)
			return nil
		})
	}

	err := g.Wait()
	logger.InfoC("agent", "Orchestrator stopped")
	return err
}

func (o *Orchestrator) serveUser(ctx context.Context, queues *userQueues, msg bus.InboundMessage) {
	key := msg.UserKey()
	for {
		if ctx.Err() == nil {
			_ = o.HandleMessage(ctx, msg)
		}
		var ok bool
		msg, ok = queues.next(key)
		if !ok {
			return
		}
	}
}
