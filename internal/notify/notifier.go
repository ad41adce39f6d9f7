// Package notify delivers pool lifecycle events to external side channels
// (webhooks). Delivery is fire-and-forget: failures are logged and never
// propagate back into the engine.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/savannacommerce/pool-engine/internal/model"
)

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers one pool event payload.
	Send(ctx context.Context, event model.PoolEvent, poolID, participantID string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier dispatches pool events to all registered senders, filtered by an
// allowed event set. If no events are configured, everything passes.
type Notifier struct {
	senders []Sender
	events  map[model.PoolEvent]bool
	timeout time.Duration
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. events
// limits which event types are forwarded; empty means all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[model.PoolEvent]bool, len(events))
	for _, e := range events {
		allowed[model.PoolEvent(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		timeout: 10 * time.Second,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// PublishPoolEvent implements the engine's event publisher. Dispatch happens
// from a goroutine with its own timeout so the engine's mutation paths never
// block on a webhook.
func (n *Notifier) PublishPoolEvent(event model.PoolEvent, pool model.Pool, participantID string) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[event] {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		for _, s := range n.senders {
			if err := s.Send(ctx, event, pool.ID, participantID); err != nil {
				n.logger.Warn("sender failed",
					slog.String("sender", s.Name()),
					slog.String("event", string(event)),
					slog.String("pool_id", pool.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}
