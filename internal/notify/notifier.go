// Package notify delivers operator alerts (redemption risk, monitor
// failures, archive runs) to Telegram and Discord. Senders can be filtered by
// event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Event types a Notifier can be restricted to.
const (
	EventRedemptionRisk = "redemption_risk"
	EventMonitorError   = "monitor_error"
	EventArchive        = "archive"
)

// sendTimeout bounds one delivery so a hung webhook cannot hold up a monitor
// cycle.
const sendTimeout = 15 * time.Second

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier delivers to every configured Sender in parallel. Notify and
// NotifyAlert honour the event filter; NotifyAll does not.
type Notifier struct {
	senders []Sender
	only    map[string]struct{}
	logger  *slog.Logger
}

// NewNotifier returns a Notifier restricted to events, or to every event when
// events is empty.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	only := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			only[e] = struct{}{}
		}
	}
	return &Notifier{
		senders: senders,
		only:    only,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured. It is safe on a nil
// Notifier.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.allowed(ctx, event) {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) allowed(ctx context.Context, event string) bool {
	if len(n.only) == 0 {
		return true
	}
	if _, ok := n.only[event]; ok {
		return true
	}
	n.logger.DebugContext(ctx, "event not subscribed", slog.String("event", event))
	return false
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	return n.dispatchFunc(ctx, title, func(ctx context.Context, s Sender) error {
		return s.Send(ctx, title, message)
	})
}

// dispatchFunc runs send for each sender concurrently. Every sender is tried;
// failures are collected and returned together.
func (n *Notifier) dispatchFunc(ctx context.Context, title string, send func(context.Context, Sender) error) error {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []error
	)
	for _, s := range n.senders {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()

			log := n.logger.With(slog.String("sender", s.Name()), slog.String("title", title))
			if err := send(sctx, s); err != nil {
				log.ErrorContext(ctx, "delivery failed", slog.String("error", err.Error()))
				mu.Lock()
				failed = append(failed, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
				return nil
			}
			log.DebugContext(ctx, "delivered")
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		return fmt.Errorf("notify: %d of %d senders failed: %w", len(failed), len(n.senders), errors.Join(failed...))
	}
	return nil
}
