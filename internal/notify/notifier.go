// Package notify delivers operator alerts to chat channels, filtered by
// event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/bookcost/internal/domain"
)

// Feed alert event types.
const (
	EventFeedError        = "feed_error"
	EventFeedDisconnected = "feed_disconnected"
	EventFeedRecovered    = "feed_recovered"
)

const sendTimeout = 10 * time.Second

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a notification out to every sender. Only configured event
// types pass; an empty event list lets everything through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
	symbol  string

	// degraded is set while the feed is in error or disconnected, so the
	// next connected transition is reported as a recovery.
	degraded bool
}

// NewNotifier creates a notifier for the feed of symbol.
func NewNotifier(senders []Sender, events []string, symbol string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		symbol:  symbol,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends to all senders when event is allowed. A failing sender does
// not stop delivery to the others.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// OnStateChange turns feed state changes into alerts. It is meant to be
// registered as a feed state observer and returns without waiting for
// delivery. Observers are called sequentially by the feed, so degraded needs
// no lock.
func (n *Notifier) OnStateChange(c domain.StateChange) {
	event, title, ok := n.classify(c)
	if !ok {
		return
	}
	msg := fmt.Sprintf("%s feed: %s -> %s", n.symbol, c.From, c.To)
	if c.Reason != "" {
		msg += " (" + c.Reason + ")"
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		_ = n.Notify(ctx, event, title, msg)
	}()
}

func (n *Notifier) classify(c domain.StateChange) (event, title string, ok bool) {
	switch c.To {
	case domain.StateError:
		n.degraded = true
		return EventFeedError, "Order book feed error", true
	case domain.StateDisconnected:
		if c.Reason == "shutdown" {
			return "", "", false
		}
		n.degraded = true
		return EventFeedDisconnected, "Order book feed disconnected", true
	case domain.StateConnected:
		if !n.degraded {
			return "", "", false
		}
		n.degraded = false
		return EventFeedRecovered, "Order book feed recovered", true
	}
	return "", "", false
}
