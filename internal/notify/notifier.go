// Package notify fans profile alerts out to chat channels. Each configured
// Sender receives every message whose event is enabled.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event names accepted in notify.events.
const (
	EventBiasChange = "bias_change"
	EventEdgeZone   = "edge_zone"
	EventArchive    = "archive"
	EventError      = "error"
)

// Message is one alert.
type Message struct {
	Event string
	Title string
	Body  string
}

// Sender delivers messages to a single channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier dispatches messages to every Sender, dropping events that are not
// enabled. An empty event list enables everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	enabled := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			enabled[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  enabled,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether messages for event would be delivered.
func (n *Notifier) Enabled(event string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers msg to all senders. A failing sender does not stop the
// others; their errors are joined.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if !n.Enabled(msg.Event) {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", msg.Event),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// FromConfig builds the senders for whichever channels have credentials.
func FromConfig(telegramToken, telegramChatID, discordWebhookURL string) []Sender {
	var senders []Sender
	if telegramToken != "" && telegramChatID != "" {
		senders = append(senders, NewTelegramSender(telegramToken, telegramChatID))
	}
	if discordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(discordWebhookURL))
	}
	return senders
}
