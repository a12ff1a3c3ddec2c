// Package notification provides alert delivery to external channels
// (Telegram, Discord, webhooks, etc.) for signal events.
package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Field is one labelled value shown alongside the message.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Alert represents a notification to be sent.
type Alert struct {
	ID      string     `json:"id"`
	Level   AlertLevel `json:"level"`
	Symbol  string     `json:"symbol,omitempty"`
	Type    string     `json:"type,omitempty"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Fields  []Field    `json:"fields,omitempty"`
	// Bullish, bearish or empty; channels use it for colouring.
	Direction string    `json:"direction,omitempty"`
	TS        time.Time `json:"ts"`
}

// NewAlert stamps a fresh ID and timestamp.
func NewAlert(level AlertLevel, title, message string) Alert {
	return Alert{
		ID:      uuid.NewString(),
		Level:   level,
		Title:   title,
		Message: message,
		TS:      time.Now().UTC(),
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Name identifies the channel in logs and metrics.
	Name() string
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.Info("alert",
		"id", alert.ID,
		"level", alert.Level,
		"symbol", alert.Symbol,
		"type", alert.Type,
		"title", alert.Title,
		"message", alert.Message,
	)
	return nil
}
