package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramError is a non-OK Bot API reply. RetryAfter is set on 429.
type TelegramError struct {
	Status      int
	Description string
	RetryAfter  time.Duration
}

func (e *TelegramError) Error() string {
	msg := fmt.Sprintf("telegram: status %d", e.Status)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

// TelegramNotifier sends alerts through the Bot API sendMessage method.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	log      *slog.Logger
}

// NewTelegramNotifier creates a Telegram notifier for one chat.
func NewTelegramNotifier(botToken, chatID string, log *slog.Logger) *TelegramNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// WithBaseURL points the notifier at a different Bot API host.
func (t *TelegramNotifier) WithBaseURL(u string) *TelegramNotifier {
	t.baseURL = strings.TrimRight(u, "/")
	return t
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(map[string]interface{}{
		"chat_id":                  t.chatID,
		"text":                     formatTelegram(alert),
		"parse_mode":               "MarkdownV2",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeTelegramError(resp)
	}
	t.log.Debug("telegram alert sent", "id", alert.ID, "symbol", alert.Symbol, "type", alert.Type)
	return nil
}

// formatTelegram renders the header line from direction and level, then the
// message and one line per field.
func formatTelegram(a Alert) string {
	icon := "ℹ️"
	switch {
	case a.Level == AlertCritical:
		icon = "🚨"
	case a.Direction == "BULLISH":
		icon = "🟢"
	case a.Direction == "BEARISH":
		icon = "🔴"
	case a.Level == AlertWarning:
		icon = "⚠️"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *%s*\n\n%s", icon, escapeMarkdown(a.Title), escapeMarkdown(a.Message))
	if len(a.Fields) > 0 {
		sb.WriteString("\n")
		for _, f := range a.Fields {
			fmt.Fprintf(&sb, "\n*%s:* %s", escapeMarkdown(f.Name), escapeMarkdown(f.Value))
		}
	}
	if !a.TS.IsZero() {
		fmt.Fprintf(&sb, "\n\n_%s_", escapeMarkdown(a.TS.UTC().Format("2006-01-02 15:04 UTC")))
	}
	return sb.String()
}

func decodeTelegramError(resp *http.Response) error {
	te := &TelegramError{Status: resp.StatusCode}
	var reply struct {
		Description string `json:"description"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil && json.Unmarshal(data, &reply) == nil {
		te.Description = reply.Description
		te.RetryAfter = time.Duration(reply.Parameters.RetryAfter) * time.Second
	}
	return te
}

// escapeMarkdown escapes the MarkdownV2 reserved characters.
func escapeMarkdown(s string) string {
	const reserved = "_*[]()~`>#+-=|{}.!\\"
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(reserved, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
