package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Embed colours.
const (
	colorBullish = 0x00ff00
	colorBearish = 0xff0000
	colorNeutral = 0xffff00
)

// DiscordNotifier posts alerts as embeds to a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	username   string
	client     *http.Client
	log        *slog.Logger
}

// NewDiscordNotifier creates a Discord notifier.
func NewDiscordNotifier(webhookURL, username string, log *slog.Logger) *DiscordNotifier {
	if log == nil {
		log = slog.Default()
	}
	if username == "" {
		username = "Signal Engine"
	}
	return &DiscordNotifier{
		webhookURL: webhookURL,
		username:   username,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      struct {
		Text string `json:"text"`
	} `json:"footer"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

func (d *DiscordNotifier) Send(ctx context.Context, alert Alert) error {
	e := discordEmbed{
		Title:       alert.Title,
		Description: alert.Message,
		Color:       colorNeutral,
		Timestamp:   alert.TS.UTC().Format(time.RFC3339),
	}
	switch alert.Direction {
	case "BULLISH":
		e.Color = colorBullish
	case "BEARISH":
		e.Color = colorBearish
	}
	for _, f := range alert.Fields {
		e.Fields = append(e.Fields, discordField{Name: f.Name, Value: f.Value, Inline: true})
	}
	e.Footer.Text = fmt.Sprintf("%s · %s", alert.Level, alert.ID)

	body, err := json.Marshal(discordPayload{Username: d.username, Embeds: []discordEmbed{e}})
	if err != nil {
		return fmt.Errorf("discord: marshal: %w", err)
	}
	if err := postJSON(ctx, d.client, d.webhookURL, body, "discord"); err != nil {
		return err
	}
	d.log.Debug("discord alert sent", "id", alert.ID, "title", alert.Title)
	return nil
}
