package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type captured struct {
	mu     sync.Mutex
	path   string
	bodies [][]byte
}

func (c *captured) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.path = r.URL.Path
		c.bodies = append(c.bodies, b)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func sample() Alert {
	a := NewAlert(AlertWarning, "BTCUSDT STRONG_BUY", "score 78.5 (conf 81%)")
	a.Symbol = "BTCUSDT"
	a.Type = "technical_analysis"
	a.Direction = "BULLISH"
	a.Fields = []Field{{Name: "1h", Value: "BUY 62"}}
	return a
}

func TestNewAlert_UniqueIDs(t *testing.T) {
	a, b := NewAlert(AlertInfo, "a", "a"), NewAlert(AlertInfo, "b", "b")
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", a.ID, b.ID)
	}
	if a.TS.IsZero() {
		t.Fatal("expected timestamp")
	}
}

func TestTelegram_SendsMarkdownV2(t *testing.T) {
	var c captured
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42", nil).WithBaseURL(srv.URL)
	if err := n.Send(context.Background(), sample()); err != nil {
		t.Fatal(err)
	}
	if c.path != "/botTOKEN/sendMessage" {
		t.Fatalf("unexpected path %q", c.path)
	}
	var payload map[string]any
	if err := json.Unmarshal(c.bodies[0], &payload); err != nil {
		t.Fatal(err)
	}
	if payload["chat_id"] != "42" || payload["parse_mode"] != "MarkdownV2" {
		t.Fatalf("unexpected payload %v", payload)
	}
	text := payload["text"].(string)
	if !strings.Contains(text, `78\.5`) {
		t.Fatalf("expected escaped dot in %q", text)
	}
	if !strings.Contains(text, "*1h:* BUY 62") {
		t.Fatalf("expected field line in %q", text)
	}
}

func TestTelegram_Non200IsError(t *testing.T) {
	var c captured
	srv := httptest.NewServer(c.handler(http.StatusBadGateway))
	defer srv.Close()

	err := NewTelegramNotifier("T", "1", nil).WithBaseURL(srv.URL).Send(context.Background(), sample())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestTelegram_RateLimitRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`)
	}))
	defer srv.Close()

	err := NewTelegramNotifier("T", "1", nil).WithBaseURL(srv.URL).Send(context.Background(), sample())
	var te *TelegramError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TelegramError, got %v", err)
	}
	if te.Status != 429 || te.RetryAfter != 7*time.Second || !strings.Contains(te.Description, "Too Many") {
		t.Fatalf("unexpected error %+v", te)
	}
}

func TestFormatTelegram_DirectionIcon(t *testing.T) {
	a := sample()
	if got := formatTelegram(a); !strings.HasPrefix(got, "🟢") {
		t.Errorf("bullish alert should lead with a green marker: %q", got)
	}
	a.Direction = "BEARISH"
	if got := formatTelegram(a); !strings.HasPrefix(got, "🔴") {
		t.Errorf("bearish alert should lead with a red marker: %q", got)
	}
	a.Level = AlertCritical
	if got := formatTelegram(a); !strings.HasPrefix(got, "🚨") {
		t.Errorf("critical alert should lead with the siren: %q", got)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a_b.c (1-2)!"); got != `a\_b\.c \(1\-2\)\!` {
		t.Errorf("escapeMarkdown = %q", got)
	}
}

func TestDiscord_EmbedColourFromDirection(t *testing.T) {
	var c captured
	srv := httptest.NewServer(c.handler(http.StatusNoContent))
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL, "", nil)
	a := sample()
	if err := n.Send(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	a.Direction = "BEARISH"
	n.Send(context.Background(), a)

	var p discordPayload
	json.Unmarshal(c.bodies[0], &p)
	if len(p.Embeds) != 1 || p.Embeds[0].Color != colorBullish || p.Username != "Signal Engine" {
		t.Fatalf("unexpected payload %+v", p)
	}
	if len(p.Embeds[0].Fields) != 1 || p.Embeds[0].Fields[0].Name != "1h" {
		t.Fatalf("expected one field, got %+v", p.Embeds[0].Fields)
	}
	json.Unmarshal(c.bodies[1], &p)
	if p.Embeds[0].Color != colorBearish {
		t.Fatalf("expected bearish colour, got %x", p.Embeds[0].Color)
	}
}

func TestWebhook_PostsAlertJSON(t *testing.T) {
	var c captured
	srv := httptest.NewServer(c.handler(http.StatusAccepted))
	defer srv.Close()

	a := sample()
	if err := NewWebhookNotifier(srv.URL, nil).Send(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	var got Alert
	if err := json.Unmarshal(c.bodies[0], &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != a.ID || got.Symbol != "BTCUSDT" || got.Type != "technical_analysis" {
		t.Fatalf("unexpected body %+v", got)
	}
}
