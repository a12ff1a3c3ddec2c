package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signal-engine/internal/alert"
	"signal-engine/internal/model"
	"signal-engine/internal/notification"
	"signal-engine/internal/store/sqlite"

	"github.com/gorilla/websocket"
)

type stubEvaluator struct{}

func (stubEvaluator) EvaluateAllTimeframes(_ context.Context, symbol string) (model.AggregateResult, error) {
	if symbol == "NEWCOIN" {
		return model.AggregateResult{}, &model.InsufficientDataError{What: symbol, Need: 26, Have: 3}
	}
	return model.AggregateResult{Symbol: symbol, OverallScore: 61, OverallRecommendation: model.Buy}, nil
}

type stubLatest struct{}

func (stubLatest) LatestAnalysis(_ context.Context, symbol string) (*model.AggregateResult, error) {
	if symbol != "ETHUSDT" {
		return nil, nil
	}
	return &model.AggregateResult{Symbol: symbol, OverallScore: 40, OverallRecommendation: model.Sell}, nil
}

type stubDecisions struct{ gotSymbol string }

func (s *stubDecisions) RecentDecisions(_ context.Context, symbol string, limit int) ([]sqlite.DecisionRecord, error) {
	s.gotSymbol = symbol
	return []sqlite.DecisionRecord{{AlertID: "a1", Symbol: "BTCUSDT", Result: "admitted"}}, nil
}

func TestEnvelopeFormat(t *testing.T) {
	now := time.Date(2024, 2, 25, 10, 0, 1, 0, time.UTC)
	buf := buildEnvelope("analysis:BTCUSDT", []byte(`{"symbol":"BTCUSDT"}`), now, 42, 7)

	var env struct {
		Channel    string          `json:"channel"`
		Data       json.RawMessage `json:"data"`
		TS         string          `json:"ts"`
		Seq        int64           `json:"seq"`
		ChannelSeq int64           `json:"channel_seq"`
	}
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}
	if env.Channel != "analysis:BTCUSDT" || env.Seq != 42 || env.ChannelSeq != 7 {
		t.Errorf("envelope = %+v", env)
	}
	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	if err != nil || !parsed.Equal(now) {
		t.Errorf("ts = %q (%v)", env.TS, err)
	}
}

func TestRouter_Analysis(t *testing.T) {
	hub := NewHub(nil)
	hub.PublishAnalysis(context.Background(), model.AggregateResult{Symbol: "BTCUSDT", OverallScore: 72, OverallRecommendation: model.StrongBuy})
	srv := httptest.NewServer(NewRouter(Deps{Hub: hub, Latest: stubLatest{}, Evaluator: stubEvaluator{}}))
	defer srv.Close()

	cases := []struct {
		method, path string
		status       int
		wantRec      model.Recommendation
	}{
		{"GET", "/api/v1/analysis/btcusdt", http.StatusOK, model.StrongBuy},
		{"GET", "/api/v1/analysis/ETHUSDT", http.StatusOK, model.Sell},
		{"GET", "/api/v1/analysis/SOLUSDT", http.StatusNotFound, ""},
		{"POST", "/api/v1/evaluate/BTCUSDT", http.StatusOK, model.Buy},
		{"POST", "/api/v1/evaluate/NEWCOIN", http.StatusUnprocessableEntity, ""},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req, _ := http.NewRequest(tc.method, srv.URL+tc.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			if tc.wantRec == "" {
				return
			}
			var res model.AggregateResult
			if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
				t.Fatal(err)
			}
			if res.OverallRecommendation != tc.wantRec {
				t.Errorf("recommendation = %s, want %s", res.OverallRecommendation, tc.wantRec)
			}
		})
	}
}

func TestRouter_CooldownsAndDecisions(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ctrl := alert.NewController(alert.Config{Cooldown: 5 * time.Minute, MaxPerDay: 10, Now: func() time.Time { return now }})
	ctrl.TryAdmit(alert.Key{Symbol: "BTCUSDT", Type: alert.TypePriceChange})
	dec := &stubDecisions{}

	srv := httptest.NewServer(NewRouter(Deps{Controller: ctrl, Decisions: dec}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/alerts/cooldowns")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Cooldowns  []cooldownDTO `json:"cooldowns"`
		DailyCount int           `json:"daily_count"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if len(body.Cooldowns) != 1 || body.Cooldowns[0].Type != "price_change" || body.Cooldowns[0].RemainingSeconds != 300 {
		t.Errorf("cooldowns = %+v", body.Cooldowns)
	}
	if body.DailyCount != 1 {
		t.Errorf("daily_count = %d", body.DailyCount)
	}

	resp, err = http.Get(srv.URL + "/api/v1/alerts/decisions?symbol=btcusdt&limit=5")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || dec.gotSymbol != "BTCUSDT" {
		t.Errorf("status %d, symbol %q", resp.StatusCode, dec.gotSymbol)
	}

	resp, err = http.Get(srv.URL + "/api/v1/alerts/decisions?limit=zero")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", resp.StatusCode)
	}
}

func TestRouter_Missed(t *testing.T) {
	hub := NewHub(nil)
	for i := 0; i < 3; i++ {
		hub.Broadcast("analysis:BTCUSDT", []byte(fmt.Sprintf(`{"n":%d}`, i)))
	}
	srv := httptest.NewServer(NewRouter(Deps{Hub: hub}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/missed?channel=analysis:BTCUSDT&from=2&to=3")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Envelopes []json.RawMessage `json:"envelopes"`
		Truncated bool              `json:"truncated"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if len(body.Envelopes) != 2 || body.Truncated {
		t.Fatalf("expected 2 envelopes untruncated, got %d (truncated=%v)", len(body.Envelopes), body.Truncated)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return m
}

func TestHub_WebSocketSubscription(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewRouter(Deps{Hub: hub}))
	defer srv.Close()
	defer hub.CloseAll()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.WriteJSON(map[string]interface{}{"type": "SUBSCRIBE", "symbols": []string{"ethusdt"}})
	if ack := readEnvelope(t, conn); ack["type"] != "subscribed" {
		t.Fatalf("ack = %v", ack)
	}

	hub.PublishAnalysis(context.Background(), model.AggregateResult{Symbol: "BTCUSDT"})
	a := notification.NewAlert(notification.AlertInfo, "ETHUSDT BUY", "m")
	a.Symbol = "ETHUSDT"
	hub.Send(context.Background(), a)

	env := readEnvelope(t, conn)
	if env["channel"] != "alert:ETHUSDT" {
		t.Errorf("expected only the ETHUSDT alert, got channel %v", env["channel"])
	}
}
