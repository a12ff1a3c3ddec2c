// Package api serves the HTTP read/evaluate API and the WebSocket feed of
// analysis results and alerts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signal-engine/internal/alert"
	"signal-engine/internal/model"
	"signal-engine/internal/store/sqlite"
)

// Evaluator runs an on-demand evaluation.
type Evaluator interface {
	EvaluateAllTimeframes(ctx context.Context, symbol string) (model.AggregateResult, error)
}

// LatestStore reads the last persisted aggregate for a symbol.
type LatestStore interface {
	LatestAnalysis(ctx context.Context, symbol string) (*model.AggregateResult, error)
}

// DecisionLister lists recent admission decisions.
type DecisionLister interface {
	RecentDecisions(ctx context.Context, symbol string, limit int) ([]sqlite.DecisionRecord, error)
}

// Deps wires the router. Nil collaborators disable their endpoints.
type Deps struct {
	Hub        *Hub
	Evaluator  Evaluator
	Latest     LatestStore
	Decisions  DecisionLister
	Controller *alert.Controller
	Logger     *slog.Logger
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// NewRouter sets up HTTP routes for the API server.
func NewRouter(d Deps) *http.ServeMux {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handlers{Deps: d}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/v1/analysis/{symbol}", h.latestAnalysis)
	if d.Evaluator != nil {
		mux.HandleFunc("POST /api/v1/evaluate/{symbol}", h.evaluate)
	}
	if d.Controller != nil {
		mux.HandleFunc("GET /api/v1/alerts/cooldowns", h.cooldowns)
	}
	if d.Decisions != nil {
		mux.HandleFunc("GET /api/v1/alerts/decisions", h.decisions)
	}
	if d.Hub != nil {
		mux.HandleFunc("GET /api/v1/missed", h.missed)
		mux.HandleFunc("/ws", d.Hub.HandleWS)
	}
	return mux
}

type handlers struct {
	Deps
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func symbolParam(r *http.Request) string {
	return strings.ToUpper(r.PathValue("symbol"))
}

// latestAnalysis serves the hub's cached aggregate, falling back to the
// persisted one.
func (h *handlers) latestAnalysis(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	if h.Hub != nil {
		if data, ok := h.Hub.Latest(analysisChannel(symbol)); ok {
			SetCORS(w)
			w.Header().Set("Content-Type", "application/json")
			w.Write(data)
			return
		}
	}
	if h.Latest != nil {
		res, err := h.Latest.LatestAnalysis(r.Context(), symbol)
		if err != nil {
			h.Logger.Error("latest analysis lookup failed", "symbol", symbol, "error", err)
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if res != nil {
			writeJSON(w, http.StatusOK, res)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no analysis for "+symbol)
}

func (h *handlers) evaluate(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	res, err := h.Evaluator.EvaluateAllTimeframes(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, model.ErrInsufficientData) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.Logger.Error("on-demand evaluation failed", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type cooldownDTO struct {
	Symbol           string    `json:"symbol"`
	Type             string    `json:"type"`
	LastSent         time.Time `json:"last_sent"`
	RemainingSeconds float64   `json:"remaining_seconds"`
}

func (h *handlers) cooldowns(w http.ResponseWriter, r *http.Request) {
	active := h.Controller.ActiveCooldowns()
	out := make([]cooldownDTO, len(active))
	for i, c := range active {
		out[i] = cooldownDTO{
			Symbol:           c.Key.Symbol,
			Type:             string(c.Key.Type),
			LastSent:         c.LastSent,
			RemainingSeconds: c.Remaining.Seconds(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cooldowns":   out,
		"daily_count": h.Controller.DailyCount(),
	})
}

func (h *handlers) decisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := h.Decisions.RecentDecisions(r.Context(), strings.ToUpper(q.Get("symbol")), limit)
	if err != nil {
		h.Logger.Error("decision lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if recs == nil {
		recs = []sqlite.DecisionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// missed returns buffered envelopes for ?channel=&from=&to= so clients can
// fill sequence gaps. truncated=true means the client must refetch the
// latest state instead.
func (h *handlers) missed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("channel")
	from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
	if channel == "" || err1 != nil || err2 != nil || from > to {
		writeError(w, http.StatusBadRequest, "channel, from and to are required")
		return
	}
	envs, truncated := h.Hub.ReplayRange(channel, from, to)
	out := make([]json.RawMessage, len(envs))
	for i, e := range envs {
		out[i] = e
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"channel":   channel,
		"envelopes": out,
		"truncated": truncated,
	})
}
