package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"signal-engine/internal/alert"
	"signal-engine/internal/model"
)

// RecordDecision persists one alert admission decision.
func (s *Store) RecordDecision(ctx context.Context, d alert.Decision) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_decisions (alert_id, symbol, alert_type, result, title, message, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.AlertID, d.Symbol, string(d.Type), d.Result.String(), d.Title, d.Message, d.TS.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite insert decision: %w", err)
	}
	return nil
}

// DecisionRecord represents a row from the alert_decisions table.
type DecisionRecord struct {
	ID      int64     `json:"id"`
	AlertID string    `json:"alert_id"`
	Symbol  string    `json:"symbol"`
	Type    string    `json:"type"`
	Result  string    `json:"result"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	TS      time.Time `json:"ts"`
}

// RecentDecisions returns the newest decisions first. An empty symbol
// matches all symbols.
func (s *Store) RecentDecisions(ctx context.Context, symbol string, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_id, symbol, alert_type, result, COALESCE(title, ''), COALESCE(message, ''), ts
		FROM alert_decisions
		WHERE (? = '' OR symbol = ?)
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		var ms int64
		if err := rows.Scan(&r.ID, &r.AlertID, &r.Symbol, &r.Type, &r.Result, &r.Title, &r.Message, &ms); err != nil {
			return nil, fmt.Errorf("sqlite scan decision: %w", err)
		}
		r.TS = time.UnixMilli(ms).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordAnalysis appends an aggregate to the analysis history.
func (s *Store) RecordAnalysis(ctx context.Context, res model.AggregateResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_history (symbol, overall_score, recommendation, confidence, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		res.Symbol, res.OverallScore, string(res.OverallRecommendation), res.OverallConfidence, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite insert analysis: %w", err)
	}
	return nil
}

// LatestAnalysis loads the most recent aggregate for symbol. It returns
// (nil, nil) when none has been recorded.
func (s *Store) LatestAnalysis(ctx context.Context, symbol string) (*model.AggregateResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM analysis_history
		WHERE symbol = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, symbol).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read analysis: %w", err)
	}

	var res model.AggregateResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("unmarshal analysis: %w", err)
	}
	return &res, nil
}

// PruneAnalysis deletes history older than keep.
func (s *Store) PruneAnalysis(ctx context.Context, keep time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM analysis_history WHERE created_at < ?`,
		time.Now().Add(-keep).UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite prune analysis: %w", err)
	}
	return res.RowsAffected()
}
