package sqlite

import (
	"context"
	"fmt"
	"time"

	"signal-engine/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// UpsertCandles inserts or replaces candles for one series in a single
// transaction.
func (s *Store) UpsertCandles(ctx context.Context, symbol string, tf model.Timeframe, candles []model.Candle) error {
	batch := make([]model.KeyedCandle, len(candles))
	for i, c := range candles {
		batch[i] = model.KeyedCandle{Key: model.SeriesKey{Symbol: symbol, Timeframe: tf}, Candle: c}
	}
	return s.insertBatch(ctx, batch)
}

// Run reads candles from ch and inserts them in batched transactions.
// Flushes every batchSize candles OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or ch is closed.
func (s *Store) Run(ctx context.Context, ch <-chan model.KeyedCandle) {
	batch := make([]model.KeyedCandle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// Use a fresh context so the final flush still lands after cancellation.
		if err := s.insertBatch(context.Background(), batch); err != nil {
			s.log.Error("sqlite batch insert failed", "candles", len(batch), "error", err)
		} else {
			s.log.Debug("sqlite batch committed", "candles", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case kc, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, kc)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of candles in a single transaction.
func (s *Store) insertBatch(ctx context.Context, batch []model.KeyedCandle) error {
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, kc := range batch {
		c := kc.Candle
		_, err := stmt.ExecContext(ctx, kc.Key.Symbol, string(kc.Key.Timeframe), c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if s.prom != nil {
		s.prom.SQLiteCommitDur.Observe(time.Since(start).Seconds())
	}
	return nil
}

// FetchWindow returns up to Lookback most recent candles for (symbol, tf),
// ordered by timestamp ascending. Fewer than minLength stored candles is
// *model.InsufficientDataError.
func (s *Store) FetchWindow(ctx context.Context, symbol string, tf model.Timeframe, minLength int) ([]model.Candle, error) {
	limit := s.lookback
	if minLength > limit {
		limit = minLength
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM (
			SELECT ts, open, high, low, close, volume
			FROM candles
			WHERE symbol = ? AND tf = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, symbol, string(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		if err := rows.Scan(&tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candles) < minLength {
		return nil, &model.InsufficientDataError{
			What: model.SeriesKey{Symbol: symbol, Timeframe: tf}.String(),
			Need: minLength,
			Have: len(candles),
		}
	}
	return candles, nil
}

// LastTimestamp returns the newest stored candle time for (symbol, tf), or
// the zero time if none exist.
func (s *Store) LastTimestamp(ctx context.Context, symbol string, tf model.Timeframe) (time.Time, error) {
	var ts *int64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM candles WHERE symbol = ? AND tf = ?`,
		symbol, string(tf),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return time.Unix(*ts, 0).UTC(), nil
}
