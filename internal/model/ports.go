package model

import "context"

// ── Port interfaces ──
// These decouple the analysis core from concrete market-data sources and
// storage (Binance, SQLite, Redis).

// CandleSource fetches recent history for one series. Implementations return
// candles ascending by timestamp and an *InsufficientDataError when fewer
// than minLength exist; they never fabricate history.
type CandleSource interface {
	FetchWindow(ctx context.Context, symbol string, tf Timeframe, minLength int) ([]Candle, error)
}

// CandleSink persists candles received from a live source.
type CandleSink interface {
	UpsertCandles(ctx context.Context, symbol string, tf Timeframe, candles []Candle) error
}

// AnalysisPublisher makes the latest aggregate visible to other processes.
type AnalysisPublisher interface {
	PublishAnalysis(ctx context.Context, res AggregateResult) error
}

// AnalysisRecorder keeps a history of aggregates.
type AnalysisRecorder interface {
	RecordAnalysis(ctx context.Context, res AggregateResult) error
}
