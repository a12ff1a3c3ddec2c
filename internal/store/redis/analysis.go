package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"signal-engine/internal/model"
	"signal-engine/internal/notification"

	goredis "github.com/go-redis/redis/v8"
)

// Key layout.
func latestAnalysisKey(symbol string) string { return "analysis:latest:" + symbol }
func analysisStreamKey(symbol string) string { return "analysis:" + symbol }
func analysisChannel(symbol string) string   { return "pub:analysis:" + symbol }

const (
	alertsChannel = "pub:alerts"
	alertsStream  = "alerts"
)

// PublishAnalysis stores the aggregate as the symbol's latest result,
// appends it to the symbol stream and publishes it for subscribers.
func (s *Store) PublishAnalysis(ctx context.Context, res model.AggregateResult) error {
	data := string(res.JSON())
	err := s.write(ctx, pendingWrite{
		key:     latestAnalysisKey(res.Symbol),
		stream:  analysisStreamKey(res.Symbol),
		channel: analysisChannel(res.Symbol),
		data:    data,
	}, true)
	if err != nil {
		return fmt.Errorf("redis publish analysis %s: %w", res.Symbol, err)
	}
	return nil
}

// LatestAnalysis reads the latest aggregate for symbol. It returns
// (nil, nil) when none is stored.
func (s *Store) LatestAnalysis(ctx context.Context, symbol string) (*model.AggregateResult, error) {
	var data []byte
	err := s.cb.Execute(func() (err error) {
		data, err = s.client.Get(ctx, latestAnalysisKey(symbol)).Bytes()
		return err
	})
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis GET %s: %w", latestAnalysisKey(symbol), err)
	}
	var res model.AggregateResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal analysis: %w", err)
	}
	return &res, nil
}

// Name implements notification.Notifier.
func (s *Store) Name() string { return "redis" }

// Send publishes an admitted alert on the alerts channel so dashboards can
// pick it up. Alerts are not buffered while the breaker is open.
func (s *Store) Send(ctx context.Context, alert notification.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return s.write(ctx, pendingWrite{stream: alertsStream, channel: alertsChannel, data: string(data)}, false)
}

var _ notification.Notifier = (*Store)(nil)
var _ model.AnalysisPublisher = (*Store)(nil)
