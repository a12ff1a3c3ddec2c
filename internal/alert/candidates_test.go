package alert

import (
	"testing"

	"signal-engine/internal/model"
)

func aggregate(rec model.Recommendation, conf float64, sigs map[model.Timeframe][]model.Signal) model.AggregateResult {
	agg := model.AggregateResult{
		Symbol:                "BTCUSDT",
		PerTimeframe:          map[model.Timeframe]model.AnalysisResult{},
		OverallScore:          72,
		OverallRecommendation: rec,
		OverallConfidence:     conf,
	}
	for _, tf := range []model.Timeframe{model.TF1h, model.TF1d} {
		agg.PerTimeframe[tf] = model.AnalysisResult{
			Symbol: "BTCUSDT", Timeframe: tf, Score: 72, Recommendation: model.StrongBuy, Confidence: conf,
			Signals:    sigs[tf],
			Indicators: model.IndicatorSnapshot{Close: 64000, ChangePct: 6.2, VolumeRatio: 3.1},
		}
	}
	return agg
}

func TestCandidates_TechnicalAnalysisNeedsConfidence(t *testing.T) {
	p := CandidateParams{MinConfidence: 70}

	got := Candidates(aggregate(model.StrongBuy, 80, nil), p)
	if len(got) != 1 || got[0].Key != btcTA {
		t.Fatalf("expected one technical_analysis candidate, got %+v", got)
	}
	a := got[0].Alert
	if a.Symbol != "BTCUSDT" || a.Type != string(TypeTechnicalAnalysis) || a.Direction != "BULLISH" {
		t.Fatalf("unexpected alert %+v", a)
	}
	if len(a.Fields) != 2 || a.Fields[0].Name != "1h" || a.Fields[1].Name != "1d" {
		t.Fatalf("expected per-timeframe fields in order, got %+v", a.Fields)
	}

	if got := Candidates(aggregate(model.StrongBuy, 60, nil), p); len(got) != 0 {
		t.Fatalf("low confidence should not alert, got %+v", got)
	}
	if got := Candidates(aggregate(model.Hold, 95, nil), p); len(got) != 0 {
		t.Fatalf("HOLD should not alert, got %+v", got)
	}
}

func TestCandidates_PriceAndVolume(t *testing.T) {
	sigs := map[model.Timeframe][]model.Signal{
		model.TF1d: {
			{Name: model.SignalVolumeSpike, Polarity: model.Bearish},
			{Name: model.SignalStrongMoveDown, Polarity: model.Bearish},
		},
	}
	got := Candidates(aggregate(model.Hold, 50, sigs), CandidateParams{MinConfidence: 70})
	if len(got) != 2 {
		t.Fatalf("expected price_change + volume_spike, got %+v", got)
	}
	if got[0].Key.Type != TypePriceChange || got[0].Alert.Direction != "BEARISH" {
		t.Fatalf("unexpected first candidate %+v", got[0])
	}
	if got[1].Key.Type != TypeVolumeSpike || got[1].Alert.Direction != "BEARISH" {
		t.Fatalf("unexpected second candidate %+v", got[1])
	}
}
