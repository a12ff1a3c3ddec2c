package alert

import (
	"fmt"
	"strings"

	"signal-engine/internal/model"
	"signal-engine/internal/notification"
)

// Candidate is an alert that still has to pass admission.
type Candidate struct {
	Key   Key
	Alert notification.Alert
}

// CandidateParams tunes which aggregates produce candidates.
type CandidateParams struct {
	// MinConfidence is the overall confidence a non-HOLD recommendation
	// needs before it becomes a technical_analysis candidate.
	MinConfidence float64 `yaml:"min_confidence"`
}

// Candidates derives candidate alerts from one aggregate, in the order
// technical_analysis, price_change, volume_spike. Each type yields at most
// one candidate per symbol.
func Candidates(agg model.AggregateResult, p CandidateParams) []Candidate {
	var out []Candidate

	if agg.OverallRecommendation != model.Hold && agg.OverallConfidence >= p.MinConfidence {
		level := notification.AlertInfo
		if agg.OverallRecommendation == model.StrongBuy || agg.OverallRecommendation == model.StrongSell {
			level = notification.AlertWarning
		}
		a := notification.NewAlert(level,
			fmt.Sprintf("%s %s", agg.Symbol, agg.OverallRecommendation),
			fmt.Sprintf("Overall score %.1f with %.0f%% confidence across %d timeframes.",
				agg.OverallScore, agg.OverallConfidence, len(agg.PerTimeframe)),
		)
		a.Direction = directionOf(agg.OverallRecommendation)
		a.Fields = timeframeFields(agg)
		out = append(out, newCandidate(agg.Symbol, TypeTechnicalAnalysis, a))
	}

	for _, name := range []model.SignalName{model.SignalStrongMoveUp, model.SignalStrongMoveDown} {
		tf, ok := agg.HasSignal(name)
		if !ok {
			continue
		}
		res := agg.PerTimeframe[tf]
		a := notification.NewAlert(notification.AlertWarning,
			fmt.Sprintf("%s moved %+.2f%% (%s)", agg.Symbol, res.Indicators.ChangePct, tf),
			fmt.Sprintf("Close %.8g on the %s candle.", res.Indicators.Close, tf),
		)
		a.Direction = string(model.Bullish)
		if name == model.SignalStrongMoveDown {
			a.Direction = string(model.Bearish)
		}
		out = append(out, newCandidate(agg.Symbol, TypePriceChange, a))
		break
	}

	if tf, ok := agg.HasSignal(model.SignalVolumeSpike); ok {
		res := agg.PerTimeframe[tf]
		a := notification.NewAlert(notification.AlertInfo,
			fmt.Sprintf("%s volume spike (%s)", agg.Symbol, tf),
			fmt.Sprintf("Volume %.1fx its trailing average.", res.Indicators.VolumeRatio),
		)
		for _, s := range res.Signals {
			if s.Name == model.SignalVolumeSpike && s.Polarity != model.Neutral {
				a.Direction = string(s.Polarity)
			}
		}
		out = append(out, newCandidate(agg.Symbol, TypeVolumeSpike, a))
	}

	return out
}

func newCandidate(symbol string, typ Type, a notification.Alert) Candidate {
	a.Symbol = symbol
	a.Type = string(typ)
	return Candidate{Key: Key{Symbol: symbol, Type: typ}, Alert: a}
}

func directionOf(r model.Recommendation) string {
	switch r {
	case model.StrongBuy, model.Buy:
		return string(model.Bullish)
	case model.StrongSell, model.Sell:
		return string(model.Bearish)
	default:
		return ""
	}
}

func timeframeFields(agg model.AggregateResult) []notification.Field {
	var fields []notification.Field
	for _, tf := range model.AllTimeframes {
		res, ok := agg.PerTimeframe[tf]
		if !ok {
			continue
		}
		names := make([]string, len(res.Signals))
		for i, s := range res.Signals {
			names[i] = string(s.Name)
		}
		v := fmt.Sprintf("%s %d (%.0f%%)", res.Recommendation, res.Score, res.Confidence)
		if len(names) > 0 {
			v += " " + strings.Join(names, ", ")
		}
		fields = append(fields, notification.Field{Name: string(tf), Value: v})
	}
	return fields
}
