package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/feature"
)

// Liquidity thresholds in USD of open-interest value. Held symbols use the
// lower bar so an illiquidity dip never blocks closing a position.
const (
	liquidityThresholdNew  = 15_000_000
	liquidityThresholdHeld = 5_000_000
)

// SignalAnalyzerStage computes features for every collected symbol, applies
// the liquidity gate, loads the trader's recent performance and derives
// market alerts for the prompt.
type SignalAnalyzerStage struct {
	engine   *feature.Engine
	store    Store
	traderID string
	logger   zerolog.Logger
}

func NewSignalAnalyzerStage(engine *feature.Engine, store Store, traderID string, logger zerolog.Logger) *SignalAnalyzerStage {
	return &SignalAnalyzerStage{engine: engine, store: store, traderID: traderID, logger: logger}
}

func (a *SignalAnalyzerStage) Name() string { return "signal_analyzer" }

func (a *SignalAnalyzerStage) Run(ctx context.Context, state *State) error {
	for _, symbol := range state.AllSymbols {
		md := state.MarketData[symbol]
		if md == nil {
			continue
		}
		if md.Err != "" {
			a.logger.Warn().Str("symbol", symbol).Str("error", md.Err).Msg("skipping symbol with failed collection")
			continue
		}

		feat := a.engine.Calculate(ctx, symbol, md.KlinesShort, md.KlinesLong, false)
		if feat == nil {
			a.logger.Debug().Str("symbol", symbol).Msg("insufficient kline history")
			continue
		}

		if !a.passesLiquidity(feat, md.IsPosition) && !md.IsPosition {
			continue
		}
		// Held symbols stay even below the threshold so the model can still
		// decide to close them.

		state.SignalData[symbol] = feat
	}

	if a.store != nil && a.traderID != "" {
		summary, err := a.store.Performance(ctx, a.traderID)
		if err != nil {
			a.logger.Warn().Err(err).Msg("performance summary unavailable")
		} else {
			state.Performance = &summary
		}
	}

	state.Alerts = detectAlerts(state)
	if len(state.Alerts) > 0 {
		a.logger.Warn().Int("count", len(state.Alerts)).Msg("market alerts detected")
	}

	a.logger.Info().Int("analyzed", len(state.SignalData)).Msg("signal analysis complete")
	return nil
}

// passesLiquidity checks open-interest value against the per-class
// threshold. Missing OI passes held symbols and drops new candidates.
func (a *SignalAnalyzerStage) passesLiquidity(feat *feature.MarketFeatures, held bool) bool {
	threshold := float64(liquidityThresholdNew)
	if held {
		threshold = float64(liquidityThresholdHeld)
	}

	if feat.OpenInterest == nil || *feat.OpenInterest <= 0 {
		a.logger.Warn().Str("symbol", feat.Symbol).Bool("held", held).Msg("open interest unavailable")
		return held
	}

	oiValueUSD := *feat.OpenInterest * feat.CurrentPrice
	if oiValueUSD < threshold {
		a.logger.Warn().
			Str("symbol", feat.Symbol).
			Float64("oi_value_usd", oiValueUSD).
			Float64("threshold_usd", threshold).
			Msg("liquidity below threshold")
		return false
	}
	return true
}

// detectAlerts derives threshold-based alerts from the computed features.
// Deliberately simple: each check is one comparison against a fixed bound.
func detectAlerts(state *State) []Alert {
	var alerts []Alert

	for _, symbol := range state.AllSymbols {
		feat := state.SignalData[symbol]
		if feat == nil {
			continue
		}

		switch {
		case math.Abs(feat.PriceChange1h) > 10:
			alerts = append(alerts, Alert{
				Symbol:   symbol,
				Type:     AlertPriceChange,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("%s moved %+.2f%% in 1h", symbol, feat.PriceChange1h),
			})
		case math.Abs(feat.PriceChange1h) > 5:
			alerts = append(alerts, Alert{
				Symbol:   symbol,
				Type:     AlertPriceChange,
				Severity: SeverityMedium,
				Message:  fmt.Sprintf("%s moved %+.2f%% in 1h", symbol, feat.PriceChange1h),
			})
		}

		if math.Abs(feat.PriceChange4h) > 10 {
			alerts = append(alerts, Alert{
				Symbol:   symbol,
				Type:     AlertPriceChange,
				Severity: SeverityMedium,
				Message:  fmt.Sprintf("%s moved %+.2f%% in 4h", symbol, feat.PriceChange4h),
			})
		}

		if feat.AverageVolumeLong > 0 && feat.CurrentVolumeLong > 0 {
			ratio := feat.CurrentVolumeLong / feat.AverageVolumeLong
			if ratio > 2.0 {
				alerts = append(alerts, Alert{
					Symbol:   symbol,
					Type:     AlertVolumeSpike,
					Severity: SeverityMedium,
					Message:  fmt.Sprintf("%s 4h volume %.2f is %.2fx the average %.2f", symbol, feat.CurrentVolumeLong, ratio, feat.AverageVolumeLong),
				})
			}
		}

		if feat.RSI14Long > 80 {
			alerts = append(alerts, Alert{
				Symbol:   symbol,
				Type:     AlertOverbought,
				Severity: SeverityMedium,
				Message:  fmt.Sprintf("%s RSI14 overbought at %.2f", symbol, feat.RSI14Long),
			})
		} else if feat.RSI14Long < 20 {
			alerts = append(alerts, Alert{
				Symbol:   symbol,
				Type:     AlertOversold,
				Severity: SeverityMedium,
				Message:  fmt.Sprintf("%s RSI14 oversold at %.2f", symbol, feat.RSI14Long),
			})
		}

		if (feat.MACDLong > 0 && feat.MACDShort < 0) || (feat.MACDLong < 0 && feat.MACDShort > 0) {
			alerts = append(alerts, Alert{
				Symbol:   symbol,
				Type:     AlertMACDDivergence,
				Severity: SeverityLow,
				Message:  fmt.Sprintf("%s MACD disagrees across timeframes: 4h %.2f vs 3m %.2f", symbol, feat.MACDLong, feat.MACDShort),
			})
		}

		if feat.OpenInterest != nil && feat.OpenInterestAverage != nil && *feat.OpenInterestAverage > 0 {
			oiRatio := *feat.OpenInterest / *feat.OpenInterestAverage
			if oiRatio < 0.95 {
				alerts = append(alerts, Alert{
					Symbol:   symbol,
					Type:     AlertLiquidityRisk,
					Severity: SeverityMedium,
					Message:  fmt.Sprintf("%s open interest down %.1f%% against its average", symbol, (1-oiRatio)*100),
				})
			}
		}
	}

	return alerts
}
