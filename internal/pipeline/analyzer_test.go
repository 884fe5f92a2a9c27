package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/database"
	"ai-futures-trader/internal/feature"
)

// oiSource feeds the feature engine per-symbol open interest. Symbols
// missing from the map report an error, which the engine degrades to nil
// open interest on the features.
type oiSource struct {
	oi map[string]float64
}

func (s *oiSource) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	v, ok := s.oi[symbol]
	if !ok {
		return 0, fmt.Errorf("no open interest for %s", symbol)
	}
	return v, nil
}

func (s *oiSource) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	return 0.0001, nil
}

// analyzerState builds a post-collection state for the given symbols.
// Held symbols are flagged as positions; every symbol gets enough history
// for the full indicator set.
func analyzerState(symbols []string, held map[string]bool) *State {
	state := NewState("trader-1", 0, 1)
	for _, symbol := range symbols {
		state.AllSymbols = append(state.AllSymbols, symbol)
		state.MarketData[symbol] = &MarketData{
			Symbol:      symbol,
			KlinesShort: testKlines(60, 100),
			KlinesLong:  testKlines(60, 100),
			Source:      DataSourceREST,
			IsPosition:  held[symbol],
			IsCandidate: !held[symbol],
		}
	}
	return state
}

func analyzerStage(src feature.MarketDataSource, store Store) *SignalAnalyzerStage {
	engine := feature.NewEngine(src, zerolog.Nop())
	return NewSignalAnalyzerStage(engine, store, "trader-1", zerolog.Nop())
}

// ============================================================================
// TEST: Liquidity Gate
// ============================================================================

// Fixture closes sit near 100, so open interest of 100k contracts is worth
// about 10M USD and 200k about 20M USD.
func TestAnalyzerLiquidityGate(t *testing.T) {
	src := &oiSource{oi: map[string]float64{
		"THIN/USDT": 100_000,
		"DEEP/USDT": 200_000,
	}}
	stage := analyzerStage(src, nil)

	state := analyzerState([]string{"THIN/USDT", "DEEP/USDT"}, nil)
	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, ok := state.SignalData["THIN/USDT"]; ok {
		t.Fatal("Expected THIN/USDT below 15M to be dropped from signal data")
	}
	if _, ok := state.SignalData["DEEP/USDT"]; !ok {
		t.Fatal("Expected DEEP/USDT above 15M in signal data")
	}
}

func TestAnalyzerHeldSymbolUsesLowerThreshold(t *testing.T) {
	// 10M USD of open interest: under the 15M candidate bar, over the 5M
	// held bar.
	src := &oiSource{oi: map[string]float64{"ETH/USDT": 100_000}}
	stage := analyzerStage(src, nil)

	state := analyzerState([]string{"ETH/USDT"}, map[string]bool{"ETH/USDT": true})
	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, ok := state.SignalData["ETH/USDT"]; !ok {
		t.Fatal("Expected held ETH/USDT at 10M to pass the 5M threshold")
	}
}

func TestAnalyzerHeldSymbolSurvivesIlliquidity(t *testing.T) {
	// 4M USD is below even the held threshold, but a held symbol must stay
	// analyzable so the model can still close it.
	src := &oiSource{oi: map[string]float64{"OLD/USDT": 40_000}}
	stage := analyzerStage(src, nil)

	state := analyzerState([]string{"OLD/USDT"}, map[string]bool{"OLD/USDT": true})
	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, ok := state.SignalData["OLD/USDT"]; !ok {
		t.Fatal("Expected held OLD/USDT to stay in signal data below the threshold")
	}
}

func TestAnalyzerMissingOpenInterest(t *testing.T) {
	src := &oiSource{} // every lookup errors
	stage := analyzerStage(src, nil)

	state := analyzerState(
		[]string{"NEW/USDT", "HELD/USDT"},
		map[string]bool{"HELD/USDT": true},
	)
	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, ok := state.SignalData["NEW/USDT"]; ok {
		t.Fatal("Expected candidate without open interest to be dropped")
	}
	if _, ok := state.SignalData["HELD/USDT"]; !ok {
		t.Fatal("Expected held symbol without open interest to pass")
	}
}

// ============================================================================
// TEST: Collection Failures
// ============================================================================

func TestAnalyzerSkipsFailedCollection(t *testing.T) {
	src := &oiSource{oi: map[string]float64{"BTC/USDT": 500_000, "BAD/USDT": 500_000}}
	stage := analyzerStage(src, nil)

	state := analyzerState([]string{"BTC/USDT", "BAD/USDT"}, nil)
	state.MarketData["BAD/USDT"].Err = "subscribe failed"
	state.AllSymbols = append(state.AllSymbols, "GHOST/USDT") // no market data at all

	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, ok := state.SignalData["BTC/USDT"]; !ok {
		t.Fatal("Expected BTC/USDT in signal data")
	}
	if _, ok := state.SignalData["BAD/USDT"]; ok {
		t.Fatal("Expected failed symbol to be skipped")
	}
	if _, ok := state.SignalData["GHOST/USDT"]; ok {
		t.Fatal("Expected symbol without market data to be skipped")
	}
}

func TestAnalyzerDropsShortHistory(t *testing.T) {
	src := &oiSource{oi: map[string]float64{"NEW/USDT": 500_000}}
	stage := analyzerStage(src, nil)

	state := analyzerState([]string{"NEW/USDT"}, nil)
	state.MarketData["NEW/USDT"].KlinesLong = testKlines(10, 100)

	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(state.SignalData) != 0 {
		t.Fatalf("Expected no features below the kline minimum, got %d", len(state.SignalData))
	}
}

// ============================================================================
// TEST: Performance Load
// ============================================================================

func TestAnalyzerLoadsPerformance(t *testing.T) {
	store := &fakeStore{performance: database.PerformanceSummary{TotalTrades: 12, WinRate: 50}}
	stage := analyzerStage(&oiSource{}, store)

	state := analyzerState(nil, nil)
	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if state.Performance == nil {
		t.Fatal("Expected performance summary on state")
	}
	if state.Performance.TotalTrades != 12 {
		t.Fatalf("Expected 12 trades, got %d", state.Performance.TotalTrades)
	}
}

func TestAnalyzerPerformanceFailureDegrades(t *testing.T) {
	store := &fakeStore{performanceErr: fmt.Errorf("db down")}
	stage := analyzerStage(&oiSource{}, store)

	state := analyzerState(nil, nil)
	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Expected scan to continue without performance, got %v", err)
	}
	if state.Performance != nil {
		t.Fatal("Expected nil performance after store failure")
	}
}

// ============================================================================
// TEST: Alert Detection
// ============================================================================

func alertFeatures(symbol string) *feature.MarketFeatures {
	return &feature.MarketFeatures{
		Symbol:            symbol,
		CurrentPrice:      100,
		RSI14Long:         50,
		CurrentVolumeLong: 100,
		AverageVolumeLong: 100,
	}
}

func hasAlert(alerts []Alert, alertType, severity string) bool {
	for _, a := range alerts {
		if a.Type == alertType && a.Severity == severity {
			return true
		}
	}
	return false
}

func TestDetectAlertsThresholds(t *testing.T) {
	oi := 100_000.0
	oiAvg := 110_000.0 // ratio 0.909, below 0.95

	spike := alertFeatures("SPIKE/USDT")
	spike.PriceChange1h = 12
	spike.PriceChange4h = 11
	spike.CurrentVolumeLong = 250
	spike.AverageVolumeLong = 100
	spike.RSI14Long = 85
	spike.MACDShort = -1
	spike.MACDLong = 1
	spike.OpenInterest = &oi
	spike.OpenInterestAverage = &oiAvg

	state := NewState("trader-1", 0, 1)
	state.AllSymbols = []string{"SPIKE/USDT"}
	state.SignalData["SPIKE/USDT"] = spike

	alerts := detectAlerts(state)

	cases := []struct {
		alertType string
		severity  string
	}{
		{AlertPriceChange, SeverityHigh},
		{AlertPriceChange, SeverityMedium}, // 4h move
		{AlertVolumeSpike, SeverityMedium},
		{AlertOverbought, SeverityMedium},
		{AlertMACDDivergence, SeverityLow},
		{AlertLiquidityRisk, SeverityMedium},
	}
	for _, tc := range cases {
		if !hasAlert(alerts, tc.alertType, tc.severity) {
			t.Fatalf("Expected %s/%s alert, got %+v", tc.alertType, tc.severity, alerts)
		}
	}
}

func TestDetectAlertsMediumPriceMove(t *testing.T) {
	feat := alertFeatures("MID/USDT")
	feat.PriceChange1h = -7

	state := NewState("trader-1", 0, 1)
	state.AllSymbols = []string{"MID/USDT"}
	state.SignalData["MID/USDT"] = feat

	alerts := detectAlerts(state)
	if !hasAlert(alerts, AlertPriceChange, SeverityMedium) {
		t.Fatalf("Expected medium price alert for a 7%% move, got %+v", alerts)
	}
	if hasAlert(alerts, AlertPriceChange, SeverityHigh) {
		t.Fatalf("Expected no high severity alert for a 7%% move, got %+v", alerts)
	}
}

func TestDetectAlertsQuietMarket(t *testing.T) {
	state := NewState("trader-1", 0, 1)
	state.AllSymbols = []string{"CALM/USDT"}
	state.SignalData["CALM/USDT"] = alertFeatures("CALM/USDT")

	if alerts := detectAlerts(state); len(alerts) != 0 {
		t.Fatalf("Expected no alerts for a quiet market, got %+v", alerts)
	}
}

func TestDetectAlertsOversold(t *testing.T) {
	feat := alertFeatures("DUMP/USDT")
	feat.RSI14Long = 15

	state := NewState("trader-1", 0, 1)
	state.AllSymbols = []string{"DUMP/USDT"}
	state.SignalData["DUMP/USDT"] = feat

	if !hasAlert(detectAlerts(state), AlertOversold, SeverityMedium) {
		t.Fatal("Expected oversold alert at RSI 15")
	}
}
