package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/signalfeed"
)

type fakeCandidateFeed struct {
	pool    []string
	poolErr error
	oiTop   []signalfeed.OIEntry
	oiErr   error
}

func (f *fakeCandidateFeed) FetchCoinPool(ctx context.Context, url string) ([]string, error) {
	return f.pool, f.poolErr
}

func (f *fakeCandidateFeed) FetchOITop(ctx context.Context, url string) ([]signalfeed.OIEntry, error) {
	return f.oiTop, f.oiErr
}

// fakeScreen returns nothing until readyAfter calls have been made, then
// returns its symbols. readyAfter 0 publishes immediately.
type fakeScreen struct {
	symbols    []string
	running    bool
	readyAfter int
	calls      int
}

func (f *fakeScreen) FilteredSymbols() []string {
	f.calls++
	if f.calls <= f.readyAfter {
		return nil
	}
	return f.symbols
}

func (f *fakeScreen) IsRunning() bool { return f.running }

// ============================================================================
// TEST: Candidate Sources
// ============================================================================

func TestCoinPoolUnionsSourcesWithTags(t *testing.T) {
	feed := &fakeCandidateFeed{
		pool: []string{"BTCUSDT", "ETHUSDT"},
		oiTop: []signalfeed.OIEntry{
			{Symbol: "ETHUSDT", OIChange: 1200, OIChangePercent: 4.2},
			{Symbol: "SOLUSDT", OIChange: 900, OIChangePercent: 2.1},
		},
	}
	cfg := Config{
		UseCoinPool: true, CoinPoolURL: "http://pool",
		UseOITop: true, OITopURL: "http://oi",
	}
	stage := NewCoinPoolStage(cfg, feed, nil, zerolog.Nop())
	state := NewState("trader-1", 0, 0)

	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Expected stage to succeed, got %v", err)
	}

	want := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}
	if len(state.CandidateSymbols) != len(want) {
		t.Fatalf("Expected %d candidates, got %v", len(want), state.CandidateSymbols)
	}
	for i, symbol := range want {
		if state.CandidateSymbols[i] != symbol {
			t.Errorf("Expected %s at position %d, got %s", symbol, i, state.CandidateSymbols[i])
		}
	}

	sources := state.CoinSources["ETH/USDT"]
	if len(sources) != 2 || sources[0] != SourceAI500 || sources[1] != SourceOITop {
		t.Errorf("Expected ETH/USDT tagged by both sources, got %v", sources)
	}
	if _, ok := state.OITopData["SOL/USDT"]; !ok {
		t.Error("Expected SOL/USDT OI entry kept under its normalized symbol")
	}
}

func TestCoinPoolFeedFailureDegrades(t *testing.T) {
	feed := &fakeCandidateFeed{
		poolErr: errors.New("feed unreachable"),
		oiTop:   []signalfeed.OIEntry{{Symbol: "SOLUSDT"}},
	}
	cfg := Config{
		UseCoinPool: true, CoinPoolURL: "http://pool",
		UseOITop: true, OITopURL: "http://oi",
	}
	stage := NewCoinPoolStage(cfg, feed, nil, zerolog.Nop())
	state := NewState("trader-1", 0, 0)

	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Expected feed failure to degrade, got %v", err)
	}
	if len(state.CandidateSymbols) != 1 || state.CandidateSymbols[0] != "SOL/USDT" {
		t.Fatalf("Expected only the OI source to contribute, got %v", state.CandidateSymbols)
	}
}

func TestCoinPoolFallbackCoinsAreUntagged(t *testing.T) {
	cfg := Config{TradingCoins: []string{"BTC/USDT", "ETH/USDT"}}
	stage := NewCoinPoolStage(cfg, nil, nil, zerolog.Nop())
	state := NewState("trader-1", 0, 0)

	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Expected stage to succeed, got %v", err)
	}
	if len(state.CandidateSymbols) != 2 {
		t.Fatalf("Expected 2 fallback candidates, got %v", state.CandidateSymbols)
	}
	if len(state.CoinSources) != 0 {
		t.Errorf("Expected fallback coins untagged, got %v", state.CoinSources)
	}
}

func TestCoinPoolLastResortDefault(t *testing.T) {
	stage := NewCoinPoolStage(Config{}, nil, nil, zerolog.Nop())
	state := NewState("trader-1", 0, 0)

	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Expected stage to succeed, got %v", err)
	}
	if len(state.CandidateSymbols) != 1 || state.CandidateSymbols[0] != "BTC/USDT" {
		t.Fatalf("Expected the built-in default, got %v", state.CandidateSymbols)
	}
}

// ============================================================================
// TEST: Symbol Screen Integration
// ============================================================================

func TestCoinPoolReadsPublishedScreen(t *testing.T) {
	screen := &fakeScreen{symbols: []string{"avaxusdt", "LINKUSDT"}, running: true}
	cfg := Config{UseInsideCoins: true}
	stage := NewCoinPoolStage(cfg, nil, screen, zerolog.Nop())
	state := NewState("trader-1", 0, 0)

	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Expected stage to succeed, got %v", err)
	}

	want := []string{"AVAX/USDT", "LINK/USDT"}
	if len(state.CandidateSymbols) != len(want) {
		t.Fatalf("Expected %d screen candidates, got %v", len(want), state.CandidateSymbols)
	}
	for _, symbol := range want {
		sources := state.CoinSources[symbol]
		if len(sources) != 1 || sources[0] != SourceInsideAI {
			t.Errorf("Expected %s tagged inside_ai, got %v", symbol, sources)
		}
	}
}

func TestCoinPoolSkipsWaitWhenScreenStopped(t *testing.T) {
	screen := &fakeScreen{running: false}
	cfg := Config{UseInsideCoins: true, TradingCoins: []string{"BTC/USDT"}}
	stage := NewCoinPoolStage(cfg, nil, screen, zerolog.Nop())
	state := NewState("trader-1", 0, 0)

	started := time.Now()
	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Expected stage to succeed, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Errorf("Expected no wait for a stopped screen, took %v", elapsed)
	}
	if len(state.CandidateSymbols) != 1 || state.CandidateSymbols[0] != "BTC/USDT" {
		t.Fatalf("Expected fallback coins, got %v", state.CandidateSymbols)
	}
}

func TestCoinPoolWaitsForFirstScreenPublication(t *testing.T) {
	// Empty on the first read, published by the time the stage polls again.
	screen := &fakeScreen{symbols: []string{"DOGEUSDT"}, running: true, readyAfter: 1}
	cfg := Config{UseInsideCoins: true}
	stage := NewCoinPoolStage(cfg, nil, screen, zerolog.Nop())
	state := NewState("trader-1", 0, 0)

	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Expected stage to succeed, got %v", err)
	}
	if len(state.CandidateSymbols) != 1 || state.CandidateSymbols[0] != "DOGE/USDT" {
		t.Fatalf("Expected the late publication picked up, got %v", state.CandidateSymbols)
	}
	if screen.calls < 2 {
		t.Errorf("Expected the stage to poll the screen, saw %d calls", screen.calls)
	}
}

func TestCoinPoolScreenWaitStopsOnCancel(t *testing.T) {
	// Running but never publishing: a canceled scan must not sit in the
	// wait loop.
	screen := &fakeScreen{running: true, readyAfter: 1 << 30}
	cfg := Config{UseInsideCoins: true, DefaultCoin: "ETH/USDT"}
	stage := NewCoinPoolStage(cfg, nil, screen, zerolog.Nop())
	state := NewState("trader-1", 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	started := time.Now()
	if err := stage.Run(ctx, state); err != nil {
		t.Fatalf("Expected stage to degrade on cancel, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Errorf("Expected a prompt return after cancel, took %v", elapsed)
	}
	if len(state.CandidateSymbols) != 1 || state.CandidateSymbols[0] != "ETH/USDT" {
		t.Fatalf("Expected the default coin fallback, got %v", state.CandidateSymbols)
	}
}
