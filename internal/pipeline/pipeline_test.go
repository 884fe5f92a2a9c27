package pipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ai-futures-trader/internal/database"
	"ai-futures-trader/internal/events"
	"ai-futures-trader/internal/exchange"
	"ai-futures-trader/internal/feature"
	"ai-futures-trader/internal/market"
)

// testKlines builds n bars oscillating around base so the indicator math
// sees both gains and losses.
func testKlines(n int, base float64) []market.Kline {
	klines := make([]market.Kline, n)
	for i := 0; i < n; i++ {
		offset := 0.5
		if i%2 == 1 {
			offset = -0.5
		}
		px := base + offset
		klines[i] = market.Kline{
			OpenTime:  int64(i) * 180_000,
			Open:      base,
			High:      px + 0.3,
			Low:       px - 0.3,
			Close:     px,
			Volume:    100,
			CloseTime: int64(i+1)*180_000 - 1,
		}
	}
	return klines
}

type fakeStore struct {
	performance    database.PerformanceSummary
	performanceErr error
	decisionLogs   []*database.DecisionLog
	decisionErr    error
	tradeRecords   []*database.TradeRecord
	tradeErr       error
}

func (f *fakeStore) Performance(ctx context.Context, traderID string) (database.PerformanceSummary, error) {
	return f.performance, f.performanceErr
}

func (f *fakeStore) InsertDecisionLog(ctx context.Context, log *database.DecisionLog) error {
	if f.decisionErr != nil {
		return f.decisionErr
	}
	f.decisionLogs = append(f.decisionLogs, log)
	return nil
}

func (f *fakeStore) InsertTradeRecord(ctx context.Context, rec *database.TradeRecord) error {
	if f.tradeErr != nil {
		return f.tradeErr
	}
	f.tradeRecords = append(f.tradeRecords, rec)
	return nil
}

// fakeAdapter satisfies the full venue interface with canned readings. The
// order methods are never reached while execution stays in recording mode.
type fakeAdapter struct {
	account      exchange.AccountState
	positions    []exchange.Position
	openInterest float64
	fundingRate  float64
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return f.account.AvailableBalance, nil
}

func (f *fakeAdapter) GetAccountState(ctx context.Context) (exchange.AccountState, error) {
	return f.account, nil
}

func (f *fakeAdapter) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	return f.positions, nil
}

func (f *fakeAdapter) OpenLong(ctx context.Context, symbol string, quantity float64, leverage int) error {
	return nil
}

func (f *fakeAdapter) OpenShort(ctx context.Context, symbol string, quantity float64, leverage int) error {
	return nil
}

func (f *fakeAdapter) CloseLong(ctx context.Context, symbol string, quantity float64) error {
	return nil
}

func (f *fakeAdapter) CloseShort(ctx context.Context, symbol string, quantity float64) error {
	return nil
}

func (f *fakeAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (f *fakeAdapter) SetMarginMode(ctx context.Context, symbol string, isCross bool) error {
	return nil
}

func (f *fakeAdapter) SetStopLoss(ctx context.Context, symbol, positionSide string, quantity, stopPrice float64) error {
	return nil
}

func (f *fakeAdapter) SetTakeProfit(ctx context.Context, symbol, positionSide string, quantity, takePrice float64) error {
	return nil
}

func (f *fakeAdapter) CancelAllOrders(ctx context.Context, symbol string) error { return nil }

func (f *fakeAdapter) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}

func (f *fakeAdapter) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	return f.openInterest, nil
}

func (f *fakeAdapter) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	return f.fundingRate, nil
}

func (f *fakeAdapter) FormatQuantity(symbol string, quantity float64) float64 { return quantity }

// ============================================================================
// TEST: Full Scan
// ============================================================================

func TestPipelineFullScan(t *testing.T) {
	adapter := &fakeAdapter{
		account: exchange.AccountState{
			TotalEquity:      decimal.NewFromInt(1000),
			AvailableBalance: decimal.NewFromInt(800),
		},
		openInterest: 1_000_000, // 100M USD at a price of 100
		fundingRate:  0.0001,
	}
	feed := &fakeMarketSource{
		klines: map[string][]market.Kline{
			"BTC/USDT|" + market.IntervalShort: testKlines(60, 100),
			"BTC/USDT|" + market.IntervalLong:  testKlines(60, 100),
		},
		prices: map[string]float64{"BTC/USDT": 100},
	}
	llm := &fakeLLM{
		configured: true,
		response: `[{"symbol": "BTC/USDT", "action": "open_long", "leverage": 5,
			"position_size_usd": 200, "stop_loss": 95, "take_profit": 115,
			"confidence": 0.8, "reasoning": "momentum continuation"}]`,
	}
	store := &fakeStore{}

	cfg := Config{
		TraderID:        "trader-1",
		BTCETHLeverage:  5,
		AltcoinLeverage: 3,
		TradingCoins:    []string{"BTC/USDT"},
		SystemPrompt:    "You are a disciplined futures trader.",
	}
	deps := Deps{
		Feed:    feed,
		Adapter: adapter,
		Engine:  feature.NewEngine(adapter, zerolog.Nop()),
		LLM:     llm,
		Store:   store,
		Bus:     events.NewEventBus(),
	}

	p := New(cfg, deps, zerolog.Nop())
	state := NewState(cfg.TraderID, 30, 1)

	if err := p.Run(context.Background(), state); err != nil {
		t.Fatalf("Expected scan to complete, got %v", err)
	}

	if len(state.CandidateSymbols) != 1 || state.CandidateSymbols[0] != "BTC/USDT" {
		t.Fatalf("Expected the fallback candidate, got %v", state.CandidateSymbols)
	}
	if len(state.AllSymbols) != 1 {
		t.Fatalf("Expected 1 collected symbol, got %v", state.AllSymbols)
	}
	md := state.MarketData["BTC/USDT"]
	if md == nil || md.Source != DataSourceStream {
		t.Fatalf("Expected stream collection after subscribe, got %+v", md)
	}
	if state.SignalData["BTC/USDT"] == nil {
		t.Fatal("Expected BTC/USDT to pass signal analysis")
	}
	if !state.RiskApproved {
		t.Fatalf("Expected risk approval, errors: %v", state.ValidationErrors)
	}
	if len(state.AIDecision.Decisions) != 1 {
		t.Fatalf("Expected 1 surviving decision, got %d", len(state.AIDecision.Decisions))
	}

	if len(state.ExecutionResults) != 1 {
		t.Fatalf("Expected 1 execution result, got %d", len(state.ExecutionResults))
	}
	result := state.ExecutionResults[0]
	if result.Status != ExecStatusPending || result.Action != "open_long" {
		t.Errorf("Expected a pending open_long result, got %+v", result)
	}

	if len(store.decisionLogs) != 1 {
		t.Fatalf("Expected 1 decision log, got %d", len(store.decisionLogs))
	}
	if store.decisionLogs[0].DecisionResult != "open_long" {
		t.Errorf("Expected open_long logged, got %s", store.decisionLogs[0].DecisionResult)
	}

	if len(store.tradeRecords) != 1 {
		t.Fatalf("Expected 1 trade record, got %d", len(store.tradeRecords))
	}
	rec := store.tradeRecords[0]
	if rec.Side != database.TradeSideBuy || rec.Status != database.TradeStatusPending {
		t.Errorf("Expected a pending buy, got side=%s status=%s", rec.Side, rec.Status)
	}
	if !rec.Amount.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected quantity 2 (200 USD at 100), got %s", rec.Amount)
	}
}

func TestPipelineStopsOnCanceledContext(t *testing.T) {
	p := New(Config{TradingCoins: []string{"BTC/USDT"}}, Deps{
		Feed:    &fakeMarketSource{},
		Adapter: &fakeAdapter{},
		Engine:  feature.NewEngine(nil, zerolog.Nop()),
		Store:   &fakeStore{},
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := NewState("trader-1", 0, 0)
	if err := p.Run(ctx, state); err == nil {
		t.Fatal("Expected a canceled scan to return the context error")
	}
}
