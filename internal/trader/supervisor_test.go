package trader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/database"
)

// fakeConfigStore satisfies Store with in-memory records.
type fakeConfigStore struct {
	mu        sync.Mutex
	traders   []*database.Trader
	models    map[string]*database.AIModel
	exchanges map[string]*database.Exchange
	sources   map[string]*database.SignalSource
	system    map[string]string
	prompt    string
	running   map[string]bool
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{
		models:    make(map[string]*database.AIModel),
		exchanges: make(map[string]*database.Exchange),
		sources:   make(map[string]*database.SignalSource),
		system:    make(map[string]string),
		prompt:    "You are a disciplined futures trader.",
		running:   make(map[string]bool),
	}
}

func (f *fakeConfigStore) ListTraders(ctx context.Context) ([]*database.Trader, error) {
	return f.traders, nil
}

func (f *fakeConfigStore) GetTrader(ctx context.Context, traderID string) (*database.Trader, error) {
	for _, t := range f.traders {
		if t.ID == traderID {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeConfigStore) GetAIModel(ctx context.Context, modelID, userID string) (*database.AIModel, error) {
	return f.models[modelID], nil
}

func (f *fakeConfigStore) GetExchange(ctx context.Context, exchangeID, userID string) (*database.Exchange, error) {
	return f.exchanges[exchangeID], nil
}

func (f *fakeConfigStore) GetSignalSource(ctx context.Context, userID string) (*database.SignalSource, error) {
	return f.sources[userID], nil
}

func (f *fakeConfigStore) SystemConfig(ctx context.Context) (map[string]string, error) {
	return f.system, nil
}

func (f *fakeConfigStore) SystemPromptForTrader(ctx context.Context, trader *database.Trader) (string, error) {
	return f.prompt, nil
}

func (f *fakeConfigStore) SetTraderRunning(ctx context.Context, traderID string, running bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[traderID] = running
	return nil
}

func (f *fakeConfigStore) isRunning(traderID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[traderID]
}

func (f *fakeConfigStore) Performance(ctx context.Context, traderID string) (database.PerformanceSummary, error) {
	return database.PerformanceSummary{}, nil
}

func (f *fakeConfigStore) InsertDecisionLog(ctx context.Context, log *database.DecisionLog) error {
	return nil
}

func (f *fakeConfigStore) InsertTradeRecord(ctx context.Context, rec *database.TradeRecord) error {
	return nil
}

func (f *fakeConfigStore) addModel(id string, enabled bool) {
	f.models[id] = &database.AIModel{
		ID: id, UserID: "user-1", Name: "primary",
		Enabled: enabled, Provider: "deepseek", ModelName: "deepseek-chat",
	}
}

func (f *fakeConfigStore) addExchange(id string, enabled bool) {
	f.exchanges[id] = &database.Exchange{
		ID: id, UserID: "user-1", Name: "binance", Type: "cex",
		Enabled: enabled, APIKey: "key", SecretKey: "secret",
	}
}

func baseTrader(id string) *database.Trader {
	return &database.Trader{
		ID:                  id,
		UserID:              "user-1",
		Name:                "trader " + id,
		AIModelID:           "model-1",
		ExchangeID:          "exchange-1",
		ScanIntervalMinutes: 5,
		BTCETHLeverage:      5,
		AltcoinLeverage:     3,
	}
}

// inject registers a worker backed by fakes so lifecycle tests never touch
// the network.
func inject(s *Supervisor, id string) (*fakeFeed, *fakeScanner) {
	feed := &fakeFeed{}
	w, scanner := testWorker(Config{ID: id, Name: "trader " + id}, feed, nil)
	s.workers[id] = w
	return feed, scanner
}

// ============================================================================
// TEST: Loading
// ============================================================================

func TestLoadTradersSkipsBrokenConfigs(t *testing.T) {
	store := newFakeConfigStore()
	store.addModel("model-1", true)
	store.addModel("model-off", false)
	store.addExchange("exchange-1", true)

	good := baseTrader("t-good")
	good.TradingSymbols = "BTC, eth"

	noModel := baseTrader("t-no-model")
	noModel.AIModelID = "model-missing"

	modelOff := baseTrader("t-model-off")
	modelOff.AIModelID = "model-off"

	store.traders = []*database.Trader{good, noModel, modelOff}

	s := NewSupervisor(store, nil, nil, nil, zerolog.Nop())
	loaded, err := s.LoadTraders(context.Background())
	if err != nil {
		t.Fatalf("Expected load to succeed, got %v", err)
	}
	if loaded != 1 {
		t.Fatalf("Expected 1 trader loaded, got %d", loaded)
	}

	w, err := s.worker("t-good")
	if err != nil {
		t.Fatalf("Expected the good trader registered: %v", err)
	}
	if len(w.cfg.TradingCoins) != 2 || w.cfg.TradingCoins[0] != "BTC/USDT" || w.cfg.TradingCoins[1] != "ETH/USDT" {
		t.Errorf("Expected normalized CSV coins, got %v", w.cfg.TradingCoins)
	}
	if w.cfg.ScanInterval != 5*time.Minute {
		t.Errorf("Expected a 5m interval, got %v", w.cfg.ScanInterval)
	}
	if w.cfg.SystemPrompt == "" {
		t.Error("Expected a resolved system prompt")
	}

	if _, err := s.worker("t-no-model"); err == nil {
		t.Error("Expected the trader with a missing model to be skipped")
	}
}

func TestLoadTradersGatesFeedURLsOnToggles(t *testing.T) {
	store := newFakeConfigStore()
	store.addModel("model-1", true)
	store.addExchange("exchange-1", true)
	store.sources["user-1"] = &database.SignalSource{
		UserID:      "user-1",
		CoinPoolURL: "http://feeds.local/pool",
		OITopURL:    "http://feeds.local/oi",
	}

	withPool := baseTrader("t-pool")
	withPool.UseCoinPool = true

	noFeeds := baseTrader("t-none")

	store.traders = []*database.Trader{withPool, noFeeds}

	s := NewSupervisor(store, nil, nil, nil, zerolog.Nop())
	if _, err := s.LoadTraders(context.Background()); err != nil {
		t.Fatalf("Expected load to succeed, got %v", err)
	}

	w, _ := s.worker("t-pool")
	if w.cfg.CoinPoolURL != "http://feeds.local/pool" {
		t.Errorf("Expected the coin pool URL wired, got %q", w.cfg.CoinPoolURL)
	}
	if w.cfg.OITopURL != "" {
		t.Errorf("Expected no OI URL without the toggle, got %q", w.cfg.OITopURL)
	}

	w, _ = s.worker("t-none")
	if w.cfg.CoinPoolURL != "" || w.cfg.OITopURL != "" {
		t.Errorf("Expected no feed URLs for a trader without toggles, got %q / %q", w.cfg.CoinPoolURL, w.cfg.OITopURL)
	}
}

func TestLoadTradersAppliesSystemDefaults(t *testing.T) {
	store := newFakeConfigStore()
	store.addModel("model-1", true)
	store.addExchange("exchange-1", true)
	store.system[database.ConfigMaxDailyLoss] = "7.5"
	store.system[database.ConfigDefaultCoins] = `["BTC","ETH"]`

	bare := baseTrader("t-bare")
	bare.ScanIntervalMinutes = 0

	store.traders = []*database.Trader{bare}

	s := NewSupervisor(store, nil, nil, nil, zerolog.Nop())
	if _, err := s.LoadTraders(context.Background()); err != nil {
		t.Fatalf("Expected load to succeed, got %v", err)
	}

	w, _ := s.worker("t-bare")
	if w.cfg.ScanInterval != defaultScanInterval {
		t.Errorf("Expected the default interval, got %v", w.cfg.ScanInterval)
	}
	if len(w.cfg.TradingCoins) != 2 || w.cfg.TradingCoins[0] != "BTC/USDT" {
		t.Errorf("Expected system default coins, got %v", w.cfg.TradingCoins)
	}
	if w.cfg.MaxDailyLoss != 7.5 {
		t.Errorf("Expected max daily loss 7.5, got %v", w.cfg.MaxDailyLoss)
	}
	if w.cfg.MaxDrawdown != 20.0 {
		t.Errorf("Expected the seeded drawdown default, got %v", w.cfg.MaxDrawdown)
	}
}

// ============================================================================
// TEST: Lifecycle
// ============================================================================

func TestStartStopPersistsRunningState(t *testing.T) {
	store := newFakeConfigStore()
	s := NewSupervisor(store, nil, nil, nil, zerolog.Nop())
	inject(s, "t-1")

	if err := s.Start(context.Background(), "t-1"); err != nil {
		t.Fatalf("Expected start to succeed, got %v", err)
	}
	if !store.isRunning("t-1") {
		t.Error("Expected is_running persisted as true")
	}

	st, err := s.Status("t-1")
	if err != nil || !st.IsRunning {
		t.Fatalf("Expected a running status, got %+v err=%v", st, err)
	}

	if err := s.Stop(context.Background(), "t-1"); err != nil {
		t.Fatalf("Expected stop to succeed, got %v", err)
	}
	if store.isRunning("t-1") {
		t.Error("Expected is_running persisted as false")
	}

	if err := s.Start(context.Background(), "t-missing"); err == nil {
		t.Error("Expected an error for an unknown trader")
	}
}

func TestStartAllStopAll(t *testing.T) {
	store := newFakeConfigStore()
	s := NewSupervisor(store, nil, nil, nil, zerolog.Nop())
	inject(s, "t-1")
	inject(s, "t-2")

	if started := s.StartAll(context.Background()); started != 2 {
		t.Fatalf("Expected 2 traders started, got %d", started)
	}
	if s.RunningCount() != 2 {
		t.Fatalf("Expected 2 running, got %d", s.RunningCount())
	}

	if stopped := s.StopAll(context.Background()); stopped != 2 {
		t.Fatalf("Expected 2 traders stopped, got %d", stopped)
	}
	if s.RunningCount() != 0 {
		t.Fatalf("Expected 0 running, got %d", s.RunningCount())
	}
	if store.isRunning("t-1") || store.isRunning("t-2") {
		t.Error("Expected running flags cleared for both traders")
	}

	statuses := s.Statuses()
	if len(statuses) != 2 || statuses[0].ID != "t-1" || statuses[1].ID != "t-2" {
		t.Errorf("Expected statuses ordered by ID, got %+v", statuses)
	}
}

func TestReloadRebuildsConfig(t *testing.T) {
	store := newFakeConfigStore()
	store.addModel("model-1", true)
	store.addExchange("exchange-1", true)

	row := baseTrader("t-1")
	row.TradingSymbols = "BTC"
	store.traders = []*database.Trader{row}

	s := NewSupervisor(store, nil, nil, nil, zerolog.Nop())
	if _, err := s.LoadTraders(context.Background()); err != nil {
		t.Fatalf("Expected load to succeed, got %v", err)
	}

	row.TradingSymbols = "SOL"
	row.ScanIntervalMinutes = 1

	if err := s.Reload(context.Background(), "t-1"); err != nil {
		t.Fatalf("Expected reload to succeed, got %v", err)
	}

	w, _ := s.worker("t-1")
	if len(w.cfg.TradingCoins) != 1 || w.cfg.TradingCoins[0] != "SOL/USDT" {
		t.Errorf("Expected the reloaded coin list, got %v", w.cfg.TradingCoins)
	}
	if w.cfg.ScanInterval != time.Minute {
		t.Errorf("Expected the reloaded interval, got %v", w.cfg.ScanInterval)
	}

	if err := s.Reload(context.Background(), "t-missing"); err == nil {
		t.Error("Expected reload of an unknown trader to fail")
	}
}
