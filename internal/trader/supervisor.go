package trader

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/ai/llm"
	"ai-futures-trader/internal/database"
	"ai-futures-trader/internal/events"
	"ai-futures-trader/internal/exchange"
	"ai-futures-trader/internal/pipeline"
	"ai-futures-trader/internal/vault"
)

// Store is the persistence surface the supervisor and its workers share.
// *database.Store satisfies it.
type Store interface {
	pipeline.Store
	ListTraders(ctx context.Context) ([]*database.Trader, error)
	GetTrader(ctx context.Context, traderID string) (*database.Trader, error)
	GetAIModel(ctx context.Context, modelID, userID string) (*database.AIModel, error)
	GetExchange(ctx context.Context, exchangeID, userID string) (*database.Exchange, error)
	GetSignalSource(ctx context.Context, userID string) (*database.SignalSource, error)
	SystemConfig(ctx context.Context) (map[string]string, error)
	SystemPromptForTrader(ctx context.Context, trader *database.Trader) (string, error)
	SetTraderRunning(ctx context.Context, traderID string, running bool) error
}

// Supervisor loads trader configurations from the store and manages one
// worker per trader. Lifecycle transitions go through a single mutex; the
// workers themselves run free of it.
type Supervisor struct {
	store      Store
	vault      *vault.Client
	candidates pipeline.CandidateFeed
	bus        *events.EventBus

	mu      sync.Mutex
	workers map[string]*Worker

	logger zerolog.Logger
}

// NewSupervisor builds an empty supervisor. vaultClient, candidates and bus
// may be nil; credentials then come from the store and feed stages fall back
// to their disabled paths.
func NewSupervisor(store Store, vaultClient *vault.Client, candidates pipeline.CandidateFeed, bus *events.EventBus, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		store:      store,
		vault:      vaultClient,
		candidates: candidates,
		bus:        bus,
		workers:    make(map[string]*Worker),
		logger:     logger,
	}
}

// LoadTraders reads every configured trader and builds a worker for each one
// that resolves cleanly. A trader with a missing or disabled model, exchange
// or prompt is skipped with a warning, never fatal. Returns the loaded count.
func (s *Supervisor) LoadTraders(ctx context.Context) (int, error) {
	raw, err := s.store.SystemConfig(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load system config: %w", err)
	}
	settings := parseSystemSettings(raw)

	traders, err := s.store.ListTraders(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list traders: %w", err)
	}

	loaded := 0
	for _, t := range traders {
		if err := s.load(ctx, t, settings); err != nil {
			s.logger.Warn().Err(err).
				Str("trader_id", t.ID).
				Str("name", t.Name).
				Msg("skipping trader")
			continue
		}
		loaded++
	}

	s.logger.Info().
		Int("loaded", loaded).
		Int("configured", len(traders)).
		Msg("traders loaded")
	return loaded, nil
}

// load joins one trader row with its model, exchange, signal source and
// prompt, then registers a worker for it.
func (s *Supervisor) load(ctx context.Context, t *database.Trader, settings systemSettings) error {
	s.mu.Lock()
	_, exists := s.workers[t.ID]
	s.mu.Unlock()
	if exists {
		return fmt.Errorf("trader %s already loaded", t.ID)
	}

	model, err := s.store.GetAIModel(ctx, t.AIModelID, t.UserID)
	if err != nil {
		return fmt.Errorf("failed to load ai model: %w", err)
	}
	if model == nil || !model.Enabled {
		return fmt.Errorf("ai model %s missing or disabled", t.AIModelID)
	}
	provider, err := llm.ParseProvider(model.Provider)
	if err != nil {
		return err
	}

	exch, err := s.store.GetExchange(ctx, t.ExchangeID, t.UserID)
	if err != nil {
		return fmt.Errorf("failed to load exchange: %w", err)
	}
	if exch == nil || !exch.Enabled {
		return fmt.Errorf("exchange %s missing or disabled", t.ExchangeID)
	}
	adapter, err := exchange.New(s.credentialsFor(ctx, exch))
	if err != nil {
		return fmt.Errorf("failed to build exchange adapter: %w", err)
	}

	prompt, err := s.store.SystemPromptForTrader(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to resolve system prompt: %w", err)
	}

	cfg := Config{
		ID:                 t.ID,
		UserID:             t.UserID,
		Name:               t.Name,
		ScanInterval:       scanInterval(t.ScanIntervalMinutes),
		BTCETHLeverage:     t.BTCETHLeverage,
		AltcoinLeverage:    t.AltcoinLeverage,
		IsCrossMargin:      t.IsCrossMargin,
		UseCoinPool:        t.UseCoinPool,
		UseOITop:           t.UseOITop,
		UseInsideCoins:     t.UseInsideCoins,
		TradingCoins:       tradingCoins(t, settings.defaultCoins),
		DefaultCoin:        defaultFallbackCoin,
		SystemPrompt:       prompt,
		MaxDailyLoss:       settings.maxDailyLoss,
		MaxDrawdown:        settings.maxDrawdown,
		StopTradingMinutes: settings.stopTradingMinutes,
	}

	// Feed URLs are effective only when the matching toggle is on and the
	// user actually configured a source.
	if t.UseCoinPool || t.UseOITop {
		src, err := s.store.GetSignalSource(ctx, t.UserID)
		if err != nil {
			s.logger.Warn().Err(err).Str("trader_id", t.ID).Msg("signal source unavailable")
		}
		if src != nil {
			if t.UseCoinPool && src.CoinPoolURL != "" {
				cfg.CoinPoolURL = src.CoinPoolURL
			}
			if t.UseOITop && src.OITopURL != "" {
				cfg.OITopURL = src.OITopURL
			}
		}
	}

	client := llm.NewClient(&llm.ClientConfig{
		Provider: provider,
		APIKey:   model.APIKey,
		Model:    model.ModelName,
		BaseURL:  model.BaseURL,
	})

	wlog := s.logger.With().Str("trader_id", t.ID).Str("trader", t.Name).Logger()
	worker := NewWorker(cfg, Deps{
		Adapter:    adapter,
		LLM:        client,
		Store:      s.store,
		Candidates: s.candidates,
		Bus:        s.bus,
	}, wlog)

	s.mu.Lock()
	s.workers[t.ID] = worker
	s.mu.Unlock()

	s.logger.Info().
		Str("trader_id", t.ID).
		Str("name", t.Name).
		Str("model", model.ModelName).
		Str("venue", exch.Name).
		Msg("trader configured")
	return nil
}

// credentialsFor prefers vault-held secrets and falls back to the exchange
// row's own columns.
func (s *Supervisor) credentialsFor(ctx context.Context, exch *database.Exchange) exchange.Credentials {
	creds := exchange.Credentials{
		Name:          exch.Name,
		Type:          exch.Type,
		APIKey:        exch.APIKey,
		SecretKey:     exch.SecretKey,
		Testnet:       exch.Testnet,
		WalletAddress: exch.WalletAddress,
	}
	if s.vault == nil || !s.vault.IsEnabled() {
		return creds
	}
	vc, err := s.vault.GetCredentials(ctx, exch.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("exchange_id", exch.ID).Msg("vault lookup failed, using stored credentials")
		return creds
	}
	if vc == nil || vc.APIKey == "" {
		return creds
	}
	creds.APIKey = vc.APIKey
	creds.SecretKey = vc.SecretKey
	creds.Testnet = vc.Testnet
	if vc.WalletAddress != "" {
		creds.WalletAddress = vc.WalletAddress
	}
	return creds
}

// Start launches one loaded trader and persists its running flag.
func (s *Supervisor) Start(ctx context.Context, traderID string) error {
	worker, err := s.worker(traderID)
	if err != nil {
		return err
	}
	worker.Start()
	if err := s.store.SetTraderRunning(ctx, traderID, true); err != nil {
		s.logger.Warn().Err(err).Str("trader_id", traderID).Msg("failed to persist running state")
	}
	if s.bus != nil {
		s.bus.PublishTraderStarted(traderID, worker.Name())
	}
	return nil
}

// Stop halts one trader and persists its running flag.
func (s *Supervisor) Stop(ctx context.Context, traderID string) error {
	worker, err := s.worker(traderID)
	if err != nil {
		return err
	}
	worker.Stop()
	if err := s.store.SetTraderRunning(ctx, traderID, false); err != nil {
		s.logger.Warn().Err(err).Str("trader_id", traderID).Msg("failed to persist running state")
	}
	if s.bus != nil {
		s.bus.PublishTraderStopped(traderID, worker.Name())
	}
	return nil
}

// StartAll starts every loaded trader and returns how many are now running.
func (s *Supervisor) StartAll(ctx context.Context) int {
	started := 0
	for _, id := range s.traderIDs() {
		if err := s.Start(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("trader_id", id).Msg("failed to start trader")
			continue
		}
		started++
	}
	s.logger.Info().Int("running", started).Msg("all traders started")
	return started
}

// StopAll fans stop to every worker concurrently; each worker joins its own
// loops within the bounded grace period.
func (s *Supervisor) StopAll(ctx context.Context) int {
	ids := s.traderIDs()

	var wg sync.WaitGroup
	for _, id := range ids {
		worker, err := s.worker(id)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(worker)
	}
	wg.Wait()

	stopped := 0
	for _, id := range ids {
		if err := s.store.SetTraderRunning(ctx, id, false); err != nil {
			s.logger.Warn().Err(err).Str("trader_id", id).Msg("failed to persist running state")
		}
		stopped++
	}
	s.logger.Info().Int("stopped", stopped).Msg("all traders stopped")
	return stopped
}

// Reload rebuilds one trader from its current store records, restarting it
// if it was running.
func (s *Supervisor) Reload(ctx context.Context, traderID string) error {
	s.mu.Lock()
	worker, exists := s.workers[traderID]
	s.mu.Unlock()

	wasRunning := false
	if exists {
		wasRunning = worker.IsRunning()
		if wasRunning {
			if err := s.Stop(ctx, traderID); err != nil {
				return err
			}
		}
		s.mu.Lock()
		delete(s.workers, traderID)
		s.mu.Unlock()
	}

	t, err := s.store.GetTrader(ctx, traderID)
	if err != nil {
		return fmt.Errorf("failed to load trader: %w", err)
	}
	if t == nil {
		return fmt.Errorf("trader %s not found", traderID)
	}

	raw, err := s.store.SystemConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load system config: %w", err)
	}
	if err := s.load(ctx, t, parseSystemSettings(raw)); err != nil {
		return err
	}

	if wasRunning {
		return s.Start(ctx, traderID)
	}
	return nil
}

// Status snapshots one loaded trader.
func (s *Supervisor) Status(traderID string) (Status, error) {
	worker, err := s.worker(traderID)
	if err != nil {
		return Status{}, err
	}
	return worker.Status(), nil
}

// Statuses snapshots every loaded trader, ordered by trader ID.
func (s *Supervisor) Statuses() []Status {
	out := make([]Status, 0)
	for _, id := range s.traderIDs() {
		worker, err := s.worker(id)
		if err != nil {
			continue
		}
		out = append(out, worker.Status())
	}
	return out
}

// RunningCount reports how many workers are currently running.
func (s *Supervisor) RunningCount() int {
	count := 0
	for _, id := range s.traderIDs() {
		worker, err := s.worker(id)
		if err == nil && worker.IsRunning() {
			count++
		}
	}
	return count
}

func (s *Supervisor) worker(traderID string) (*Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	worker, ok := s.workers[traderID]
	if !ok {
		return nil, fmt.Errorf("trader %s not loaded", traderID)
	}
	return worker, nil
}

func (s *Supervisor) traderIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
