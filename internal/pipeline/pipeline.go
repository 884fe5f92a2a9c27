package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/database"
	"ai-futures-trader/internal/events"
	"ai-futures-trader/internal/exchange"
	"ai-futures-trader/internal/feature"
	"ai-futures-trader/internal/market"
	"ai-futures-trader/internal/risk"
	"ai-futures-trader/internal/signalfeed"
)

// Stage is one node of the decision flow. Stages degrade internally where
// the contract allows it; a returned error aborts the scan and the worker
// pauses before the next one.
type Stage interface {
	Name() string
	Run(ctx context.Context, state *State) error
}

// CandidateFeed fetches external symbol lists. Both the direct HTTP client
// and its cached wrapper satisfy it.
type CandidateFeed interface {
	FetchCoinPool(ctx context.Context, url string) ([]string, error)
	FetchOITop(ctx context.Context, url string) ([]signalfeed.OIEntry, error)
}

// SymbolScreen is the slice of the screener the CoinPool stage reads.
type SymbolScreen interface {
	FilteredSymbols() []string
	IsRunning() bool
}

// MarketSource is the slice of the market feed the collector uses.
type MarketSource interface {
	AddSymbol(ctx context.Context, symbol string, intervals []string) error
	IsMonitoring(symbol string) bool
	GetKlines(symbol, interval string, limit int) []market.Kline
	GetLatestPrice(symbol string) (float64, bool)
	FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error)
}

// AccountSource is the slice of the exchange adapter the collector reads.
type AccountSource interface {
	GetAccountState(ctx context.Context) (exchange.AccountState, error)
	GetPositions(ctx context.Context) ([]exchange.Position, error)
}

// QuantityFormatter rounds order quantities to the venue's step size.
type QuantityFormatter interface {
	FormatQuantity(symbol string, quantity float64) float64
}

// LLMClient is the completion surface the decision stage calls.
type LLMClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
	IsConfigured() bool
}

// Store is the persistence surface the pipeline touches: performance reads
// before the prompt, decision-log and trade-record writes after validation.
type Store interface {
	Performance(ctx context.Context, traderID string) (database.PerformanceSummary, error)
	InsertDecisionLog(ctx context.Context, log *database.DecisionLog) error
	InsertTradeRecord(ctx context.Context, rec *database.TradeRecord) error
}

// Config carries the per-trader knobs the stages need. Assembled once by
// the worker from the trader's stored configuration.
type Config struct {
	TraderID string
	UserID   string

	BTCETHLeverage  int
	AltcoinLeverage int
	IsCrossMargin   bool

	UseCoinPool    bool
	UseOITop       bool
	UseInsideCoins bool
	CoinPoolURL    string
	OITopURL       string

	// TradingCoins is the configured fallback when every candidate source
	// comes up empty; DefaultCoin is the last resort after that.
	TradingCoins []string
	DefaultCoin  string

	// SystemPrompt is resolved from the prompt template plus the trader's
	// custom prompt before the worker starts.
	SystemPrompt string
}

// Deps are the collaborators the stages share. Screen, Candidates and Bus
// may be nil when the trader has the matching features disabled.
type Deps struct {
	Feed       MarketSource
	Adapter    exchange.Adapter
	Engine     *feature.Engine
	Screen     SymbolScreen
	Candidates CandidateFeed
	LLM        LLMClient
	Store      Store
	Bus        *events.EventBus
}

// Pipeline executes the fixed stage sequence over one State per scan.
type Pipeline struct {
	stages []Stage
	logger zerolog.Logger
}

// New wires the six stages in their fixed order.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Pipeline {
	validator := risk.NewValidator(cfg.BTCETHLeverage, cfg.AltcoinLeverage, logger)
	stages := []Stage{
		NewCoinPoolStage(cfg, deps.Candidates, deps.Screen, logger),
		NewDataCollectorStage(deps.Feed, deps.Adapter, logger),
		NewSignalAnalyzerStage(deps.Engine, deps.Store, cfg.TraderID, logger),
		NewAIDecisionStage(deps.LLM, cfg, logger),
		NewRiskValidatorStage(validator, deps.Store, deps.Bus, cfg.TraderID, logger),
		NewExecutorStage(deps.Adapter, deps.Store, deps.Bus, cfg.TraderID, logger),
	}
	return &Pipeline{stages: stages, logger: logger}
}

// Run drives the state through every stage in order. The context is checked
// between stages so a stopping trader abandons the scan at the next stage
// boundary.
func (p *Pipeline) Run(ctx context.Context, state *State) error {
	for _, stage := range p.stages {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		started := time.Now()
		if err := stage.Run(ctx, state); err != nil {
			return fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		p.logger.Debug().
			Str("scan_id", state.ScanID).
			Str("stage", stage.Name()).
			Dur("elapsed", time.Since(started)).
			Msg("stage complete")
	}
	return nil
}
