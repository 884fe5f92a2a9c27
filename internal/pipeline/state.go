// Package pipeline runs the six-stage decision flow that turns market state
// into validated trading decisions: candidate selection, data collection,
// signal analysis, model decision, risk validation and execution. Every scan
// operates on its own State value; nothing is shared between scans.
package pipeline

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"ai-futures-trader/internal/database"
	"ai-futures-trader/internal/exchange"
	"ai-futures-trader/internal/feature"
	"ai-futures-trader/internal/market"
	"ai-futures-trader/internal/risk"
	"ai-futures-trader/internal/signalfeed"
)

// Candidate source tags recorded per symbol in CoinSources.
const (
	SourceAI500    = "ai500"
	SourceOITop    = "oi_top"
	SourceInsideAI = "inside_ai"
)

// Where a symbol's market data came from.
const (
	DataSourceStream = "stream_cache"
	DataSourceREST   = "rest"
)

// Alert severities.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Alert types.
const (
	AlertPriceChange    = "price_change"
	AlertVolumeSpike    = "volume_spike"
	AlertOverbought     = "overbought"
	AlertOversold       = "oversold"
	AlertMACDDivergence = "macd_divergence"
	AlertLiquidityRisk  = "liquidity_risk"
)

// ExecStatusPending marks an execution result recorded before the order
// path is wired to the venue.
const ExecStatusPending = "pending"

// MarketData is the raw collection result for one symbol. A non-empty Err
// means collection failed and downstream stages skip the symbol.
type MarketData struct {
	Symbol       string         `json:"symbol"`
	CurrentPrice *float64       `json:"current_price,omitempty"`
	KlinesShort  []market.Kline `json:"klines_3m,omitempty"`
	KlinesLong   []market.Kline `json:"klines_4h,omitempty"`
	Source       string         `json:"source,omitempty"`
	IsPosition   bool           `json:"is_position"`
	IsCandidate  bool           `json:"is_candidate"`
	Err          string         `json:"error,omitempty"`
}

// AIDecisionResult is the model stage's output. On transport or parse
// failure Decisions is empty and Error carries the cause; Raw keeps the
// unparsed response for the log.
type AIDecisionResult struct {
	Decisions []risk.Decision `json:"decisions"`
	Error     string          `json:"error,omitempty"`
	Raw       string          `json:"raw,omitempty"`
}

// Alert flags a market condition worth surfacing to the model.
type Alert struct {
	Symbol   string `json:"symbol"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ExecutionResult is the executor's per-decision outcome.
type ExecutionResult struct {
	Symbol  string `json:"symbol"`
	Action  string `json:"action"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// State is the working record of one scan. Constructed fresh per pass and
// never reused; stages fill their sections in pipeline order.
type State struct {
	ScanID    string    `json:"scan_id"`
	TraderID  string    `json:"trader_id"`
	StartedAt time.Time `json:"started_at"`

	CandidateSymbols []string                      `json:"candidate_symbols"`
	CoinSources      map[string][]string           `json:"coin_sources"`
	OITopData        map[string]signalfeed.OIEntry `json:"oi_top_data,omitempty"`

	Account   exchange.AccountState `json:"account"`
	Positions []exchange.Position   `json:"positions"`

	// AllSymbols is the ordered union of position and candidate symbols;
	// later stages iterate it instead of ranging over the maps so a scan's
	// logs and prompt are deterministic.
	AllSymbols []string                           `json:"all_symbols"`
	MarketData map[string]*MarketData             `json:"market_data_map"`
	SignalData map[string]*feature.MarketFeatures `json:"signal_data_map"`

	Performance *database.PerformanceSummary `json:"performance,omitempty"`
	Alerts      []Alert                      `json:"alerts,omitempty"`

	AIDecision       *AIDecisionResult      `json:"ai_decision,omitempty"`
	RiskApproved     bool                   `json:"risk_approved"`
	ValidationErrors []risk.ValidationError `json:"validation_errors,omitempty"`
	ExecutionResults []ExecutionResult      `json:"execution_results,omitempty"`

	RuntimeMinutes int `json:"runtime_minutes"`
	CallCount      int `json:"call_count"`

	seen map[string]struct{}
}

// NewState builds the empty state for one scan. RuntimeMinutes and
// CallCount describe the owning trader's history and end up in the prompt.
func NewState(traderID string, runtimeMinutes, callCount int) *State {
	return &State{
		ScanID:         uuid.New().String(),
		TraderID:       traderID,
		StartedAt:      time.Now(),
		CoinSources:    make(map[string][]string),
		OITopData:      make(map[string]signalfeed.OIEntry),
		MarketData:     make(map[string]*MarketData),
		SignalData:     make(map[string]*feature.MarketFeatures),
		RuntimeMinutes: runtimeMinutes,
		CallCount:      callCount,
		seen:           make(map[string]struct{}),
	}
}

// AddCandidate appends a symbol preserving first-seen order and records the
// source tag once. An empty tag adds the symbol without a source, which is
// how config-fallback coins are recorded.
func (s *State) AddCandidate(symbol, tag string) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, dup := s.seen[symbol]; !dup {
		s.seen[symbol] = struct{}{}
		s.CandidateSymbols = append(s.CandidateSymbols, symbol)
	}
	if tag == "" {
		return
	}
	for _, existing := range s.CoinSources[symbol] {
		if existing == tag {
			return
		}
	}
	s.CoinSources[symbol] = append(s.CoinSources[symbol], tag)
}

// CurrentPrices extracts the per-symbol prices risk validation needs.
// Symbols without a usable price are absent from the map.
func (s *State) CurrentPrices() map[string]float64 {
	prices := make(map[string]float64, len(s.MarketData))
	for symbol, md := range s.MarketData {
		if md != nil && md.CurrentPrice != nil && *md.CurrentPrice > 0 {
			prices[symbol] = *md.CurrentPrice
		}
	}
	return prices
}

// stateSnapshot is the trimmed subset of State persisted with each decision
// log. Kline arrays and feature blocks stay out; only the map keys are kept.
type stateSnapshot struct {
	ScanID            string                 `json:"scan_id"`
	CandidateSymbols  []string               `json:"candidate_symbols"`
	Positions         []exchange.Position    `json:"positions"`
	AccountBalance    float64                `json:"account_balance"`
	MarketDataSymbols []string               `json:"market_data_symbols"`
	SignalDataSymbols []string               `json:"signal_data_symbols"`
	CallCount         int                    `json:"call_count"`
	RuntimeMinutes    int                    `json:"runtime_minutes"`
	RiskApproved      bool                   `json:"risk_approved"`
	ValidationErrors  []risk.ValidationError `json:"validation_errors,omitempty"`
}

// Snapshot serializes the trimmed state for decision-log storage.
func (s *State) Snapshot() []byte {
	snap := stateSnapshot{
		ScanID:            s.ScanID,
		CandidateSymbols:  s.CandidateSymbols,
		Positions:         s.Positions,
		AccountBalance:    s.Account.TotalEquity.InexactFloat64(),
		MarketDataSymbols: sortedKeys(s.MarketData),
		SignalDataSymbols: sortedKeys(s.SignalData),
		CallCount:         s.CallCount,
		RuntimeMinutes:    s.RuntimeMinutes,
		RiskApproved:      s.RiskApproved,
		ValidationErrors:  s.ValidationErrors,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil
	}
	return data
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
