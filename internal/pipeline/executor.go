package pipeline

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ai-futures-trader/internal/database"
	"ai-futures-trader/internal/events"
	"ai-futures-trader/internal/risk"
)

// ExecutorStage turns approved decisions into execution results and pending
// trade records. Order placement against the venue is not wired yet, so
// every result carries status "pending"; the trade record is what the
// performance read and the fill reconciliation build on later.
type ExecutorStage struct {
	formatter QuantityFormatter
	store     Store
	bus       *events.EventBus
	traderID  string
	logger    zerolog.Logger
}

func NewExecutorStage(formatter QuantityFormatter, store Store, bus *events.EventBus, traderID string, logger zerolog.Logger) *ExecutorStage {
	return &ExecutorStage{
		formatter: formatter,
		store:     store,
		bus:       bus,
		traderID:  traderID,
		logger:    logger,
	}
}

func (e *ExecutorStage) Name() string { return "executor" }

func (e *ExecutorStage) Run(ctx context.Context, state *State) error {
	if !state.RiskApproved || state.AIDecision == nil || len(state.AIDecision.Decisions) == 0 {
		e.logger.Info().Msg("nothing to execute")
		return nil
	}

	decisions := state.AIDecision.Decisions
	results := make([]ExecutionResult, 0, len(decisions))

	for i, d := range decisions {
		e.logger.Info().
			Int("n", i+1).
			Int("of", len(decisions)).
			Str("symbol", d.Symbol).
			Str("action", d.Action).
			Msg("executing decision")

		result := ExecutionResult{
			Symbol: d.Symbol,
			Action: d.Action,
			Status: ExecStatusPending,
		}
		if d.IsOpen() || d.IsClose() {
			result.Message = "order recorded, venue placement pending"
			e.recordTrade(ctx, state, d)
		} else {
			result.Message = "no order required"
		}
		results = append(results, result)
	}

	state.ExecutionResults = results
	e.logger.Info().Int("results", len(results)).Msg("execution stage complete")
	return nil
}

// recordTrade writes the pending trade record for an open or close
// decision. Best effort: a missing price or a store failure drops the
// record with a warning, not the scan.
func (e *ExecutorStage) recordTrade(ctx context.Context, state *State, d risk.Decision) {
	prices := state.CurrentPrices()
	price, ok := prices[d.Symbol]
	if !ok || price <= 0 {
		e.logger.Warn().Str("symbol", d.Symbol).Msg("no price for trade record")
		return
	}

	var quantity float64
	if d.IsOpen() {
		quantity = d.PositionSizeUSD / price
	} else {
		for _, pos := range state.Positions {
			if pos.Symbol == d.Symbol {
				quantity = pos.Size
				break
			}
		}
	}
	if e.formatter != nil {
		quantity = e.formatter.FormatQuantity(d.Symbol, quantity)
	}
	if quantity <= 0 {
		e.logger.Warn().Str("symbol", d.Symbol).Msg("zero quantity, skipping trade record")
		return
	}

	rec := &database.TradeRecord{
		TraderID: e.traderID,
		Symbol:   d.Symbol,
		Side:     tradeSide(d.Action),
		Amount:   decimal.NewFromFloat(quantity),
		Price:    decimal.NewFromFloat(price),
		Leverage: int(d.Leverage),
		Status:   database.TradeStatusPending,
	}
	if e.store != nil {
		if err := e.store.InsertTradeRecord(ctx, rec); err != nil {
			e.logger.Warn().Err(err).Str("symbol", d.Symbol).Msg("trade record write failed")
			return
		}
	}
	if e.bus != nil {
		e.bus.PublishOrderRecorded(e.traderID, d.Symbol, rec.Side, quantity, price)
	}
}

// tradeSide maps a decision action to the recorded order side: longs buy
// to open and sell to close, shorts the other way around.
func tradeSide(action string) string {
	switch action {
	case risk.ActionOpenLong, risk.ActionCloseShort:
		return database.TradeSideBuy
	default:
		return database.TradeSideSell
	}
}
