package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/market"
)

const (
	// collectKlineLimit bounds the history handed to the feature engine and
	// the prompt per timeframe.
	collectKlineLimit = 200

	// addSymbolBudget is the total time spent subscribing new symbols per
	// scan. Symbols that miss the window fall back to REST.
	addSymbolBudget = 5 * time.Second
)

// DataCollectorStage reads the account snapshot and gathers kline history
// for every position and candidate symbol. Adapter failures degrade to zero
// values; per-symbol collection failures are recorded on the symbol and
// never abort the stage.
type DataCollectorStage struct {
	feed    MarketSource
	account AccountSource
	logger  zerolog.Logger
}

func NewDataCollectorStage(feed MarketSource, account AccountSource, logger zerolog.Logger) *DataCollectorStage {
	return &DataCollectorStage{feed: feed, account: account, logger: logger}
}

func (d *DataCollectorStage) Name() string { return "data_collector" }

func (d *DataCollectorStage) Run(ctx context.Context, state *State) error {
	if d.account != nil {
		acct, err := d.account.GetAccountState(ctx)
		if err != nil {
			d.logger.Warn().Err(err).Msg("account state unavailable")
		} else {
			state.Account = acct
		}

		positions, err := d.account.GetPositions(ctx)
		if err != nil {
			d.logger.Warn().Err(err).Msg("positions unavailable")
		} else {
			state.Positions = positions
		}
	}

	positionSet := make(map[string]bool, len(state.Positions))
	candidateSet := make(map[string]bool, len(state.CandidateSymbols))
	var allSymbols []string
	for _, pos := range state.Positions {
		if pos.Symbol == "" || positionSet[pos.Symbol] {
			continue
		}
		positionSet[pos.Symbol] = true
		allSymbols = append(allSymbols, pos.Symbol)
	}
	for _, symbol := range state.CandidateSymbols {
		candidateSet[symbol] = true
		if !positionSet[symbol] {
			allSymbols = append(allSymbols, symbol)
		}
	}

	if len(allSymbols) == 0 {
		d.logger.Warn().Msg("no symbols to collect")
		return nil
	}
	state.AllSymbols = allSymbols

	d.logger.Info().
		Int("positions", len(positionSet)).
		Int("candidates", len(state.CandidateSymbols)).
		Int("total", len(allSymbols)).
		Msg("collecting market data")

	d.ensureMonitored(ctx, allSymbols)

	for _, symbol := range allSymbols {
		md := d.collect(ctx, symbol)
		md.IsPosition = positionSet[symbol]
		md.IsCandidate = candidateSet[symbol]
		state.MarketData[symbol] = md
	}

	d.logger.Info().Int("collected", len(state.MarketData)).Msg("market data collection complete")
	return nil
}

// ensureMonitored subscribes any not-yet-monitored symbols within one
// shared time budget. A symbol that misses the budget stays unmonitored and
// is collected over REST instead.
func (d *DataCollectorStage) ensureMonitored(ctx context.Context, symbols []string) {
	var pending []string
	for _, symbol := range symbols {
		if !d.feed.IsMonitoring(symbol) {
			pending = append(pending, symbol)
		}
	}
	if len(pending) == 0 {
		return
	}

	addCtx, cancel := context.WithTimeout(ctx, addSymbolBudget)
	defer cancel()

	for _, symbol := range pending {
		if err := d.feed.AddSymbol(addCtx, symbol, market.Intervals()); err != nil {
			d.logger.Warn().Err(err).Str("symbol", symbol).Msg("subscription failed, using REST")
		}
	}
}

func (d *DataCollectorStage) collect(ctx context.Context, symbol string) *MarketData {
	if d.feed.IsMonitoring(symbol) {
		md := &MarketData{
			Symbol:      symbol,
			KlinesShort: d.feed.GetKlines(symbol, market.IntervalShort, collectKlineLimit),
			KlinesLong:  d.feed.GetKlines(symbol, market.IntervalLong, collectKlineLimit),
			Source:      DataSourceStream,
		}
		if price, ok := d.feed.GetLatestPrice(symbol); ok && price > 0 {
			md.CurrentPrice = &price
		} else if p := lastClose(md.KlinesShort); p > 0 {
			// No ticker yet; the freshest close is close enough.
			md.CurrentPrice = &p
		}
		return md
	}

	short, err := d.feed.FetchKlines(ctx, symbol, market.IntervalShort, collectKlineLimit)
	if err != nil {
		return &MarketData{Symbol: symbol, Err: err.Error()}
	}
	long, err := d.feed.FetchKlines(ctx, symbol, market.IntervalLong, collectKlineLimit)
	if err != nil {
		return &MarketData{Symbol: symbol, Err: err.Error()}
	}

	md := &MarketData{
		Symbol:      symbol,
		KlinesShort: short,
		KlinesLong:  long,
		Source:      DataSourceREST,
	}
	if p := lastClose(short); p > 0 {
		md.CurrentPrice = &p
	}
	return md
}

func lastClose(klines []market.Kline) float64 {
	if len(klines) == 0 {
		return 0
	}
	return klines[len(klines)-1].Close
}
