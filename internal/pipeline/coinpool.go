package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/exchange"
)

const (
	// How long a scan waits for the symbol screen's first publication when
	// it is enabled, running, but still empty.
	screenWaitTimeout  = 120 * time.Second
	screenWaitPoll     = 2 * time.Second
	screenWaitLogEvery = 10 * time.Second
)

// CoinPoolStage builds the candidate symbol list by unioning the enabled
// sources in a fixed order, tagging each symbol with where it came from.
// Feed failures degrade to an empty contribution, never to a scan error.
type CoinPoolStage struct {
	cfg    Config
	feed   CandidateFeed
	screen SymbolScreen
	logger zerolog.Logger
}

func NewCoinPoolStage(cfg Config, feed CandidateFeed, screen SymbolScreen, logger zerolog.Logger) *CoinPoolStage {
	return &CoinPoolStage{cfg: cfg, feed: feed, screen: screen, logger: logger}
}

func (c *CoinPoolStage) Name() string { return "coin_pool" }

func (c *CoinPoolStage) Run(ctx context.Context, state *State) error {
	if c.cfg.UseCoinPool && c.cfg.CoinPoolURL != "" && c.feed != nil {
		symbols, err := c.feed.FetchCoinPool(ctx, c.cfg.CoinPoolURL)
		if err != nil {
			c.logger.Warn().Err(err).Msg("coin pool feed failed")
		} else {
			for _, raw := range symbols {
				state.AddCandidate(exchange.Normalize(raw), SourceAI500)
			}
			c.logger.Info().Int("count", len(symbols)).Msg("coin pool candidates fetched")
		}
	}

	if c.cfg.UseOITop && c.cfg.OITopURL != "" && c.feed != nil {
		entries, err := c.feed.FetchOITop(ctx, c.cfg.OITopURL)
		if err != nil {
			c.logger.Warn().Err(err).Msg("oi top feed failed")
		} else {
			for _, entry := range entries {
				symbol := exchange.Normalize(entry.Symbol)
				if symbol == "" {
					continue
				}
				state.AddCandidate(symbol, SourceOITop)
				state.OITopData[symbol] = entry
			}
			c.logger.Info().Int("count", len(entries)).Msg("oi top candidates fetched")
		}
	}

	if c.cfg.UseInsideCoins && c.screen != nil {
		for _, raw := range c.screenSymbols(ctx) {
			state.AddCandidate(exchange.Normalize(raw), SourceInsideAI)
		}
	}

	if len(state.CandidateSymbols) == 0 {
		fallback := c.cfg.TradingCoins
		if len(fallback) == 0 {
			def := c.cfg.DefaultCoin
			if def == "" {
				def = "BTC/USDT"
			}
			fallback = []string{def}
		}
		for _, raw := range fallback {
			state.AddCandidate(exchange.Normalize(raw), "")
		}
		c.logger.Info().Strs("symbols", state.CandidateSymbols).Msg("using configured fallback coins")
	}

	c.logger.Info().
		Str("scan_id", state.ScanID).
		Int("candidates", len(state.CandidateSymbols)).
		Msg("candidate selection complete")
	return nil
}

// screenSymbols reads the screener's Top-N, waiting for its first
// publication when the loop is running but has not produced one yet. On
// timeout the scan falls through to the remaining sources.
func (c *CoinPoolStage) screenSymbols(ctx context.Context) []string {
	symbols := c.screen.FilteredSymbols()
	if len(symbols) > 0 || !c.screen.IsRunning() {
		return symbols
	}

	c.logger.Info().Msg("waiting for first symbol screen publication")
	deadline := time.Now().Add(screenWaitTimeout)
	lastLog := time.Now()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(screenWaitPoll):
		}

		symbols = c.screen.FilteredSymbols()
		if len(symbols) > 0 {
			c.logger.Info().Int("count", len(symbols)).Msg("symbol screen published")
			return symbols
		}
		if time.Since(lastLog) >= screenWaitLogEvery {
			c.logger.Info().
				Dur("remaining", time.Until(deadline).Round(time.Second)).
				Msg("still waiting for symbol screen")
			lastLog = time.Now()
		}
	}

	c.logger.Warn().Msg("symbol screen produced nothing within the wait window")
	return nil
}
