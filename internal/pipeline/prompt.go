package pipeline

import (
	"fmt"
	"math"
	"strings"
	"time"

	"ai-futures-trader/internal/market"
)

// How much trailing history the prompt shows per symbol. The full arrays
// stay in state; the model only needs the recent tail.
const (
	promptSeriesTail     = 10
	promptKlineTailShort = 10
	promptKlineTailLong  = 6
)

// buildUserPrompt renders the scan state into the decision request. The
// output is deterministic for a given state: every section iterates slices,
// never maps.
func buildUserPrompt(state *State, cfg Config) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Trading Decision Request\n\n")
	fmt.Fprintf(&b, "Scan #%d, runtime %d minutes.\n\n", state.CallCount, state.RuntimeMinutes)

	writeAccountSection(&b, state)
	writePerformanceSection(&b, state)
	writePositionsSection(&b, state)
	writeCandidatesSection(&b, state)
	writeOITopSection(&b, state)
	writeAlertsSection(&b, state)
	writeMarketSection(&b, state)
	writeConstraintsSection(&b, cfg)
	writeFormatSection(&b)

	return b.String()
}

func writeAccountSection(b *strings.Builder, state *State) {
	fmt.Fprintf(b, "## Account\n")
	fmt.Fprintf(b, "- Total equity: %s USDT\n", state.Account.TotalEquity.StringFixed(2))
	fmt.Fprintf(b, "- Available balance: %s USDT\n", state.Account.AvailableBalance.StringFixed(2))
	fmt.Fprintf(b, "- Margin used: %s%%\n", state.Account.MarginUsedPct.StringFixed(2))
	fmt.Fprintf(b, "- Open positions: %d\n\n", len(state.Positions))
}

func writePerformanceSection(b *strings.Builder, state *State) {
	fmt.Fprintf(b, "## Recent performance\n")
	if state.Performance == nil {
		fmt.Fprintf(b, "No performance history yet.\n\n")
		return
	}
	p := state.Performance
	if p.SharpeRatio != nil {
		fmt.Fprintf(b, "- Sharpe ratio: %.2f\n", *p.SharpeRatio)
	} else {
		fmt.Fprintf(b, "- Sharpe ratio: n/a\n")
	}
	fmt.Fprintf(b, "- Win rate: %.1f%% over %d trades\n", p.WinRate, p.TotalTrades)
	fmt.Fprintf(b, "- Total PnL: %.2f USDT, average return %.2f\n\n", p.TotalPnL, p.AvgReturn)
}

func writePositionsSection(b *strings.Builder, state *State) {
	fmt.Fprintf(b, "## Positions\n")
	if len(state.Positions) == 0 {
		fmt.Fprintf(b, "None.\n\n")
		return
	}
	for _, pos := range state.Positions {
		pnlPct := 0.0
		if notional := pos.EntryPrice * pos.Size; notional > 0 {
			pnlPct = pos.UnrealizedPnL / notional * 100
		}
		fmt.Fprintf(b, "- %s %s %.4f @ %.4f, mark %.4f, %dx %s, uPnL %+.2f (%+.2f%%)\n",
			pos.Symbol, pos.Side, pos.Size, pos.EntryPrice, pos.MarkPrice,
			pos.Leverage, pos.MarginType, pos.UnrealizedPnL, pnlPct)
	}
	fmt.Fprintf(b, "\n")
}

func writeCandidatesSection(b *strings.Builder, state *State) {
	fmt.Fprintf(b, "## Candidates\n")
	if len(state.CandidateSymbols) == 0 {
		fmt.Fprintf(b, "None.\n\n")
		return
	}
	for _, symbol := range state.CandidateSymbols {
		if sources := state.CoinSources[symbol]; len(sources) > 0 {
			fmt.Fprintf(b, "- %s (%s)\n", symbol, strings.Join(sources, ", "))
		} else {
			fmt.Fprintf(b, "- %s\n", symbol)
		}
	}
	fmt.Fprintf(b, "\n")
}

func writeOITopSection(b *strings.Builder, state *State) {
	if len(state.OITopData) == 0 {
		return
	}
	fmt.Fprintf(b, "## Open interest leaders\n")
	for _, symbol := range state.CandidateSymbols {
		entry, ok := state.OITopData[symbol]
		if !ok {
			continue
		}
		fmt.Fprintf(b, "- %s: OI change %+.2f (%+.2f%%)", symbol, entry.OIChange, entry.OIChangePercent)
		if entry.TimeRange != "" {
			fmt.Fprintf(b, " over %s", entry.TimeRange)
		}
		fmt.Fprintf(b, "\n")
	}
	fmt.Fprintf(b, "\n")
}

func writeAlertsSection(b *strings.Builder, state *State) {
	if len(state.Alerts) == 0 {
		return
	}
	fmt.Fprintf(b, "## Alerts\n")
	for _, alert := range state.Alerts {
		fmt.Fprintf(b, "- [%s] %s\n", alert.Severity, alert.Message)
	}
	fmt.Fprintf(b, "\n")
}

func writeMarketSection(b *strings.Builder, state *State) {
	fmt.Fprintf(b, "## Market detail\n")
	wrote := false
	for _, symbol := range state.AllSymbols {
		feat := state.SignalData[symbol]
		if feat == nil {
			continue
		}
		wrote = true
		md := state.MarketData[symbol]

		fmt.Fprintf(b, "### %s\n", symbol)
		fmt.Fprintf(b, "- Price: %.4f (1h %+.2f%%, 4h %+.2f%%)\n",
			feat.CurrentPrice, feat.PriceChange1h, feat.PriceChange4h)
		fmt.Fprintf(b, "- 3m: EMA20 %.4f, MACD %.4f, RSI7 %.2f, RSI14 %.2f\n",
			feat.EMA20Short, feat.MACDShort, feat.RSI7Short, feat.RSI14Short)
		fmt.Fprintf(b, "- 4h: EMA20 %.4f, EMA50 %.4f, MACD %.4f, RSI7 %.2f, RSI14 %.2f, ATR14 %.4f\n",
			feat.EMA20Long, feat.EMA50Long, feat.MACDLong, feat.RSI7Long, feat.RSI14Long, feat.ATRLong)
		fmt.Fprintf(b, "- 4h volume: %.2f current vs %.2f average\n",
			feat.CurrentVolumeLong, feat.AverageVolumeLong)
		fmt.Fprintf(b, "- Open interest: %s (avg %s), funding rate %s\n",
			fmtNullable(feat.OpenInterest, "%.2f"),
			fmtNullable(feat.OpenInterestAverage, "%.2f"),
			fmtNullable(feat.FundingRate, "%.6f"))

		fmt.Fprintf(b, "- 3m closes: %s\n", seriesTail(feat.IntradaySeries.MidPrices, promptSeriesTail))
		fmt.Fprintf(b, "- 3m EMA20: %s\n", seriesTail(feat.IntradaySeries.EMA20Values, promptSeriesTail))
		fmt.Fprintf(b, "- 3m MACD: %s\n", seriesTail(feat.IntradaySeries.MACDValues, promptSeriesTail))
		fmt.Fprintf(b, "- 3m RSI7: %s\n", seriesTail(feat.IntradaySeries.RSI7Values, promptSeriesTail))
		fmt.Fprintf(b, "- 4h closes: %s\n", seriesTail(feat.LongerTermSeries.MidPrices, promptSeriesTail))
		fmt.Fprintf(b, "- 4h EMA20: %s\n", seriesTail(feat.LongerTermSeries.EMA20Values, promptSeriesTail))
		fmt.Fprintf(b, "- 4h MACD: %s\n", seriesTail(feat.LongerTermSeries.MACDValues, promptSeriesTail))

		if md != nil {
			writeKlineTail(b, "3m klines", md.KlinesShort, promptKlineTailShort)
			writeKlineTail(b, "4h klines", md.KlinesLong, promptKlineTailLong)
		}
		fmt.Fprintf(b, "\n")
	}
	if !wrote {
		fmt.Fprintf(b, "No symbols passed analysis this scan.\n\n")
	}
}

func writeKlineTail(b *strings.Builder, label string, klines []market.Kline, n int) {
	if len(klines) == 0 {
		return
	}
	tail := klines
	if len(tail) > n {
		tail = tail[len(tail)-n:]
	}
	fmt.Fprintf(b, "- %s (last %d of %d):\n", label, len(tail), len(klines))
	for _, k := range tail {
		ts := time.UnixMilli(k.OpenTime).UTC().Format("01-02 15:04")
		fmt.Fprintf(b, "  %s O %.4f H %.4f L %.4f C %.4f V %.2f\n",
			ts, k.Open, k.High, k.Low, k.Close, k.Volume)
	}
}

func writeConstraintsSection(b *strings.Builder, cfg Config) {
	marginMode := "isolated"
	if cfg.IsCrossMargin {
		marginMode = "cross"
	}
	fmt.Fprintf(b, "## Constraints\n")
	fmt.Fprintf(b, "- Maximum leverage: %dx for BTC/ETH, %dx for altcoins\n", cfg.BTCETHLeverage, cfg.AltcoinLeverage)
	fmt.Fprintf(b, "- Maximum position value: 10x equity for BTC/ETH, 1.5x for altcoins\n")
	fmt.Fprintf(b, "- Every open needs stop_loss and take_profit with reward/risk of at least 3:1\n")
	fmt.Fprintf(b, "- Margin mode: %s\n\n", marginMode)
}

func writeFormatSection(b *strings.Builder) {
	fmt.Fprintf(b, "## Response format\n")
	fmt.Fprintf(b, "Respond with a JSON array only. No prose, no code fences. One element per symbol you have a view on:\n")
	fmt.Fprintf(b, `[{"symbol": "BTC/USDT", "action": "open_long", "leverage": 5, "position_size_usd": 200, "stop_loss": 95.0, "take_profit": 115.0, "risk_usd": 10.0, "confidence": 85, "reasoning": "..."}]`)
	fmt.Fprintf(b, "\nValid actions: open_long, open_short, close_long, close_short, hold, wait.\n")
	fmt.Fprintf(b, "Omit leverage, position_size_usd, stop_loss and take_profit for close, hold and wait actions.\n")
}

// fmtNullable renders an optional float, "n/a" when absent.
func fmtNullable(v *float64, format string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf(format, *v)
}

// seriesTail renders the last n values of an indicator series. Warm-up NaN
// entries render as n/a.
func seriesTail(values []float64, n int) string {
	if len(values) == 0 {
		return "[]"
	}
	tail := values
	if len(tail) > n {
		tail = tail[len(tail)-n:]
	}
	parts := make([]string, len(tail))
	for i, v := range tail {
		if math.IsNaN(v) {
			parts[i] = "n/a"
		} else {
			parts[i] = fmt.Sprintf("%.4f", v)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
