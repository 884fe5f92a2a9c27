package screener

import "ai-futures-trader/internal/feature"

// ScoredSymbol pairs a symbol with its screen score.
type ScoredSymbol struct {
	Symbol string `json:"symbol"`
	Score  int    `json:"score"`
}

// Score rates a symbol's trend alignment on a 0-100 scale. The score starts
// neutral at 50 and moves on fixed deltas, long-timeframe signals weighing
// more than short ones, so identical features always produce the identical
// score.
func Score(f *feature.MarketFeatures) int {
	score := 50

	if f.CurrentPrice > f.EMA20Short {
		score += 10
	} else {
		score -= 10
	}

	if f.CurrentPrice > f.EMA20Long {
		score += 15
	} else {
		score -= 15
	}

	if f.MACDShort > 0 {
		score += 10
	} else {
		score -= 10
	}

	if f.MACDLong > 0 {
		score += 15
	} else {
		score -= 15
	}

	// Reward symbols that are not parked in overbought or oversold.
	if f.RSI14Short > 30 && f.RSI14Short < 70 {
		score += 5
	}
	if f.RSI14Long > 30 && f.RSI14Long < 70 {
		score += 5
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
