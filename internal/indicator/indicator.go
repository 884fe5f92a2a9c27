// Package indicator provides pure, deterministic technical indicator math
// over kline history. Every function returns 0.0 (scalar) or nil (series)
// when the input is shorter than the indicator's minimum, and never errors.
package indicator

import (
	"math"

	"ai-futures-trader/internal/market"
)

const (
	macdFastPeriod = 12
	macdSlowPeriod = 26
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA calculates the Simple Moving Average of the last period closes.
func SMA(klines []market.Kline, period int) float64 {
	if period <= 0 || len(klines) < period {
		return 0
	}

	sum := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		sum += klines[i].Close
	}
	return sum / float64(period)
}

// EMA calculates the Exponential Moving Average, seeded with the SMA of the
// first period closes. Needs at least period klines.
func EMA(klines []market.Kline, period int) float64 {
	if period <= 0 || len(klines) < period {
		return 0
	}

	ema := SMA(klines[:period], period)
	multiplier := 2.0 / float64(period+1)

	for i := period; i < len(klines); i++ {
		ema = klines[i].Close*multiplier + ema*(1-multiplier)
	}
	return ema
}

// ============================================================================
// MACD
// ============================================================================

// MACD calculates the MACD line (EMA12 - EMA26). Needs at least 26 klines.
func MACD(klines []market.Kline) float64 {
	if len(klines) < macdSlowPeriod {
		return 0
	}
	return EMA(klines, macdFastPeriod) - EMA(klines, macdSlowPeriod)
}

// ============================================================================
// RSI
// ============================================================================

// RSI calculates the Relative Strength Index with Wilder smoothing. Needs at
// least period+1 klines (one extra for the first price change).
func RSI(klines []market.Kline, period int) float64 {
	if period <= 0 || len(klines) < period+1 {
		return 0
	}

	avgGain := 0.0
	avgLoss := 0.0
	for i := 1; i <= period; i++ {
		change := klines[i].Close - klines[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ============================================================================
// ATR
// ============================================================================

// ATR calculates the Average True Range with Wilder smoothing. Needs at
// least period+1 klines (one extra for the previous close).
func ATR(klines []market.Kline, period int) float64 {
	if period <= 0 || len(klines) < period+1 {
		return 0
	}

	trs := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		trs = append(trs, trueRange(klines[i], klines[i-1].Close))
	}

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trs[i]
	}
	atr /= float64(period)

	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}
	return atr
}

func trueRange(k market.Kline, prevClose float64) float64 {
	return math.Max(
		k.High-k.Low,
		math.Max(
			math.Abs(k.High-prevClose),
			math.Abs(k.Low-prevClose),
		),
	)
}

// ============================================================================
// VOLUME
// ============================================================================

// VolumeStats returns the latest volume and the mean volume over all the
// given klines.
func VolumeStats(klines []market.Kline) (current, average float64) {
	if len(klines) == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, k := range klines {
		sum += k.Volume
	}
	return klines[len(klines)-1].Volume, sum / float64(len(klines))
}

// ============================================================================
// SERIES VARIANTS
// ============================================================================

// Series variants return one value per input kline, padding the warm-up
// prefix with NaN. Consumers must treat NaN as absent. Input below the
// indicator's minimum yields nil.

// Closes extracts the close price series.
func Closes(klines []market.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

// EMASeries returns the EMA at every kline.
func EMASeries(klines []market.Kline, period int) []float64 {
	if period <= 0 || len(klines) < period {
		return nil
	}

	out := nanSeries(len(klines))

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += klines[i].Close
	}
	ema := sum / float64(period)
	out[period-1] = ema

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(klines); i++ {
		ema = klines[i].Close*multiplier + ema*(1-multiplier)
		out[i] = ema
	}
	return out
}

// MACDSeries returns the MACD line at every kline.
func MACDSeries(klines []market.Kline) []float64 {
	if len(klines) < macdSlowPeriod {
		return nil
	}

	fast := EMASeries(klines, macdFastPeriod)
	slow := EMASeries(klines, macdSlowPeriod)

	out := nanSeries(len(klines))
	for i := range out {
		if !math.IsNaN(fast[i]) && !math.IsNaN(slow[i]) {
			out[i] = fast[i] - slow[i]
		}
	}
	return out
}

// RSISeries returns the Wilder RSI at every kline.
func RSISeries(klines []market.Kline, period int) []float64 {
	if period <= 0 || len(klines) < period+1 {
		return nil
	}

	out := nanSeries(len(klines))

	avgGain := 0.0
	avgLoss := 0.0
	for i := 1; i <= period; i++ {
		change := klines[i].Close - klines[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
