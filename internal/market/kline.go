package market

// Kline is a single closed candlestick for one (symbol, interval) pair.
// Times are Unix milliseconds, matching the venue wire format.
type Kline struct {
	OpenTime    int64   `json:"open_time"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	CloseTime   int64   `json:"close_time"`
	QuoteVolume float64 `json:"quote_volume"`
	TradeCount  int     `json:"trade_count"`
}

// The trading loop runs on exactly two timeframes: a short one for entries
// and a long one for trend context.
const (
	IntervalShort = "3m"
	IntervalLong  = "4h"
)

// Intervals returns the default timeframe pair used by the trading loop.
func Intervals() []string {
	return []string{IntervalShort, IntervalLong}
}

// ringCapacity bounds the history kept per (symbol, interval).
const ringCapacity = 1000

// klineRing stores the most recent closed klines in open-time order.
// A new close for the same open_time replaces the last entry in place;
// anything older than the last entry is dropped as stale.
type klineRing struct {
	data []Kline
}

func newKlineRing() *klineRing {
	return &klineRing{data: make([]Kline, 0, ringCapacity)}
}

func (r *klineRing) upsert(k Kline) {
	n := len(r.data)
	if n > 0 {
		last := r.data[n-1]
		switch {
		case k.OpenTime == last.OpenTime:
			r.data[n-1] = k
			return
		case k.OpenTime < last.OpenTime:
			return
		}
	}
	r.data = append(r.data, k)
	if len(r.data) > ringCapacity {
		copy(r.data, r.data[1:])
		r.data = r.data[:ringCapacity]
	}
}

// seed replaces the ring contents with REST history, oldest first.
func (r *klineRing) seed(klines []Kline) {
	r.data = r.data[:0]
	for _, k := range klines {
		r.upsert(k)
	}
}

// snapshot returns a copy of up to limit most recent klines.
// limit <= 0 means everything.
func (r *klineRing) snapshot(limit int) []Kline {
	data := r.data
	if limit > 0 && len(data) > limit {
		data = data[len(data)-limit:]
	}
	out := make([]Kline, len(data))
	copy(out, data)
	return out
}

func (r *klineRing) size() int { return len(r.data) }
