package indicator

import (
	"math"
	"testing"

	"ai-futures-trader/internal/market"
)

// floatEquals compares two floats with tolerance
func floatEquals(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

func klinesFromCloses(closes ...float64) []market.Kline {
	klines := make([]market.Kline, len(closes))
	for i, c := range closes {
		klines[i] = market.Kline{
			OpenTime: int64(i) * 180_000,
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
			Volume:   100,
		}
	}
	return klines
}

// ============================================================================
// TEST: EMA
// ============================================================================

func TestEMA(t *testing.T) {
	testCases := []struct {
		name   string
		closes []float64
		period int
		want   float64
	}{
		{name: "below minimum returns zero", closes: []float64{1, 2}, period: 3, want: 0},
		{name: "exact minimum is the SMA seed", closes: []float64{1, 2, 3}, period: 3, want: 2},
		{name: "recursive smoothing", closes: []float64{1, 2, 3, 4, 5}, period: 3, want: 4},
		{name: "flat series converges to the level", closes: []float64{7, 7, 7, 7, 7, 7}, period: 4, want: 7},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := EMA(klinesFromCloses(tc.closes...), tc.period)
			if !floatEquals(got, tc.want, 1e-9) {
				t.Errorf("Expected EMA %.4f, got %.4f", tc.want, got)
			}
		})
	}
}

// ============================================================================
// TEST: MACD
// ============================================================================

func TestMACD(t *testing.T) {
	t.Run("below minimum returns zero", func(t *testing.T) {
		closes := make([]float64, 25)
		for i := range closes {
			closes[i] = float64(i + 1)
		}
		if got := MACD(klinesFromCloses(closes...)); got != 0 {
			t.Errorf("Expected 0 for 25 klines, got %.4f", got)
		}
	})

	t.Run("flat series has zero divergence", func(t *testing.T) {
		closes := make([]float64, 30)
		for i := range closes {
			closes[i] = 100
		}
		if got := MACD(klinesFromCloses(closes...)); !floatEquals(got, 0, 1e-9) {
			t.Errorf("Expected MACD 0 on flat closes, got %.6f", got)
		}
	})

	t.Run("uptrend is positive", func(t *testing.T) {
		closes := make([]float64, 40)
		for i := range closes {
			closes[i] = 100 + float64(i)
		}
		if got := MACD(klinesFromCloses(closes...)); got <= 0 {
			t.Errorf("Expected positive MACD in an uptrend, got %.4f", got)
		}
	})
}

// ============================================================================
// TEST: RSI
// ============================================================================

func TestRSI(t *testing.T) {
	t.Run("length equal to period returns zero", func(t *testing.T) {
		klines := klinesFromCloses(1, 2, 3, 4, 5, 6, 7)
		if got := RSI(klines, 7); got != 0 {
			t.Errorf("Expected 0 for %d klines with period 7, got %.4f", len(klines), got)
		}
	})

	t.Run("all gains saturate at 100", func(t *testing.T) {
		klines := klinesFromCloses(1, 2, 3, 4, 5, 6, 7, 8)
		if got := RSI(klines, 7); !floatEquals(got, 100, 1e-9) {
			t.Errorf("Expected RSI 100, got %.4f", got)
		}
	})

	t.Run("all losses saturate at 0", func(t *testing.T) {
		klines := klinesFromCloses(8, 7, 6, 5, 4, 3, 2, 1)
		if got := RSI(klines, 7); !floatEquals(got, 0, 1e-9) {
			t.Errorf("Expected RSI 0, got %.4f", got)
		}
	})

	t.Run("wilder smoothing", func(t *testing.T) {
		// Changes: +1, -0.5, +1 with period 2.
		// Seed: avgGain=0.5 avgLoss=0.25; next: avgGain=0.75 avgLoss=0.125.
		// RS=6 so RSI = 100 - 100/7.
		klines := klinesFromCloses(10, 11, 10.5, 11.5)
		want := 100.0 - 100.0/7.0
		if got := RSI(klines, 2); !floatEquals(got, want, 1e-9) {
			t.Errorf("Expected RSI %.6f, got %.6f", want, got)
		}
	})
}

// ============================================================================
// TEST: ATR
// ============================================================================

func TestATR(t *testing.T) {
	t.Run("length equal to period returns zero", func(t *testing.T) {
		klines := klinesFromCloses(1, 2, 3)
		if got := ATR(klines, 3); got != 0 {
			t.Errorf("Expected 0 for 3 klines with period 3, got %.4f", got)
		}
	})

	t.Run("constant range", func(t *testing.T) {
		klines := make([]market.Kline, 6)
		for i := range klines {
			klines[i] = market.Kline{
				High:  105,
				Low:   95,
				Close: 100,
			}
		}
		// Every true range is 10, so the smoothed average is exactly 10.
		if got := ATR(klines, 3); !floatEquals(got, 10, 1e-9) {
			t.Errorf("Expected ATR 10, got %.4f", got)
		}
	})

	t.Run("gap extends the true range", func(t *testing.T) {
		klines := []market.Kline{
			{High: 101, Low: 99, Close: 100},
			{High: 111, Low: 109, Close: 110}, // gap up: TR = 111-100 = 11
		}
		if got := ATR(klines, 1); !floatEquals(got, 11, 1e-9) {
			t.Errorf("Expected ATR 11 across the gap, got %.4f", got)
		}
	})
}

// ============================================================================
// TEST: Volume Stats
// ============================================================================

func TestVolumeStats(t *testing.T) {
	klines := []market.Kline{
		{Volume: 10},
		{Volume: 20},
		{Volume: 60},
	}

	current, average := VolumeStats(klines)
	if !floatEquals(current, 60, 1e-9) {
		t.Errorf("Expected current volume 60, got %.2f", current)
	}
	if !floatEquals(average, 30, 1e-9) {
		t.Errorf("Expected average volume 30, got %.2f", average)
	}

	current, average = VolumeStats(nil)
	if current != 0 || average != 0 {
		t.Errorf("Expected zeros on empty input, got %.2f / %.2f", current, average)
	}
}

// ============================================================================
// TEST: Series Alignment
// ============================================================================

func TestEMASeriesAlignment(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	klines := klinesFromCloses(closes...)

	series := EMASeries(klines, 20)
	if len(series) != len(klines) {
		t.Fatalf("Expected series length %d, got %d", len(klines), len(series))
	}

	for i := 0; i < 19; i++ {
		if !math.IsNaN(series[i]) {
			t.Fatalf("Expected NaN warm-up at index %d, got %.4f", i, series[i])
		}
	}

	// First defined value is the SMA of the first 20 closes: (1+...+20)/20.
	if !floatEquals(series[19], 10.5, 1e-9) {
		t.Errorf("Expected seed value 10.5, got %.4f", series[19])
	}
	for i := 20; i < len(series); i++ {
		if math.IsNaN(series[i]) {
			t.Errorf("Unexpected NaN at index %d", i)
		}
	}

	// Scalar and series must agree on the final value.
	if !floatEquals(series[len(series)-1], EMA(klines, 20), 1e-9) {
		t.Error("Series tail disagrees with scalar EMA")
	}
}

func TestSeriesBelowMinimum(t *testing.T) {
	klines := klinesFromCloses(1, 2, 3, 4, 5)

	if got := EMASeries(klines, 20); got != nil {
		t.Errorf("Expected nil EMA series, got length %d", len(got))
	}
	if got := MACDSeries(klines); got != nil {
		t.Errorf("Expected nil MACD series, got length %d", len(got))
	}
	if got := RSISeries(klines, 14); got != nil {
		t.Errorf("Expected nil RSI series, got length %d", len(got))
	}
}

func TestRSISeriesAlignment(t *testing.T) {
	closes := []float64{10, 11, 10.5, 11.5}
	klines := klinesFromCloses(closes...)

	series := RSISeries(klines, 2)
	if len(series) != 4 {
		t.Fatalf("Expected series length 4, got %d", len(series))
	}
	if !math.IsNaN(series[0]) || !math.IsNaN(series[1]) {
		t.Error("Expected NaN warm-up for the first two entries")
	}
	if !floatEquals(series[3], RSI(klines, 2), 1e-9) {
		t.Error("Series tail disagrees with scalar RSI")
	}
}

func TestMACDSeriesAlignment(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	klines := klinesFromCloses(closes...)

	series := MACDSeries(klines)
	if len(series) != 30 {
		t.Fatalf("Expected series length 30, got %d", len(series))
	}
	for i := 0; i < 25; i++ {
		if !math.IsNaN(series[i]) {
			t.Fatalf("Expected NaN warm-up at index %d, got %.4f", i, series[i])
		}
	}
	if math.IsNaN(series[25]) {
		t.Error("Expected first defined MACD at index 25")
	}
	if !floatEquals(series[29], MACD(klines), 1e-9) {
		t.Error("Series tail disagrees with scalar MACD")
	}
}
