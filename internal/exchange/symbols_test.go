package exchange

import "testing"

// ============================================================================
// TEST: Symbol normalization across accepted spellings
// ============================================================================

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"bare base lowercase", "btc", "BTC/USDT"},
		{"bare base uppercase", "SOL", "SOL/USDT"},
		{"venue form", "BTCUSDT", "BTC/USDT"},
		{"venue form lowercase", "dogeusdt", "DOGE/USDT"},
		{"already normalized", "ETH/USDT", "ETH/USDT"},
		{"contract form", "BTC/USDT:USDT", "BTC/USDT"},
		{"whitespace", "  BTC/USDT ", "BTC/USDT"},
		{"empty", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := Normalize(tc.input)
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

// ============================================================================
// TEST: Derived symbol forms
// ============================================================================

func TestSymbolForms(t *testing.T) {
	if got := MarketSymbol("BTC/USDT"); got != "BTCUSDT" {
		t.Errorf("Expected market symbol BTCUSDT, got %s", got)
	}
	if got := StreamSymbol("BTC/USDT"); got != "btcusdt" {
		t.Errorf("Expected stream symbol btcusdt, got %s", got)
	}
	if got := ContractSymbol("BTC/USDT"); got != "BTC/USDT:USDT" {
		t.Errorf("Expected contract symbol BTC/USDT:USDT, got %s", got)
	}
	if got := BaseAsset("DOGE/USDT"); got != "DOGE" {
		t.Errorf("Expected base asset DOGE, got %s", got)
	}
}

// ============================================================================
// TEST: BTC/ETH classification used by leverage and position caps
// ============================================================================

func TestIsMajor(t *testing.T) {
	testCases := []struct {
		name     string
		symbol   string
		expected bool
	}{
		{"btc public form", "BTC/USDT", true},
		{"eth public form", "ETH/USDT", true},
		{"btc venue form", "BTCUSDT", true},
		{"eth contract form", "ETH/USDT:USDT", true},
		{"altcoin", "DOGE/USDT", false},
		{"altcoin containing eth", "ETHFI/USDT", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := IsMajor(tc.symbol)
			if result != tc.expected {
				t.Errorf("Expected %v for %s, got %v", tc.expected, tc.symbol, result)
			}
		})
	}
}
