package exchange

import "strings"

// Symbol forms used across the system:
//
//	BASE/QUOTE       public form, e.g. BTC/USDT
//	basequote        stream topic form, e.g. btcusdt
//	BASEQUOTE        venue REST form, e.g. BTCUSDT
//	BASE/QUOTE:QUOTE perpetual contract form, e.g. BTC/USDT:USDT

// Normalize converts any accepted spelling to the public BASE/QUOTE form.
// Bare bases get USDT appended: "btc" -> "BTC/USDT", "BTCUSDT" -> "BTC/USDT".
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	// Drop a contract suffix like :USDT
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if strings.Contains(s, "/") {
		return s
	}
	if strings.HasSuffix(s, "USDT") && len(s) > 4 {
		return s[:len(s)-4] + "/USDT"
	}
	return s + "/USDT"
}

// MarketSymbol converts the public form to the venue REST form.
func MarketSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(symbol), "/", "")
}

// StreamSymbol converts the public form to the stream topic form.
func StreamSymbol(symbol string) string {
	return strings.ToLower(MarketSymbol(symbol))
}

// ContractSymbol converts the public form to the perpetual contract form.
func ContractSymbol(symbol string) string {
	norm := Normalize(symbol)
	parts := strings.SplitN(norm, "/", 2)
	if len(parts) != 2 {
		return norm
	}
	return norm + ":" + parts[1]
}

// BaseAsset returns the base asset of a public-form symbol.
func BaseAsset(symbol string) string {
	norm := Normalize(symbol)
	if idx := strings.Index(norm, "/"); idx >= 0 {
		return norm[:idx]
	}
	return norm
}

// IsMajor reports whether a symbol is BTC or ETH in any accepted spelling.
// Majors get the wider leverage and position caps in risk validation.
func IsMajor(symbol string) bool {
	s := strings.ToUpper(symbol)
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "USDT", "")
	s = strings.ReplaceAll(s, ":", "")
	return s == "BTC" || s == "ETH"
}
