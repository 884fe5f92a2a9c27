package trader

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"ai-futures-trader/internal/database"
	"ai-futures-trader/internal/exchange"
	"ai-futures-trader/internal/pipeline"
)

const (
	defaultScanInterval = 3 * time.Minute
	scanErrorPause      = 60 * time.Second
	stopJoinGrace       = 10 * time.Second

	// Last-resort candidate when every source and fallback list is empty.
	defaultFallbackCoin = "BTC/USDT"
)

// Config is one trader's assembled runtime configuration, joined from the
// trader row plus its AI model, exchange, signal source and prompt template
// records. Immutable for the life of the worker; Reload builds a new one.
type Config struct {
	ID     string
	UserID string
	Name   string

	ScanInterval time.Duration

	BTCETHLeverage  int
	AltcoinLeverage int
	IsCrossMargin   bool

	UseCoinPool    bool
	UseOITop       bool
	UseInsideCoins bool
	CoinPoolURL    string
	OITopURL       string

	// TradingCoins is the fallback candidate list used when every enabled
	// source comes up empty; DefaultCoin is the last resort after that.
	TradingCoins []string
	DefaultCoin  string

	SystemPrompt string

	// System-wide risk knobs copied in at load time.
	MaxDailyLoss       float64
	MaxDrawdown        float64
	StopTradingMinutes int
}

func (c Config) pipelineConfig() pipeline.Config {
	return pipeline.Config{
		TraderID:        c.ID,
		UserID:          c.UserID,
		BTCETHLeverage:  c.BTCETHLeverage,
		AltcoinLeverage: c.AltcoinLeverage,
		IsCrossMargin:   c.IsCrossMargin,
		UseCoinPool:     c.UseCoinPool,
		UseOITop:        c.UseOITop,
		UseInsideCoins:  c.UseInsideCoins,
		CoinPoolURL:     c.CoinPoolURL,
		OITopURL:        c.OITopURL,
		TradingCoins:    c.TradingCoins,
		DefaultCoin:     c.DefaultCoin,
		SystemPrompt:    c.SystemPrompt,
	}
}

func scanInterval(minutes int) time.Duration {
	if minutes <= 0 {
		return defaultScanInterval
	}
	return time.Duration(minutes) * time.Minute
}

// tradingCoins resolves the fallback candidate list for a trader: the CSV
// trading_symbols column first, the custom_coins JSON list second, the
// system-wide default_coins last. Every entry is normalized to BASE/QUOTE.
func tradingCoins(t *database.Trader, systemDefault []string) []string {
	if coins := splitCSVCoins(t.TradingSymbols); len(coins) > 0 {
		return coins
	}
	if coins := parseJSONCoins(t.CustomCoins); len(coins) > 0 {
		return coins
	}
	return systemDefault
}

func splitCSVCoins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if coin := strings.TrimSpace(part); coin != "" {
			out = append(out, exchange.Normalize(coin))
		}
	}
	return out
}

func parseJSONCoins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var coins []string
	if err := json.Unmarshal([]byte(raw), &coins); err != nil {
		return nil
	}
	var out []string
	for _, coin := range coins {
		if coin = strings.TrimSpace(coin); coin != "" {
			out = append(out, exchange.Normalize(coin))
		}
	}
	return out
}

// systemSettings are the system_config rows every trader shares. Missing or
// malformed values fall back to the seeded defaults.
type systemSettings struct {
	maxDailyLoss       float64
	maxDrawdown        float64
	stopTradingMinutes int
	defaultCoins       []string
}

func parseSystemSettings(raw map[string]string) systemSettings {
	settings := systemSettings{
		maxDailyLoss:       10.0,
		maxDrawdown:        20.0,
		stopTradingMinutes: 60,
	}
	if v, ok := raw[database.ConfigMaxDailyLoss]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			settings.maxDailyLoss = f
		}
	}
	if v, ok := raw[database.ConfigMaxDrawdown]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			settings.maxDrawdown = f
		}
	}
	if v, ok := raw[database.ConfigStopTradingMinutes]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			settings.stopTradingMinutes = n
		}
	}
	if v, ok := raw[database.ConfigDefaultCoins]; ok {
		settings.defaultCoins = parseJSONCoins(v)
	}
	return settings
}
