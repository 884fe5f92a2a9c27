// Package exchange defines the venue adapter interface the trading core
// depends on, plus the shipped implementations: a signed REST adapter for
// Binance USDT-M futures and a wallet-signed adapter for Hyperliquid.
//
// Adapters never panic across the interface boundary. A failed call returns
// the zero value plus an error; callers treat that as a degraded reading.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// Position sides as the core understands them.
const (
	SideLong  = "long"
	SideShort = "short"
)

// Position is one open futures position.
type Position struct {
	Symbol        string  `json:"symbol"` // BASE/QUOTE form
	Side          string  `json:"side"`   // long or short
	Size          float64 `json:"size"`   // absolute base quantity
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Leverage      int     `json:"leverage"`
	MarginType    string  `json:"margin_type"` // cross or isolated
}

// AccountState is the account snapshot the pipeline reads once per scan.
type AccountState struct {
	TotalEquity      decimal.Decimal `json:"total_equity"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	MarginUsed       decimal.Decimal `json:"margin_used"`
	MarginUsedPct    decimal.Decimal `json:"margin_used_pct"`
}

// Adapter is the single venue interface the core trades through.
// Quantity 0 on the close operations means close the full position.
type Adapter interface {
	// Name identifies the venue for logs and decision records.
	Name() string

	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetAccountState(ctx context.Context) (AccountState, error)
	GetPositions(ctx context.Context) ([]Position, error)

	OpenLong(ctx context.Context, symbol string, quantity float64, leverage int) error
	OpenShort(ctx context.Context, symbol string, quantity float64, leverage int) error
	CloseLong(ctx context.Context, symbol string, quantity float64) error
	CloseShort(ctx context.Context, symbol string, quantity float64) error

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol string, isCross bool) error
	SetStopLoss(ctx context.Context, symbol, positionSide string, quantity, stopPrice float64) error
	SetTakeProfit(ctx context.Context, symbol, positionSide string, quantity, takePrice float64) error
	CancelAllOrders(ctx context.Context, symbol string) error

	GetMarketPrice(ctx context.Context, symbol string) (float64, error)
	GetOpenInterest(ctx context.Context, symbol string) (float64, error)
	GetFundingRate(ctx context.Context, symbol string) (float64, error)

	// FormatQuantity rounds a quantity to the venue's step size for the symbol.
	FormatQuantity(symbol string, quantity float64) float64
}
