// Package risk validates AI decisions against hard limits before any of
// them reach the executor. Every rule yields a reason string so rejected
// decisions are explainable in the decision log.
package risk

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ai-futures-trader/internal/exchange"
)

// Decision actions
const (
	ActionOpenLong   = "open_long"
	ActionOpenShort  = "open_short"
	ActionCloseLong  = "close_long"
	ActionCloseShort = "close_short"
	ActionHold       = "hold"
	ActionWait       = "wait"
)

// Risk thresholds
const (
	// MaxMarginUsedPct blocks new opens above this margin usage.
	MaxMarginUsedPct = 80.0
	// MinRiskRewardRatio is the minimum reward/risk for opens.
	MinRiskRewardRatio = 3.0
)

// Position value caps as multiples of account equity.
var (
	btcEthPositionMult  = decimal.NewFromInt(10)
	altcoinPositionMult = decimal.RequireFromString("1.5")
	maxMarginUsedPct    = decimal.NewFromInt(80)
)

var validActions = map[string]bool{
	ActionOpenLong:   true,
	ActionOpenShort:  true,
	ActionCloseLong:  true,
	ActionCloseShort: true,
	ActionHold:       true,
	ActionWait:       true,
}

// Decision is one per-symbol instruction from the model.
type Decision struct {
	Symbol          string   `json:"symbol"`
	Action          string   `json:"action"`
	Leverage        float64  `json:"leverage,omitempty"`
	PositionSizeUSD float64  `json:"position_size_usd,omitempty"`
	StopLoss        float64  `json:"stop_loss,omitempty"`
	TakeProfit      float64  `json:"take_profit,omitempty"`
	RiskUSD         *float64 `json:"risk_usd,omitempty"`
	Confidence      float64  `json:"confidence,omitempty"`
	Reasoning       string   `json:"reasoning,omitempty"`
}

// IsOpen reports whether the decision opens a position.
func (d Decision) IsOpen() bool {
	return d.Action == ActionOpenLong || d.Action == ActionOpenShort
}

// IsClose reports whether the decision closes a position.
func (d Decision) IsClose() bool {
	return d.Action == ActionCloseLong || d.Action == ActionCloseShort
}

// ValidationError records why a decision was rejected.
type ValidationError struct {
	Symbol string `json:"symbol"`
	Action string `json:"action"`
	Error  string `json:"error"`
}

// Validator checks decisions against leverage, sizing and account limits.
type Validator struct {
	btcEthLeverage  int
	altcoinLeverage int
	logger          zerolog.Logger
}

// NewValidator creates a validator with the trader's leverage caps.
func NewValidator(btcEthLeverage, altcoinLeverage int, logger zerolog.Logger) *Validator {
	return &Validator{
		btcEthLeverage:  btcEthLeverage,
		altcoinLeverage: altcoinLeverage,
		logger:          logger,
	}
}

// Validate filters decisions down to the approved set. Each decision is
// judged independently; the account-wide gate then drops all opens when
// equity or margin is unacceptable, leaving closes untouched.
func (v *Validator) Validate(
	decisions []Decision,
	account exchange.AccountState,
	positions []exchange.Position,
	prices map[string]float64,
) ([]Decision, []ValidationError) {
	var approved []Decision
	var validationErrors []ValidationError

	for _, d := range decisions {
		ok, reason := v.validateDecision(d, account, positions, prices)
		if ok {
			approved = append(approved, d)
			continue
		}
		validationErrors = append(validationErrors, ValidationError{
			Symbol: d.Symbol,
			Action: d.Action,
			Error:  reason,
		})
		v.logger.Warn().Str("symbol", d.Symbol).Str("action", d.Action).Str("reason", reason).Msg("decision rejected")
	}

	hasOpens := false
	for _, d := range approved {
		if d.IsOpen() {
			hasOpens = true
			break
		}
	}

	if hasOpens {
		if ok, reason := v.checkAccountRisk(account); !ok {
			kept := approved[:0]
			for _, d := range approved {
				if !d.IsOpen() {
					kept = append(kept, d)
				}
			}
			approved = kept
			validationErrors = append(validationErrors, ValidationError{
				Symbol: "ALL",
				Action: "open_*",
				Error:  reason,
			})
			v.logger.Warn().Str("reason", reason).Msg("account gate dropped all opens")
		}
	}

	return approved, validationErrors
}

func (v *Validator) validateDecision(
	d Decision,
	account exchange.AccountState,
	positions []exchange.Position,
	prices map[string]float64,
) (bool, string) {
	if !validActions[d.Action] {
		return false, fmt.Sprintf("invalid action: %s", d.Action)
	}

	switch {
	case d.IsOpen():
		return v.validateOpen(d, account, prices)
	case d.IsClose():
		return v.validateClose(d, positions)
	default: // hold / wait
		return true, ""
	}
}

func (v *Validator) validateOpen(d Decision, account exchange.AccountState, prices map[string]float64) (bool, string) {
	if d.Leverage <= 0 {
		return false, "open requires a positive leverage"
	}

	major := exchange.IsMajor(d.Symbol)
	maxLeverage := v.altcoinLeverage
	if major {
		maxLeverage = v.btcEthLeverage
	}
	if d.Leverage > float64(maxLeverage) {
		return false, fmt.Sprintf("leverage (%.0fx) exceeds limit (%dx)", d.Leverage, maxLeverage)
	}

	if d.PositionSizeUSD <= 0 {
		return false, "open requires a positive position size in USD"
	}

	mult := altcoinPositionMult
	if major {
		mult = btcEthPositionMult
	}
	maxPositionValue := account.TotalEquity.Mul(mult)
	if decimal.NewFromFloat(d.PositionSizeUSD).GreaterThan(maxPositionValue) {
		return false, fmt.Sprintf(
			"position size (%.2f USD) exceeds %s× account equity (%s USD)",
			d.PositionSizeUSD, mult.String(), account.TotalEquity.StringFixed(2),
		)
	}

	if d.StopLoss <= 0 {
		return false, "open requires a positive stop loss price"
	}
	if d.TakeProfit <= 0 {
		return false, "open requires a positive take profit price"
	}

	if d.Action == ActionOpenLong {
		if d.StopLoss >= d.TakeProfit {
			return false, "long stop loss must be below take profit"
		}
	} else {
		if d.StopLoss <= d.TakeProfit {
			return false, "short stop loss must be above take profit"
		}
	}

	price, ok := prices[d.Symbol]
	if !ok || price <= 0 {
		return false, fmt.Sprintf("no current price for %s", d.Symbol)
	}

	var riskPart, rewardPart float64
	if d.Action == ActionOpenLong {
		riskPart = price - d.StopLoss
		rewardPart = d.TakeProfit - price
	} else {
		riskPart = d.StopLoss - price
		rewardPart = price - d.TakeProfit
	}
	if riskPart <= 0 {
		return false, fmt.Sprintf("risk/reward ratio (0.00) below minimum (%.1f:1)", MinRiskRewardRatio)
	}
	ratio := rewardPart / riskPart
	if ratio < MinRiskRewardRatio {
		return false, fmt.Sprintf("risk/reward ratio (%.2f) below minimum (%.1f:1)", ratio, MinRiskRewardRatio)
	}

	if d.RiskUSD != nil && *d.RiskUSD <= 0 {
		return false, "risk_usd must be positive when provided"
	}

	return true, ""
}

func (v *Validator) validateClose(d Decision, positions []exchange.Position) (bool, string) {
	var position *exchange.Position
	for i := range positions {
		if positions[i].Symbol == d.Symbol {
			position = &positions[i]
			break
		}
	}
	if position == nil {
		return false, fmt.Sprintf("no open position for %s", d.Symbol)
	}

	expectedSide := exchange.SideLong
	if d.Action == ActionCloseShort {
		expectedSide = exchange.SideShort
	}
	if !strings.EqualFold(position.Side, expectedSide) {
		return false, fmt.Sprintf(
			"position side mismatch: holding %s but action is %s",
			strings.ToLower(position.Side), d.Action,
		)
	}

	return true, ""
}

func (v *Validator) checkAccountRisk(account exchange.AccountState) (bool, string) {
	if account.TotalEquity.LessThanOrEqual(decimal.Zero) {
		return false, "account equity is invalid or zero"
	}
	if account.MarginUsedPct.GreaterThanOrEqual(maxMarginUsedPct) {
		return false, fmt.Sprintf(
			"margin usage (%s%%) exceeds limit (%.0f%%)",
			account.MarginUsedPct.StringFixed(2), MaxMarginUsedPct,
		)
	}
	return true, ""
}
