package database

import (
	"context"
	"math"
	"time"
)

// Sharpe window: 20 buckets of 3 minutes of filled trades.
const (
	sharpePeriodMinutes   = 3
	sharpeLookbackPeriods = 20
)

// PerformanceSummary aggregates recent filled trades for a trader
type PerformanceSummary struct {
	SharpeRatio *float64 `json:"sharpe_ratio"`
	WinRate     float64  `json:"win_rate"`
	TotalTrades int      `json:"total_trades"`
	AvgReturn   float64  `json:"avg_return"`
	TotalPnL    float64  `json:"total_pnl"`
}

// recordPnL treats buys as cash out and sells as cash in.
func recordPnL(rec TradeRecord) float64 {
	value := rec.Amount.Mul(rec.Price).InexactFloat64()
	if rec.Side == TradeSideBuy {
		return -value
	}
	return value
}

// periodReturns buckets records into fixed periods counted from startTime
// and sums the cash flow per period. Records are expected in ascending
// created_at order; empty gaps between trades produce no bucket.
func periodReturns(records []TradeRecord, startTime time.Time, periodMinutes int) []float64 {
	var returns []float64
	currentPeriod := -1
	currentSum := 0.0
	haveBucket := false

	for _, rec := range records {
		minutes := rec.CreatedAt.Sub(startTime).Minutes()
		if minutes < 0 {
			continue
		}
		period := int(minutes) / periodMinutes
		if period != currentPeriod {
			if haveBucket {
				returns = append(returns, currentSum)
			}
			currentPeriod = period
			currentSum = 0
			haveBucket = true
		}
		currentSum += recordPnL(rec)
	}
	if haveBucket {
		returns = append(returns, currentSum)
	}
	return returns
}

// sharpeFromRecords computes a Sharpe ratio over period returns.
// Returns nil when there are fewer than two non-zero periods or when
// the returns have no variance.
func sharpeFromRecords(records []TradeRecord, startTime time.Time, periodMinutes int) *float64 {
	var valid []float64
	for _, r := range periodReturns(records, startTime, periodMinutes) {
		if r != 0 {
			valid = append(valid, r)
		}
	}
	if len(valid) < 2 {
		return nil
	}

	mean := 0.0
	for _, r := range valid {
		mean += r
	}
	mean /= float64(len(valid))

	variance := 0.0
	for _, r := range valid {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(valid) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return nil
	}

	sharpe := mean / std
	return &sharpe
}

// summaryFromRecords aggregates filled trades into a performance summary.
// Sells count as wins because every sell realizes a position exit.
func summaryFromRecords(records []TradeRecord, startTime time.Time, periodMinutes int) PerformanceSummary {
	summary := PerformanceSummary{
		SharpeRatio: sharpeFromRecords(records, startTime, periodMinutes),
		TotalTrades: len(records),
	}
	if len(records) == 0 {
		return summary
	}

	wins := 0
	for _, rec := range records {
		summary.TotalPnL += recordPnL(rec)
		if rec.Side == TradeSideSell {
			wins++
		}
	}
	summary.WinRate = float64(wins) / float64(len(records)) * 100
	summary.AvgReturn = summary.TotalPnL / float64(len(records))
	return summary
}

func (s *Store) filledTradesSince(ctx context.Context, traderID string, since time.Time) ([]TradeRecord, error) {
	query := `
		SELECT ` + tradeRecordColumns + `
		FROM trade_records
		WHERE trader_id = $1 AND status = 'filled' AND created_at >= $2
		ORDER BY created_at
	`
	return s.queryTradeRecords(ctx, query, traderID, since)
}

// SharpeRatio computes the recent Sharpe ratio for a trader, or nil when
// there is not enough trade history.
func (s *Store) SharpeRatio(ctx context.Context, traderID string) (*float64, error) {
	start := time.Now().Add(-time.Duration(sharpeLookbackPeriods*sharpePeriodMinutes) * time.Minute)
	records, err := s.filledTradesSince(ctx, traderID, start)
	if err != nil {
		return nil, err
	}
	return sharpeFromRecords(records, start, sharpePeriodMinutes), nil
}

// Performance summarizes a trader's filled trades over the Sharpe window.
func (s *Store) Performance(ctx context.Context, traderID string) (PerformanceSummary, error) {
	start := time.Now().Add(-time.Duration(sharpeLookbackPeriods*sharpePeriodMinutes) * time.Minute)
	records, err := s.filledTradesSince(ctx, traderID, start)
	if err != nil {
		return PerformanceSummary{}, err
	}
	return summaryFromRecords(records, start, sharpePeriodMinutes), nil
}
