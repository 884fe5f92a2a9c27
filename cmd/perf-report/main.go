// Command perf-report prints recent trading performance per trader from
// the store: the aggregate summary plus a per-symbol breakdown of the
// latest filled trades. Read-only; the trading process does not need to
// be running.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"ai-futures-trader/config"
	"ai-futures-trader/internal/database"
)

const recentTradeWindow = 500

type symbolStats struct {
	Symbol string
	Trades int
	Wins   int
	PnL    float64
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Name,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	store := database.NewStore(db, logger)
	ctx := context.Background()

	traders, err := store.ListTraders(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list traders: %v\n", err)
		os.Exit(1)
	}
	if len(traders) == 0 {
		fmt.Println("no traders configured")
		return
	}

	for _, trader := range traders {
		printTrader(ctx, store, trader)
	}
}

func printTrader(ctx context.Context, store *database.Store, trader *database.Trader) {
	summary, err := store.Performance(ctx, trader.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skipping %s: %v\n", trader.Name, err)
		return
	}

	fmt.Printf("\n%s (%s)\n", trader.Name, trader.ID)
	fmt.Printf("  Trades: %d  Win rate: %.1f%%  Total PnL: %.2f  Avg: %.2f\n",
		summary.TotalTrades, summary.WinRate, summary.TotalPnL, summary.AvgReturn)
	if summary.SharpeRatio != nil {
		fmt.Printf("  Sharpe: %.2f\n", *summary.SharpeRatio)
	}

	records, err := store.RecentTradeRecords(ctx, trader.ID, recentTradeWindow)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read trades for %s: %v\n", trader.Name, err)
		return
	}

	stats := aggregateBySymbol(records)
	if len(stats) == 0 {
		fmt.Println("  No filled trades yet")
		return
	}

	fmt.Printf("  %-14s %7s %9s %12s\n", "Symbol", "Trades", "Win rate", "PnL")
	for _, s := range stats {
		winRate := float64(s.Wins) / float64(s.Trades) * 100
		fmt.Printf("  %-14s %7d %8.1f%% %12.2f\n", s.Symbol, s.Trades, winRate, s.PnL)
	}
}

// aggregateBySymbol folds filled trades into per-symbol stats, sorted by
// PnL descending. Buys count as cash out, sells as cash in; sells count
// as wins because every sell realizes a position exit.
func aggregateBySymbol(records []database.TradeRecord) []symbolStats {
	bySymbol := make(map[string]*symbolStats)
	for _, rec := range records {
		if rec.Status != database.TradeStatusFilled {
			continue
		}
		s, ok := bySymbol[rec.Symbol]
		if !ok {
			s = &symbolStats{Symbol: rec.Symbol}
			bySymbol[rec.Symbol] = s
		}

		s.Trades++
		value := rec.Amount.Mul(rec.Price).InexactFloat64()
		if rec.Side == database.TradeSideSell {
			s.Wins++
			s.PnL += value
		} else {
			s.PnL -= value
		}
	}

	stats := make([]symbolStats, 0, len(bySymbol))
	for _, s := range bySymbol {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].PnL > stats[j].PnL })
	return stats
}
