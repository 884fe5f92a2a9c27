package database

import (
	"context"
	"fmt"
)

// DefaultPromptName is the prompt template every trader falls back to.
const DefaultPromptName = "default"

// System config keys read by the risk layer and the supervisor.
const (
	ConfigMaxDailyLoss       = "max_daily_loss"
	ConfigMaxDrawdown        = "max_drawdown"
	ConfigStopTradingMinutes = "stop_trading_minutes"
	ConfigDefaultCoins       = "default_coins"
)

var defaultSystemConfig = map[string]string{
	ConfigMaxDailyLoss:       "10.0",
	ConfigMaxDrawdown:        "20.0",
	ConfigStopTradingMinutes: "60",
	ConfigDefaultCoins:       `["BTC/USDT","ETH/USDT","SOL/USDT","BNB/USDT","XRP/USDT","DOGE/USDT"]`,
}

const defaultPromptContent = `You are a professional cryptocurrency futures trader managing a perpetual futures account.

Your job each scan cycle: review the account state, open positions, candidate symbols and their market data, then decide for each symbol whether to open a long, open a short, close an existing position, hold, or wait.

Trading rules:
- Only trade setups where the expected reward is at least 3 times the risk. Always provide a stop loss and a take profit that respect this ratio.
- Size positions conservatively. Never risk the whole account on one trade, and respect the leverage limits given in the account context.
- Prefer trend-following entries confirmed by multiple timeframes. The 3-minute data shows timing, the 4-hour data shows the trend.
- Rising open interest with price confirms a move; falling open interest against your direction is a warning.
- Avoid opening new positions in choppy, directionless markets. Waiting costs nothing.
- Close losing positions decisively when the setup is invalidated. Do not average down.

Be disciplined and selective. Most scans should end in hold or wait.`

// SeedDefaults inserts baseline system config and the default prompt
// template. Existing rows are left untouched.
func (s *Store) SeedDefaults(ctx context.Context) error {
	for key, value := range defaultSystemConfig {
		query := `
			INSERT INTO system_config (key, value)
			VALUES ($1, $2)
			ON CONFLICT (key) DO NOTHING
		`
		if _, err := s.db.Pool.Exec(ctx, query, key, value); err != nil {
			return fmt.Errorf("failed to seed system config %s: %w", key, err)
		}
	}

	query := `
		INSERT INTO prompt_templates (name, content, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING
	`
	if _, err := s.db.Pool.Exec(ctx, query, DefaultPromptName, defaultPromptContent, "Base futures trading system prompt"); err != nil {
		return fmt.Errorf("failed to seed default prompt: %w", err)
	}

	s.logger.Info().Msg("seeded default system config and prompt template")
	return nil
}
