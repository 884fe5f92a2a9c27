package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running database migrations")

	migrations := []string{
		// Users own every other record.
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			otp_secret TEXT,
			otp_verified BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,

		// AI model credentials per user
		`CREATE TABLE IF NOT EXISTS ai_models (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name VARCHAR(100) NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			provider VARCHAR(50) NOT NULL,
			model_name VARCHAR(100) NOT NULL DEFAULT '',
			api_key TEXT NOT NULL DEFAULT '',
			base_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_models_user_id ON ai_models(user_id)`,

		// Exchange accounts, CEX and DEX
		`CREATE TABLE IF NOT EXISTS exchanges (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			type VARCHAR(10) NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			api_key TEXT NOT NULL DEFAULT '',
			secret_key TEXT NOT NULL DEFAULT '',
			testnet BOOLEAN NOT NULL DEFAULT FALSE,
			wallet_address VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_user_id ON exchanges(user_id)`,

		// External signal feed endpoints per user
		`CREATE TABLE IF NOT EXISTS user_signal_sources (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			coin_pool_url TEXT NOT NULL DEFAULT '',
			oi_top_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_signal_sources_user_id ON user_signal_sources(user_id)`,

		// Trader configurations
		`CREATE TABLE IF NOT EXISTS traders (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			ai_model_id UUID NOT NULL,
			exchange_id UUID NOT NULL,
			initial_balance DECIMAL(20, 8) NOT NULL DEFAULT 0,
			scan_interval_minutes INT NOT NULL DEFAULT 60,
			btc_eth_leverage INT NOT NULL DEFAULT 5,
			altcoin_leverage INT NOT NULL DEFAULT 3,
			trading_symbols TEXT NOT NULL DEFAULT '',
			custom_coins TEXT NOT NULL DEFAULT '',
			use_coin_pool BOOLEAN NOT NULL DEFAULT FALSE,
			use_oi_top BOOLEAN NOT NULL DEFAULT FALSE,
			use_inside_coins BOOLEAN NOT NULL DEFAULT FALSE,
			is_cross_margin BOOLEAN NOT NULL DEFAULT TRUE,
			custom_prompt TEXT NOT NULL DEFAULT '',
			override_base_prompt BOOLEAN NOT NULL DEFAULT FALSE,
			system_prompt_template VARCHAR(100) NOT NULL DEFAULT 'default',
			is_running BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_traders_user_id ON traders(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_traders_is_running ON traders(is_running)`,

		// Named system prompt templates
		`CREATE TABLE IF NOT EXISTS prompt_templates (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(100) NOT NULL UNIQUE,
			content TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Key/value system settings
		`CREATE TABLE IF NOT EXISTS system_config (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			key VARCHAR(100) NOT NULL UNIQUE,
			value TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Executed and pending orders
		`CREATE TABLE IF NOT EXISTS trade_records (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			trader_id UUID NOT NULL REFERENCES traders(id) ON DELETE CASCADE,
			symbol VARCHAR(50) NOT NULL,
			side VARCHAR(10) NOT NULL,
			amount DECIMAL(20, 8) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			leverage INT NOT NULL DEFAULT 1,
			order_id VARCHAR(255),
			status VARCHAR(50) NOT NULL DEFAULT 'pending',
			executed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_records_trader_id ON trade_records(trader_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_records_symbol ON trade_records(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_records_created_at ON trade_records(created_at)`,

		// Append-only AI decision audit trail
		`CREATE TABLE IF NOT EXISTS decision_logs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			trader_id UUID NOT NULL REFERENCES traders(id) ON DELETE CASCADE,
			symbol VARCHAR(50) NOT NULL,
			decision_state JSONB,
			decision_result VARCHAR(50),
			reasoning TEXT,
			confidence DECIMAL(5, 4),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_trader_id ON decision_logs(trader_id)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_symbol ON decision_logs(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_created_at ON decision_logs(created_at)`,

		// Create updated_at trigger function
		`CREATE OR REPLACE FUNCTION update_updated_at_column()
		RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = CURRENT_TIMESTAMP;
			RETURN NEW;
		END;
		$$ language 'plpgsql'`,

		`DROP TRIGGER IF EXISTS update_users_updated_at ON users`,
		`CREATE TRIGGER update_users_updated_at BEFORE UPDATE ON users
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,

		`DROP TRIGGER IF EXISTS update_traders_updated_at ON traders`,
		`CREATE TRIGGER update_traders_updated_at BEFORE UPDATE ON traders
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,

		`DROP TRIGGER IF EXISTS update_exchanges_updated_at ON exchanges`,
		`CREATE TRIGGER update_exchanges_updated_at BEFORE UPDATE ON exchanges
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,

		`DROP TRIGGER IF EXISTS update_ai_models_updated_at ON ai_models`,
		`CREATE TRIGGER update_ai_models_updated_at BEFORE UPDATE ON ai_models
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,

		`DROP TRIGGER IF EXISTS update_trade_records_updated_at ON trade_records`,
		`CREATE TRIGGER update_trade_records_updated_at BEFORE UPDATE ON trade_records
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
