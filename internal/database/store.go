package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// Store provides data access methods for traders, decisions and trades
type Store struct {
	db     *DB
	logger zerolog.Logger
}

// NewStore creates a new store
func NewStore(db *DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// HealthCheck performs a database health check
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.Pool.Ping(ctx)
}

// ============================================================================
// USERS
// ============================================================================

// GetUserByEmail retrieves a user by email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, email, password_hash, otp_secret, otp_verified, created_at, updated_at
		FROM users WHERE email = $1
	`
	user := &User{}
	err := s.db.Pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.OTPSecret, &user.OTPVerified,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, userID string) (*User, error) {
	query := `
		SELECT id, email, password_hash, otp_secret, otp_verified, created_at, updated_at
		FROM users WHERE id = $1
	`
	user := &User{}
	err := s.db.Pool.QueryRow(ctx, query, userID).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.OTPSecret, &user.OTPVerified,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateUser inserts a new user
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (email, password_hash, otp_secret, otp_verified)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	return s.db.Pool.QueryRow(
		ctx, query,
		user.Email, user.PasswordHash, user.OTPSecret, user.OTPVerified,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

// ============================================================================
// TRADERS
// ============================================================================

const traderColumns = `
	id, user_id, name, ai_model_id, exchange_id, initial_balance,
	scan_interval_minutes, btc_eth_leverage, altcoin_leverage,
	trading_symbols, custom_coins, use_coin_pool, use_oi_top, use_inside_coins,
	is_cross_margin, custom_prompt, override_base_prompt, system_prompt_template,
	is_running, created_at, updated_at
`

func scanTrader(row pgx.Row) (*Trader, error) {
	t := &Trader{}
	err := row.Scan(
		&t.ID, &t.UserID, &t.Name, &t.AIModelID, &t.ExchangeID, &t.InitialBalance,
		&t.ScanIntervalMinutes, &t.BTCETHLeverage, &t.AltcoinLeverage,
		&t.TradingSymbols, &t.CustomCoins, &t.UseCoinPool, &t.UseOITop, &t.UseInsideCoins,
		&t.IsCrossMargin, &t.CustomPrompt, &t.OverrideBasePrompt, &t.SystemPromptTemplate,
		&t.IsRunning, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) queryTraders(ctx context.Context, query string, args ...interface{}) ([]*Trader, error) {
	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query traders: %w", err)
	}
	defer rows.Close()

	var traders []*Trader
	for rows.Next() {
		t, err := scanTrader(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trader: %w", err)
		}
		traders = append(traders, t)
	}
	return traders, rows.Err()
}

// ListTraders retrieves all configured traders
func (s *Store) ListTraders(ctx context.Context) ([]*Trader, error) {
	query := `SELECT ` + traderColumns + ` FROM traders ORDER BY created_at`
	return s.queryTraders(ctx, query)
}

// ListTradersByUser retrieves all traders belonging to a user
func (s *Store) ListTradersByUser(ctx context.Context, userID string) ([]*Trader, error) {
	query := `SELECT ` + traderColumns + ` FROM traders WHERE user_id = $1 ORDER BY created_at`
	return s.queryTraders(ctx, query, userID)
}

// GetTrader retrieves a trader by ID
func (s *Store) GetTrader(ctx context.Context, traderID string) (*Trader, error) {
	query := `SELECT ` + traderColumns + ` FROM traders WHERE id = $1`
	t, err := scanTrader(s.db.Pool.QueryRow(ctx, query, traderID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trader: %w", err)
	}
	return t, nil
}

// SetTraderRunning persists the running flag for a trader
func (s *Store) SetTraderRunning(ctx context.Context, traderID string, running bool) error {
	query := `UPDATE traders SET is_running = $2 WHERE id = $1`
	if _, err := s.db.Pool.Exec(ctx, query, traderID, running); err != nil {
		return fmt.Errorf("failed to update trader running flag: %w", err)
	}
	return nil
}

// ============================================================================
// AI MODELS AND EXCHANGES
// ============================================================================

// GetAIModel retrieves an AI model by ID, scoped to its owner
func (s *Store) GetAIModel(ctx context.Context, modelID, userID string) (*AIModel, error) {
	query := `
		SELECT id, user_id, name, enabled, provider, model_name, api_key, base_url, created_at, updated_at
		FROM ai_models WHERE id = $1 AND user_id = $2
	`
	m := &AIModel{}
	err := s.db.Pool.QueryRow(ctx, query, modelID, userID).Scan(
		&m.ID, &m.UserID, &m.Name, &m.Enabled, &m.Provider, &m.ModelName,
		&m.APIKey, &m.BaseURL, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ai model: %w", err)
	}
	return m, nil
}

// GetExchange retrieves an exchange account by ID, scoped to its owner
func (s *Store) GetExchange(ctx context.Context, exchangeID, userID string) (*Exchange, error) {
	query := `
		SELECT id, user_id, name, type, enabled, api_key, secret_key, testnet, wallet_address, created_at, updated_at
		FROM exchanges WHERE id = $1 AND user_id = $2
	`
	e := &Exchange{}
	err := s.db.Pool.QueryRow(ctx, query, exchangeID, userID).Scan(
		&e.ID, &e.UserID, &e.Name, &e.Type, &e.Enabled, &e.APIKey, &e.SecretKey,
		&e.Testnet, &e.WalletAddress, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange: %w", err)
	}
	return e, nil
}

// GetSignalSource retrieves a user's external feed endpoints
func (s *Store) GetSignalSource(ctx context.Context, userID string) (*SignalSource, error) {
	query := `
		SELECT id, user_id, coin_pool_url, oi_top_url, created_at, updated_at
		FROM user_signal_sources WHERE user_id = $1
	`
	src := &SignalSource{}
	err := s.db.Pool.QueryRow(ctx, query, userID).Scan(
		&src.ID, &src.UserID, &src.CoinPoolURL, &src.OITopURL, &src.CreatedAt, &src.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal source: %w", err)
	}
	return src, nil
}

// ============================================================================
// SYSTEM CONFIG AND PROMPTS
// ============================================================================

// SystemConfig retrieves all key/value settings as a map
func (s *Store) SystemConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT key, value FROM system_config`)
	if err != nil {
		return nil, fmt.Errorf("failed to query system config: %w", err)
	}
	defer rows.Close()

	config := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan system config: %w", err)
		}
		config[key] = value
	}
	return config, rows.Err()
}

// PromptByName retrieves a prompt template's content by name
func (s *Store) PromptByName(ctx context.Context, name string) (string, error) {
	var content string
	err := s.db.Pool.QueryRow(ctx, `SELECT content FROM prompt_templates WHERE name = $1`, name).Scan(&content)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get prompt template: %w", err)
	}
	return content, nil
}

// SystemPromptForTrader resolves the effective system prompt for a trader:
// the named template (falling back to the built-in default when the
// template is missing) combined with the trader's custom prompt.
func (s *Store) SystemPromptForTrader(ctx context.Context, trader *Trader) (string, error) {
	name := trader.SystemPromptTemplate
	if name == "" {
		name = DefaultPromptName
	}
	base, err := s.PromptByName(ctx, name)
	if err != nil {
		return "", err
	}
	if base == "" && name != DefaultPromptName {
		base, err = s.PromptByName(ctx, DefaultPromptName)
		if err != nil {
			return "", err
		}
	}
	if base == "" {
		base = defaultPromptContent
	}
	return ResolvePrompt(base, trader.CustomPrompt, trader.OverrideBasePrompt), nil
}

// ResolvePrompt combines a base template with a trader's custom prompt.
// An override replaces the base entirely; otherwise the custom text is
// appended after the base.
func ResolvePrompt(base, custom string, overrideBase bool) string {
	custom = strings.TrimSpace(custom)
	if custom == "" {
		return base
	}
	if overrideBase {
		return custom
	}
	if base == "" {
		return custom
	}
	return base + "\n\n" + custom
}

// ============================================================================
// DECISION LOGS
// ============================================================================

// InsertDecisionLog appends one decision record
func (s *Store) InsertDecisionLog(ctx context.Context, log *DecisionLog) error {
	query := `
		INSERT INTO decision_logs (trader_id, symbol, decision_state, decision_result, reasoning, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	var state interface{}
	if len(log.DecisionState) > 0 {
		state = string(log.DecisionState)
	}
	return s.db.Pool.QueryRow(
		ctx, query,
		log.TraderID, log.Symbol, state, log.DecisionResult, log.Reasoning, log.Confidence,
	).Scan(&log.ID, &log.CreatedAt)
}

// RecentDecisionLogs retrieves the latest decisions for a trader
func (s *Store) RecentDecisionLogs(ctx context.Context, traderID string, limit int) ([]*DecisionLog, error) {
	query := `
		SELECT id, trader_id, symbol, COALESCE(decision_state::text, ''), COALESCE(decision_result, ''),
		       COALESCE(reasoning, ''), confidence, created_at
		FROM decision_logs
		WHERE trader_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.Pool.Query(ctx, query, traderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision logs: %w", err)
	}
	defer rows.Close()

	var logs []*DecisionLog
	for rows.Next() {
		l := &DecisionLog{}
		var state string
		if err := rows.Scan(
			&l.ID, &l.TraderID, &l.Symbol, &state, &l.DecisionResult,
			&l.Reasoning, &l.Confidence, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision log: %w", err)
		}
		if state != "" {
			l.DecisionState = []byte(state)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ============================================================================
// TRADE RECORDS
// ============================================================================

// InsertTradeRecord inserts a new trade record
func (s *Store) InsertTradeRecord(ctx context.Context, rec *TradeRecord) error {
	if rec.Status == "" {
		rec.Status = TradeStatusPending
	}
	query := `
		INSERT INTO trade_records (trader_id, symbol, side, amount, price, leverage, order_id, status, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	return s.db.Pool.QueryRow(
		ctx, query,
		rec.TraderID, rec.Symbol, rec.Side, rec.Amount, rec.Price,
		rec.Leverage, rec.OrderID, rec.Status, rec.ExecutedAt,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

// UpdateTradeStatus updates a trade record's status and exchange order ID
func (s *Store) UpdateTradeStatus(ctx context.Context, recordID, status string, orderID *string) error {
	query := `
		UPDATE trade_records
		SET status = $2,
		    order_id = COALESCE($3, order_id),
		    executed_at = CASE WHEN $2 = 'filled' THEN NOW() ELSE executed_at END
		WHERE id = $1
	`
	if _, err := s.db.Pool.Exec(ctx, query, recordID, status, orderID); err != nil {
		return fmt.Errorf("failed to update trade status: %w", err)
	}
	return nil
}

const tradeRecordColumns = `
	id, trader_id, symbol, side, amount, price, leverage, order_id, status, executed_at, created_at, updated_at
`

func (s *Store) queryTradeRecords(ctx context.Context, query string, args ...interface{}) ([]TradeRecord, error) {
	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade records: %w", err)
	}
	defer rows.Close()

	var records []TradeRecord
	for rows.Next() {
		var r TradeRecord
		if err := rows.Scan(
			&r.ID, &r.TraderID, &r.Symbol, &r.Side, &r.Amount, &r.Price,
			&r.Leverage, &r.OrderID, &r.Status, &r.ExecutedAt, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecentTradeRecords retrieves the latest trade records for a trader
func (s *Store) RecentTradeRecords(ctx context.Context, traderID string, limit int) ([]TradeRecord, error) {
	query := `
		SELECT ` + tradeRecordColumns + `
		FROM trade_records
		WHERE trader_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return s.queryTradeRecords(ctx, query, traderID, limit)
}
