package database

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange type constants
const (
	ExchangeTypeCEX = "cex" // Centralized exchange, API key + secret
	ExchangeTypeDEX = "dex" // Decentralized exchange, wallet key
)

// Trade side constants
const (
	TradeSideBuy  = "buy"
	TradeSideSell = "sell"
)

// Trade status constants
const (
	TradeStatusPending  = "pending"
	TradeStatusFilled   = "filled"
	TradeStatusFailed   = "failed"
	TradeStatusCanceled = "canceled"
)

// User represents an account that owns traders, models and exchanges
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	OTPSecret    *string   `json:"-"`
	OTPVerified  bool      `json:"otp_verified"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AIModel holds LLM provider credentials for a user
type AIModel struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Provider  string    `json:"provider"`
	ModelName string    `json:"model_name"`
	APIKey    string    `json:"-"`
	BaseURL   string    `json:"base_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Exchange holds exchange account credentials for a user
type Exchange struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Enabled       bool      `json:"enabled"`
	APIKey        string    `json:"-"`
	SecretKey     string    `json:"-"`
	Testnet       bool      `json:"testnet"`
	WalletAddress string    `json:"wallet_address"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SignalSource holds per-user external candidate feed endpoints
type SignalSource struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CoinPoolURL string    `json:"coin_pool_url"`
	OITopURL    string    `json:"oi_top_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Trader is the persisted configuration of one autonomous trader
type Trader struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"user_id"`
	Name                 string          `json:"name"`
	AIModelID            string          `json:"ai_model_id"`
	ExchangeID           string          `json:"exchange_id"`
	InitialBalance       decimal.Decimal `json:"initial_balance"`
	ScanIntervalMinutes  int             `json:"scan_interval_minutes"`
	BTCETHLeverage       int             `json:"btc_eth_leverage"`
	AltcoinLeverage      int             `json:"altcoin_leverage"`
	TradingSymbols       string          `json:"trading_symbols"`
	CustomCoins          string          `json:"custom_coins"`
	UseCoinPool          bool            `json:"use_coin_pool"`
	UseOITop             bool            `json:"use_oi_top"`
	UseInsideCoins       bool            `json:"use_inside_coins"`
	IsCrossMargin        bool            `json:"is_cross_margin"`
	CustomPrompt         string          `json:"custom_prompt"`
	OverrideBasePrompt   bool            `json:"override_base_prompt"`
	SystemPromptTemplate string          `json:"system_prompt_template"`
	IsRunning            bool            `json:"is_running"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// PromptTemplate is a named reusable system prompt
type PromptTemplate struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Content     string    `json:"content"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TradeRecord represents an order placed by a trader
type TradeRecord struct {
	ID         string          `json:"id"`
	TraderID   string          `json:"trader_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Amount     decimal.Decimal `json:"amount"`
	Price      decimal.Decimal `json:"price"`
	Leverage   int             `json:"leverage"`
	OrderID    *string         `json:"order_id,omitempty"`
	Status     string          `json:"status"`
	ExecutedAt *time.Time      `json:"executed_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// DecisionLog is one append-only record of an AI decision for a symbol
type DecisionLog struct {
	ID             string              `json:"id"`
	TraderID       string              `json:"trader_id"`
	Symbol         string              `json:"symbol"`
	DecisionState  []byte              `json:"decision_state,omitempty"`
	DecisionResult string              `json:"decision_result"`
	Reasoning      string              `json:"reasoning"`
	Confidence     decimal.NullDecimal `json:"confidence"`
	CreatedAt      time.Time           `json:"created_at"`
}

// NormalizeConfidence maps model confidence onto the [0,1] scale stored
// in DECIMAL(5,4). Models sometimes answer on a 0-100 scale; anything
// above 1 is treated as a percentage.
func NormalizeConfidence(value float64) decimal.Decimal {
	if value > 1 {
		value = value / 100
	}
	return decimal.NewFromFloat(value).Round(4)
}
