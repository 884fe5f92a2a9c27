package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ai-futures-trader/internal/logging"
)

const (
	binanceBaseURL    = "https://fapi.binance.com"
	binanceTestnetURL = "https://testnet.binancefuture.com"

	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

// BinanceAdapter trades USDT-M futures through the signed REST API.
type BinanceAdapter struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *rateLimiter
	logger     zerolog.Logger

	mu        sync.RWMutex
	stepSizes map[string]float64 // venue symbol -> LOT_SIZE step
}

// NewBinanceAdapter creates a Binance futures adapter. Keys are trimmed
// because stray whitespace breaks signature generation.
func NewBinanceAdapter(apiKey, secretKey string, testnet bool) *BinanceAdapter {
	baseURL := binanceBaseURL
	if testnet {
		baseURL = binanceTestnetURL
	}

	return &BinanceAdapter{
		apiKey:     strings.TrimSpace(apiKey),
		secretKey:  strings.TrimSpace(secretKey),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    newRateLimiter(),
		logger:     logging.For("binance"),
		stepSizes:  make(map[string]float64),
	}
}

func (a *BinanceAdapter) Name() string { return "binance" }

// ==================== ACCOUNT ====================

type binanceAccount struct {
	TotalMarginBalance string `json:"totalMarginBalance"`
	TotalInitialMargin string `json:"totalInitialMargin"`
	AvailableBalance   string `json:"availableBalance"`
	Assets             []struct {
		Asset         string `json:"asset"`
		WalletBalance string `json:"walletBalance"`
	} `json:"assets"`
}

func (a *BinanceAdapter) getAccount(ctx context.Context) (*binanceAccount, error) {
	resp, err := a.signedRequest(ctx, http.MethodGet, "/fapi/v2/account", nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching account info: %w", err)
	}

	var account binanceAccount
	if err := json.Unmarshal(resp, &account); err != nil {
		return nil, fmt.Errorf("error parsing account info: %w", err)
	}
	return &account, nil
}

func (a *BinanceAdapter) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	account, err := a.getAccount(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	asset = strings.ToUpper(asset)
	for _, item := range account.Assets {
		if item.Asset == asset {
			balance, err := decimal.NewFromString(item.WalletBalance)
			if err != nil {
				return decimal.Zero, fmt.Errorf("error parsing balance: %w", err)
			}
			return balance, nil
		}
	}
	return decimal.Zero, nil
}

func (a *BinanceAdapter) GetAccountState(ctx context.Context) (AccountState, error) {
	account, err := a.getAccount(ctx)
	if err != nil {
		return AccountState{}, err
	}

	equity, err := decimal.NewFromString(account.TotalMarginBalance)
	if err != nil {
		return AccountState{}, fmt.Errorf("error parsing margin balance: %w", err)
	}
	available, err := decimal.NewFromString(account.AvailableBalance)
	if err != nil {
		return AccountState{}, fmt.Errorf("error parsing available balance: %w", err)
	}
	marginUsed, err := decimal.NewFromString(account.TotalInitialMargin)
	if err != nil {
		return AccountState{}, fmt.Errorf("error parsing initial margin: %w", err)
	}

	state := AccountState{
		TotalEquity:      equity,
		AvailableBalance: available,
		MarginUsed:       marginUsed,
	}
	if equity.IsPositive() {
		state.MarginUsedPct = marginUsed.Div(equity).Mul(decimal.NewFromInt(100))
	}
	return state, nil
}

type binancePosition struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	MarginType       string `json:"marginType"`
}

func (a *BinanceAdapter) GetPositions(ctx context.Context) ([]Position, error) {
	resp, err := a.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching positions: %w", err)
	}

	var raw []binancePosition
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("error parsing positions: %w", err)
	}

	positions := make([]Position, 0, len(raw))
	for _, p := range raw {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}

		side := SideLong
		if amt < 0 {
			side = SideShort
		}
		leverage, _ := strconv.Atoi(p.Leverage)

		positions = append(positions, Position{
			Symbol:        Normalize(p.Symbol),
			Side:          side,
			Size:          math.Abs(amt),
			EntryPrice:    parseFloat(p.EntryPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			UnrealizedPnL: parseFloat(p.UnRealizedProfit),
			Leverage:      leverage,
			MarginType:    strings.ToLower(p.MarginType),
		})
	}
	return positions, nil
}

// ==================== TRADING ====================

type orderParams struct {
	symbol        string
	side          string // BUY or SELL
	orderType     string // MARKET, STOP_MARKET, TAKE_PROFIT_MARKET
	quantity      float64
	stopPrice     float64
	reduceOnly    bool
	closePosition bool
}

func (a *BinanceAdapter) placeOrder(ctx context.Context, p orderParams) error {
	params := map[string]string{
		"symbol": MarketSymbol(p.symbol),
		"side":   p.side,
		"type":   p.orderType,
	}

	if p.quantity > 0 {
		params["quantity"] = strconv.FormatFloat(p.quantity, 'f', -1, 64)
	}
	if p.stopPrice > 0 {
		params["stopPrice"] = strconv.FormatFloat(p.stopPrice, 'f', -1, 64)
		params["workingType"] = "MARK_PRICE"
	}
	if p.reduceOnly {
		params["reduceOnly"] = "true"
	}
	if p.closePosition {
		params["closePosition"] = "true"
	}

	if _, err := a.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params); err != nil {
		return fmt.Errorf("error placing %s %s order: %w", p.side, p.orderType, err)
	}
	return nil
}

func (a *BinanceAdapter) OpenLong(ctx context.Context, symbol string, quantity float64, leverage int) error {
	if err := a.SetLeverage(ctx, symbol, leverage); err != nil {
		return err
	}
	return a.placeOrder(ctx, orderParams{
		symbol:    symbol,
		side:      "BUY",
		orderType: "MARKET",
		quantity:  a.FormatQuantity(symbol, quantity),
	})
}

func (a *BinanceAdapter) OpenShort(ctx context.Context, symbol string, quantity float64, leverage int) error {
	if err := a.SetLeverage(ctx, symbol, leverage); err != nil {
		return err
	}
	return a.placeOrder(ctx, orderParams{
		symbol:    symbol,
		side:      "SELL",
		orderType: "MARKET",
		quantity:  a.FormatQuantity(symbol, quantity),
	})
}

// closePosition closes quantity of the position on the given side; quantity 0
// closes all of it.
func (a *BinanceAdapter) closePositionOrder(ctx context.Context, symbol, side string, quantity float64) error {
	if quantity == 0 {
		positions, err := a.GetPositions(ctx)
		if err != nil {
			return err
		}
		norm := Normalize(symbol)
		for _, p := range positions {
			if p.Symbol == norm && p.Side == side {
				quantity = p.Size
				break
			}
		}
		if quantity == 0 {
			return nil // nothing to close
		}
	}

	orderSide := "SELL"
	if side == SideShort {
		orderSide = "BUY"
	}
	return a.placeOrder(ctx, orderParams{
		symbol:     symbol,
		side:       orderSide,
		orderType:  "MARKET",
		quantity:   a.FormatQuantity(symbol, quantity),
		reduceOnly: true,
	})
}

func (a *BinanceAdapter) CloseLong(ctx context.Context, symbol string, quantity float64) error {
	return a.closePositionOrder(ctx, symbol, SideLong, quantity)
}

func (a *BinanceAdapter) CloseShort(ctx context.Context, symbol string, quantity float64) error {
	return a.closePositionOrder(ctx, symbol, SideShort, quantity)
}

func (a *BinanceAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := map[string]string{
		"symbol":   MarketSymbol(symbol),
		"leverage": strconv.Itoa(leverage),
	}
	if _, err := a.signedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params); err != nil {
		return fmt.Errorf("error setting leverage: %w", err)
	}
	return nil
}

func (a *BinanceAdapter) SetMarginMode(ctx context.Context, symbol string, isCross bool) error {
	marginType := "ISOLATED"
	if isCross {
		marginType = "CROSSED"
	}
	params := map[string]string{
		"symbol":     MarketSymbol(symbol),
		"marginType": marginType,
	}
	// The venue rejects the call when the margin type is already set.
	if _, err := a.signedRequest(ctx, http.MethodPost, "/fapi/v1/marginType", params); err != nil {
		if strings.Contains(err.Error(), "-4046") {
			return nil
		}
		return fmt.Errorf("error setting margin mode: %w", err)
	}
	return nil
}

// stopOrder places a conditional close order. Quantity 0 arms it for the
// whole position via closePosition.
func (a *BinanceAdapter) stopOrder(ctx context.Context, orderType, symbol, positionSide string, quantity, triggerPrice float64) error {
	if triggerPrice <= 0 {
		return nil
	}

	orderSide := "SELL"
	if strings.EqualFold(positionSide, SideShort) {
		orderSide = "BUY"
	}

	p := orderParams{
		symbol:    symbol,
		side:      orderSide,
		orderType: orderType,
		stopPrice: triggerPrice,
	}
	if quantity == 0 {
		p.closePosition = true
	} else {
		p.quantity = a.FormatQuantity(symbol, quantity)
		p.reduceOnly = true
	}
	return a.placeOrder(ctx, p)
}

func (a *BinanceAdapter) SetStopLoss(ctx context.Context, symbol, positionSide string, quantity, stopPrice float64) error {
	return a.stopOrder(ctx, "STOP_MARKET", symbol, positionSide, quantity, stopPrice)
}

func (a *BinanceAdapter) SetTakeProfit(ctx context.Context, symbol, positionSide string, quantity, takePrice float64) error {
	return a.stopOrder(ctx, "TAKE_PROFIT_MARKET", symbol, positionSide, quantity, takePrice)
}

func (a *BinanceAdapter) CancelAllOrders(ctx context.Context, symbol string) error {
	params := map[string]string{"symbol": MarketSymbol(symbol)}
	if _, err := a.signedRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params); err != nil {
		return fmt.Errorf("error cancelling orders: %w", err)
	}
	return nil
}

// ==================== MARKET DATA ====================

func (a *BinanceAdapter) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	resp, err := a.publicGet(ctx, "/fapi/v1/ticker/price", map[string]string{
		"symbol": MarketSymbol(symbol),
	})
	if err != nil {
		return 0, fmt.Errorf("error fetching price: %w", err)
	}

	var priceResp struct {
		Price float64 `json:"price,string"`
	}
	if err := json.Unmarshal(resp, &priceResp); err != nil {
		return 0, fmt.Errorf("error parsing price: %w", err)
	}
	return priceResp.Price, nil
}

func (a *BinanceAdapter) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	resp, err := a.publicGet(ctx, "/fapi/v1/openInterest", map[string]string{
		"symbol": MarketSymbol(symbol),
	})
	if err != nil {
		return 0, fmt.Errorf("error fetching open interest: %w", err)
	}

	var oiResp struct {
		OpenInterest float64 `json:"openInterest,string"`
	}
	if err := json.Unmarshal(resp, &oiResp); err != nil {
		return 0, fmt.Errorf("error parsing open interest: %w", err)
	}
	return oiResp.OpenInterest, nil
}

func (a *BinanceAdapter) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	resp, err := a.publicGet(ctx, "/fapi/v1/premiumIndex", map[string]string{
		"symbol": MarketSymbol(symbol),
	})
	if err != nil {
		return 0, fmt.Errorf("error fetching funding rate: %w", err)
	}

	var fundingResp struct {
		LastFundingRate float64 `json:"lastFundingRate,string"`
	}
	if err := json.Unmarshal(resp, &fundingResp); err != nil {
		return 0, fmt.Errorf("error parsing funding rate: %w", err)
	}
	return fundingResp.LastFundingRate, nil
}

// FormatQuantity rounds down to the symbol's LOT_SIZE step. Steps are loaded
// lazily from exchangeInfo; without them the quantity is truncated to three
// decimals, which every liquid USDT perpetual accepts.
func (a *BinanceAdapter) FormatQuantity(symbol string, quantity float64) float64 {
	a.mu.RLock()
	step, ok := a.stepSizes[MarketSymbol(symbol)]
	a.mu.RUnlock()

	if !ok {
		if err := a.loadStepSizes(context.Background()); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to load exchange filters, using default precision")
			return math.Floor(quantity*1000) / 1000
		}
		a.mu.RLock()
		step = a.stepSizes[MarketSymbol(symbol)]
		a.mu.RUnlock()
	}
	if step <= 0 {
		return math.Floor(quantity*1000) / 1000
	}
	return math.Floor(quantity/step) * step
}

func (a *BinanceAdapter) loadStepSizes(ctx context.Context) error {
	resp, err := a.publicGet(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return fmt.Errorf("error fetching exchange info: %w", err)
	}

	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				StepSize   string `json:"stepSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(resp, &info); err != nil {
		return fmt.Errorf("error parsing exchange info: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range info.Symbols {
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" {
				a.stepSizes[s.Symbol] = parseFloat(f.StepSize)
			}
		}
	}
	return nil
}

// ==================== HTTP ====================

func (a *BinanceAdapter) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(a.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func buildQueryString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params[k]))
	}
	return sb.String()
}

// publicGet performs an unauthenticated GET with rate limiting and retry.
func (a *BinanceAdapter) publicGet(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if !a.limiter.waitForSlot(endpoint, 30*time.Second) {
			return nil, fmt.Errorf("rate limit: circuit breaker open, request blocked")
		}

		reqURL := a.baseURL + endpoint
		if len(params) > 0 {
			reqURL += "?" + buildQueryString(params)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}

		body, status, err := a.execute(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries && ctx.Err() == nil {
				a.sleepBeforeRetry(ctx, endpoint, attempt, err)
				continue
			}
			return nil, err
		}

		if status != http.StatusOK {
			lastErr = fmt.Errorf("API error: %s", string(body))
			if status == http.StatusTooManyRequests || status == 418 {
				a.limiter.recordRateLimitError()
			}
			if isRetryableError(status, string(body)) && attempt < maxRetries {
				a.sleepBeforeRetry(ctx, endpoint, attempt, lastErr)
				continue
			}
			return nil, lastErr
		}
		return body, nil
	}
	return nil, lastErr
}

// signedRequest performs an authenticated request with rate limiting and
// retry. The timestamp is refreshed per attempt so retried signatures stay
// inside the recvWindow.
func (a *BinanceAdapter) signedRequest(ctx context.Context, method, endpoint string, params map[string]string) ([]byte, error) {
	if params == nil {
		params = make(map[string]string)
	}
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if !a.limiter.waitForSlot(endpoint, 30*time.Second) {
			return nil, fmt.Errorf("rate limit: circuit breaker open, request blocked")
		}

		params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
		params["recvWindow"] = "10000"
		query := buildQueryString(params)
		query += "&signature=" + a.sign(query)

		reqURL := fmt.Sprintf("%s%s?%s", a.baseURL, endpoint, query)
		req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-MBX-APIKEY", a.apiKey)

		body, status, err := a.execute(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries && ctx.Err() == nil {
				a.sleepBeforeRetry(ctx, endpoint, attempt, err)
				continue
			}
			return nil, err
		}

		if status != http.StatusOK {
			lastErr = fmt.Errorf("API error: %s", string(body))
			if status == http.StatusTooManyRequests || status == 418 {
				a.limiter.recordRateLimitError()
			}
			if isRetryableError(status, string(body)) && attempt < maxRetries {
				a.sleepBeforeRetry(ctx, endpoint, attempt, lastErr)
				continue
			}
			return nil, lastErr
		}
		return body, nil
	}
	return nil, lastErr
}

func (a *BinanceAdapter) execute(req *http.Request) ([]byte, int, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if usedWeight := resp.Header.Get("X-MBX-USED-WEIGHT-1M"); usedWeight != "" {
		if weight, err := strconv.Atoi(usedWeight); err == nil {
			a.limiter.updateFromHeaders(weight)
		}
	}
	return body, resp.StatusCode, nil
}

func (a *BinanceAdapter) sleepBeforeRetry(ctx context.Context, endpoint string, attempt int, cause error) {
	delay := retryDelay(attempt)
	a.logger.Warn().Err(cause).Str("endpoint", endpoint).Int("attempt", attempt+1).
		Dur("delay", delay).Msg("Request failed, retrying")
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// isRetryableError checks if an error is transient and should be retried.
func isRetryableError(statusCode int, body string) bool {
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return true
	}
	// Transient venue error codes
	if strings.Contains(body, "-1001") || // DISCONNECTED
		strings.Contains(body, "-1003") || // TOO_MANY_REQUESTS
		strings.Contains(body, "-1015") || // TOO_MANY_ORDERS
		strings.Contains(body, "-1016") { // SERVICE_SHUTTING_DOWN
		return true
	}
	return false
}

// retryDelay returns delay with exponential backoff and jitter.
func retryDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter - (delay / 4)
}

func parseFloat(val string) float64 {
	f, _ := strconv.ParseFloat(val, 64)
	return f
}
