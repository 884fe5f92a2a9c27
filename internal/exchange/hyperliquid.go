package exchange

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ai-futures-trader/internal/logging"
)

const (
	hyperliquidBaseURL    = "https://api.hyperliquid.xyz"
	hyperliquidTestnetURL = "https://api.hyperliquid-testnet.xyz"
)

// HyperliquidAdapter reads account and market state from the Hyperliquid
// info endpoint, authenticated by wallet address. The wallet is derived from
// an Ethereum private key; order placement requires the venue's L1 action
// signing flow and is not wired yet, so the mutating operations report an
// error and the executor keeps those decisions pending.
type HyperliquidAdapter struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	http       *resty.Client
	logger     zerolog.Logger
}

// NewHyperliquidAdapter derives the wallet from privateKeyHex. A 0x prefix
// is accepted. When privateKeyHex is empty, walletAddress is used directly
// for read-only access.
func NewHyperliquidAdapter(privateKeyHex, walletAddress string, testnet bool) (*HyperliquidAdapter, error) {
	baseURL := hyperliquidBaseURL
	if testnet {
		baseURL = hyperliquidTestnetURL
	}

	adapter := &HyperliquidAdapter{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= 500
			}).
			SetHeader("Content-Type", "application/json"),
		logger: logging.For("hyperliquid"),
	}

	if privateKeyHex != "" {
		keyHex := strings.TrimPrefix(privateKeyHex, "0x")
		privateKey, err := crypto.HexToECDSA(keyHex)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		adapter.privateKey = privateKey
		adapter.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	} else if walletAddress != "" {
		adapter.address = common.HexToAddress(walletAddress)
	} else {
		return nil, fmt.Errorf("hyperliquid requires a private key or wallet address")
	}

	return adapter, nil
}

func (a *HyperliquidAdapter) Name() string { return "hyperliquid" }

// Address returns the trading wallet address.
func (a *HyperliquidAdapter) Address() common.Address { return a.address }

// ==================== INFO ====================

type hyperliquidState struct {
	MarginSummary struct {
		AccountValue    string `json:"accountValue"`
		TotalMarginUsed string `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable   string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			EntryPx       string `json:"entryPx"`
			PositionValue string `json:"positionValue"`
			UnrealizedPnl string `json:"unrealizedPnl"`
			Leverage      struct {
				Type  string `json:"type"`
				Value int    `json:"value"`
			} `json:"leverage"`
		} `json:"position"`
	} `json:"assetPositions"`
}

func (a *HyperliquidAdapter) clearinghouseState(ctx context.Context) (*hyperliquidState, error) {
	var state hyperliquidState
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"type": "clearinghouseState",
			"user": a.address.Hex(),
		}).
		SetResult(&state).
		Post("/info")
	if err != nil {
		return nil, fmt.Errorf("clearinghouse state: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("clearinghouse state: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &state, nil
}

func (a *HyperliquidAdapter) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	state, err := a.clearinghouseState(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	value := state.MarginSummary.AccountValue
	if value == "" {
		value = state.Withdrawable
	}
	if value == "" {
		return decimal.Zero, nil
	}
	balance, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("error parsing account value: %w", err)
	}
	return balance, nil
}

func (a *HyperliquidAdapter) GetAccountState(ctx context.Context) (AccountState, error) {
	state, err := a.clearinghouseState(ctx)
	if err != nil {
		return AccountState{}, err
	}

	equity, err := decimal.NewFromString(state.MarginSummary.AccountValue)
	if err != nil {
		return AccountState{}, fmt.Errorf("error parsing account value: %w", err)
	}
	marginUsed, err := decimal.NewFromString(state.MarginSummary.TotalMarginUsed)
	if err != nil {
		marginUsed = decimal.Zero
	}
	available, err := decimal.NewFromString(state.Withdrawable)
	if err != nil {
		available = decimal.Zero
	}

	result := AccountState{
		TotalEquity:      equity,
		AvailableBalance: available,
		MarginUsed:       marginUsed,
	}
	if equity.IsPositive() {
		result.MarginUsedPct = marginUsed.Div(equity).Mul(decimal.NewFromInt(100))
	}
	return result, nil
}

func (a *HyperliquidAdapter) GetPositions(ctx context.Context) ([]Position, error) {
	state, err := a.clearinghouseState(ctx)
	if err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		size, _ := strconv.ParseFloat(ap.Position.Szi, 64)
		if size == 0 {
			continue
		}

		side := SideLong
		if size < 0 {
			side = SideShort
		}
		marginType := "cross"
		if ap.Position.Leverage.Type == "isolated" {
			marginType = "isolated"
		}

		entryPx, _ := strconv.ParseFloat(ap.Position.EntryPx, 64)
		pnl, _ := strconv.ParseFloat(ap.Position.UnrealizedPnl, 64)

		positions = append(positions, Position{
			Symbol:        Normalize(ap.Position.Coin),
			Side:          side,
			Size:          math.Abs(size),
			EntryPrice:    entryPx,
			UnrealizedPnL: pnl,
			Leverage:      ap.Position.Leverage.Value,
			MarginType:    marginType,
		})
	}
	return positions, nil
}

func (a *HyperliquidAdapter) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	var mids map[string]string
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"type": "allMids"}).
		SetResult(&mids).
		Post("/info")
	if err != nil {
		return 0, fmt.Errorf("all mids: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("all mids: status %d: %s", resp.StatusCode(), resp.String())
	}

	mid, ok := mids[BaseAsset(symbol)]
	if !ok {
		return 0, nil
	}
	price, err := strconv.ParseFloat(mid, 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing mid price: %w", err)
	}
	return price, nil
}

// metaAndAssetCtxs returns [universe meta, per-asset contexts] in one call.
func (a *HyperliquidAdapter) assetContext(ctx context.Context, symbol string) (funding, openInterest float64, err error) {
	var payload []any
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"type": "metaAndAssetCtxs"}).
		SetResult(&payload).
		Post("/info")
	if err != nil {
		return 0, 0, fmt.Errorf("asset contexts: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, 0, fmt.Errorf("asset contexts: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(payload) != 2 {
		return 0, 0, fmt.Errorf("asset contexts: unexpected shape")
	}

	meta, ok := payload[0].(map[string]any)
	if !ok {
		return 0, 0, fmt.Errorf("asset contexts: unexpected meta shape")
	}
	universe, ok := meta["universe"].([]any)
	if !ok {
		return 0, 0, fmt.Errorf("asset contexts: missing universe")
	}
	ctxs, ok := payload[1].([]any)
	if !ok {
		return 0, 0, fmt.Errorf("asset contexts: unexpected context shape")
	}

	base := BaseAsset(symbol)
	for i, entry := range universe {
		asset, ok := entry.(map[string]any)
		if !ok || asset["name"] != base || i >= len(ctxs) {
			continue
		}
		assetCtx, ok := ctxs[i].(map[string]any)
		if !ok {
			continue
		}
		funding = parseAnyFloat(assetCtx["funding"])
		openInterest = parseAnyFloat(assetCtx["openInterest"])
		return funding, openInterest, nil
	}
	return 0, 0, nil
}

func (a *HyperliquidAdapter) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	_, oi, err := a.assetContext(ctx, symbol)
	return oi, err
}

func (a *HyperliquidAdapter) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	funding, _, err := a.assetContext(ctx, symbol)
	return funding, err
}

// ==================== TRADING ====================

// errOrderSigningNotWired covers the mutating surface until L1 action
// signing (msgpack action hash + EIP-712 agent signature) is implemented.
var errOrderSigningNotWired = fmt.Errorf("hyperliquid: order signing not wired")

func (a *HyperliquidAdapter) OpenLong(ctx context.Context, symbol string, quantity float64, leverage int) error {
	return errOrderSigningNotWired
}

func (a *HyperliquidAdapter) OpenShort(ctx context.Context, symbol string, quantity float64, leverage int) error {
	return errOrderSigningNotWired
}

func (a *HyperliquidAdapter) CloseLong(ctx context.Context, symbol string, quantity float64) error {
	return errOrderSigningNotWired
}

func (a *HyperliquidAdapter) CloseShort(ctx context.Context, symbol string, quantity float64) error {
	return errOrderSigningNotWired
}

func (a *HyperliquidAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return errOrderSigningNotWired
}

func (a *HyperliquidAdapter) SetMarginMode(ctx context.Context, symbol string, isCross bool) error {
	return errOrderSigningNotWired
}

func (a *HyperliquidAdapter) SetStopLoss(ctx context.Context, symbol, positionSide string, quantity, stopPrice float64) error {
	return errOrderSigningNotWired
}

func (a *HyperliquidAdapter) SetTakeProfit(ctx context.Context, symbol, positionSide string, quantity, takePrice float64) error {
	return errOrderSigningNotWired
}

func (a *HyperliquidAdapter) CancelAllOrders(ctx context.Context, symbol string) error {
	return errOrderSigningNotWired
}

// FormatQuantity truncates to the venue's default szDecimals.
func (a *HyperliquidAdapter) FormatQuantity(symbol string, quantity float64) float64 {
	return math.Floor(quantity*1e8) / 1e8
}

func parseAnyFloat(v any) float64 {
	switch value := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(value, 64)
		return f
	case float64:
		return value
	default:
		return 0
	}
}
