package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"ai-futures-trader/internal/exchange"
)

const (
	defaultRESTURL = "https://fapi.binance.com"

	// seedLimit is how much history a fresh subscription pulls before the
	// stream takes over.
	seedLimit = 200
)

// restClient wraps the public (unsigned) futures market data endpoints.
type restClient struct {
	http   *resty.Client
	logger zerolog.Logger
}

func newRESTClient(baseURL string, logger zerolog.Logger) *restClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &restClient{http: client, logger: logger}
}

// klines fetches up to limit closed candles, oldest first. The venue returns
// each candle as a positional array of mixed strings and numbers.
func (c *restClient) klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	var rows [][]interface{}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   exchange.MarketSymbol(symbol),
			"interval": interval,
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&rows).
		Get("/fapi/v1/klines")
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s %s: %w", symbol, interval, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch klines %s %s: status %d: %s", symbol, interval, resp.StatusCode(), resp.String())
	}

	klines := make([]Kline, 0, len(rows))
	for _, row := range rows {
		k, err := parseKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("parse kline for %s %s: %w", symbol, interval, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol       string `json:"symbol"`
		Status       string `json:"status"`
		ContractType string `json:"contractType"`
		QuoteAsset   string `json:"quoteAsset"`
	} `json:"symbols"`
}

// perpetualUniverse lists all actively trading USDT perpetual contracts in
// public form (BASE/USDT), preserving venue order.
func (c *restClient) perpetualUniverse(ctx context.Context) ([]string, error) {
	var info exchangeInfoResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&info).
		Get("/fapi/v1/exchangeInfo")
	if err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch exchange info: status %d", resp.StatusCode())
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || s.ContractType != "PERPETUAL" || s.QuoteAsset != "USDT" {
			continue
		}
		symbols = append(symbols, exchange.Normalize(s.Symbol))
	}
	return symbols, nil
}

func parseKlineRow(row []interface{}) (Kline, error) {
	if len(row) < 9 {
		return Kline{}, fmt.Errorf("kline row has %d fields, want at least 9", len(row))
	}
	return Kline{
		OpenTime:    rowInt64(row[0]),
		Open:        rowFloat(row[1]),
		High:        rowFloat(row[2]),
		Low:         rowFloat(row[3]),
		Close:       rowFloat(row[4]),
		Volume:      rowFloat(row[5]),
		CloseTime:   rowInt64(row[6]),
		QuoteVolume: rowFloat(row[7]),
		TradeCount:  int(rowInt64(row[8])),
	}, nil
}

func rowFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	}
	return 0
}

func rowInt64(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}
