// Package signalfeed fetches candidate symbol lists from external HTTP
// feeds: the scored "coin pool" list and the open-interest movers list.
// Feed payloads vary between deployments, so parsing accepts a bare
// JSON array or a wrapper object, with entries as plain strings or as
// objects carrying a symbol field. Unknown shapes yield an empty list.
package signalfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const requestTimeout = 10 * time.Second

// OIEntry is one symbol from the open-interest movers feed.
type OIEntry struct {
	Symbol          string  `json:"symbol"`
	OIChange        float64 `json:"oi_change"`
	OIChangePercent float64 `json:"oi_change_percent"`
	TimeRange       string  `json:"time_range"`
}

// Client fetches external signal feeds
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// NewClient creates a signal feed client
func NewClient(logger zerolog.Logger) *Client {
	client := resty.New().
		SetTimeout(requestTimeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")

	return &Client{http: client, logger: logger}
}

// FetchCoinPool retrieves the scored candidate list from a coin pool feed.
func (c *Client) FetchCoinPool(ctx context.Context, url string) ([]string, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	entries := decodeEntries(body, []string{"coins", "data"})
	symbols := make([]string, 0, len(entries))
	for _, raw := range entries {
		if symbol, ok := entrySymbol(raw); ok {
			symbols = append(symbols, symbol)
		}
	}
	return symbols, nil
}

// FetchOITop retrieves the open-interest movers list. Entries that are
// plain strings come back with zeroed change fields.
func (c *Client) FetchOITop(ctx context.Context, url string) ([]OIEntry, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	raws := decodeEntries(body, []string{"positions", "data", "coins"})
	entries := make([]OIEntry, 0, len(raws))
	for _, raw := range raws {
		var symbol string
		if err := json.Unmarshal(raw, &symbol); err == nil {
			if symbol != "" {
				entries = append(entries, OIEntry{Symbol: symbol})
			}
			continue
		}
		var entry OIEntry
		if err := json.Unmarshal(raw, &entry); err == nil && entry.Symbol != "" {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("signal feed request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("signal feed returned status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

// decodeEntries accepts either a bare JSON array or an object wrapping
// the array under one of wrapperKeys, tried in order.
func decodeEntries(body []byte, wrapperKeys []string) []json.RawMessage {
	var list []json.RawMessage
	if err := json.Unmarshal(body, &list); err == nil {
		return list
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil
	}
	for _, key := range wrapperKeys {
		raw, ok := wrapper[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &list); err == nil {
			return list
		}
	}
	return nil
}

// entrySymbol extracts a symbol from a string entry or an object entry.
func entrySymbol(raw json.RawMessage) (string, bool) {
	var symbol string
	if err := json.Unmarshal(raw, &symbol); err == nil {
		return symbol, symbol != ""
	}

	var obj struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Symbol != "" {
		return obj.Symbol, true
	}
	return "", false
}
