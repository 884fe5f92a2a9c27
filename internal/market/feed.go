// Package market maintains recent kline history and latest prices for a
// dynamic set of symbols, combining a multiplexed stream subscription with
// on-demand REST backfill. Each trader owns one Feed.
package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/exchange"
)

const (
	// addSymbolTimeout bounds seeding plus subscription when the caller
	// did not supply a deadline.
	addSymbolTimeout = 5 * time.Second

	// stopGrace bounds how long Stop waits for the stream worker to join.
	stopGrace = 10 * time.Second
)

// Config holds the endpoints the feed talks to. Zero values select the
// production venue.
type Config struct {
	StreamURL string
	RESTURL   string
}

func (c Config) withDefaults() Config {
	if c.StreamURL == "" {
		c.StreamURL = defaultStreamURL
	}
	if c.RESTURL == "" {
		c.RESTURL = defaultRESTURL
	}
	return c
}

type ringKey struct {
	symbol   string
	interval string
}

// Feed is the market data cache for one trader: bounded kline rings per
// (symbol, interval) plus the latest ticker price per symbol. All reads
// return copies.
type Feed struct {
	mu        sync.Mutex
	rings     map[ringKey]*klineRing
	prices    map[string]float64
	monitored map[string]struct{}
	running   bool

	rest   *restClient
	stream *wsStream
	logger zerolog.Logger
}

func NewFeed(cfg Config, logger zerolog.Logger) *Feed {
	cfg = cfg.withDefaults()

	f := &Feed{
		rings:     make(map[ringKey]*klineRing),
		prices:    make(map[string]float64),
		monitored: make(map[string]struct{}),
		rest:      newRESTClient(cfg.RESTURL, logger),
		stream:    newStream(cfg.StreamURL, logger),
		logger:    logger,
	}
	f.stream.setKlineCallback(f.applyKline)
	f.stream.setTickerCallback(f.applyTicker)
	return f
}

// Start launches the stream worker. Idempotent.
func (f *Feed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	f.stream.start()
	f.logger.Info().Msg("market feed started")
}

// Stop shuts the stream worker down, joining within a bounded grace period.
// Idempotent; cached klines remain readable afterwards.
func (f *Feed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	f.mu.Unlock()

	f.stream.stop(stopGrace)
	f.logger.Info().Msg("market feed stopped")
}

// AddSymbol seeds kline history over REST and subscribes the symbol's kline
// and ticker topics. No-op when already monitored. The symbol only counts as
// monitored once both steps succeed; on any failure the caller still has
// REST available through the exchange adapter.
func (f *Feed) AddSymbol(ctx context.Context, symbol string, intervals []string) error {
	sym := exchange.Normalize(symbol)

	f.mu.Lock()
	if _, ok := f.monitored[sym]; ok {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	if len(intervals) == 0 {
		intervals = Intervals()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, addSymbolTimeout)
		defer cancel()
	}

	seeded := make(map[string][]Kline, len(intervals))
	for _, interval := range intervals {
		klines, err := f.rest.klines(ctx, sym, interval, seedLimit)
		if err != nil {
			return fmt.Errorf("seed %s %s: %w", sym, interval, err)
		}
		seeded[interval] = klines
	}

	topics := make([]string, 0, len(intervals)+1)
	for _, interval := range intervals {
		topics = append(topics, exchange.StreamSymbol(sym)+"@kline_"+interval)
	}
	topics = append(topics, exchange.StreamSymbol(sym)+"@ticker")
	if err := f.stream.subscribe(ctx, topics); err != nil {
		return fmt.Errorf("subscribe %s: %w", sym, err)
	}

	f.mu.Lock()
	for interval, klines := range seeded {
		r := newKlineRing()
		r.seed(klines)
		f.rings[ringKey{symbol: sym, interval: interval}] = r
	}
	f.monitored[sym] = struct{}{}
	f.mu.Unlock()

	f.logger.Info().Str("symbol", sym).Strs("intervals", intervals).Msg("symbol monitored")
	return nil
}

// RemoveSymbol unsubscribes the symbol and drops every cache entry for it.
func (f *Feed) RemoveSymbol(symbol string) {
	sym := exchange.Normalize(symbol)

	f.mu.Lock()
	topics := make([]string, 0, 3)
	for key := range f.rings {
		if key.symbol == sym {
			topics = append(topics, exchange.StreamSymbol(sym)+"@kline_"+key.interval)
			delete(f.rings, key)
		}
	}
	if _, ok := f.monitored[sym]; ok {
		topics = append(topics, exchange.StreamSymbol(sym)+"@ticker")
		delete(f.monitored, sym)
	}
	delete(f.prices, sym)
	f.mu.Unlock()

	f.stream.unsubscribe(topics)
	f.logger.Info().Str("symbol", sym).Msg("symbol dropped")
}

// GetKlines returns up to limit most recent klines as a copy. limit <= 0
// means everything cached.
func (f *Feed) GetKlines(symbol, interval string, limit int) []Kline {
	sym := exchange.Normalize(symbol)

	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rings[ringKey{symbol: sym, interval: interval}]
	if !ok {
		return nil
	}
	return r.snapshot(limit)
}

// GetLatestPrice returns the last ticker price, if one has arrived.
func (f *Feed) GetLatestPrice(symbol string) (float64, bool) {
	sym := exchange.Normalize(symbol)

	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[sym]
	return price, ok
}

// IsMonitoring reports whether AddSymbol fully succeeded for the symbol.
func (f *Feed) IsMonitoring(symbol string) bool {
	sym := exchange.Normalize(symbol)

	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.monitored[sym]
	return ok
}

// Monitored returns the monitored symbols in sorted order.
func (f *Feed) Monitored() []string {
	f.mu.Lock()
	symbols := make([]string, 0, len(f.monitored))
	for sym := range f.monitored {
		symbols = append(symbols, sym)
	}
	f.mu.Unlock()

	sort.Strings(symbols)
	return symbols
}

// FetchKlines pulls klines straight from REST, bypassing the cache. Used
// for symbols that are not monitored, where the rings hold nothing.
func (f *Feed) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	return f.rest.klines(ctx, symbol, interval, limit)
}

// StreamHealthy reports whether the stream worker holds a live connection.
// False means the pipeline is running on REST alone.
func (f *Feed) StreamHealthy() bool {
	return f.stream.healthy()
}

// PerpetualUniverse lists the venue's actively trading USDT perpetuals.
func (f *Feed) PerpetualUniverse(ctx context.Context) ([]string, error) {
	return f.rest.perpetualUniverse(ctx)
}

// applyKline folds a closed stream bar into its ring. Rings are created by
// seeding only, so a bar for an unknown (symbol, interval) is a late message
// for something already dropped and is ignored.
func (f *Feed) applyKline(symbol, interval string, k Kline) {
	sym := exchange.Normalize(symbol)

	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rings[ringKey{symbol: sym, interval: interval}]
	if !ok {
		return
	}
	r.upsert(k)
}

func (f *Feed) applyTicker(symbol string, price float64) {
	sym := exchange.Normalize(symbol)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.monitored[sym]; !ok {
		return
	}
	f.prices[sym] = price
}
