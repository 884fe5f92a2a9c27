// Package screener maintains the rolling Top-N list of the most tradeable
// symbols. A background worker rescores the universe every minute from
// cached klines only, so a full refresh costs no REST calls.
package screener

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/feature"
	"ai-futures-trader/internal/market"
)

const (
	refreshInterval = time.Minute
	topN            = 20
	scoreKlineLimit = 100
	stopJoinGrace   = 10 * time.Second
)

// KlineSource is the slice of the market feed the screener reads.
type KlineSource interface {
	GetKlines(symbol, interval string, limit int) []market.Kline
	Monitored() []string
}

// Filter publishes the current Top-N under a mutex; reads get a copy.
type Filter struct {
	mu       sync.Mutex
	filtered []string

	feed     KlineSource
	engine   *feature.Engine
	universe []string

	isRunning bool
	stopChan  chan struct{}
	doneChan  chan struct{}

	logger zerolog.Logger
}

// NewFilter builds a screener over a fixed universe, typically the venue's
// active USDT perpetuals. An empty universe falls back to whatever the feed
// currently monitors.
func NewFilter(feed KlineSource, engine *feature.Engine, universe []string, logger zerolog.Logger) *Filter {
	return &Filter{
		feed:     feed,
		engine:   engine,
		universe: universe,
		logger:   logger,
	}
}

// Start launches the background refresh loop. Idempotent.
func (f *Filter) Start() {
	f.mu.Lock()
	if f.isRunning {
		f.mu.Unlock()
		return
	}
	f.isRunning = true
	f.stopChan = make(chan struct{})
	f.doneChan = make(chan struct{})
	stop := f.stopChan
	done := f.doneChan
	size := len(f.universe)
	f.mu.Unlock()

	go f.loop(stop, done)
	f.logger.Info().Int("universe", size).Msg("symbol screener started")
}

// Stop signals the loop and joins it within a bounded grace period.
// Idempotent.
func (f *Filter) Stop() {
	f.mu.Lock()
	if !f.isRunning {
		f.mu.Unlock()
		return
	}
	f.isRunning = false
	close(f.stopChan)
	done := f.doneChan
	f.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopJoinGrace):
		f.logger.Warn().Msg("screener loop did not exit within grace period")
	}
	f.logger.Info().Msg("symbol screener stopped")
}

// IsRunning reports whether the refresh loop is active.
func (f *Filter) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isRunning
}

// SetUniverse replaces the scored universe. Safe to call while the loop is
// running; the next refresh picks it up.
func (f *Filter) SetUniverse(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.universe = symbols
}

// FilteredSymbols returns a copy of the last published Top-N. Empty until
// the first refresh completes.
func (f *Filter) FilteredSymbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.filtered))
	copy(out, f.filtered)
	return out
}

func (f *Filter) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		f.refresh()
		select {
		case <-stop:
			return
		case <-time.After(refreshInterval):
		}
	}
}

// refresh scores the whole universe from cached klines and publishes the
// Top-N. Symbols with thin history are skipped silently; ties keep their
// first-seen universe order.
func (f *Filter) refresh() {
	f.mu.Lock()
	universe := f.universe
	f.mu.Unlock()
	if len(universe) == 0 {
		universe = f.feed.Monitored()
	}
	if len(universe) == 0 {
		f.logger.Warn().Msg("no symbols to score")
	}

	scored := make([]ScoredSymbol, 0, len(universe))
	for _, symbol := range universe {
		klinesShort := f.feed.GetKlines(symbol, market.IntervalShort, scoreKlineLimit)
		klinesLong := f.feed.GetKlines(symbol, market.IntervalLong, scoreKlineLimit)

		feat := f.engine.Calculate(context.Background(), symbol, klinesShort, klinesLong, true)
		if feat == nil {
			continue
		}
		scored = append(scored, ScoredSymbol{Symbol: symbol, Score: Score(feat)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	n := topN
	if n > len(scored) {
		n = len(scored)
	}
	top := make([]string, n)
	for i := 0; i < n; i++ {
		top[i] = scored[i].Symbol
	}

	f.mu.Lock()
	f.filtered = top
	f.mu.Unlock()

	f.logger.Info().Int("scored", len(scored)).Int("selected", n).Msg("symbol screen refreshed")
}
