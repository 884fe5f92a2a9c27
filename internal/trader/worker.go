// Package trader runs the autonomous traders: a Supervisor loads trader
// configurations from the store and manages one Worker per trader, and each
// Worker drives its own market feed, optional symbol screener and decision
// pipeline on a fixed scan cadence.
package trader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/events"
	"ai-futures-trader/internal/exchange"
	"ai-futures-trader/internal/feature"
	"ai-futures-trader/internal/market"
	"ai-futures-trader/internal/pipeline"
	"ai-futures-trader/internal/screener"
)

// MarketFeed is the slice of the market feed a worker drives directly; the
// pipeline sees the narrower MarketSource view of the same object.
type MarketFeed interface {
	pipeline.MarketSource
	Start()
	Stop()
	Monitored() []string
	StreamHealthy() bool
	PerpetualUniverse(ctx context.Context) ([]string, error)
	PreloadHistory(ctx context.Context, symbols []string, intervals []string) error
}

// Screen is the slice of the symbol screener a worker manages.
type Screen interface {
	pipeline.SymbolScreen
	Start()
	Stop()
	SetUniverse(symbols []string)
}

type scanRunner interface {
	Run(ctx context.Context, state *pipeline.State) error
}

// Deps are a worker's collaborators. Feed and Screen are optional overrides;
// when nil the worker builds the real market feed and, if the trader has the
// screener enabled, the real symbol filter over it.
type Deps struct {
	Adapter    exchange.Adapter
	LLM        pipeline.LLMClient
	Store      pipeline.Store
	Candidates pipeline.CandidateFeed
	Bus        *events.EventBus

	Feed   MarketFeed
	Screen Screen
}

// Status is a point-in-time snapshot of one worker, shaped for the admin API.
type Status struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	IsRunning           bool      `json:"is_running"`
	ScanIntervalMinutes int       `json:"scan_interval_minutes"`
	ScanCount           int       `json:"scan_count"`
	RuntimeMinutes      int       `json:"runtime_minutes"`
	LastScanAt          time.Time `json:"last_scan_at"`
	LastError           string    `json:"last_error,omitempty"`
	StreamHealthy       bool      `json:"stream_healthy"`
	ScreenActive        bool      `json:"screen_active"`
}

// Worker owns one trader's runtime: its market feed, optional screener and
// the scan loop that drives the decision pipeline. Exactly one scan runs at
// a time; the loop schedules the next pass only after the current one ends.
type Worker struct {
	cfg        Config
	feed       MarketFeed
	screen     Screen
	pipe       scanRunner
	bus        *events.EventBus
	errorPause time.Duration

	mu         sync.Mutex
	isRunning  bool
	stopChan   chan struct{}
	doneChan   chan struct{}
	cancelScan context.CancelFunc
	startedAt  time.Time
	scanCount  int
	lastScanAt time.Time
	lastError  string

	logger zerolog.Logger
}

// NewWorker assembles a worker and its pipeline from one trader's config.
func NewWorker(cfg Config, deps Deps, logger zerolog.Logger) *Worker {
	feed := deps.Feed
	if feed == nil {
		feed = market.NewFeed(market.Config{}, logger)
	}

	engine := feature.NewEngine(deps.Adapter, logger)

	var screen Screen
	if cfg.UseInsideCoins {
		screen = deps.Screen
		if screen == nil {
			// Universe arrives later, once the venue's perpetual list has
			// been fetched and preloaded in the background.
			screen = screener.NewFilter(feed, engine, nil, logger)
		}
	}

	pdeps := pipeline.Deps{
		Feed:       feed,
		Adapter:    deps.Adapter,
		Engine:     engine,
		Screen:     screen,
		Candidates: deps.Candidates,
		LLM:        deps.LLM,
		Store:      deps.Store,
		Bus:        deps.Bus,
	}

	return &Worker{
		cfg:        cfg,
		feed:       feed,
		screen:     screen,
		pipe:       pipeline.New(cfg.pipelineConfig(), pdeps, logger),
		bus:        deps.Bus,
		errorPause: scanErrorPause,
		logger:     logger,
	}
}

// ID returns the trader's store identifier.
func (w *Worker) ID() string { return w.cfg.ID }

// Name returns the trader's display name.
func (w *Worker) Name() string { return w.cfg.Name }

// Start launches the market feed, the optional screener bootstrap and the
// scan loop. Idempotent.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = true
	w.stopChan = make(chan struct{})
	w.doneChan = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	w.cancelScan = cancel
	w.startedAt = time.Now()
	w.scanCount = 0
	w.lastError = ""
	stop := w.stopChan
	done := w.doneChan
	w.mu.Unlock()

	w.feed.Start()
	if w.screen != nil {
		go w.initScreen(ctx)
	}
	go w.scanLoop(ctx, stop, done)

	w.logger.Info().
		Str("name", w.cfg.Name).
		Dur("scan_interval", w.cfg.ScanInterval).
		Bool("coin_pool", w.cfg.UseCoinPool).
		Bool("oi_top", w.cfg.UseOITop).
		Bool("inside_coins", w.cfg.UseInsideCoins).
		Msg("trader started")
}

// Stop signals the loops, stops the screener and the feed, and joins the
// scan goroutine within a bounded grace period. Idempotent.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	close(w.stopChan)
	w.cancelScan()
	done := w.doneChan
	w.mu.Unlock()

	if w.screen != nil {
		w.screen.Stop()
	}

	select {
	case <-done:
	case <-time.After(stopJoinGrace):
		w.logger.Warn().Msg("scan loop did not exit within grace period")
	}

	w.feed.Stop()
	w.logger.Info().Str("name", w.cfg.Name).Msg("trader stopped")
}

// IsRunning reports whether the scan loop is active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunning
}

// Status snapshots the worker for the admin surface.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := Status{
		ID:                  w.cfg.ID,
		Name:                w.cfg.Name,
		IsRunning:           w.isRunning,
		ScanIntervalMinutes: int(w.cfg.ScanInterval / time.Minute),
		ScanCount:           w.scanCount,
		LastScanAt:          w.lastScanAt,
		LastError:           w.lastError,
		StreamHealthy:       w.feed.StreamHealthy(),
	}
	if w.isRunning {
		st.RuntimeMinutes = int(time.Since(w.startedAt).Minutes())
	}
	if w.screen != nil {
		st.ScreenActive = w.screen.IsRunning()
	}
	return st
}

// initScreen fetches the venue's perpetual universe, preloads its kline
// history into the feed and only then starts the screener, so its first
// refresh scores real data. Runs in the background; a stopped worker never
// leaves the screener running.
func (w *Worker) initScreen(ctx context.Context) {
	universe, err := w.feed.PerpetualUniverse(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("screener universe unavailable, screener stays off")
		return
	}

	w.logger.Info().Int("symbols", len(universe)).Msg("preloading screener history")
	if err := w.feed.PreloadHistory(ctx, universe, market.Intervals()); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.logger.Warn().Err(err).Msg("screener history preload incomplete")
	}

	// Start under the worker lock so a concurrent Stop either sees the
	// screener running and stops it, or prevents the start entirely.
	w.mu.Lock()
	if w.isRunning {
		w.screen.SetUniverse(universe)
		w.screen.Start()
	}
	w.mu.Unlock()
}

// scanLoop runs one pipeline pass per interval. The first pass starts
// immediately; each subsequent deadline is scheduled after the previous pass
// ends, so passes never overlap. A failed pass pauses the loop briefly
// instead of killing it.
func (w *Worker) scanLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	next := time.Now()
	for {
		if wait := time.Until(next); wait > 0 {
			select {
			case <-stop:
				return
			case <-time.After(wait):
			}
		}
		select {
		case <-stop:
			return
		default:
		}

		if err := w.scanOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error().Err(err).Msg("scan failed")
			select {
			case <-stop:
				return
			case <-time.After(w.errorPause):
			}
		}

		next = time.Now().Add(w.cfg.ScanInterval)
	}
}

func (w *Worker) scanOnce(ctx context.Context) error {
	w.mu.Lock()
	w.scanCount++
	scanNo := w.scanCount
	runtimeMinutes := int(time.Since(w.startedAt).Minutes())
	w.mu.Unlock()

	state := pipeline.NewState(w.cfg.ID, runtimeMinutes, scanNo)
	if w.bus != nil {
		w.bus.PublishScanStarted(w.cfg.ID, state.ScanID)
	}

	started := time.Now()
	err := w.pipe.Run(ctx, state)
	elapsed := time.Since(started)

	w.mu.Lock()
	w.lastScanAt = time.Now()
	if err != nil && !errors.Is(err, context.Canceled) {
		w.lastError = err.Error()
	} else if err == nil {
		w.lastError = ""
	}
	w.mu.Unlock()

	if err != nil {
		return err
	}

	decisions := 0
	if state.AIDecision != nil {
		decisions = len(state.AIDecision.Decisions)
	}
	w.logger.Info().
		Str("scan_id", state.ScanID).
		Int("scan", scanNo).
		Int("candidates", len(state.CandidateSymbols)).
		Int("positions", len(state.Positions)).
		Int("analyzed", len(state.SignalData)).
		Int("decisions", decisions).
		Int("rejected", len(state.ValidationErrors)).
		Bool("risk_approved", state.RiskApproved).
		Dur("elapsed", elapsed).
		Msg("scan complete")
	if w.bus != nil {
		w.bus.PublishScanCompleted(w.cfg.ID, state.ScanID, len(state.AllSymbols), decisions, elapsed)
	}
	return nil
}
