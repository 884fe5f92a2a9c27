package trader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/market"
	"ai-futures-trader/internal/pipeline"
)

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", msg)
}

// fakeFeed satisfies MarketFeed without touching the network.
type fakeFeed struct {
	mu          sync.Mutex
	startCalls  int
	stopCalls   int
	preloaded   []string
	universe    []string
	universeErr error
}

func (f *fakeFeed) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
}

func (f *fakeFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
}

func (f *fakeFeed) Monitored() []string { return nil }

func (f *fakeFeed) StreamHealthy() bool { return true }

func (f *fakeFeed) IsMonitoring(string) bool { return false }

func (f *fakeFeed) AddSymbol(ctx context.Context, symbol string, intervals []string) error {
	return nil
}

func (f *fakeFeed) GetKlines(symbol, interval string, limit int) []market.Kline { return nil }
func (f *fakeFeed) GetLatestPrice(symbol string) (float64, bool)               { return 0, false }

func (f *fakeFeed) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error) {
	return nil, nil
}

func (f *fakeFeed) PerpetualUniverse(ctx context.Context) ([]string, error) {
	return f.universe, f.universeErr
}

func (f *fakeFeed) PreloadHistory(ctx context.Context, symbols []string, intervals []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preloaded = append(f.preloaded, symbols...)
	return nil
}

func (f *fakeFeed) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.stopCalls
}

// fakeScanner stands in for the pipeline: it records every state it runs
// and can fail the first N passes.
type fakeScanner struct {
	mu        sync.Mutex
	states    []*pipeline.State
	failFirst int
}

func (f *fakeScanner) Run(ctx context.Context, state *pipeline.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	if len(f.states) <= f.failFirst {
		return errors.New("transient scan failure")
	}
	return nil
}

func (f *fakeScanner) runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states)
}

func (f *fakeScanner) state(i int) *pipeline.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[i]
}

// fakeScreen satisfies Screen and records lifecycle calls.
type fakeScreen struct {
	mu       sync.Mutex
	universe []string
	running  bool
	stops    int
}

func (f *fakeScreen) FilteredSymbols() []string { return nil }

func (f *fakeScreen) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeScreen) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
}

func (f *fakeScreen) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.stops++
}

func (f *fakeScreen) SetUniverse(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.universe = symbols
}

func (f *fakeScreen) gotUniverse() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.universe
}

func testWorker(cfg Config, feed *fakeFeed, screen Screen) (*Worker, *fakeScanner) {
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = 20 * time.Millisecond
	}
	w := NewWorker(cfg, Deps{Feed: feed, Screen: screen}, zerolog.Nop())
	scanner := &fakeScanner{}
	w.pipe = scanner
	w.errorPause = 10 * time.Millisecond
	return w, scanner
}

// ============================================================================
// TEST: Scan Loop
// ============================================================================

func TestWorkerRunsScansOnSchedule(t *testing.T) {
	feed := &fakeFeed{}
	w, scanner := testWorker(Config{ID: "trader-1", Name: "alpha"}, feed, nil)

	w.Start()
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool { return scanner.runs() >= 2 }, "two scans")

	first, second := scanner.state(0), scanner.state(1)
	if first.ScanID == second.ScanID {
		t.Error("Expected a fresh state per scan, got a shared scan ID")
	}
	if first.TraderID != "trader-1" || second.TraderID != "trader-1" {
		t.Errorf("Expected trader-1 on both states, got %s and %s", first.TraderID, second.TraderID)
	}
	if first.CallCount != 1 || second.CallCount != 2 {
		t.Errorf("Expected call counts 1 and 2, got %d and %d", first.CallCount, second.CallCount)
	}

	starts, _ := feed.counts()
	if starts != 1 {
		t.Errorf("Expected the feed started once, got %d", starts)
	}
}

func TestWorkerStartStopIdempotent(t *testing.T) {
	feed := &fakeFeed{}
	w, _ := testWorker(Config{ID: "trader-1"}, feed, nil)

	w.Stop() // stop before start is a no-op

	w.Start()
	w.Start()
	if !w.IsRunning() {
		t.Fatal("Expected the worker to be running")
	}

	w.Stop()
	w.Stop()
	if w.IsRunning() {
		t.Fatal("Expected the worker to be stopped")
	}

	starts, stops := feed.counts()
	if starts != 1 || stops != 1 {
		t.Errorf("Expected one feed start and one stop, got %d and %d", starts, stops)
	}
}

func TestWorkerSurvivesScanErrors(t *testing.T) {
	feed := &fakeFeed{}
	w, scanner := testWorker(Config{ID: "trader-1"}, feed, nil)
	scanner.failFirst = 1

	w.Start()
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool { return scanner.runs() >= 2 }, "a scan after the failure")

	waitFor(t, time.Second, func() bool { return w.Status().LastError == "" }, "last error cleared")
	if got := w.Status().ScanCount; got < 2 {
		t.Errorf("Expected at least 2 scans counted, got %d", got)
	}
}

func TestWorkerStopInterruptsErrorPause(t *testing.T) {
	feed := &fakeFeed{}
	w, scanner := testWorker(Config{ID: "trader-1"}, feed, nil)
	scanner.failFirst = 1 << 30
	w.errorPause = time.Hour

	w.Start()
	waitFor(t, 2*time.Second, func() bool { return scanner.runs() >= 1 }, "the first scan")

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while the loop was pausing after an error")
	}
}

// ============================================================================
// TEST: Screener Bootstrap
// ============================================================================

func TestWorkerBootstrapsScreen(t *testing.T) {
	feed := &fakeFeed{universe: []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}}
	screen := &fakeScreen{}
	w, _ := testWorker(Config{ID: "trader-1", UseInsideCoins: true}, feed, screen)

	w.Start()
	waitFor(t, 2*time.Second, screen.IsRunning, "the screener to start")

	if got := screen.gotUniverse(); len(got) != 3 {
		t.Fatalf("Expected the fetched universe installed, got %v", got)
	}
	feed.mu.Lock()
	preloaded := len(feed.preloaded)
	feed.mu.Unlock()
	if preloaded != 3 {
		t.Errorf("Expected history preloaded for 3 symbols, got %d", preloaded)
	}

	w.Stop()
	if screen.IsRunning() {
		t.Error("Expected the screener stopped with the worker")
	}
}

func TestWorkerSkipsScreenWhenUniverseUnavailable(t *testing.T) {
	feed := &fakeFeed{universeErr: errors.New("venue down")}
	screen := &fakeScreen{}
	w, scanner := testWorker(Config{ID: "trader-1", UseInsideCoins: true}, feed, screen)

	w.Start()
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool { return scanner.runs() >= 1 }, "a scan")
	if screen.IsRunning() {
		t.Error("Expected the screener to stay off without a universe")
	}
}
