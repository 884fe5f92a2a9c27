package market

import (
	"context"
	"sync"
	"sync/atomic"

	"ai-futures-trader/internal/exchange"
)

const (
	preloadWorkers  = 5
	preloadLimit    = 100
	preloadLogEvery = 50
)

// PreloadHistory seeds kline rings for a large symbol set, typically the
// screener universe, and attaches their kline streams so the cache stays
// fresh without further REST traffic. Preloaded symbols do not count as
// monitored: no ticker subscription, no seeding guarantee per symbol.
// Per-symbol failures are tolerated; the screener simply skips symbols with
// thin history.
func (f *Feed) PreloadHistory(ctx context.Context, symbols []string, intervals []string) error {
	if len(intervals) == 0 {
		intervals = Intervals()
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	var done atomic.Int64

	for i := 0; i < preloadWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				f.preloadSymbol(ctx, sym, intervals)
				if n := done.Add(1); n%preloadLogEvery == 0 {
					f.logger.Info().
						Int64("done", n).
						Int("total", len(symbols)).
						Msg("history preload progress")
				}
			}
		}()
	}

	for _, sym := range symbols {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		case jobs <- sym:
		}
	}
	close(jobs)
	wg.Wait()

	f.logger.Info().Int64("done", done.Load()).Msg("history preload complete")
	return nil
}

func (f *Feed) preloadSymbol(ctx context.Context, symbol string, intervals []string) {
	sym := exchange.Normalize(symbol)

	topics := make([]string, 0, len(intervals))
	for _, interval := range intervals {
		klines, err := f.rest.klines(ctx, sym, interval, preloadLimit)
		if err != nil {
			f.logger.Warn().Err(err).Str("symbol", sym).Str("interval", interval).
				Msg("history preload fetch failed")
			continue
		}

		f.mu.Lock()
		r := newKlineRing()
		r.seed(klines)
		f.rings[ringKey{symbol: sym, interval: interval}] = r
		f.mu.Unlock()

		topics = append(topics, exchange.StreamSymbol(sym)+"@kline_"+interval)
	}

	if err := f.stream.subscribe(ctx, topics); err != nil {
		f.logger.Debug().Err(err).Str("symbol", sym).Msg("history preload subscribe failed")
	}
}
