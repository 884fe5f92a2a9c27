package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/signalfeed"
)

// FeedFetcher is the upstream the cache falls back to.
type FeedFetcher interface {
	FetchCoinPool(ctx context.Context, url string) ([]string, error)
	FetchOITop(ctx context.Context, url string) ([]signalfeed.OIEntry, error)
}

// FeedCache is a cache-aside layer over the external signal feeds.
// Several traders usually point at the same feed URLs, so one scan's
// fetch serves the others for the TTL window.
type FeedCache struct {
	cache   *CacheService
	fetcher FeedFetcher
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewFeedCache creates a feed cache. A zero ttl uses DefaultFeedTTL.
func NewFeedCache(cache *CacheService, fetcher FeedFetcher, ttl time.Duration, logger zerolog.Logger) *FeedCache {
	if ttl <= 0 {
		ttl = DefaultFeedTTL
	}
	return &FeedCache{cache: cache, fetcher: fetcher, ttl: ttl, logger: logger}
}

// FetchCoinPool returns the cached candidate list for a URL, fetching
// and filling the cache on miss.
func (fc *FeedCache) FetchCoinPool(ctx context.Context, url string) ([]string, error) {
	key := fmt.Sprintf(PrefixCoinPool, urlKey(url))

	if fc.cache.IsHealthy() {
		var symbols []string
		if err := fc.cache.GetJSON(ctx, key, &symbols); err == nil {
			return symbols, nil
		}
	}

	symbols, err := fc.fetcher.FetchCoinPool(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := fc.cache.SetJSON(ctx, key, symbols, fc.ttl); err != nil {
		fc.logger.Debug().Err(err).Msg("coin pool cache fill skipped")
	}
	return symbols, nil
}

// FetchOITop returns the cached open-interest movers for a URL, fetching
// and filling the cache on miss.
func (fc *FeedCache) FetchOITop(ctx context.Context, url string) ([]signalfeed.OIEntry, error) {
	key := fmt.Sprintf(PrefixOITop, urlKey(url))

	if fc.cache.IsHealthy() {
		var entries []signalfeed.OIEntry
		if err := fc.cache.GetJSON(ctx, key, &entries); err == nil {
			return entries, nil
		}
	}

	entries, err := fc.fetcher.FetchOITop(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := fc.cache.SetJSON(ctx, key, entries, fc.ttl); err != nil {
		fc.logger.Debug().Err(err).Msg("oi top cache fill skipped")
	}
	return entries, nil
}

// urlKey hashes feed URLs so they are safe and short as key segments.
func urlKey(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}
