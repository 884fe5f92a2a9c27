package exchange

import (
	"sync"
	"time"
)

// Binance futures allows 2400 request weight per minute. The limiter tracks
// spent weight per endpoint and opens a circuit after a venue ban response so
// retries do not dig the ban deeper.
const (
	maxWeightPerMinute  = 2400
	circuitBreakerReset = 2 * time.Minute
)

var endpointWeights = map[string]int{
	"/fapi/v2/account":       5,
	"/fapi/v2/positionRisk":  5,
	"/fapi/v1/leverage":      1,
	"/fapi/v1/marginType":    1,
	"/fapi/v1/order":         1,
	"/fapi/v1/allOpenOrders": 1,
	"/fapi/v1/klines":        5,
	"/fapi/v1/ticker/price":  1,
	"/fapi/v1/openInterest":  1,
	"/fapi/v1/premiumIndex":  1,
	"/fapi/v1/exchangeInfo":  1,
}

// rateLimiter tracks Binance weight usage and blocks requests while a
// rate-limit ban is in effect.
type rateLimiter struct {
	mu sync.Mutex

	currentWeight int
	weightResetAt time.Time

	circuitOpen   bool
	circuitOpenAt time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{weightResetAt: time.Now().Add(time.Minute)}
}

// waitForSlot blocks until the endpoint's weight fits in the current window
// or maxWait elapses. Returns false when the request must not be sent.
func (r *rateLimiter) waitForSlot(endpoint string, maxWait time.Duration) bool {
	deadline := time.Now().Add(maxWait)
	for {
		if r.tryAcquire(endpoint) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(250 * time.Millisecond)
	}
}

func (r *rateLimiter) tryAcquire(endpoint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if r.circuitOpen {
		if now.Sub(r.circuitOpenAt) < circuitBreakerReset {
			return false
		}
		r.circuitOpen = false
	}

	if now.After(r.weightResetAt) {
		r.currentWeight = 0
		r.weightResetAt = now.Add(time.Minute)
	}

	weight := endpointWeights[endpoint]
	if weight == 0 {
		weight = 1
	}
	if r.currentWeight+weight > maxWeightPerMinute {
		return false
	}
	r.currentWeight += weight
	return true
}

// updateFromHeaders syncs local tracking with the venue's reported usage.
func (r *rateLimiter) updateFromHeaders(usedWeight int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if usedWeight > r.currentWeight {
		r.currentWeight = usedWeight
	}
}

// recordRateLimitError opens the circuit after a 429/418 response.
func (r *rateLimiter) recordRateLimitError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.circuitOpen = true
	r.circuitOpenAt = time.Now()
}
