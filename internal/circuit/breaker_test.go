package circuit

import (
	"errors"
	"testing"
	"time"
)

var errProvider = errors.New("provider down")

func testBreaker(failures int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := New(Config{MaxConsecutiveFailures: failures, Cooldown: cooldown})
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }
	return b, &clock
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("Expected closed breaker to allow call %d, got %v", i+1, err)
		}
		b.Record(errProvider)
	}
	if b.CurrentState() != StateClosed {
		t.Fatalf("Expected closed after 2 failures, got %s", b.CurrentState())
	}

	b.Record(errProvider)
	if b.CurrentState() != StateOpen {
		t.Fatalf("Expected open after 3 failures, got %s", b.CurrentState())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen while cooling down, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)

	b.Record(errProvider)
	b.Record(errProvider)
	b.Record(nil)
	b.Record(errProvider)
	b.Record(errProvider)

	if b.CurrentState() != StateClosed {
		t.Errorf("Expected a success to reset the streak, got %s", b.CurrentState())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b, clock := testBreaker(1, time.Minute)

	b.Record(errProvider)
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("Expected ErrOpen right after tripping, got %v", err)
	}

	*clock = clock.Add(time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("Expected a probe after the cooldown, got %v", err)
	}
	if b.CurrentState() != StateHalfOpen {
		t.Fatalf("Expected half-open during the probe, got %s", b.CurrentState())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("Expected only one probe in flight, got %v", err)
	}

	b.Record(nil)
	if b.CurrentState() != StateClosed {
		t.Errorf("Expected a successful probe to close the breaker, got %s", b.CurrentState())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("Expected calls to flow after closing, got %v", err)
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b, clock := testBreaker(1, time.Minute)

	b.Record(errProvider)
	*clock = clock.Add(time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("Expected a probe after the cooldown, got %v", err)
	}

	b.Record(errProvider)
	if b.CurrentState() != StateOpen {
		t.Fatalf("Expected a failed probe to reopen, got %s", b.CurrentState())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("Expected the fresh cooldown to hold, got %v", err)
	}

	*clock = clock.Add(time.Minute)
	if err := b.Allow(); err != nil {
		t.Errorf("Expected another probe after the second cooldown, got %v", err)
	}
}

func TestBreakerDiscardFreesProbeSlot(t *testing.T) {
	b, clock := testBreaker(1, time.Minute)

	b.Record(errProvider)
	*clock = clock.Add(time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("Expected a probe after the cooldown, got %v", err)
	}

	b.Discard()
	if err := b.Allow(); err != nil {
		t.Errorf("Expected the probe slot back after a discard, got %v", err)
	}

	b.Record(nil)
	if b.CurrentState() != StateClosed {
		t.Errorf("Expected the successful probe to close the breaker, got %s", b.CurrentState())
	}
}
