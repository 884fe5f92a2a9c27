package api

import (
	"sync"

	"ai-futures-trader/internal/events"
)

const eventLogCapacity = 200

// eventLog keeps the most recent bus events for the monitoring surface.
type eventLog struct {
	mu       sync.Mutex
	entries  []events.Event
	capacity int
}

func newEventLog(bus *events.EventBus, capacity int) *eventLog {
	l := &eventLog{capacity: capacity}
	if bus != nil {
		bus.SubscribeAll(l.record)
	}
	return l
}

func (l *eventLog) record(event events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, event)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
}

// recent returns up to limit events, newest last.
func (l *eventLog) recent(limit int) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]events.Event, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}
