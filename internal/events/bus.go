package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTraderStarted      EventType = "TRADER_STARTED"
	EventTraderStopped      EventType = "TRADER_STOPPED"
	EventScanStarted        EventType = "SCAN_STARTED"
	EventScanCompleted      EventType = "SCAN_COMPLETED"
	EventDecisionMade       EventType = "DECISION_MADE"
	EventDecisionRejected   EventType = "DECISION_REJECTED"
	EventOrderRecorded      EventType = "ORDER_RECORDED"
	EventStreamConnected    EventType = "STREAM_CONNECTED"
	EventStreamDisconnected EventType = "STREAM_DISCONNECTED"
	EventScreenerUpdate     EventType = "SCREENER_UPDATE"
	EventError              EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTraderStarted publishes a trader started event
func (eb *EventBus) PublishTraderStarted(traderID, name string) {
	eb.Publish(Event{
		Type: EventTraderStarted,
		Data: map[string]interface{}{
			"trader_id": traderID,
			"name":      name,
		},
	})
}

// PublishTraderStopped publishes a trader stopped event
func (eb *EventBus) PublishTraderStopped(traderID, name string) {
	eb.Publish(Event{
		Type: EventTraderStopped,
		Data: map[string]interface{}{
			"trader_id": traderID,
			"name":      name,
		},
	})
}

// PublishScanStarted publishes a scan started event
func (eb *EventBus) PublishScanStarted(traderID, scanID string) {
	eb.Publish(Event{
		Type: EventScanStarted,
		Data: map[string]interface{}{
			"trader_id": traderID,
			"scan_id":   scanID,
		},
	})
}

// PublishScanCompleted publishes a scan completed event
func (eb *EventBus) PublishScanCompleted(traderID, scanID string, symbols, decisions int, duration time.Duration) {
	eb.Publish(Event{
		Type: EventScanCompleted,
		Data: map[string]interface{}{
			"trader_id":   traderID,
			"scan_id":     scanID,
			"symbols":     symbols,
			"decisions":   decisions,
			"duration_ms": duration.Milliseconds(),
		},
	})
}

// PublishDecisionMade publishes a decision made event
func (eb *EventBus) PublishDecisionMade(traderID, symbol, result string, confidence float64) {
	eb.Publish(Event{
		Type: EventDecisionMade,
		Data: map[string]interface{}{
			"trader_id":  traderID,
			"symbol":     symbol,
			"result":     result,
			"confidence": confidence,
		},
	})
}

// PublishDecisionRejected publishes a risk rejection event
func (eb *EventBus) PublishDecisionRejected(traderID, symbol, reason string) {
	eb.Publish(Event{
		Type: EventDecisionRejected,
		Data: map[string]interface{}{
			"trader_id": traderID,
			"symbol":    symbol,
			"reason":    reason,
		},
	})
}

// PublishOrderRecorded publishes an order recorded event
func (eb *EventBus) PublishOrderRecorded(traderID, symbol, side string, amount, price float64) {
	eb.Publish(Event{
		Type: EventOrderRecorded,
		Data: map[string]interface{}{
			"trader_id": traderID,
			"symbol":    symbol,
			"side":      side,
			"amount":    amount,
			"price":     price,
		},
	})
}

// PublishScreenerUpdate publishes the refreshed symbol ranking
func (eb *EventBus) PublishScreenerUpdate(symbols []string) {
	eb.Publish(Event{
		Type: EventScreenerUpdate,
		Data: map[string]interface{}{
			"symbols": symbols,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
