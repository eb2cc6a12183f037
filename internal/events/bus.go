// Package events provides the in-process event bus the core uses to announce
// trading activity to logging/persistence collaborators. Delivery is
// fire-and-forget; publishers never block on or depend on subscribers.
package events

import (
	"sync"
	"time"
)

// EventType represents the kinds of events the core emits.
type EventType string

const (
	EventSignalGenerated   EventType = "SIGNAL_GENERATED"
	EventTradeOpened       EventType = "TRADE_OPENED"
	EventTradeClosed       EventType = "TRADE_CLOSED"
	EventTradeRejected     EventType = "TRADE_REJECTED"
	EventRiskHaltActivated EventType = "RISK_HALT_ACTIVATED"
	EventRiskHaltResumed   EventType = "RISK_HALT_RESUMED"
	EventDailyReset        EventType = "DAILY_RESET"
	EventBotStarted        EventType = "BOT_STARTED"
	EventBotStopped        EventType = "BOT_STOPPED"
)

// Event is a single bus message.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles events.
type Subscriber func(Event)

// Bus manages event publishing and subscriptions.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type.
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for every event.
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Each subscriber runs in its own
// goroutine so a slow consumer cannot stall the trading tick.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishSignal publishes a signal-generated event.
func (b *Bus) PublishSignal(pair, direction, indicator string, strength, price float64) {
	b.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"pair":      pair,
			"direction": direction,
			"indicator": indicator,
			"strength":  strength,
			"price":     price,
		},
	})
}

// PublishTradeOpened publishes a trade-opened event.
func (b *Bus) PublishTradeOpened(id, pair, direction string, size, fillPrice float64) {
	b.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"id":         id,
			"pair":       pair,
			"direction":  direction,
			"size":       size,
			"fill_price": fillPrice,
		},
	})
}

// PublishTradeClosed publishes a trade-closed event carrying the full trade
// record so persistence subscribers do not need to query back into the core.
func (b *Bus) PublishTradeClosed(trade interface{}) {
	b.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"trade": trade,
		},
	})
}

// PublishHalt publishes a risk-halt-activated event.
func (b *Bus) PublishHalt(reason string) {
	b.Publish(Event{
		Type: EventRiskHaltActivated,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishResume publishes a risk-halt-resumed event.
func (b *Bus) PublishResume() {
	b.Publish(Event{Type: EventRiskHaltResumed, Data: map[string]interface{}{}})
}

// PublishDailyReset publishes a daily-reset event.
func (b *Bus) PublishDailyReset(date string) {
	b.Publish(Event{
		Type: EventDailyReset,
		Data: map[string]interface{}{
			"date": date,
		},
	})
}
