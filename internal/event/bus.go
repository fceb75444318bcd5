// Package event provides the host event bus.
//
// The bus carries both runtime lifecycle events (plugin:installed,
// plugin:activated, ...) and events emitted by plugins through the host API.
// Delivery is synchronous and best-effort: handlers run in subscription order,
// panics are recovered, and no delivery guarantees are made.
package event

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a single message on the bus.
type Event struct {
	// Topic identifies the event (e.g. "plugin:activated").
	Topic string

	// Plugin is the slug of the plugin the event concerns, if any.
	Plugin string

	// Tenant is the tenant the event concerns, if any.
	Tenant string

	// Data carries event-specific payload.
	Data map[string]any

	// Time is when the event was published.
	Time time.Time
}

// Handler handles an event. Handlers must not call back into the bus's
// Unsubscribe for their own subscription from within the handler.
type Handler func(evt Event)

type subscription struct {
	id      string
	pattern string
	handler Handler
}

// Bus is a synchronous publish/subscribe event bus.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	nextID uint64

	// Stats
	published atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for a topic pattern and returns a
// subscription ID. A pattern is either an exact topic, a prefix pattern
// ending in "*" (e.g. "plugin:*"), or "*" for all events.
func (b *Bus) Subscribe(pattern string, handler Handler) string {
	if handler == nil {
		return ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := "sub-" + strconv.FormatUint(b.nextID, 10)
	b.subs = append(b.subs, &subscription{id: id, pattern: pattern, handler: handler})
	return id
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers an event to all matching subscribers.
// Handlers are called outside the bus lock with panic recovery.
func (b *Bus) Publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	b.published.Add(1)

	// Copy matching handlers under lock
	b.mu.RLock()
	matched := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchTopic(evt.Topic, sub.pattern) {
			matched = append(matched, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		b.deliver(h, evt)
	}
}

// deliver invokes a single handler with panic recovery.
func (b *Bus) deliver(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
		}
	}()
	h(evt)
	b.delivered.Add(1)
}

// matchTopic checks a topic against a subscription pattern.
func matchTopic(topic, pattern string) bool {
	if pattern == "*" || pattern == topic {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(topic, pattern[:len(pattern)-1])
	}
	return false
}

// Stats reports bus counters.
type Stats struct {
	Published     uint64
	Delivered     uint64
	HandlerPanics uint64
	Subscriptions int
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()

	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		HandlerPanics: b.panics.Load(),
		Subscriptions: n,
	}
}
