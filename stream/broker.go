// Package stream fans orchestration events out to connected SSE clients.
// Delivery is keyed by browser session token and is strictly best effort:
// the engine never blocks on a slow or absent reader.
package stream

import (
	"log/slog"
	"sync"

	"govchat/model"
)

// Buffer big enough to ride out a brief reader stall without backpressure
// on the engine.
const subscriptionBuffer = 64

// Subscription is one live event feed for a session.
type Subscription struct {
	token string
	ch    chan model.Event
}

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan model.Event {
	return s.ch
}

// Broker routes events from turn execution to at most one subscriber per
// session token.
type Broker struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger: logger.With("component", "stream"),
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe registers a feed for the session token. A newer subscription
// supersedes any existing one for the same token: the old channel is closed
// so its reader unblocks, and subsequent events flow to the new feed. This
// is what makes a browser reconnect take over cleanly.
func (b *Broker) Subscribe(token string) *Subscription {
	sub := &Subscription{
		token: token,
		ch:    make(chan model.Event, subscriptionBuffer),
	}

	b.mu.Lock()
	if old, ok := b.subs[token]; ok {
		close(old.ch)
	}
	b.subs[token] = sub
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes the subscription if it is still the current one for
// its token. A stale subscription that was already superseded is left
// alone, so a slow-to-exit old reader cannot tear down its replacement.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.subs[sub.token]; ok && current == sub {
		delete(b.subs, sub.token)
		close(sub.ch)
	}
}

// Publish delivers an event to the session's subscriber, if any. Events
// published with no subscriber, or when the subscriber's buffer is full,
// are dropped; turn execution never waits on delivery.
func (b *Broker) Publish(token string, event model.Event) {
	// The read lock is held across the non-blocking send so a concurrent
	// Subscribe cannot close the channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, ok := b.subs[token]
	if !ok {
		return
	}

	select {
	case sub.ch <- event:
	default:
		b.logger.Warn("dropping event for slow subscriber", "type", event.Type)
	}
}
