// Package events implements the in-process publish step of the
// Unit-of-Work's deferred event buffer (§4.5, §4.11): subscribers are
// invoked at-least-once, after a transaction's successful commit, and must
// themselves be idempotent (search-index refresh and audit persistence
// both are: see pkg/searchindex and pkg/eventlog).
package events

import (
	"sync"

	"github.com/sakganji/datasetd/pkg/model"
)

// Subscriber receives every published event. A panicking subscriber is
// recovered and does not block other subscribers or the publisher.
type Subscriber func(model.Event)

// ErrorHandler is invoked with the recovered value when a subscriber
// panics, if one was registered with OnError; otherwise the panic is
// recovered silently.
type ErrorHandler func(subscriberIndex int, event model.Event, err any)

type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	onError     ErrorHandler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) OnError(h ErrorHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = h
}

func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Publish fans e out to every subscriber synchronously. A subscriber panic
// is recovered so one bad handler cannot take down the publishing
// transaction's caller; R3 requires repeated publishes to be harmless, so
// callers may safely retry a failed Publish.
func (b *Bus) Publish(e model.Event) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	onError := b.onError
	b.mu.RUnlock()

	for i, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil && onError != nil {
					onError(i, e, r)
				}
			}()
			s(e)
		}()
	}
}
