/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Booking lifecycle events.
	EventBookingApproved  EventType = "booking.approved"
	EventBookingRejected  EventType = "booking.rejected"
	EventBookingCancelled EventType = "booking.cancelled"
	EventBookingCompleted EventType = "booking.completed"
	EventSweepCompleted   EventType = "sweep.completed"

	// Cache invalidation events.
	EventResourceCreated EventType = "cache.resource_created"
	EventResourceUpdated EventType = "cache.resource_updated"
	EventResourceDeleted EventType = "cache.resource_deleted"
)

// AllBookingEvents lists the lifecycle events subscribers usually want.
var AllBookingEvents = []EventType{
	EventBookingApproved,
	EventBookingRejected,
	EventBookingCancelled,
	EventBookingCompleted,
	EventSweepCompleted,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub. Delivery is best-effort:
// a subscriber with a full channel misses the event rather than
// blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 16)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// SubscribeAll registers one subscriber for several event types at
// once, delivering everything to the same channel.
func (b *Bus) SubscribeAll(eventTypes ...EventType) Subscriber {
	ch := make(Subscriber, 16)
	b.mu.Lock()
	for _, et := range eventTypes {
		b.subs[et] = append(b.subs[et], ch)
	}
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. The read lock is held across
// the fan-out so a concurrent Unsubscribe cannot close a channel
// mid-send; sends are non-blocking, so the lock is never held long.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber from every event type it was
// registered for and closes its channel. The close happens under the
// write lock, after any in-flight Publish has finished its fan-out.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType, subs := range b.subs {
		for i, candidate := range subs {
			if candidate == sub {
				b.subs[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	close(sub)
}
