/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors the in-process event bus across nodes over
// Redis pub/sub or NATS. Each node publishes locally as usual; the
// relay forwards local events outward and injects remote events back
// into the local bus, tagged with their origin so they are never
// forwarded twice.
package eventbus

import (
	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld/internal/events"
)

// Outbound is a transport that carries events to other nodes.
type Outbound interface {
	// Forward sends a locally-produced event to remote nodes.
	Forward(eventType events.EventType, payload events.Payload) error
	// Close tears the transport down.
	Close() error
}

// DeliverFunc hands a remote event to the local bus.
type DeliverFunc func(eventType events.EventType, payload events.Payload)

// relayedEvents is everything worth mirroring across nodes.
var relayedEvents = append([]events.EventType{
	events.EventResourceCreated,
	events.EventResourceUpdated,
	events.EventResourceDeleted,
}, events.AllBookingEvents...)

// Relay bridges one local bus to an outbound transport.
type Relay struct {
	bus    *events.Bus
	out    Outbound
	nodeID string
	sub    events.Subscriber
	logger zerolog.Logger
	done   chan struct{}
}

// NewRelay prepares a relay for the local bus. Deliver works
// immediately, so the relay can be handed to a transport that starts
// receiving remote events while it is still connecting; forwarding of
// local events begins only once Start attaches the transport. nodeID
// must be unique per process; it is how echoes are detected.
func NewRelay(bus *events.Bus, nodeID string, logger zerolog.Logger) *Relay {
	return &Relay{
		bus:    bus,
		nodeID: nodeID,
		logger: logger.With().Str("component", "eventbus").Logger(),
		done:   make(chan struct{}),
	}
}

// Start attaches the outbound transport and begins mirroring local
// events through it.
func (r *Relay) Start(out Outbound) {
	r.out = out
	r.sub = r.bus.SubscribeAll(relayedEvents...)
	go r.run()
}

// Deliver publishes a remote event onto the local bus. The origin
// node ID stays on the payload so run() will not bounce it back out.
func (r *Relay) Deliver(eventType events.EventType, payload events.Payload) {
	r.bus.Publish(eventType, payload)
}

func (r *Relay) run() {
	defer close(r.done)
	for payload := range r.sub {
		// Skip events injected from other nodes.
		if origin, ok := payload["node_id"].(string); ok && origin != r.nodeID {
			continue
		}

		name, _ := payload["event"].(string)
		if name == "" {
			continue
		}

		if err := r.out.Forward(events.EventType(name), payload); err != nil {
			r.logger.Warn().Err(err).Str("event", name).Msg("failed to forward event")
		}
	}
}

// Close stops the relay and its transport. A relay that was never
// started closes cleanly.
func (r *Relay) Close() error {
	if r.out == nil {
		return nil
	}
	r.bus.Unsubscribe(r.sub)
	<-r.done
	return r.out.Close()
}
