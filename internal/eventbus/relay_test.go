/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld/internal/events"
)

type fakeOutbound struct {
	mu     sync.Mutex
	sent   []events.Payload
	closed bool
}

func (f *fakeOutbound) Forward(_ events.EventType, payload events.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeOutbound) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeOutbound) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// A transport may start receiving before its constructor returns, so
// delivery has to work on a relay whose transport is not attached yet.
func TestDeliverBeforeStart(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(events.EventBookingApproved)
	relay := NewRelay(bus, "node-a", zerolog.Nop())

	relay.Deliver(events.EventBookingApproved, events.Payload{
		"event":      string(events.EventBookingApproved),
		"booking_id": "b1",
		"node_id":    "node-b",
	})

	select {
	case payload := <-sub:
		if payload["booking_id"] != "b1" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered event")
	}

	out := &fakeOutbound{}
	relay.Start(out)
	if err := relay.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !out.closed {
		t.Fatal("transport not closed")
	}
}

func TestCloseWithoutStart(t *testing.T) {
	relay := NewRelay(events.NewBus(), "node-a", zerolog.Nop())
	if err := relay.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRelayForwardsLocalEvents(t *testing.T) {
	bus := events.NewBus()
	relay := NewRelay(bus, "node-a", zerolog.Nop())
	out := &fakeOutbound{}
	relay.Start(out)
	defer relay.Close()

	bus.Publish(events.EventBookingApproved, events.Payload{
		"event":      string(events.EventBookingApproved),
		"booking_id": "b1",
	})

	deadline := time.After(time.Second)
	for out.sentCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("local event never forwarded")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRelaySkipsRemoteEcho(t *testing.T) {
	bus := events.NewBus()
	relay := NewRelay(bus, "node-a", zerolog.Nop())
	out := &fakeOutbound{}
	relay.Start(out)

	// A remote event injected onto the local bus must not bounce back
	// out through the transport.
	relay.Deliver(events.EventBookingApproved, events.Payload{
		"event":      string(events.EventBookingApproved),
		"booking_id": "b1",
		"node_id":    "node-b",
	})

	// Close drains the subscription, so anything forwarded is in
	// out.sent by the time it returns.
	if err := relay.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := out.sentCount(); n != 0 {
		t.Fatalf("forwarded %d remote events, want 0", n)
	}
}
