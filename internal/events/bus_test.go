/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"
	"testing"
	"time"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventBookingApproved)

	bus.Publish(EventBookingApproved, Payload{"booking_id": "b1"})

	select {
	case payload := <-sub:
		if payload["booking_id"] != "b1" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishSkipsOtherEventTypes(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventBookingCancelled)

	bus.Publish(EventBookingApproved, Payload{"booking_id": "b1"})

	select {
	case payload := <-sub:
		t.Fatalf("received unrelated event: %v", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAllReceivesEveryType(t *testing.T) {
	bus := NewBus()
	sub := bus.SubscribeAll(EventBookingApproved, EventBookingCancelled)

	bus.Publish(EventBookingApproved, Payload{"n": 1})
	bus.Publish(EventBookingCancelled, Payload{"n": 2})

	for i := 0; i < 2; i++ {
		select {
		case <-sub:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventBookingApproved)
	bus.Unsubscribe(sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(EventBookingApproved, Payload{})
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub := bus.Subscribe(EventBookingApproved)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				bus.Publish(EventBookingApproved, Payload{"n": j})
			}
		}()
		go func(s Subscriber) {
			defer wg.Done()
			bus.Unsubscribe(s)
		}(sub)
	}
	wg.Wait()
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(EventBookingApproved) // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(EventBookingApproved, Payload{"n": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on saturated subscriber")
	}
}
