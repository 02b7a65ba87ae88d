package notify

import (
	"testing"
	"time"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while waiting for event")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestSubscribeScopedToSession(t *testing.T) {
	b := NewBroker(nil)
	ch, cancel := b.Subscribe("s1", 4)
	defer cancel()

	b.Publish(Event{Resource: ResourceBalances, Kind: KindUpdate, SessionID: "s2", RowID: "x"})
	b.Publish(Event{Resource: ResourceBalances, Kind: KindUpdate, SessionID: "s1", RowID: "y"})

	ev := recvEvent(t, ch)
	if ev.SessionID != "s1" || ev.RowID != "y" {
		t.Fatalf("received event for wrong session: %+v", ev)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestSubscribeAllReceivesEverySession(t *testing.T) {
	b := NewBroker(nil)
	ch, cancel := b.SubscribeAll(4)
	defer cancel()

	b.Publish(Event{Resource: ResourceSessions, Kind: KindInsert, SessionID: "s1", RowID: "s1"})
	b.Publish(Event{Resource: ResourceSessions, Kind: KindInsert, SessionID: "s2", RowID: "s2"})

	first := recvEvent(t, ch)
	second := recvEvent(t, ch)
	if first.SessionID != "s1" || second.SessionID != "s2" {
		t.Fatalf("unexpected delivery order: %+v then %+v", first, second)
	}
}

func TestCancelClosesChannelAndStopsDelivery(t *testing.T) {
	b := NewBroker(nil)
	ch, cancel := b.Subscribe("s1", 4)

	cancel()
	// Publishing after cancel must neither panic nor deliver.
	b.Publish(Event{Resource: ResourceBalances, Kind: KindUpdate, SessionID: "s1", RowID: "x"})

	if _, ok := <-ch; ok {
		t.Fatalf("received event on canceled subscription")
	}
	// Cancel is idempotent.
	cancel()
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker(nil)
	slow, cancelSlow := b.Subscribe("s1", 1)
	defer cancelSlow()
	fast, cancelFast := b.Subscribe("s1", 4)
	defer cancelFast()

	// The slow subscriber's buffer holds one event; the second is dropped
	// instead of blocking the publisher.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Resource: ResourceBalances, Kind: KindUpdate, SessionID: "s1", RowID: "first"})
		b.Publish(Event{Resource: ResourceBalances, Kind: KindUpdate, SessionID: "s1", RowID: "second"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on slow subscriber")
	}

	if ev := recvEvent(t, fast); ev.RowID != "first" {
		t.Fatalf("fast subscriber missed an event: %+v", ev)
	}
	if ev := recvEvent(t, fast); ev.RowID != "second" {
		t.Fatalf("fast subscriber missed an event: %+v", ev)
	}
	if ev := recvEvent(t, slow); ev.RowID != "first" {
		t.Fatalf("slow subscriber lost the buffered event: %+v", ev)
	}
	select {
	case ev := <-slow:
		t.Fatalf("overflow event was not dropped: %+v", ev)
	default:
	}
}
