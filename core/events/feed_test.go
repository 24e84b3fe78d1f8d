package events

import (
	"fmt"
	"testing"
)

func testEvent(i int) *Payload {
	return &Payload{Type: fmt.Sprintf("test.%d", i)}
}

func TestFeedDeliversInOrder(t *testing.T) {
	feed := NewFeed(16)
	ch, backlog, cancel := feed.Subscribe(8)
	defer cancel()
	if len(backlog) != 0 {
		t.Fatalf("fresh feed has backlog %v", backlog)
	}
	for i := 0; i < 3; i++ {
		feed.Emit(testEvent(i))
	}
	for i := 0; i < 3; i++ {
		evt := <-ch
		if evt.EventType() != fmt.Sprintf("test.%d", i) {
			t.Fatalf("event %d = %s", i, evt.EventType())
		}
	}
}

func TestFeedBacklogForLateSubscribers(t *testing.T) {
	feed := NewFeed(16)
	for i := 0; i < 5; i++ {
		feed.Emit(testEvent(i))
	}
	_, backlog, cancel := feed.Subscribe(8)
	defer cancel()
	if len(backlog) != 5 {
		t.Fatalf("backlog len = %d, want 5", len(backlog))
	}
	for i, evt := range backlog {
		if evt.EventType() != fmt.Sprintf("test.%d", i) {
			t.Fatalf("backlog[%d] = %s", i, evt.EventType())
		}
	}
}

func TestFeedBacklogBounded(t *testing.T) {
	feed := NewFeed(3)
	for i := 0; i < 10; i++ {
		feed.Emit(testEvent(i))
	}
	_, backlog, cancel := feed.Subscribe(8)
	defer cancel()
	if len(backlog) != 3 {
		t.Fatalf("backlog len = %d, want 3", len(backlog))
	}
	if backlog[0].EventType() != "test.7" || backlog[2].EventType() != "test.9" {
		t.Fatalf("backlog kept wrong window: %v, %v", backlog[0].EventType(), backlog[2].EventType())
	}
}

func TestFeedDropsSlowSubscriber(t *testing.T) {
	feed := NewFeed(16)
	ch, _, cancel := feed.Subscribe(1)
	defer cancel()
	feed.Emit(testEvent(0))
	feed.Emit(testEvent(1)) // buffer full, subscriber dropped

	if evt, ok := <-ch; !ok || evt.EventType() != "test.0" {
		t.Fatalf("first delivery = %v ok=%v", evt, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after overflow")
	}
}

func TestFeedCancelClosesChannel(t *testing.T) {
	feed := NewFeed(16)
	ch, _, cancel := feed.Subscribe(8)
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}
	cancel() // idempotent
	feed.Emit(testEvent(0))
}
