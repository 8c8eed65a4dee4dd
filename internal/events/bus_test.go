package events

import (
	"sync"
	"testing"
	"time"
)

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Source: SourceTurn, Kind: KindLLMCall})
	b.Emit(SourceSession, KindMessageStart, "s1", "planner", nil)
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestEmitCarriesSessionAndAgent(t *testing.T) {
	b := New()
	ch := b.Subscribe(8)
	defer b.Unsubscribe(ch)

	b.Emit(SourceTurn, KindToolCall, "s1", "tester", map[string]any{"tool": "check_mail"})

	select {
	case got := <-ch:
		if got.SessionID != "s1" || got.AgentID != "tester" {
			t.Errorf("ids = %q/%q, want s1/tester", got.SessionID, got.AgentID)
		}
		if got.Timestamp.IsZero() {
			t.Error("Timestamp should be stamped on publish")
		}
		if got.Data["tool"] != "check_mail" {
			t.Errorf("tool = %v", got.Data["tool"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishKeepsExplicitTimestamp(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b.Publish(Event{Timestamp: ts, Kind: KindToolDone})
	if got := <-ch; !got.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, ts)
	}
}

func TestPublishMultipleSubscribers(t *testing.T) {
	b := New()
	const n = 5
	channels := make([]<-chan Event, n)
	for i := range n {
		channels[i] = b.Subscribe(8)
	}
	defer func() {
		for _, ch := range channels {
			b.Unsubscribe(ch)
		}
	}()

	b.Publish(Event{Source: SourceSession, Kind: KindAgentSwitch})

	for i, ch := range channels {
		select {
		case got := <-ch:
			if got.Kind != KindAgentSwitch {
				t.Errorf("subscriber %d: kind %q", i, got.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for range 10 {
			b.Publish(Event{Kind: KindLLMCall})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if got := len(ch); got != 1 {
		t.Errorf("buffered = %d, want 1", got)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", got)
	}
	b.Publish(Event{Kind: KindSessionClose})
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	const publishers = 10

	ch := b.Subscribe(64)
	var drain sync.WaitGroup
	drain.Add(1)
	go func() {
		defer drain.Done()
		for range ch {
		}
	}()

	var wg sync.WaitGroup
	for i := range publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				b.Emit(SourceTurn, KindToolCall, "s", "a", map[string]any{"publisher": i, "seq": j})
			}
		}()
	}

	wg.Wait()
	b.Unsubscribe(ch)
	drain.Wait()
}
