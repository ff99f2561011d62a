package eventbus

import (
	"testing"
)

func TestPublishFanOutWithPrefixes(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	nags, unsubNags := b.Subscribe(4, "nag.")
	defer unsubNags()

	b.Publish(Event{Type: "nag.fired", Data: 1})
	b.Publish(Event{Type: "cycle.done"})

	if got := len(all); got != 2 {
		t.Fatalf("all got %d events, want 2", got)
	}
	if got := len(nags); got != 1 {
		t.Fatalf("nags got %d events, want 1", got)
	}
	e := <-nags
	if e.Type != "nag.fired" || e.Time.IsZero() || e.Data != 1 {
		t.Fatalf("event = %+v", e)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: "x"})
	}
	if got := b.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed")
	}
	b.Publish(Event{Type: "after"})
}
