package memory

import (
	"context"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	got := make(chan string, 4)
	err := b.Subscribe(ctx, "alerts", func(ctx context.Context, data []byte) error {
		got <- string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish(ctx, "alerts", []byte("one")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Publish(ctx, "other", []byte("two")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-got:
		if msg != "one" {
			t.Fatalf("expected %q, got %q", "one", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	select {
	case msg := <-got:
		t.Fatalf("unexpected cross-channel delivery: %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriptionStopsOnCancel(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan struct{}, 1)
	if err := b.Subscribe(ctx, "c", func(ctx context.Context, data []byte) error {
		got <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cancel()
	// give the delivery goroutine a moment to unregister
	time.Sleep(50 * time.Millisecond)

	if err := b.Publish(context.Background(), "c", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-got:
		t.Fatal("delivery after subscription context cancelled")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	b := New()
	b.Close()
	if err := b.Publish(context.Background(), "c", []byte("x")); err == nil {
		t.Fatal("expected error publishing to closed broker")
	}
}
