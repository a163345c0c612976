package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"trivia-sync-service/internal/domain"
)

func TestBusDeliversInOrderPerTopic(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	got := make(chan int64, 10)
	sub, err := bus.Subscribe(ctx, "s1", func(ev domain.ChangeEvent) { got <- ev.Session.Version })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	other := make(chan struct{}, 1)
	otherSub, _ := bus.Subscribe(ctx, "s2", func(domain.ChangeEvent) { other <- struct{}{} })
	defer otherSub.Close()

	for v := int64(1); v <= 3; v++ {
		_ = bus.Publish(ctx, domain.SessionEvent(domain.EventUpdate, domain.QuizSession{ID: "s1", Version: v}))
	}

	for want := int64(1); want <= 3; want++ {
		select {
		case v := <-got:
			if v != want {
				t.Fatalf("expected version %d, got %d", want, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for version %d", want)
		}
	}
	select {
	case <-other:
		t.Fatalf("event leaked to another topic")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBusCloseStopsDelivery(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	sub, _ := bus.Subscribe(ctx, "s1", func(domain.ChangeEvent) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	if bus.Topics() != 1 {
		t.Fatalf("expected one topic, got %d", bus.Topics())
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if bus.Topics() != 0 {
		t.Fatalf("expected topic removed, got %d", bus.Topics())
	}

	_ = bus.Publish(ctx, domain.SessionEvent(domain.EventUpdate, domain.QuizSession{ID: "s1"}))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected no delivery after close, got %d", calls)
	}
	// closing twice is harmless
	_ = sub.Close()
}

func TestBusCloseFromHandlerDoesNotDeadlock(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	done := make(chan struct{})
	var sub interface{ Close() error }
	var once sync.Once
	ready := make(chan struct{})
	s, _ := bus.Subscribe(ctx, "s1", func(domain.ChangeEvent) {
		<-ready
		once.Do(func() {
			_ = sub.Close()
			close(done)
		})
	})
	sub = s
	close(ready)

	_ = bus.Publish(ctx, domain.SessionEvent(domain.EventUpdate, domain.QuizSession{ID: "s1"}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("close from handler blocked")
	}
}

func TestBusCloseWaitsForRunningHandler(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	sub, _ := bus.Subscribe(ctx, "s1", func(domain.ChangeEvent) {
		close(entered)
		<-release
	})
	_ = bus.Publish(ctx, domain.SessionEvent(domain.EventUpdate, domain.QuizSession{ID: "s1"}))
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatalf("handler never ran")
	}

	closed := make(chan struct{})
	go func() {
		_ = sub.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatalf("close returned while the handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("close did not return after the handler finished")
	}
}

func TestBusSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	block := make(chan struct{})
	sub, _ := bus.Subscribe(ctx, "s1", func(domain.ChangeEvent) { <-block })

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = bus.Publish(ctx, domain.SessionEvent(domain.EventUpdate, domain.QuizSession{ID: "s1"}))
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
	close(block)
	_ = sub.Close()
}
