package memory

import (
	"bytes"
	"context"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"trivia-sync-service/internal/app"
	"trivia-sync-service/internal/domain"
)

// Bus is an in-process pub/sub keyed by session id. Each subscription owns a mailbox
// and a delivery goroutine, so a slow handler never blocks publishers or other
// subscribers, and events on one subscription are delivered in publish order.
// The Redis and Postgres buses use it as their local fan-out.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[*subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[*subscription]struct{})}
}

var _ app.Bus = (*Bus)(nil)

// Publish enqueues the event for every current subscriber of its topic.
func (b *Bus) Publish(_ context.Context, event domain.ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.topics[event.Topic] {
		sub.enqueue(event)
	}
	return nil
}

// Subscribe registers handler for topic.
func (b *Bus) Subscribe(_ context.Context, topic string, handler func(domain.ChangeEvent)) (app.Subscription, error) {
	sub := &subscription{
		bus:     b,
		topic:   topic,
		handler: handler,
		done:    make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*subscription]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	b.mu.Unlock()

	go sub.run()
	return sub, nil
}

// Topics reports how many topics currently have subscribers.
func (b *Bus) Topics() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[sub.topic]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}
}

type subscription struct {
	bus     *Bus
	topic   string
	handler func(domain.ChangeEvent)

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []domain.ChangeEvent
	closed    bool
	runner    atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) enqueue(ev domain.ChangeEvent) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, ev)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscription) run() {
	defer close(s.done)
	s.runner.Store(goroutineID())
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.queue = nil
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler(ev)
	}
}

// Close detaches the subscription and waits for the delivery goroutine to exit, so a
// handler running on another goroutine has returned by the time Close does.
// Called from inside the handler it cannot wait for itself; the pending queue is
// still discarded and nothing further is delivered.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.bus.remove(s)
		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	if s.runner.Load() != goroutineID() {
		<-s.done
	}
	return nil
}

// goroutineID parses the id from the "goroutine N [status]:" stack header.
func goroutineID() uint64 {
	var buf [64]byte
	b := bytes.TrimPrefix(buf[:runtime.Stack(buf[:], false)], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
