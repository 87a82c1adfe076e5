package bridge

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Event is a notification published by the worker.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// eventBus fans events out to every current subscriber. Publish never
// blocks: each subscription buffers without bound and a per-subscription
// goroutine feeds its channel.
type eventBus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[string]*Subscription)}
}

func (b *eventBus) subscribe() *Subscription {
	s := newSubscription(b)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.finish()
		return s
	}
	b.subs[s.ID] = s
	go s.pump()
	return s
}

func (b *eventBus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		s.push(ev)
	}
}

func (b *eventBus) remove(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// close ends every subscription after it has delivered what it already
// queued. Later subscriptions start closed.
func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.end()
	}
	b.subs = make(map[string]*Subscription)
}

func (b *eventBus) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Subscription receives events published after it was created. C is closed
// after Close, or once the worker's output ends and every queued event has
// been received. Callers that stop reading C early must call Close.
type Subscription struct {
	ID string
	C  <-chan Event

	bus    *eventBus
	out    chan Event
	mu     sync.Mutex
	queue  []Event
	ended  bool
	notify chan struct{}
	quit   chan struct{}
	once   sync.Once
}

func newSubscription(b *eventBus) *Subscription {
	out := make(chan Event)
	return &Subscription{
		ID:     uuid.NewString(),
		C:      out,
		bus:    b,
		out:    out,
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
}

// Close unsubscribes and closes C. Queued events are discarded.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.quit)
	})
	if s.bus != nil {
		s.bus.remove(s.ID)
	}
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) end() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// finish closes C for a subscription that never started pumping.
func (s *Subscription) finish() {
	s.ended = true
	close(s.out)
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		ended := s.ended
		s.mu.Unlock()

		for _, ev := range pending {
			select {
			case s.out <- ev:
			case <-s.quit:
				return
			}
		}
		if len(pending) > 0 {
			continue
		}
		if ended {
			return
		}

		select {
		case <-s.notify:
		case <-s.quit:
			return
		}
	}
}
