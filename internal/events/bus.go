// Package events fans ledger change events out to any number of subscribers.
//
// Each subscriber receives events in publish order through its own queue, so a
// slow reader never blocks the ledger's writer or other subscribers.
package events

import (
	"sync"

	"github.com/mmynk/tally/internal/models"
)

// Action is what happened to an entity.
type Action string

const (
	Added    Action = "added"
	Updated  Action = "updated"
	Deleted  Action = "deleted"
	Reloaded Action = "allDataReloaded"
)

// Event describes one committed change. Reloaded events carry no Kind or ID.
//
// Events are published once a change is in the cache, before it is saved.
// Durability is reported through Seq rather than a flag: the change is durable
// once the ledger's Status().SavedSeq reaches Seq, and the ledger's
// WaitDurable(ctx, Seq) blocks until then or fails with storage.ErrNotDurable
// while nothing is being saved.
type Event struct {
	Action Action
	Kind   models.Kind
	ID     string

	// Seq is the ledger mutation sequence number.
	Seq uint64
}

// Bus is an ordered observer list.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// NewBus returns a Bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscriber]struct{})}
}

// Subscriber receives events published after it subscribed.
type Subscriber struct {
	bus *Bus
	out chan Event

	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// Subscribe registers a new subscriber. Call Close when finished.
func (b *Bus) Subscribe() *Subscriber {
	s := &Subscriber{
		bus:  b,
		out:  make(chan Event),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.closed = true
		close(s.done)
		close(s.out)
		return s
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	go s.run()
	return s
}

// Publish enqueues e for every current subscriber. It never blocks on readers.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.enqueue(e)
	}
}

// Len returns the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches every subscriber. Queued events are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscriber]struct{})
	b.closed = true
	b.mu.Unlock()
	for s := range subs {
		s.shutdown()
	}
}

// C returns the delivery channel. It is closed after Close.
func (s *Subscriber) C() <-chan Event { return s.out }

// Close unsubscribes. Events still queued are dropped.
func (s *Subscriber) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.shutdown()
}

func (s *Subscriber) enqueue(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscriber) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	close(s.done)
}

func (s *Subscriber) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.done:
			return
		}
	}
}
