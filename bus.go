package webdrop

import (
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/webdrop/file"
)

// Subscription delivers transfer events in publication order. Its queue is
// unbounded so a slow reader never blocks a transfer.
type Subscription struct {
	bus *eventBus

	mu     sync.Mutex
	queue  []file.Event
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	events chan file.Event
}

// Events returns the channel events are delivered on. It is closed once the
// subscription or the coordinator is closed.
func (s *Subscription) Events() <-chan file.Event {
	return s.events
}

// Close stops delivery and closes the events channel. Queued events that
// were not yet received are discarded.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) push(e file.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (file.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return file.Event{}, false
	}
	e := s.queue[0]
	s.queue[0] = file.Event{}
	s.queue = s.queue[1:]
	return e, true
}

func (s *Subscription) run() {
	defer close(s.events)
	for {
		e, ok := s.pop()
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.events <- e:
		case <-s.done:
			return
		}
	}
}

// eventBus fans manager events out to subscriptions. It implements
// file.Publisher and never blocks the publisher.
type eventBus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
}

var _ file.Publisher = (*eventBus)(nil)

func newEventBus() *eventBus {
	return &eventBus{}
}

// Publish implements file.Publisher.
func (b *eventBus) Publish(e file.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":    "eventBus.Publish",
		"event":       e.Kind.String(),
		"transfer_id": e.TransferID(),
		"status":      e.Snapshot.Status.String(),
	}).Debug("Publishing transfer event")

	for _, s := range b.subs {
		s.push(e)
	}
}

func (b *eventBus) subscribe() *Subscription {
	s := &Subscription{
		bus:    b,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		events: make(chan file.Event),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.stop()
		close(s.events)
		return s
	}
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	go s.run()
	return s
}

func (b *eventBus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = lo.Without(b.subs, s)
}

func (b *eventBus) close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}
