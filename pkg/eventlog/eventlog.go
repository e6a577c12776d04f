// Package eventlog defines the shared append-only log the claim protocol
// publishes to and consumes from, plus an in-process implementation.
package eventlog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/heitortanoue/gridclaim/pkg/protocol"
)

// ErrAppendFailed is returned when the log could not accept an event.
var ErrAppendFailed = errors.New("append to shared log failed")

// Handler receives every event appended since subscription. Delivery is at
// least once and in no particular order.
type Handler func(protocol.RemoteEvent)

// Unsubscribe stops delivery. It is idempotent; once it returns no further
// callbacks run. It must not be called from inside the handler.
type Unsubscribe func()

// Log is the shared broadcast log.
type Log interface {
	Append(ctx context.Context, ev protocol.RemoteEvent) error
	Subscribe(h Handler) Unsubscribe
}

// Replayer is implemented by logs able to hand over their existing contents
// for the initial bulk sync.
type Replayer interface {
	Replay(h Handler)
}

// NoopUnsubscribe is safe to call when nothing was subscribed.
func NoopUnsubscribe() {}

type subscription struct {
	handler Handler
	closed  atomic.Bool
	// held while delivering so that Unsubscribe can wait for in-flight calls
	mutex sync.Mutex
}

func (s *subscription) deliver(ev protocol.RemoteEvent) {
	if s.closed.Load() {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed.Load() {
		return
	}
	s.handler(ev)
}

// Registry tracks subscribers and fans events out to them.
type Registry struct {
	mutex  sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[uint64]*subscription)}
}

// Subscribe registers h and returns its teardown function.
func (r *Registry) Subscribe(h Handler) Unsubscribe {
	if h == nil {
		return NoopUnsubscribe
	}

	r.mutex.Lock()
	r.nextID++
	id := r.nextID
	sub := &subscription{handler: h}
	r.subs[id] = sub
	r.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mutex.Lock()
			delete(r.subs, id)
			r.mutex.Unlock()

			// taking the lock waits for an in-flight delivery to finish
			sub.mutex.Lock()
			sub.closed.Store(true)
			sub.mutex.Unlock()
		})
	}
}

// Publish delivers ev to every current subscriber, synchronously.
func (r *Registry) Publish(ev protocol.RemoteEvent) {
	r.mutex.RLock()
	subs := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mutex.RUnlock()

	for _, s := range subs {
		s.deliver(ev)
	}
}

// Count returns the number of active subscribers.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.subs)
}
