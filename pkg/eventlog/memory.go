package eventlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/heitortanoue/gridclaim/pkg/protocol"
)

// MemoryLog is an in-process shared log. Appends are delivered synchronously
// to every subscriber, including the appender's own subscription.
type MemoryLog struct {
	mutex     sync.Mutex
	events    []protocol.RemoteEvent
	failNext  int
	duplicate bool

	registry *Registry
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{registry: NewRegistry()}
}

// Append stores ev and delivers it to subscribers.
func (m *MemoryLog) Append(ctx context.Context, ev protocol.RemoteEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}

	m.mutex.Lock()
	if m.failNext > 0 {
		m.failNext--
		m.mutex.Unlock()
		return fmt.Errorf("%w: injected failure", ErrAppendFailed)
	}
	m.events = append(m.events, ev)
	duplicate := m.duplicate
	m.mutex.Unlock()

	m.registry.Publish(ev)
	if duplicate {
		m.registry.Publish(ev)
	}
	return nil
}

// Deliver pushes an event to subscribers without storing it, simulating a
// late or repeated notification from the transport.
func (m *MemoryLog) Deliver(ev protocol.RemoteEvent) {
	m.registry.Publish(ev)
}

// Subscribe registers h for events appended from now on.
func (m *MemoryLog) Subscribe(h Handler) Unsubscribe {
	return m.registry.Subscribe(h)
}

// Replay hands every stored event to h, oldest first.
func (m *MemoryLog) Replay(h Handler) {
	for _, ev := range m.Events() {
		h(ev)
	}
}

// Events returns a copy of the stored events.
func (m *MemoryLog) Events() []protocol.RemoteEvent {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([]protocol.RemoteEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Len returns the number of stored events.
func (m *MemoryLog) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.events)
}

// FailNext makes the next n appends fail without storing anything.
func (m *MemoryLog) FailNext(n int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.failNext = n
}

// DuplicateDelivery makes every append notify subscribers twice.
func (m *MemoryLog) DuplicateDelivery(on bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.duplicate = on
}

// Subscribers returns the number of active subscriptions.
func (m *MemoryLog) Subscribers() int {
	return m.registry.Count()
}
