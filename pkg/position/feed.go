package position

import (
	"sync"
)

type feedSubscriber struct {
	onFix   func(Fix)
	onError func(ErrorCode)
	closed  bool
	mutex   sync.Mutex
}

// Feed is a push-driven Source: whatever is pushed in is fanned out to the
// current subscribers, synchronously and in push order.
type Feed struct {
	mutex  sync.RWMutex
	subs   map[uint64]*feedSubscriber
	nextID uint64
	closed bool

	pushed int64
	errors int64
}

// NewFeed creates an open feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[uint64]*feedSubscriber)}
}

// Subscribe registers the callbacks; either may be nil.
func (f *Feed) Subscribe(onFix func(Fix), onError func(ErrorCode)) Unsubscribe {
	sub := &feedSubscriber{onFix: onFix, onError: onError}

	f.mutex.Lock()
	f.nextID++
	id := f.nextID
	f.subs[id] = sub
	f.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mutex.Lock()
			delete(f.subs, id)
			f.mutex.Unlock()

			sub.mutex.Lock()
			sub.closed = true
			sub.mutex.Unlock()
		})
	}
}

// Push delivers a fix.
func (f *Feed) Push(fix Fix) error {
	subs, err := f.snapshot(false)
	if err != nil {
		return err
	}
	for _, s := range subs {
		s.mutex.Lock()
		if !s.closed && s.onFix != nil {
			s.onFix(fix)
		}
		s.mutex.Unlock()
	}
	return nil
}

// PushError delivers a classified error.
func (f *Feed) PushError(code ErrorCode) error {
	subs, err := f.snapshot(true)
	if err != nil {
		return err
	}
	for _, s := range subs {
		s.mutex.Lock()
		if !s.closed && s.onError != nil {
			s.onError(code)
		}
		s.mutex.Unlock()
	}
	return nil
}

func (f *Feed) snapshot(isError bool) ([]*feedSubscriber, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.closed {
		return nil, ErrSourceClosed
	}
	if isError {
		f.errors++
	} else {
		f.pushed++
	}

	subs := make([]*feedSubscriber, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	return subs, nil
}

// Close rejects further pushes. Existing subscriptions simply stop receiving.
func (f *Feed) Close() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.closed = true
}

// GetStats returns feed statistics
func (f *Feed) GetStats() map[string]interface{} {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	return map[string]interface{}{
		"subscribers": len(f.subs),
		"fixes":       f.pushed,
		"errors":      f.errors,
		"closed":      f.closed,
	}
}
