// Package observable provides single-writer state holders that expose the
// current value and notify subscribers when it changes.
package observable

import "sync"

// Reader is the read-only view handed to consumers.
type Reader[T any] interface {
	Get() T
	Subscribe() (<-chan T, func())
}

// Value holds the current state of type T. Only the owning component calls
// Set; everyone else gets a Reader.
//
// Subscribers receive the latest value on a channel with a buffer of one.
// A slow subscriber misses intermediate values but always sees the most
// recent one.
type Value[T any] struct {
	mu     sync.Mutex
	v      T
	nextID int
	subs   map[int]chan T
	clone  func(T) T
}

// NewValue returns a holder initialised to v.
func NewValue[T any](v T) *Value[T] {
	return &Value[T]{v: v, subs: make(map[int]chan T)}
}

// NewValueWithClone returns a holder that passes every value through clone
// before handing it out, so readers never share mutable state with the writer.
func NewValueWithClone[T any](v T, clone func(T) T) *Value[T] {
	o := NewValue(v)
	o.clone = clone
	return o
}

func (o *Value[T]) snapshot(v T) T {
	if o.clone != nil {
		return o.clone(v)
	}
	return v
}

// Get returns a snapshot of the current value.
func (o *Value[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot(o.v)
}

// Set replaces the current value and notifies subscribers.
func (o *Value[T]) Set(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.v = v
	for _, ch := range o.subs {
		o.offer(ch, o.snapshot(v))
	}
}

// offer replaces any undelivered value in ch with v. Callers hold o.mu.
func (o *Value[T]) offer(ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}

// Subscribe returns a channel that immediately carries the current value and
// then every subsequent one. The returned func unsubscribes and closes the
// channel; it is safe to call more than once.
func (o *Value[T]) Subscribe() (<-chan T, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	ch := make(chan T, 1)
	ch <- o.snapshot(o.v)
	o.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}
