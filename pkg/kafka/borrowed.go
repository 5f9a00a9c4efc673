package kafka

import (
	"errors"
	"sync"
)

// borrowed pairs a value derived from a consumer with a reference on the
// handle it was derived from.
//
// The value is only valid while the consumer is open. Holding the reference
// keeps the consumer open, and close always releases the value before the
// reference, including when the value's release func panics. use guards
// access so that nothing touches the value once close has started.
type borrowed[T any] struct {
	handle  *ConsumerHandle
	value   T
	release func(T) error

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	err    error
}

// newBorrowed takes a reference on h for value.
//
// value must originate from h and must not be used by the caller after the
// returned pairing is closed. This cannot be checked, so newBorrowed is only
// called directly after value was obtained from h.
func newBorrowed[T any](h *ConsumerHandle, value T, release func(T) error) (*borrowed[T], error) {
	if err := h.acquire(); err != nil {
		return nil, err
	}
	return &borrowed[T]{handle: h, value: value, release: release}, nil
}

// use runs fn with the value unless the pairing is closed. Concurrent uses do
// not block each other; close waits for all of them to return.
func (b *borrowed[T]) use(fn func(h *ConsumerHandle, v T) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return fn(b.handle, b.value)
}

// close releases the value, then the handle reference. Only the first call
// has an effect; later calls return the first call's result.
func (b *borrowed[T]) close() error {
	b.once.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true

		defer func() {
			b.err = errors.Join(b.err, b.handle.release())
		}()
		if b.release != nil {
			b.err = b.release(b.value)
		}
	})
	return b.err
}

func (b *borrowed[T]) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
