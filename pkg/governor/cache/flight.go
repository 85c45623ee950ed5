package cache

import (
	"context"
	"sync"
	"sync/atomic"
)

// Outcome is the result an owner broadcasts to the waiters of a flight.
type Outcome struct {
	Value []byte
	Usage uint64
	Err   error
}

// Flight marks a call for one key that is currently running upstream.
//
// Exactly one caller owns a flight. The owner must call Release once the
// call finishes; every other caller that found the flight in AwaitOrClaim
// calls Wait.
type Flight struct {
	key     string
	cache   *Cache
	done    chan struct{}
	once    sync.Once
	outcome Outcome
	waiters atomic.Int64
}

func newFlight(c *Cache, key string) *Flight {
	return &Flight{
		key:   key,
		cache: c,
		done:  make(chan struct{}),
	}
}

// Key returns the cache key of the flight.
func (f *Flight) Key() string {
	return f.key
}

// Done is closed when the owner releases the flight.
func (f *Flight) Done() <-chan struct{} {
	return f.done
}

// Waiters returns the number of callers currently blocked in Wait.
func (f *Flight) Waiters() int {
	return int(f.waiters.Load())
}

// Wait blocks until the owner releases the flight or ctx is done.
//
// The returned error is the owner's error (ErrAbandoned when the owner gave
// up) or ctx's error when the waiter detached. Detaching never affects the
// owner or the other waiters. Each waiter receives its own copy of Value.
func (f *Flight) Wait(ctx context.Context) (Outcome, error) {
	f.waiters.Add(1)
	defer f.waiters.Add(-1)

	select {
	case <-f.done:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	out := f.outcome
	if out.Value != nil {
		out.Value = append([]byte(nil), out.Value...)
	}
	return out, out.Err
}

// Release removes the flight from the flight table and broadcasts outcome
// to all waiters. Only the first call has an effect.
//
// The flight leaves the table before waiters wake, so a caller arriving
// after Release either finds the stored result or claims a new flight.
func (f *Flight) Release(outcome Outcome) {
	f.once.Do(func() {
		f.cache.removeFlight(f)
		f.outcome = outcome
		close(f.done)
	})
}
