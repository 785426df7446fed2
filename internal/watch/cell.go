// Package watch provides a latest-value cell: a single-writer, multi-reader
// container that coalesces intermediate writes. Each subscription tracks its
// own cursor, so a slow reader only ever observes the newest value and a
// writer is never blocked by readers.
package watch

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Sub.Changed once the owning cell has been closed.
var ErrClosed = errors.New("watch: cell closed")

// Cell holds the latest value of type T together with a change counter.
// The zero value is not usable; construct with NewCell.
type Cell[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	closed  bool
	subs    int
	changed chan struct{} // closed and replaced on every Set/Close
}

// NewCell creates a cell seeded with initial.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial, changed: make(chan struct{})}
}

// Set overwrites the current value, bumps the change counter and wakes all
// pending waiters. It never blocks. The return value is the number of live
// subscriptions at the time of the write, letting the owner detect that it
// is publishing into the void.
func (c *Cell[T]) Set(v T) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		panic("watch: Set on closed cell")
	}
	c.value = v
	c.version++
	close(c.changed)
	c.changed = make(chan struct{})
	return c.subs
}

// Get returns the current value without consuming any subscription cursor.
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Subscribers reports the number of live subscriptions.
func (c *Cell[T]) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs
}

// Close marks the cell closed and wakes all waiters. Subsequent Changed
// calls on any subscription return ErrClosed. Close is idempotent.
func (c *Cell[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.changed)
}

// Subscribe registers a new reader. The subscription's cursor starts at the
// current version: the subscriber can read the present value immediately via
// Value, but Changed only fires for writes made after this call.
func (c *Cell[T]) Subscribe() *Sub[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs++
	return &Sub[T]{cell: c, cursor: c.version}
}

// Sub is a single reader's view of a cell. It is not safe for concurrent use
// by multiple goroutines.
type Sub[T any] struct {
	cell     *Cell[T]
	cursor   uint64
	canceled sync.Once
}

// Changed blocks until a write newer than the subscription's cursor exists,
// the cell is closed (ErrClosed) or ctx is done (ctx.Err()).
func (s *Sub[T]) Changed(ctx context.Context) error {
	for {
		s.cell.mu.Lock()
		if s.cell.version > s.cursor {
			s.cell.mu.Unlock()
			return nil
		}
		if s.cell.closed {
			s.cell.mu.Unlock()
			return ErrClosed
		}
		ch := s.cell.changed
		s.cell.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Notify returns a channel that is closed once a newer value is available or
// the cell is closed. When a change is already pending it returns an
// already-closed channel, making it suitable for use in a select loop. After
// waking, callers should check Closed and then consume via Value.
func (s *Sub[T]) Notify() <-chan struct{} {
	s.cell.mu.Lock()
	defer s.cell.mu.Unlock()
	if s.cell.version > s.cursor || s.cell.closed {
		done := make(chan struct{})
		close(done)
		return done
	}
	return s.cell.changed
}

// HasChanged reports, without blocking, whether a write newer than the
// cursor exists.
func (s *Sub[T]) HasChanged() bool {
	s.cell.mu.Lock()
	defer s.cell.mu.Unlock()
	return s.cell.version > s.cursor
}

// Closed reports whether the owning cell has been closed.
func (s *Sub[T]) Closed() bool {
	s.cell.mu.Lock()
	defer s.cell.mu.Unlock()
	return s.cell.closed
}

// Value returns the latest value and advances the cursor past it. Writes
// between two Value calls coalesce: only the newest is observed.
func (s *Sub[T]) Value() T {
	s.cell.mu.Lock()
	defer s.cell.mu.Unlock()
	s.cursor = s.cell.version
	return s.cell.value
}

// Cancel releases the subscription, dropping it from the cell's live count.
// Further method calls on a canceled subscription are undefined.
func (s *Sub[T]) Cancel() {
	s.canceled.Do(func() {
		s.cell.mu.Lock()
		s.cell.subs--
		s.cell.mu.Unlock()
	})
}
