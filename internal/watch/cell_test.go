package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsInitialValue(t *testing.T) {
	c := NewCell(42)
	assert.Equal(t, 42, c.Get())
}

func TestSubscribeStartsAtCurrentVersion(t *testing.T) {
	c := NewCell("a")
	c.Set("b")
	sub := c.Subscribe()

	assert.False(t, sub.HasChanged(), "fresh subscription must not see prior writes as pending")
	assert.Equal(t, "b", sub.Value())
}

func TestWritesCoalesce(t *testing.T) {
	c := NewCell(0)
	sub := c.Subscribe()

	c.Set(1)
	c.Set(2)
	c.Set(3)

	require.True(t, sub.HasChanged())
	assert.Equal(t, 3, sub.Value(), "reader must only observe the latest value")
	assert.False(t, sub.HasChanged(), "coalesced writes are consumed by a single read")
}

func TestChangedWakesBlockedReader(t *testing.T) {
	c := NewCell(0)
	sub := c.Subscribe()

	done := make(chan int, 1)
	go func() {
		if err := sub.Changed(context.Background()); err != nil {
			done <- -1
			return
		}
		done <- sub.Value()
	}()

	time.Sleep(10 * time.Millisecond)
	c.Set(7)

	select {
	case v := <-done:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("reader was not woken by Set")
	}
}

func TestChangedHonorsContext(t *testing.T) {
	c := NewCell(0)
	sub := c.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sub.Changed(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseUnblocksReaders(t *testing.T) {
	c := NewCell(0)
	sub := c.Subscribe()

	errc := make(chan error, 1)
	go func() { errc <- sub.Changed(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("reader was not woken by Close")
	}
	assert.True(t, sub.Closed())
}

func TestCloseIsIdempotent(t *testing.T) {
	c := NewCell(0)
	c.Close()
	assert.NotPanics(t, func() { c.Close() })
}

func TestSetAfterClosePanics(t *testing.T) {
	c := NewCell(0)
	c.Close()
	assert.Panics(t, func() { c.Set(1) })
}

func TestMultipleSubscribersObserveIndependently(t *testing.T) {
	c := NewCell(0)
	a := c.Subscribe()
	b := c.Subscribe()

	c.Set(1)
	assert.Equal(t, 1, a.Value())

	c.Set(2)
	// a already consumed 1; b has consumed nothing; both must see 2.
	assert.Equal(t, 2, a.Value())
	assert.Equal(t, 2, b.Value())
}

func TestSubscriberAccounting(t *testing.T) {
	c := NewCell(0)
	assert.Equal(t, 0, c.Subscribers())
	assert.Equal(t, 0, c.Set(1), "Set reports zero live subscriptions")

	s1 := c.Subscribe()
	s2 := c.Subscribe()
	assert.Equal(t, 2, c.Subscribers())
	assert.Equal(t, 2, c.Set(2))

	s1.Cancel()
	s1.Cancel() // idempotent
	assert.Equal(t, 1, c.Subscribers())
	assert.Equal(t, 1, c.Set(3))

	s2.Cancel()
	assert.Equal(t, 0, c.Set(4))
}

func TestNotifyPendingReturnsClosedChannel(t *testing.T) {
	c := NewCell(0)
	sub := c.Subscribe()
	c.Set(1)

	select {
	case <-sub.Notify():
	default:
		t.Fatal("Notify must be immediately ready when a change is pending")
	}
	assert.Equal(t, 1, sub.Value())
}

func TestNotifyInSelectLoop(t *testing.T) {
	c := NewCell(0)
	sub := c.Subscribe()

	got := make(chan int, 1)
	go func() {
		for {
			select {
			case <-sub.Notify():
				if !sub.HasChanged() { // closed
					close(got)
					return
				}
				got <- sub.Value()
			}
		}
	}()

	c.Set(5)
	select {
	case v := <-got:
		assert.Equal(t, 5, v)
	case <-time.After(time.Second):
		t.Fatal("select loop did not observe the write")
	}

	c.Close()
	select {
	case _, ok := <-got:
		assert.False(t, ok, "loop must exit on close")
	case <-time.After(time.Second):
		t.Fatal("select loop did not observe the close")
	}
}

func TestConcurrentReadersSeeMonotonicValues(t *testing.T) {
	c := NewCell(0)
	const readers = 4
	const writes = 200

	var wg sync.WaitGroup
	for range readers {
		sub := c.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for {
				if err := sub.Changed(context.Background()); err != nil {
					return
				}
				v := sub.Value()
				if v < last {
					t.Errorf("observed value going backwards: %d after %d", v, last)
					return
				}
				last = v
			}
		}()
	}

	for i := 1; i <= writes; i++ {
		c.Set(i)
	}
	c.Close()
	wg.Wait()
}
