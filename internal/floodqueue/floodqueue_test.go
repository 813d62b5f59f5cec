package floodqueue_test

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/blukai/aochat/internal/floodqueue"
	"github.com/matryer/is"
	"pgregory.net/rapid"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func drainAll(q *floodqueue.Queue[int]) []int {
	var out []int
	_, _ = q.Drain(func(v int) error {
		out = append(out, v)
		return nil
	})
	return out
}

func TestPriorityOrder(t *testing.T) {
	is := is.New(t)

	clock := newFakeClock()
	q := floodqueue.New[int](floodqueue.DefaultLimit, floodqueue.DefaultIncrement, clock.now)

	q.Push(floodqueue.Low, 1)
	q.Push(floodqueue.High, 2)
	q.Push(floodqueue.Medium, 3)
	q.Push(floodqueue.High, 4)
	is.Equal(q.Len(), 4)

	is.Equal(drainAll(q), []int{2, 4, 3, 1})
	is.Equal(q.Len(), 0)
}

func TestBurstThenSteadyRate(t *testing.T) {
	is := is.New(t)

	clock := newFakeClock()
	q := floodqueue.New[int](floodqueue.DefaultLimit, floodqueue.DefaultIncrement, clock.now)
	for i := range 10 {
		q.Push(floodqueue.Medium, i)
	}

	is.Equal(drainAll(q), []int{0, 1, 2, 3})
	is.Equal(drainAll(q), nil) // bucket empty, resume next iteration

	clock.advance(time.Second)
	is.Equal(drainAll(q), []int{4})
	clock.advance(time.Second)
	is.Equal(drainAll(q), nil)
	clock.advance(time.Second)
	is.Equal(drainAll(q), []int{5})

	// a long idle refills to the limit, never beyond it
	clock.advance(time.Hour)
	is.Equal(drainAll(q), []int{6, 7, 8, 9})
}

func TestDrainStopsOnError(t *testing.T) {
	is := is.New(t)

	q := floodqueue.New[int](floodqueue.DefaultLimit, floodqueue.DefaultIncrement, newFakeClock().now)
	q.Push(floodqueue.Medium, 1)
	q.Push(floodqueue.Medium, 2)

	boom := errors.New("boom")
	n, err := q.Drain(func(int) error { return boom })
	is.Equal(n, 0)
	is.True(errors.Is(err, boom))
	is.Equal(q.Len(), 1) // the failed item is consumed
}

func TestReset(t *testing.T) {
	is := is.New(t)

	clock := newFakeClock()
	q := floodqueue.New[int](floodqueue.DefaultLimit, floodqueue.DefaultIncrement, clock.now)
	for i := range 6 {
		q.Push(floodqueue.Low, i)
	}
	drainAll(q)
	q.Reset()
	is.Equal(q.Len(), 0)

	q.Push(floodqueue.Low, 42)
	is.Equal(drainAll(q), []int{42})
}

type pushed struct {
	priority floodqueue.Priority
	seq      int
}

func TestConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clock := newFakeClock()
		start := clock.now()
		q := floodqueue.New[pushed](floodqueue.DefaultLimit, floodqueue.DefaultIncrement, clock.now)

		priorities := []floodqueue.Priority{floodqueue.Low, floodqueue.Medium, floodqueue.High, 7}
		n := rapid.IntRange(0, 60).Draw(t, "n")
		items := make([]pushed, n)
		for i := range items {
			items[i] = pushed{priority: rapid.SampledFrom(priorities).Draw(t, "priority"), seq: i}
			q.Push(items[i].priority, items[i])
		}

		var out []pushed
		for q.Len() > 0 {
			_, _ = q.Drain(func(p pushed) error {
				out = append(out, p)

				// sends so far never outrun limit/increment plus the elapsed budget
				elapsed := clock.now().Sub(start)
				maxSent := int((elapsed+floodqueue.DefaultLimit)/floodqueue.DefaultIncrement) + 1
				if len(out) > maxSent {
					t.Fatalf("%d sent after %v, max %d", len(out), elapsed, maxSent)
				}
				return nil
			})
			clock.advance(time.Duration(rapid.IntRange(1, 3000).Draw(t, "step")) * time.Millisecond)
		}

		want := slices.Clone(items)
		slices.SortStableFunc(want, func(a, b pushed) int { return int(b.priority) - int(a.priority) })
		if !slices.Equal(out, want) {
			t.Fatalf("got %v, want %v", out, want)
		}
	})
}
