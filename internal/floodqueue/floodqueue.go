// Package floodqueue holds outgoing chat packets until the server's flood
// protection would accept them.
//
// The limiter is a leaky bucket kept as a single point in time. Every item
// that leaves moves the point forward by the increment; the point is never
// allowed to lag more than the limit behind the clock; nothing leaves while
// the point is ahead of the clock. With the defaults (7s limit, 2s
// increment) an idle queue lets a burst of four through and then one item
// every two seconds.
package floodqueue

import (
	"time"
)

type Priority int

const (
	Low    Priority = 100
	Medium Priority = 500
	High   Priority = 1000
)

const (
	DefaultLimit     = 7 * time.Second
	DefaultIncrement = 2 * time.Second
)

type tier[T any] struct {
	priority Priority
	items    []T
}

// Queue is not safe for concurrent use; the engine loop is its only user.
type Queue[T any] struct {
	limit     time.Duration
	increment time.Duration
	now       func() time.Time

	point time.Time
	tiers []*tier[T] // highest priority first
	size  int
}

// New returns an empty queue. now may be nil, in which case time.Now is
// used.
func New[T any](limit, increment time.Duration, now func() time.Time) *Queue[T] {
	if now == nil {
		now = time.Now
	}
	return &Queue[T]{
		limit:     limit,
		increment: increment,
		now:       now,
	}
}

// Push appends item to its priority tier. Any integer priority is accepted;
// higher drains first, equal priorities drain in push order.
func (q *Queue[T]) Push(priority Priority, item T) {
	i := 0
	for ; i < len(q.tiers); i++ {
		if q.tiers[i].priority == priority {
			q.tiers[i].items = append(q.tiers[i].items, item)
			q.size++
			return
		}
		if q.tiers[i].priority < priority {
			break
		}
	}

	t := &tier[T]{priority: priority, items: []T{item}}
	q.tiers = append(q.tiers, nil)
	copy(q.tiers[i+1:], q.tiers[i:])
	q.tiers[i] = t
	q.size++
}

func (q *Queue[T]) Len() int {
	return q.size
}

// Next pops the next item if the bucket allows it.
func (q *Queue[T]) Next() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}

	now := q.now()
	if q.point.After(now) {
		return zero, false
	}

	t := q.tiers[0]
	item := t.items[0]
	t.items[0] = zero
	t.items = t.items[1:]
	if len(t.items) == 0 {
		q.tiers = q.tiers[1:]
	}

	if floor := now.Add(-q.limit); q.point.Before(floor) {
		q.point = floor
	}
	q.point = q.point.Add(q.increment)
	q.size--

	return item, true
}

// Drain hands items to send until the queue is empty or the bucket runs
// dry. An item whose send fails is still consumed; draining stops there.
func (q *Queue[T]) Drain(send func(T) error) (int, error) {
	n := 0
	for {
		item, ok := q.Next()
		if !ok {
			return n, nil
		}
		if err := send(item); err != nil {
			return n, err
		}
		n++
	}
}

// Reset drops everything queued and refills the bucket.
func (q *Queue[T]) Reset() {
	q.tiers = nil
	q.size = 0
	q.point = time.Time{}
}
