// Package queue is the in-memory FIFO between capture and delivery.
//
// Any number of producers may Push concurrently without waiting on the
// consumer. A single consumer Pops and, on transient failure, Requeues the
// entry at the tail.
package queue

import (
	"context"
	"errors"
	"sync"

	"ids/internal/event"
)

var ErrFull = errors.New("queue: full")

// Entry is an event awaiting delivery plus the attempts spent on it so far.
type Entry struct {
	Event    event.Event
	Attempts int
}

type Queue struct {
	mu       sync.Mutex
	items    []Entry
	head     int
	capacity int
	ready    chan struct{}
}

// New returns a queue holding at most capacity entries; 0 means unbounded.
func New(capacity int) *Queue {
	return &Queue{capacity: capacity, ready: make(chan struct{}, 1)}
}

// Push appends e, failing with ErrFull when the queue is at capacity.
func (q *Queue) Push(e Entry) error {
	q.mu.Lock()
	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		q.mu.Unlock()
		return ErrFull
	}
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Requeue appends e at the tail regardless of capacity. It is only used by
// the consumer for an entry it popped, so the queue exceeds its bound by at
// most one.
func (q *Queue) Requeue(e Entry) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop removes the head entry, waiting until one is available or ctx ends.
func (q *Queue) Pop(ctx context.Context) (Entry, error) {
	for {
		if e, ok := q.TryPop(); ok {
			return e, nil
		}
		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *Queue) TryPop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lenLocked() == 0 {
		return Entry{}, false
	}
	e := q.items[q.head]
	q.items[q.head] = Entry{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.items) {
		q.items = append([]Entry(nil), q.items[q.head:]...)
		q.head = 0
	}
	return e, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *Queue) lenLocked() int { return len(q.items) - q.head }
