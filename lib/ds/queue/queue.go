package queue

import (
	"github.com/pkg/errors"
)

var ErrQueueEmpty = errors.New("queue is empty")

type Queue[T any] interface {
	Enqueue(v T)
	Dequeue() (T, error)
	Peek() (T, error)
	Len() uint
}

// NaiveQueue is an unbounded queue backed by a slice.
type NaiveQueue[T any] struct {
	queue []T
}

func NewNaive[T any](initialCap uint) *NaiveQueue[T] {
	return &NaiveQueue[T]{queue: make([]T, 0, initialCap)}
}

var _ Queue[int] = (*NaiveQueue[int])(nil)

func (q *NaiveQueue[T]) Enqueue(v T) {
	q.queue = append(q.queue, v)
}

func (q *NaiveQueue[T]) Dequeue() (T, error) {
	var zero T
	if q.Len() == 0 {
		return zero, ErrQueueEmpty
	}

	v := q.queue[0]
	// Release the reference so the backing array doesn't keep it alive.
	q.queue[0] = zero
	q.queue = q.queue[1:]

	return v, nil
}

func (q *NaiveQueue[T]) Peek() (T, error) {
	if q.Len() == 0 {
		var zero T
		return zero, ErrQueueEmpty
	}
	return q.queue[0], nil
}

func (q *NaiveQueue[T]) Len() uint {
	return uint(len(q.queue))
}

// Drain removes every element, calling fn for each in order.
func (q *NaiveQueue[T]) Drain(fn func(v T)) {
	for q.Len() > 0 {
		v, _ := q.Dequeue()
		fn(v)
	}
}
