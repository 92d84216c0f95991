package queue

// Circular is a bounded FIFO queue over a fixed ring.
type Circular[T any] struct {
	queue      []T
	head, tail uint

	count uint
}

func NewCircular[T any](size uint) *Circular[T] {
	return &Circular[T]{
		queue: make([]T, size),
	}
}

// Enqueue adds an element to the queue. Returns false if the queue is full.
func (q *Circular[T]) Enqueue(data T) (success bool) {
	if q.Len() == q.Size() {
		return false
	}

	q.queue[q.tail] = data
	q.tail = q.advance(q.tail)
	q.count++

	return true
}

// Dequeue removes and returns the front element of the queue.
// If the queue is empty. It will return [ErrQueueEmpty].
func (q *Circular[T]) Dequeue() (T, error) {
	var zero T
	if q.Len() == 0 {
		return zero, ErrQueueEmpty
	}

	data := q.queue[q.head]
	q.queue[q.head] = zero

	q.head = q.advance(q.head)
	q.count--

	return data, nil
}

// Peek returns the head element without removing it.
// If the queue is empty. It will return [ErrQueueEmpty].
func (q *Circular[T]) Peek() (T, error) {
	if q.Len() == 0 {
		var zero T
		return zero, ErrQueueEmpty
	}

	return q.queue[q.head], nil
}

// Each calls fn from head to tail until it returns false.
func (q *Circular[T]) Each(fn func(v T) bool) {
	idx := q.head
	for i := uint(0); i < q.count; i++ {
		if !fn(q.queue[idx]) {
			return
		}
		idx = q.advance(idx)
	}
}

// Len returns the number of elements in the queue.
func (q *Circular[T]) Len() uint {
	return q.count
}

// Size returns the size of the queue.
func (q *Circular[T]) Size() uint {
	return uint(len(q.queue))
}

func (q *Circular[T]) Full() bool { return q.count == q.Size() }

func (q *Circular[T]) advance(n uint) uint {
	return (n + 1) % uint(len(q.queue))
}
