// Package loop serializes callbacks and timers onto one goroutine.
package loop

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"netkit/transport"

	"github.com/benbjohnson/clock"
)

// Loop is a callback queue with timers.
// Post and Schedule are safe to call from any goroutine. Callbacks run one at a time,
// on the goroutine calling Run or RunPending.
type Loop struct {
	clock clock.Clock

	mu     sync.Mutex
	posted []func()
	timers timerHeap
	seq    uint64

	wake chan struct{}
}

var _ transport.Scheduler = (*Loop)(nil)

func New(clock clock.Clock) *Loop {
	return &Loop{
		clock: clock,
		wake:  make(chan struct{}, 1),
	}
}

func (l *Loop) Clock() clock.Clock { return l.clock }

// Post queues fn to run on the loop.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.posted = append(l.posted, fn)
	l.mu.Unlock()
	l.notify()
}

// Schedule runs fn on the loop once delay has passed on the loop's clock.
func (l *Loop) Schedule(delay time.Duration, fn func()) transport.Handle {
	l.mu.Lock()
	l.seq++
	t := &timer{
		loop:  l,
		at:    l.clock.Now().Add(delay),
		seq:   l.seq,
		fn:    fn,
		index: -1,
	}
	heap.Push(&l.timers, t)
	l.mu.Unlock()
	l.notify()
	return t
}

// RunPending runs posted callbacks and due timers until none is left.
// It returns how many ran.
func (l *Loop) RunPending() int {
	ran := 0
	for {
		l.mu.Lock()
		posted := l.posted
		l.posted = nil
		var due []*timer
		now := l.clock.Now()
		for len(l.timers) > 0 && !l.timers[0].at.After(now) {
			t := heap.Pop(&l.timers).(*timer)
			t.state = timerDue
			due = append(due, t)
		}
		l.mu.Unlock()

		if len(posted) == 0 && len(due) == 0 {
			return ran
		}
		for _, fn := range posted {
			fn()
			ran++
		}
		for _, t := range due {
			// An earlier callback may have canceled it.
			if t.take() {
				t.fn()
				ran++
			}
		}
	}
}

// Pending is the number of posted callbacks and armed timers.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.posted) + len(l.timers)
}

// Run runs callbacks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunPending()

		var (
			timer  *clock.Timer
			timerC <-chan time.Time
		)
		l.mu.Lock()
		if len(l.timers) > 0 {
			timer = l.clock.Timer(l.clock.Until(l.timers[0].at))
			timerC = timer.C
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-l.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

type timerState uint8

const (
	timerArmed timerState = iota
	// Popped from the heap, waiting for its turn in the current batch.
	timerDue
	timerDone
)

type timer struct {
	loop  *Loop
	at    time.Time
	seq   uint64
	fn    func()
	index int
	state timerState
}

// Cancel stops the timer unless its callback already ran.
func (t *timer) Cancel() bool {
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	switch t.state {
	case timerArmed:
		heap.Remove(&t.loop.timers, t.index)
	case timerDue:
	default:
		return false
	}
	t.state = timerDone
	return true
}

// take claims a due timer for running.
func (t *timer) take() bool {
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	if t.state != timerDue {
		return false
	}
	t.state = timerDone
	return true
}

// timerHeap orders timers by deadline, then by scheduling order.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	t := old[len(old)-1]
	old[len(old)-1] = nil
	t.index = -1
	*h = old[:len(old)-1]
	return t
}
