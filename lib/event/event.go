// Package event provides typed listener lists for callback driven components.
package event

// Listeners holds the callbacks registered for one event.
// The zero value is ready to use. It is not safe for concurrent use.
type Listeners[T any] struct {
	fns []func(T)
}

func (l *Listeners[T]) Add(fn func(T)) {
	if fn == nil {
		return
	}
	l.fns = append(l.fns, fn)
}

// Emit calls every listener in registration order.
// It reports whether there was any, so that callers can fall back to a default handler.
func (l *Listeners[T]) Emit(v T) bool {
	if len(l.fns) == 0 {
		return false
	}
	// Listeners added while emitting see the next event only.
	for _, fn := range l.fns {
		fn(v)
	}
	return true
}

func (l *Listeners[T]) Len() int { return len(l.fns) }

func (l *Listeners[T]) Clear() { l.fns = nil }
