// Package gate provides observable values and the boolean gates built on them.
//
// A Gate is a boolean precondition for sound ("is this allowed to be heard right
// now"). Gates combine by logical AND through derived values, which only notify
// their observers when the computed result actually changes.
package gate

import "sync"

// Observable is anything whose changes can be watched without knowing its type.
type Observable interface {
	// OnChange registers fn to be called after every change of the value.
	OnChange(fn func()) *Subscription
}

// Readable is an observable value of type T.
type Readable[T any] interface {
	Observable

	// Value returns the current value. It never blocks on listeners.
	Value() T

	// Observe registers fn to be called with the new value after every change.
	Observe(fn func(T)) *Subscription
}

// Gate is a boolean condition controlling whether a sound may play.
type Gate = Readable[bool]

// Subscription is the handle returned by Observe and OnChange. Callers must
// Release it when the observing component is torn down.
type Subscription struct {
	once    sync.Once
	release func()
}

func newSubscription(release func()) *Subscription {
	return &Subscription{release: release}
}

// Release detaches the listener. It is safe to call more than once and on a nil
// subscription.
func (s *Subscription) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// listeners is a copy-on-notify listener list shared by Property and Derived.
type listeners[T any] struct {
	mu    sync.Mutex
	next  uint64
	funcs map[uint64]func(T)
	order []uint64
}

func (l *listeners[T]) add(fn func(T)) *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.funcs == nil {
		l.funcs = make(map[uint64]func(T))
	}
	id := l.next
	l.next++
	l.funcs[id] = fn
	l.order = append(l.order, id)

	return newSubscription(func() { l.remove(id) })
}

func (l *listeners[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.funcs[id]; !ok {
		return
	}
	delete(l.funcs, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

func (l *listeners[T]) snapshot() []func(T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fns := make([]func(T), 0, len(l.order))
	for _, id := range l.order {
		fns = append(fns, l.funcs[id])
	}
	return fns
}

func (l *listeners[T]) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

func (l *listeners[T]) notify(v T) {
	for _, fn := range l.snapshot() {
		fn(v)
	}
}

// Property is a settable observable value.
type Property[T comparable] struct {
	mu        sync.RWMutex
	value     T
	listeners listeners[T]
}

// NewProperty creates a Property holding initial.
func NewProperty[T comparable](initial T) *Property[T] {
	return &Property[T]{value: initial}
}

// Value returns the current value.
func (p *Property[T]) Value() T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Set stores v and notifies observers if it differs from the current value.
// Observers run synchronously on the caller's goroutine, after the lock is released.
func (p *Property[T]) Set(v T) {
	p.mu.Lock()
	if p.value == v {
		p.mu.Unlock()
		return
	}
	p.value = v
	p.mu.Unlock()

	p.listeners.notify(v)
}

// Observe registers fn to be called with each new value.
func (p *Property[T]) Observe(fn func(T)) *Subscription {
	return p.listeners.add(fn)
}

// OnChange registers fn to be called after each change.
func (p *Property[T]) OnChange(fn func()) *Subscription {
	return p.listeners.add(func(T) { fn() })
}

// Listeners returns the number of attached observers.
func (p *Property[T]) Listeners() int {
	return p.listeners.count()
}

// constant is an immutable gate. Observers are accepted and never called.
type constant bool

// Const returns a gate that always reports v.
func Const(v bool) Gate {
	return constant(v)
}

func (c constant) Value() bool { return bool(c) }

func (c constant) Observe(func(bool)) *Subscription { return newSubscription(nil) }

func (c constant) OnChange(func()) *Subscription { return newSubscription(nil) }
