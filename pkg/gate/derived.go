package gate

import "sync"

// Derived is a read-only value computed from other observables. It recomputes
// synchronously whenever an input changes and notifies its own observers only
// when the computed value differs from the previous one.
type Derived[T comparable] struct {
	compute func() T

	mu        sync.RWMutex
	value     T
	inputs    []*Subscription
	listeners listeners[T]
	disposed  bool
}

// NewDerived creates a Derived value from compute, recomputed whenever any of
// deps changes. compute must only read its inputs.
func NewDerived[T comparable](compute func() T, deps ...Observable) *Derived[T] {
	d := &Derived[T]{compute: compute}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.inputs = make([]*Subscription, 0, len(deps))
	for _, dep := range deps {
		d.inputs = append(d.inputs, dep.OnChange(d.recompute))
	}
	d.value = compute()
	return d
}

// Map derives a value from a single typed input.
func Map[A any, T comparable](in Readable[A], fn func(A) T) *Derived[T] {
	return NewDerived(func() T { return fn(in.Value()) }, in)
}

// And derives a gate that is true only when every input gate is true. With no
// inputs it is true.
func And(gates ...Gate) *Derived[bool] {
	in := append([]Gate(nil), gates...)
	deps := make([]Observable, len(in))
	for i, g := range in {
		deps[i] = g
	}
	return NewDerived(func() bool {
		for _, g := range in {
			if !g.Value() {
				return false
			}
		}
		return true
	}, deps...)
}

// Not derives the negation of g.
func Not(g Gate) *Derived[bool] {
	return Map(g, func(v bool) bool { return !v })
}

func (d *Derived[T]) recompute() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	v := d.compute()
	if v == d.value {
		d.mu.Unlock()
		return
	}
	d.value = v
	d.mu.Unlock()

	d.listeners.notify(v)
}

// Value returns the most recently computed value.
func (d *Derived[T]) Value() T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.value
}

// Observe registers fn to be called with each new computed value.
func (d *Derived[T]) Observe(fn func(T)) *Subscription {
	return d.listeners.add(fn)
}

// OnChange registers fn to be called after each change of the computed value.
func (d *Derived[T]) OnChange(fn func()) *Subscription {
	return d.listeners.add(func(T) { fn() })
}

// Dispose releases the subscriptions to the inputs. The value is frozen afterwards.
func (d *Derived[T]) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	inputs := d.inputs
	d.inputs = nil
	d.mu.Unlock()

	for _, s := range inputs {
		s.Release()
	}
}
