// Package asset loads audio asynchronously into pcm buffers.
//
// Every load returns a Handle immediately. Decoding runs on its own goroutine
// and resolves the handle exactly once, either with the decoded buffer or, on
// any failure, with a silent buffer so that sound sources built on it stay safe
// to play.
package asset

import (
	"context"
	"sync"

	"github.com/chriscow/soundmix/pkg/gate"
	"github.com/chriscow/soundmix/pkg/pcm"
)

// Handle is a decoded audio buffer that may not have arrived yet.
type Handle struct {
	name string

	mu       sync.Mutex
	buf      *pcm.Buffer
	err      error
	resolved bool
	prop     *gate.Property[*pcm.Buffer]
	done     chan struct{}
}

func newHandle(name string) *Handle {
	return &Handle{
		name: name,
		prop: gate.NewProperty[*pcm.Buffer](nil),
		done: make(chan struct{}),
	}
}

// Ready returns a handle already resolved to b.
func Ready(name string, b *pcm.Buffer) *Handle {
	h := newHandle(name)
	h.resolve(b, nil)
	return h
}

// Name returns the asset name the handle was created for.
func (h *Handle) Name() string { return h.name }

// Buffer returns the decoded buffer, or nil while decoding is in progress.
func (h *Handle) Buffer() *pcm.Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf
}

// Ready reports whether the handle has resolved.
func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resolved
}

// Err returns the decode error, if decoding failed. The buffer is silent in that case.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed once the handle resolves.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the handle resolves or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*pcm.Buffer, error) {
	select {
	case <-h.done:
		return h.Buffer(), h.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnReady calls fn with the buffer once it is available. If the handle has
// already resolved, fn runs immediately and the returned subscription is inert.
// Otherwise fn runs on the decoding goroutine. Release the subscription to
// discard a result that arrives after the caller is gone.
func (h *Handle) OnReady(fn func(*pcm.Buffer)) *gate.Subscription {
	h.mu.Lock()
	if h.resolved {
		b := h.buf
		h.mu.Unlock()
		fn(b)
		return &gate.Subscription{}
	}
	sub := h.prop.Observe(func(b *pcm.Buffer) {
		if b != nil {
			fn(b)
		}
	})
	h.mu.Unlock()
	return sub
}

// resolve stores the result. Only the first call has any effect.
func (h *Handle) resolve(b *pcm.Buffer, err error) {
	h.mu.Lock()
	if h.resolved {
		h.mu.Unlock()
		return
	}
	h.resolved = true
	h.buf = b
	h.err = err
	close(h.done)
	h.mu.Unlock()

	h.prop.Set(b)
}
