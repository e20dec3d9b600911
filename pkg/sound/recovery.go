package sound

import (
	"log/slog"
	"sync"

	"github.com/chriscow/soundmix/pkg/gate"
	"github.com/chriscow/soundmix/pkg/output"
)

// recovery keeps the output device running. A permanent watcher notices when
// the device leaves Running and starts an attempt. An attempt calls Resume
// right away, again on every state change and on every user gesture, and
// releases its own listener once the device reports Running.
type recovery struct {
	logger *slog.Logger

	mu       sync.Mutex
	dev      output.Device
	watcher  *gate.Subscription
	attempt  *gate.Subscription
	active   bool
	stopped  bool
	attempts int
}

func (r *recovery) watch(dev output.Device) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.dev = dev
	r.mu.Unlock()

	sub := dev.OnStateChange(func(output.State) { r.check() })

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		sub.Release()
		return
	}
	r.watcher = sub
	r.mu.Unlock()

	r.check()
}

func (r *recovery) device() output.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil
	}
	return r.dev
}

// check starts an attempt if the device is neither running nor closed.
func (r *recovery) check() {
	dev := r.device()
	if dev == nil {
		return
	}
	state := dev.State()
	if state == output.Running || state == output.Closed {
		return
	}

	r.mu.Lock()
	if r.active || r.stopped {
		r.mu.Unlock()
		return
	}
	r.active = true
	r.mu.Unlock()

	r.logger.Warn("audio output not running, attempting to resume", "state", state)

	sub := dev.OnStateChange(func(output.State) { r.resume("state change") })
	r.mu.Lock()
	if r.active && r.attempt == nil {
		r.attempt, sub = sub, nil
	}
	r.mu.Unlock()
	sub.Release()

	r.resume("device not running")
}

// resume makes one resume attempt if an attempt is in progress.
func (r *recovery) resume(reason string) {
	dev := r.device()
	if dev == nil {
		return
	}

	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	switch dev.State() {
	case output.Running:
		r.finish()
		return
	case output.Closed:
		r.finish()
		return
	}

	r.mu.Lock()
	r.attempts++
	r.mu.Unlock()

	if err := dev.Resume(); err != nil {
		r.logger.Warn("resume audio output failed", "reason", reason, "error", err)
	}
	if dev.State() == output.Running {
		r.finish()
	}
}

func (r *recovery) finish() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	sub := r.attempt
	r.attempt = nil
	attempts := r.attempts
	r.attempts = 0
	r.mu.Unlock()

	sub.Release()
	r.logger.Info("audio output running", "resume_attempts", attempts)
}

func (r *recovery) recovering() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *recovery) stop() {
	r.mu.Lock()
	r.stopped = true
	r.active = false
	watcher, attempt := r.watcher, r.attempt
	r.watcher, r.attempt = nil, nil
	r.mu.Unlock()

	watcher.Release()
	attempt.Release()
}

// NotifyUserGesture tells the manager the user interacted with the
// application. Platforms that only allow audio after a gesture resume here.
func (m *Manager) NotifyUserGesture() {
	m.rec.resume("user gesture")
}

// Recovering reports whether the manager is trying to resume the output device.
func (m *Manager) Recovering() bool {
	return m.rec.recovering()
}
