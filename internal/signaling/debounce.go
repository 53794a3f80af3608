package signaling

import (
	"sync"
	"time"
)

const (
	MinDebounce     = 200 * time.Millisecond
	MaxDebounce     = 500 * time.Millisecond
	DefaultDebounce = 300 * time.Millisecond
)

// ClampDebounce keeps a publish window inside the supported range.
func ClampDebounce(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultDebounce
	case d < MinDebounce:
		return MinDebounce
	case d > MaxDebounce:
		return MaxDebounce
	}
	return d
}

// debouncer runs only the latest scheduled func once per window. Scheduled
// funcs must not call cancel.
type debouncer struct {
	window time.Duration

	// run is held while a scheduled func executes.
	run sync.Mutex

	mu      sync.Mutex
	timer   *time.Timer
	pending func()
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window}
}

func (d *debouncer) schedule(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = fn
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.fire)
	}
}

func (d *debouncer) fire() {
	d.run.Lock()
	defer d.run.Unlock()

	d.mu.Lock()
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// cancel drops anything pending and waits for a func already running.
func (d *debouncer) cancel() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.mu.Unlock()

	d.run.Lock()
	d.run.Unlock()
}
