package watcher

import (
	"sync"
	"time"
)

// debouncer coalesces events per path. An event is delivered once no new
// event for its path arrived within the delay.
type debouncer struct {
	delay  time.Duration
	events chan Event

	mu      sync.Mutex
	pending map[string]*pendingEvent
	closed  bool
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

func newDebouncer(delay time.Duration, buffer int) *debouncer {
	return &debouncer{
		delay:   delay,
		events:  make(chan Event, buffer),
		pending: make(map[string]*pendingEvent),
	}
}

func (d *debouncer) add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if p, ok := d.pending[ev.Path]; ok {
		p.event.Op |= ev.Op
		p.event.Timestamp = ev.Timestamp
		p.timer.Reset(d.delay)
		return
	}
	path := ev.Path
	d.pending[path] = &pendingEvent{
		event: ev,
		timer: time.AfterFunc(d.delay, func() { d.fire(path) }),
	}
}

func (d *debouncer) fire(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fireLocked(path)
}

// fireLocked sends without blocking so the lock can be held across the
// send; a full channel drops the event.
func (d *debouncer) fireLocked(path string) {
	p, ok := d.pending[path]
	if !ok || d.closed {
		return
	}
	delete(d.pending, path)
	select {
	case d.events <- p.event:
	default:
	}
}

func (d *debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for path, p := range d.pending {
		p.timer.Stop()
		d.fireLocked(path)
	}
}

func (d *debouncer) pendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *debouncer) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for path, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, path)
	}
	close(d.events)
}
