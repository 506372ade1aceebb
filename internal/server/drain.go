package server

import (
	"sync"
	"sync/atomic"
	"time"
)

// DrainCoordinator implements the graceful-shutdown protocol of spec §4.9:
// once draining starts, new connections stop being accepted, active
// sessions are expected to notice Draining() at their next command
// boundary and close without committing UPDATE, and any session still
// alive after the deadline is force-closed.
type DrainCoordinator struct {
	draining atomic.Bool

	mu    sync.Mutex
	conns map[*Connection]struct{}
}

// NewDrainCoordinator creates a coordinator with no tracked connections.
func NewDrainCoordinator() *DrainCoordinator {
	return &DrainCoordinator{conns: make(map[*Connection]struct{})}
}

// Track registers a connection so it can be force-closed on a deadline.
func (d *DrainCoordinator) Track(c *Connection) {
	d.mu.Lock()
	d.conns[c] = struct{}{}
	d.mu.Unlock()
}

// Untrack removes a connection, normally called when its session ends.
func (d *DrainCoordinator) Untrack(c *Connection) {
	d.mu.Lock()
	delete(d.conns, c)
	d.mu.Unlock()
}

// Draining reports whether shutdown has started.
func (d *DrainCoordinator) Draining() bool {
	return d.draining.Load()
}

// Start marks the coordinator as draining and force-closes any tracked
// connection still open after deadline.
func (d *DrainCoordinator) Start(deadline time.Duration) {
	d.draining.Store(true)
	timer := time.AfterFunc(deadline, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for c := range d.conns {
			_ = c.Close()
		}
	})
	_ = timer
}
