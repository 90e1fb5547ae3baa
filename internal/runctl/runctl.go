package runctl

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned from blocking points once Stop has been called.
var ErrStopped = errors.New("run stopped")

type Phase string

const (
	Idle    Phase = "idle"
	Running Phase = "running"
	Paused  Phase = "paused"
	Stopped Phase = "stopped"
)

// Controller is the running/paused/stopped state machine shared by a
// dispatch loop and the callers that steer it. Waiters block on channels
// instead of polling.
type Controller struct {
	mu      sync.Mutex
	phase   Phase
	resumed chan struct{}
	stopped chan struct{}
}

func New() *Controller {
	return &Controller{phase: Idle}
}

// Start moves idle or stopped to running and clears pause/stop.
func (c *Controller) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == Running || c.phase == Paused {
		return false
	}
	c.phase = Running
	c.stopped = make(chan struct{})
	c.resumed = nil
	return true
}

func (c *Controller) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != Running {
		return false
	}
	c.phase = Paused
	c.resumed = make(chan struct{})
	return true
}

func (c *Controller) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != Paused {
		return false
	}
	c.phase = Running
	close(c.resumed)
	c.resumed = nil
	return true
}

// Stop is terminal for the current run. The caller layer is expected to
// have asked for confirmation.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == Idle || c.phase == Stopped {
		return false
	}
	if c.resumed != nil {
		close(c.resumed)
		c.resumed = nil
	}
	c.phase = Stopped
	close(c.stopped)
	return true
}

// Finish returns a run that completed without being stopped to idle.
func (c *Controller) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == Running || c.phase == Paused {
		if c.resumed != nil {
			close(c.resumed)
			c.resumed = nil
		}
		c.phase = Idle
	}
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) IsPaused() bool  { return c.Phase() == Paused }
func (c *Controller) IsStopped() bool { return c.Phase() == Stopped }

// WaitWhilePaused blocks while paused. It returns ErrStopped once stopped,
// ctx.Err() if ctx ends first, nil otherwise.
func (c *Controller) WaitWhilePaused(ctx context.Context) error {
	for {
		c.mu.Lock()
		switch c.phase {
		case Stopped:
			c.mu.Unlock()
			return ErrStopped
		case Paused:
			resumed, stopped := c.resumed, c.stopped
			c.mu.Unlock()
			select {
			case <-resumed:
			case <-stopped:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			c.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Sleep waits for d. A stop cuts the wait short with ErrStopped.
func (c *Controller) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	stopped := c.stopped
	phase := c.phase
	c.mu.Unlock()

	if phase == Stopped {
		return ErrStopped
	}
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
