package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Loop calls its tick once on Start, then again whenever the interval has
// passed since the previous tick ended or Trigger is called. Ticks never
// overlap. A panicking tick is logged and the loop keeps going.
type Loop struct {
	name     string
	interval time.Duration
	tick     func(context.Context)
	wake     chan struct{}

	running  atomic.Bool
	ticks    atomic.Uint64
	lastTick atomic.Int64

	mu   sync.Mutex
	halt context.CancelFunc
	done chan struct{}
}

func NewLoop(name string, interval time.Duration, tick func(context.Context)) (*Loop, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tick == nil {
		return nil, errors.New("tick func must not be nil")
	}
	return &Loop{
		name:     name,
		interval: interval,
		tick:     tick,
		wake:     make(chan struct{}, 1),
	}, nil
}

func (l *Loop) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halt != nil {
		return false
	}
	ctx, halt := context.WithCancel(context.Background())
	l.halt = halt
	l.done = make(chan struct{})
	l.running.Store(true)

	go l.run(ctx, l.done)
	return true
}

// Stop cancels the tick context and waits for an in-flight tick to return.
func (l *Loop) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halt == nil {
		return false
	}
	l.halt()
	<-l.done
	l.halt = nil
	l.running.Store(false)

	slog.Info("loop stopped", "loop", l.name, "ticks", l.ticks.Load())
	return true
}

// Trigger asks a running loop for an extra tick as soon as the current one,
// if any, returns. Triggers made while a tick is pending collapse into it.
func (l *Loop) Trigger() bool {
	if !l.running.Load() {
		return false
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

// LastTick is the start time of the most recent tick, zero before the first.
func (l *Loop) LastTick() time.Time {
	ns := l.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (l *Loop) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	slog.Info("loop started", "loop", l.name, "interval", l.interval.String())

	next := time.NewTimer(0)
	defer next.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-next.C:
		case <-l.wake:
		}
		l.safeTick(ctx)
		next.Reset(l.interval)
	}
}

func (l *Loop) safeTick(ctx context.Context) {
	start := time.Now()
	l.lastTick.Store(start.UnixNano())
	l.ticks.Add(1)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("tick panic recovered", "loop", l.name, "panic", r)
			return
		}
		slog.Debug("tick completed", "loop", l.name, "duration_ms", time.Since(start).Milliseconds())
	}()

	l.tick(ctx)
}
