// Package timectrl paces scenario replay. Each tick advances replay time by
// a fixed step and runs the registered listeners with the tick number.
package timectrl

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Clock gives read access to replay time.
type Clock interface {
	// Now returns the current replay time.
	Now() time.Time
}

// Mode describes how the TimeController advances replay time.
type Mode int

const (
	// RealTime waits one Tick of wall-clock time between steps.
	RealTime Mode = iota
	// Accelerated advances as quickly as listeners return while still
	// stepping replay time by Tick.
	Accelerated
)

// ErrInvalidTick is returned when a real-time controller has no tick.
var ErrInvalidTick = errors.New("real-time replay needs a positive tick")

// Listener runs once per tick. A non-nil error stops the replay.
type Listener func(tick int, now time.Time) error

// TimeController drives replay time and notifies registered listeners.
// It implements Clock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time

	listeners []Listener
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current replay time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves replay time to t.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn Listener) {
	if fn == nil {
		return
	}
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Run advances replay time ticks times, numbering ticks from 1. It stops
// early when ctx is done or a listener fails.
func (tc *TimeController) Run(ctx context.Context, ticks int) error {
	var wait <-chan time.Time
	if tc.Mode == RealTime {
		if tc.Tick <= 0 {
			return ErrInvalidTick
		}
		ticker := time.NewTicker(tc.Tick)
		defer ticker.Stop()
		wait = ticker.C
	}

	now := tc.StartTime
	tc.SetTime(now)

	for i := 1; i <= ticks; i++ {
		if wait != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wait:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		now = now.Add(tc.Tick)
		tc.SetTime(now)

		tc.mu.RLock()
		listeners := append([]Listener(nil), tc.listeners...)
		tc.mu.RUnlock()
		for _, fn := range listeners {
			if err := fn(i, now); err != nil {
				return err
			}
		}
	}
	return nil
}

// Start runs the controller in a separate goroutine. The returned channel
// receives Run's result and is then closed.
func (tc *TimeController) Start(ctx context.Context, ticks int) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- tc.Run(ctx, ticks)
	}()
	return done
}
