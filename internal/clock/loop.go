package clock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrLoopStopped is returned when work is submitted to a stopped loop.
var ErrLoopStopped = errors.New("event loop stopped")

// Loop is a Scheduler backed by wall-clock timers whose callbacks, together
// with any submitted commands, are executed one at a time by Run.
type Loop struct {
	tasks    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// NewLoop creates a loop with the given task queue depth
func NewLoop(queue int) *Loop {
	if queue <= 0 {
		queue = 64
	}
	return &Loop{
		tasks: make(chan func(), queue),
		done:  make(chan struct{}),
	}
}

// Run executes tasks until ctx is cancelled or Stop is called
func (l *Loop) Run(ctx context.Context) {
	log.Debug().Msg("event loop started")
	defer log.Debug().Msg("event loop stopped")

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.done:
			return
		case task := <-l.tasks:
			l.exec(task)
		}
	}
}

func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("event loop task panicked")
		}
	}()
	task()
}

// Stop ends Run. Safe to call multiple times.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}

// Post queues f without waiting for it to run
func (l *Loop) Post(f func()) error {
	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}

	select {
	case <-l.done:
		return ErrLoopStopped
	case l.tasks <- f:
		return nil
	}
}

// Do runs f on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	err := l.Post(func() {
		defer close(finished)
		f()
	})
	if err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Now returns the wall-clock time
func (l *Loop) Now() time.Time {
	return time.Now()
}

// AfterFunc schedules f to run on the loop after d
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		err := l.Post(func() {
			// Stop may have raced with the wall-clock timer firing.
			if t.stopped.Swap(true) {
				return
			}
			f()
		})
		if err != nil {
			log.Debug().Err(err).Msg("dropping timer callback")
		}
	})
	return t
}

type loopTimer struct {
	timer   *time.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.timer.Stop()
	return !t.stopped.Swap(true)
}
