// Package uiloop is the single UI execution context. Display mutations and
// calibration pattern toggles run only on the goroutine draining a Loop;
// every other goroutine hands work over with Submit and never branches on
// which goroutine it is running on.
package uiloop

import (
	"context"
	"sync"

	"github.com/banshee-data/projector.arena/internal/monitoring"
)

// Submitter accepts tasks for the UI context.
type Submitter interface {
	// Submit enqueues task. It never blocks and never runs task inline.
	// It reports false when the loop has been stopped and the task dropped.
	Submit(task func()) bool
}

// Loop is an unbounded FIFO of tasks with a single consumer. Producers on
// the capture goroutine only take a short mutex to append, so they are never
// held up by rendering.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	ran     uint64
	dropped uint64
}

// New creates an empty loop.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Submit enqueues task for the next Drain.
func (l *Loop) Submit(task func()) bool {
	if task == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.dropped++
		l.mu.Unlock()
		monitoring.Debugf("[uiloop] task dropped after stop")
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
		// a wake-up is already pending
	}
	return true
}

// Drain runs queued tasks in submission order until the queue is empty,
// including tasks submitted by the tasks it runs. It returns the number of
// tasks run. Call it once per UI frame, or use Run.
func (l *Loop) Drain() int {
	n := 0
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return n
		}
		for _, task := range batch {
			task()
			n++
		}
		l.mu.Lock()
		l.ran += uint64(len(batch))
		l.mu.Unlock()
	}
}

// Run drains the loop whenever work arrives until ctx is cancelled. Tasks
// still queued at cancellation are run before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.Drain()
			return ctx.Err()
		case <-l.wake:
			l.Drain()
		}
	}
}

// Stop makes further Submit calls drop their task. Already queued tasks are
// still run by the next Drain.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
}

// Pending returns the number of tasks waiting to run.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Stats returns how many tasks have run and how many were dropped.
func (l *Loop) Stats() (ran, dropped uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ran, l.dropped
}
