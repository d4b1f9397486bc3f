package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Call and Settle once the loop has been stopped.
var ErrClosed = errors.New("loop closed")

// Loop is the single-writer task loop.
//
// Thread-safety model:
//   - Post, After, Async, Call: safe from any goroutine
//   - Run, Drain, Settle: at most one active at a time; the goroutine running
//     them is "the loop goroutine"
//   - Call must never be used from the loop goroutine (it would deadlock)
type Loop struct {
	queue    *taskQueue
	clock    Clock
	inflight atomic.Int64

	// ctx is handed to Async work and cancelled by Stop
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a loop using the given clock. A nil clock means SystemClock.
func New(clock Clock) *Loop {
	if clock == nil {
		clock = SystemClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		queue:  newTaskQueue(),
		clock:  clock,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Clock returns the loop's clock.
func (l *Loop) Clock() Clock {
	return l.clock
}

// Post enqueues t. Returns false if the loop has been stopped.
func (l *Loop) Post(t Task) bool {
	return l.queue.Enqueue(t)
}

// After posts t once d has elapsed. Stopping the returned timer prevents the
// post; a task already posted still runs, so callers that need cancellation
// guarantees must also guard the task itself.
func (l *Loop) After(d time.Duration, t Task) Timer {
	return l.clock.AfterFunc(d, func() {
		l.Post(t)
	})
}

// Async runs work on its own goroutine and posts the continuation it returns
// back onto the loop. A nil continuation is allowed.
//
// Work must not touch loop-owned state; only the continuation may.
func (l *Loop) Async(work func(ctx context.Context) Task) {
	l.inflight.Add(1)
	go func() {
		defer func() {
			l.inflight.Add(-1)
			l.queue.Wake()
		}()

		cont := work(l.ctx)
		if cont != nil {
			// Post before the in-flight count drops so Settle never observes
			// an empty queue with the continuation still pending.
			l.Post(cont)
		}
	}()
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain runs queued tasks on the calling goroutine until the queue is empty.
// Tasks posted while draining are run too. Returns the number of tasks run.
func (l *Loop) Drain() int {
	n := 0
	for {
		t, ok := l.queue.TryDequeue()
		if !ok {
			return n
		}
		l.runTask(t)
		n++
	}
}

// Settle drains the loop until it is quiescent: no queued tasks and no Async
// work in flight. Pending timers do not count; they are only posted when they
// fire.
func (l *Loop) Settle(ctx context.Context) error {
	for {
		l.Drain()
		if l.inflight.Load() == 0 && l.queue.Len() == 0 {
			return nil
		}
		if l.queue.Closed() {
			return ErrClosed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.queue.Wait():
		}
	}
}

// Quiesce waits until a loop driven by Run is quiescent: no queued tasks and
// no Async work in flight. It is the Run counterpart of Settle and must not
// be called from the loop goroutine.
func (l *Loop) Quiesce(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		idle := false
		if err := l.Call(ctx, func() {
			idle = l.inflight.Load() == 0 && l.queue.Len() == 0
		}); err != nil {
			return err
		}
		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Run processes tasks until ctx is cancelled or Stop is called.
//
// ERROR HANDLING: a panicking task is logged and processing continues with
// the next task.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("loop starting")

	for {
		if t, ok := l.queue.TryDequeue(); ok {
			l.runTask(t)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("loop stopping: context cancelled")
			l.Stop()
			return ctx.Err()

		case <-l.queue.Wait():
			if l.queue.Closed() && l.queue.Len() == 0 {
				slog.Info("loop stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue and cancels in-flight Async work.
// Tasks posted afterwards are dropped.
func (l *Loop) Stop() {
	l.queue.Close()
	l.cancel()
}

// QueueLen returns the number of pending tasks.
func (l *Loop) QueueLen() int {
	return l.queue.Len()
}

// InFlight returns the number of Async operations not yet completed.
func (l *Loop) InFlight() int {
	return int(l.inflight.Load())
}

func (l *Loop) runTask(t Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked", "error", fmt.Sprint(r))
		}
	}()
	t()
}
