package poller

import (
	"context"
	"sync"
	"time"
)

type Task func(ctx context.Context)

// Handle stops a repeated task.
type Handle interface {
	Stop()
}

// Scheduler runs a task repeatedly.
type Scheduler interface {
	// Repeat runs task interval after it is registered and again interval
	// after each run completes, until the handle is stopped or ctx is done.
	Repeat(ctx context.Context, interval time.Duration, task Task) Handle
}

// TimerScheduler is the wall-clock Scheduler. Runs never overlap.
type TimerScheduler struct{}

func (TimerScheduler) Repeat(ctx context.Context, interval time.Duration, task Task) Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &timerHandle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)

		timer := time.NewTimer(interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			// A started run is allowed to finish after Stop.
			task(context.WithoutCancel(ctx))
			timer.Reset(interval)
		}
	}()

	return h
}

type timerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop cancels future runs and waits for a run in progress.
func (h *timerHandle) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}
