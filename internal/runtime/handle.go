package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// activityBuffer sizes the per-run activity channel.
const activityBuffer = 64

// baseHandle carries the lifecycle shared by every engine: the state
// machine, the activity channel and idempotent stop.
type baseHandle struct {
	sm         *stateMachine
	activities chan Activity
	runCtx     context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	grace      time.Duration

	// terminate asks the engine to wind down; kill forces it after grace.
	terminate func() error
	kill      func() error

	// sendMu guards activities against sends racing the final close; tool
	// servers may still report from their own goroutines.
	sendMu sync.RWMutex
	closed bool

	stopOnce sync.Once
	stopErr  error
}

func newBaseHandle(ctx context.Context, grace time.Duration) *baseHandle {
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	runCtx, cancel := context.WithCancel(ctx)
	return &baseHandle{
		sm:         newStateMachine(),
		activities: make(chan Activity, activityBuffer),
		runCtx:     runCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
		grace:      grace,
	}
}

func (h *baseHandle) Activities() <-chan Activity { return h.activities }

func (h *baseHandle) State() State { return h.sm.current() }

// emit delivers a to the consumer unless the run has been cancelled.
func (h *baseHandle) emit(a Activity) bool {
	h.sendMu.RLock()
	defer h.sendMu.RUnlock()
	if h.closed {
		return false
	}
	select {
	case h.activities <- a:
		return true
	case <-h.runCtx.Done():
		return false
	}
}

// finish records the terminal state and delivers the terminal activity.
// A run that was already cancelled keeps its state and emits nothing.
func (h *baseHandle) finish(to State, a Activity) {
	if err := h.sm.transition(to); err != nil {
		return
	}
	h.sendMu.RLock()
	defer h.sendMu.RUnlock()
	if h.closed {
		return
	}
	// Buffered first: a parent cancel racing completion must not drop it.
	select {
	case h.activities <- a:
		return
	default:
	}
	select {
	case h.activities <- a:
	case <-h.runCtx.Done():
	}
}

// fail moves a starting or running run to failed.
func (h *baseHandle) fail(message, diagnostic string) {
	last := h.sm.current()
	h.finish(StateFailed, Activity{Kind: ActivityError, Text: message, State: last, Diagnostic: diagnostic})
}

// markCancelled moves a running run to cancelled. It reports whether this
// call made the transition.
func (h *baseHandle) markCancelled() bool {
	return h.sm.transition(StateCancelled) == nil
}

// closeRun is called once by the engine goroutine on exit.
func (h *baseHandle) closeRun() {
	if !h.sm.current().IsTerminal() {
		if h.runCtx.Err() != nil {
			h.markCancelled()
		} else {
			h.fail("runtime exited without a result", "")
		}
	}
	h.sendMu.Lock()
	h.closed = true
	close(h.activities)
	h.sendMu.Unlock()
	close(h.done)
}

// Stop cancels the run, waits up to the grace period for it to exit and
// then force-kills it.
func (h *baseHandle) Stop() error {
	h.stopOnce.Do(func() {
		if h.markCancelled() {
			slog.Debug("runtime.cancelled")
		}
		if h.terminate != nil {
			if err := h.terminate(); err != nil {
				slog.Debug("runtime.terminate_failed", "error", err)
			}
		}
		h.cancel()

		timer := time.NewTimer(h.grace)
		defer timer.Stop()
		select {
		case <-h.done:
			return
		case <-timer.C:
		}

		if h.kill != nil {
			if err := h.kill(); err != nil {
				h.stopErr = err
			}
		}
		select {
		case <-h.done:
		case <-time.After(h.grace):
			h.stopErr = errors.Join(h.stopErr, errors.New("runtime did not exit after kill"))
		}
	})
	return h.stopErr
}
