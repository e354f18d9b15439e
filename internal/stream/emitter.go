// Package stream turns session activity into the ordered event sequence
// delivered to a caller.
//
// An Emitter belongs to exactly one session. The session's producer calls
// Emit (single writer) and Close; the transport drains Events. The channel
// is bounded: when the consumer falls behind, Emit blocks instead of
// dropping events. A consumer that goes away calls Detach, which unblocks
// the producer with ErrDetached.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

// DefaultBuffer is the number of events buffered between producer and consumer.
const DefaultBuffer = 64

var (
	// ErrClosed is returned by Emit after Close in strict mode.
	ErrClosed = errors.New("stream: emit after close")
	// ErrTerminated is returned when an event follows error or done.
	ErrTerminated = errors.New("stream: event after terminal event")
	// ErrDetached is returned when the consumer has gone away.
	ErrDetached = errors.New("stream: consumer detached")
)

// Emitter is a bounded, ordered, single-writer event channel.
type Emitter struct {
	ch     chan protocol.Event
	debug  bool
	strict bool

	mu         sync.Mutex
	closed     bool
	terminal   string
	emitted    int
	closeOnce  sync.Once
	detached   chan struct{}
	detachOnce sync.Once
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithDebug enables debug events.
func WithDebug(debug bool) Option {
	return func(e *Emitter) { e.debug = debug }
}

// WithStrict makes emit-after-close an error instead of a no-op.
func WithStrict(strict bool) Option {
	return func(e *Emitter) { e.strict = strict }
}

// NewEmitter creates an emitter with the given buffer bound (DefaultBuffer if <= 0).
func NewEmitter(buffer int, opts ...Option) *Emitter {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	e := &Emitter{
		ch:       make(chan protocol.Event, buffer),
		strict:   strictDefault,
		detached: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Events returns the channel the transport drains. It is closed by Close.
func (e *Emitter) Events() <-chan protocol.Event {
	return e.ch
}

// DebugEnabled reports whether debug events are delivered.
func (e *Emitter) DebugEnabled() bool {
	return e.debug
}

// Emit appends one event. It blocks while the buffer is full, and returns
// early if the consumer detached or, while blocked, if ctx is done.
func (e *Emitter) Emit(ctx context.Context, kind string, data map[string]interface{}) error {
	if data == nil {
		data = map[string]interface{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		if e.strict {
			slog.Error("stream.emit_after_close", "event", kind)
			return ErrClosed
		}
		return nil
	}
	if e.terminal != "" {
		slog.Debug("stream.event_after_terminal", "event", kind, "terminal", e.terminal)
		return ErrTerminated
	}

	select {
	case <-e.detached:
		return ErrDetached
	default:
	}

	// A free buffer slot always wins over a done ctx, so a final event
	// emitted on a cancelled context still reaches the consumer.
	ev := protocol.Event{Event: kind, Data: data}
	select {
	case e.ch <- ev:
	default:
		select {
		case e.ch <- ev:
		case <-e.detached:
			return ErrDetached
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.emitted++
	if protocol.IsTerminalKind(kind) {
		e.terminal = kind
	}
	return nil
}

// Close ends the stream. Safe to call more than once.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.ch)
		e.mu.Unlock()
	})
}

// Detach signals that the consumer stopped reading.
func (e *Emitter) Detach() {
	e.detachOnce.Do(func() { close(e.detached) })
}

// Detached is closed once the consumer has detached.
func (e *Emitter) Detached() <-chan struct{} {
	return e.detached
}

// Terminal returns the terminal event kind emitted so far, or "".
func (e *Emitter) Terminal() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminal
}

// Emitted returns the number of events accepted.
func (e *Emitter) Emitted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitted
}
