package services

import (
	"context"
	"errors"
	"time"

	"piggybank/internal/core"
	"piggybank/internal/log"
)

// ErrEventQueueFull is returned by EventQueue.Publish when the buffer is full
// and the event was dropped.
var ErrEventQueueFull = errors.New("event queue full")

const (
	DefaultEventQueueSize = 256
	drainTimeout          = 5 * time.Second
)

// EventQueue buffers events so callers never wait on the broker. Run hands
// them to the wrapped Publisher one at a time, in order.
type EventQueue struct {
	next   Publisher
	events chan core.Event
	logger *log.Logger
}

var _ Publisher = (*EventQueue)(nil)

func NewEventQueue(next Publisher, size int, logger *log.Logger) *EventQueue {
	if size <= 0 {
		size = DefaultEventQueueSize
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &EventQueue{
		next:   next,
		events: make(chan core.Event, size),
		logger: logger.WithComponent(log.ComponentEvents),
	}
}

// Publish enqueues ev without blocking.
func (q *EventQueue) Publish(_ context.Context, ev core.Event) error {
	select {
	case q.events <- ev:
		return nil
	default:
		return ErrEventQueueFull
	}
}

// Run delivers queued events until ctx is done, then flushes what is left
// within a short grace period.
func (q *EventQueue) Run(ctx context.Context) error {
	q.logger.InfoContext(ctx, "Event queue started", "capacity", cap(q.events))
	for {
		select {
		case ev := <-q.events:
			q.deliver(ctx, ev)
		case <-ctx.Done():
			q.drain()
			return nil
		}
	}
}

func (q *EventQueue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-q.events:
			if ctx.Err() != nil {
				q.logger.Warn("Dropping undelivered events on shutdown", "pending", len(q.events)+1)
				return
			}
			q.deliver(ctx, ev)
		default:
			q.logger.Info("Event queue stopped")
			return
		}
	}
}

func (q *EventQueue) deliver(ctx context.Context, ev core.Event) {
	if err := q.next.Publish(ctx, ev); err != nil {
		q.logger.ErrorContext(ctx, "Failed to deliver event",
			log.FieldEventType, ev.Type,
			log.FieldError, err)
	}
}

// Pending reports how many events wait for delivery.
func (q *EventQueue) Pending() int { return len(q.events) }
