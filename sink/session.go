// Package sink adapts transport connections to the engine's EventSink
// contract: one buffered channel per live session.
package sink

import (
	"context"
	"log/slog"
	"sync"

	"dm-engine/domain/event"
	"dm-engine/errors"
)

// SessionSink buffers events for a single transport session. The transport
// handler drains Events and writes to the wire; the engine side only ever
// sees Consume.
//
// Consume is called by fan-out paths. It never blocks: a closed session
// reports an error (so the caller can evict the registration), while a
// full buffer drops the event — the client catches up on its next fetch.
type SessionSink struct {
	log       *slog.Logger
	events    chan event.DomainEvent
	closed    chan struct{}
	closeOnce sync.Once
}

func NewSessionSink(log *slog.Logger, bufferSize int) *SessionSink {
	return &SessionSink{
		log:    log,
		events: make(chan event.DomainEvent, bufferSize),
		closed: make(chan struct{}),
	}
}

func (s *SessionSink) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case <-s.closed:
		return errors.ErrSessionClosed
	default:
	}
	select {
	case s.events <- e:
		return nil
	case <-s.closed:
		return errors.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.log.Warn("Session buffer full, dropping event", "event", e.EventName())
		return nil
	}
}

func (s *SessionSink) Events() <-chan event.DomainEvent {
	return s.events
}

// Close marks the session dead. Idempotent; pending events are discarded.
func (s *SessionSink) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}
