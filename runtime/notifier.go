package runtime

import (
	"context"
	"log/slog"

	"dm-engine/contract"
	"dm-engine/domain/event"
	"dm-engine/observability"
)

// Notifier pushes events to live sessions through the registry.
//
// A failed sink write marks that session stale: it is unregistered on the
// spot, never retried, and never blocks delivery to the other sessions.
// Fan-out failures stay invisible to the caller; the returned count is the
// number of sessions that existed when the fan-out started.
type Notifier struct {
	log      *slog.Logger
	registry contract.IRegistry
	metrics  *observability.EngineMetrics
}

func NewNotifier(log *slog.Logger, registry contract.IRegistry, metrics *observability.EngineMetrics) *Notifier {
	return &Notifier{log: log, registry: registry, metrics: metrics}
}

func (n *Notifier) NotifyUser(ctx context.Context, identity string, e event.DomainEvent) int {
	handles := n.registry.SessionsFor(identity)
	n.deliver(ctx, handles, e)
	return len(handles)
}

func (n *Notifier) Broadcast(ctx context.Context, e event.DomainEvent, exclude ...contract.SessionID) int {
	handles := n.registry.AllSessions(exclude...)
	n.deliver(ctx, handles, e)
	return len(handles)
}

func (n *Notifier) deliver(ctx context.Context, handles []contract.SessionHandle, e event.DomainEvent) {
	for _, handle := range handles {
		if err := handle.Sink.Consume(ctx, e); err != nil {
			n.log.Warn("session write failed, evicting",
				"session_id", handle.ID,
				"event", e.EventName(),
				"error", err)
			n.metrics.IncrFanoutFailures()
			n.registry.Unregister(handle.ID)
		}
	}
}
