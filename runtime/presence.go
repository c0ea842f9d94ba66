package runtime

import (
	"fmt"
	"log/slog"

	"dm-engine/contract"
	"dm-engine/domain/event"
	"dm-engine/observability"
)

// Notice is one presence event with its routing decision.
// An empty Target means "broadcast to every live session", minus the
// session that caused the event.
type Notice struct {
	Target  string
	Exclude contract.SessionID
	Event   event.DomainEvent
}

// PresenceQueue decouples registry mutations from presence fan-out.
// Notices are enqueued in mutation order and drained by a single worker,
// which is what guarantees per-identity ordering (online before offline).
// Delivery is best-effort: a full queue drops the notice.
type PresenceQueue struct {
	log     *slog.Logger
	metrics *observability.EngineMetrics
	notices chan Notice
}

func NewPresenceQueue(log *slog.Logger, metrics *observability.EngineMetrics, bufferSize int) *PresenceQueue {
	return &PresenceQueue{log: log, metrics: metrics, notices: make(chan Notice, bufferSize)}
}

func (q *PresenceQueue) Enqueue(n Notice) {
	select {
	case q.notices <- n:
	default:
		q.metrics.IncrPresenceDropped()
		q.log.Warn(fmt.Sprintf("Presence queue full, dropping %s", n.Event.EventName()))
	}
}

func (q *PresenceQueue) Notices() <-chan Notice {
	return q.notices
}
