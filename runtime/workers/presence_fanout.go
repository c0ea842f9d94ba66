package workers

import (
	"context"
	"log/slog"

	"dm-engine/contract"
	"dm-engine/runtime"
)

// PresenceFanout drains the presence queue and routes each notice to the
// right sessions: targeted notices (typing) reach only one identity,
// broadcast notices (online/offline) reach everyone else.
//
// A single instance consumes the queue, which preserves the per-identity
// ordering the registry established when it enqueued. Delivery itself is
// best-effort with no retries and no persistence.
type PresenceFanout struct {
	log      *slog.Logger
	queue    *runtime.PresenceQueue
	notifier contract.INotifier
}

func NewPresenceFanout(log *slog.Logger, queue *runtime.PresenceQueue, notifier contract.INotifier) *PresenceFanout {
	return &PresenceFanout{log: log, queue: queue, notifier: notifier}
}

func (w *PresenceFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping presence fanout")
			return nil
		case notice := <-w.queue.Notices():
			w.route(ctx, notice)
		}
	}
}

func (w *PresenceFanout) route(ctx context.Context, notice runtime.Notice) {
	if notice.Target != "" {
		w.notifier.NotifyUser(ctx, notice.Target, notice.Event)
		return
	}
	w.notifier.Broadcast(ctx, notice.Event, notice.Exclude)
}
