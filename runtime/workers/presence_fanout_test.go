package workers

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dm-engine/contract"
	"dm-engine/domain/event"
	"dm-engine/runtime"
)

// capturingNotifier records routed notices instead of touching sessions.
type capturingNotifier struct {
	mu        sync.Mutex
	targeted  []string
	broadcast []event.DomainEvent
	excluded  []contract.SessionID
	events    []event.DomainEvent
}

func (n *capturingNotifier) NotifyUser(_ context.Context, identity string, e event.DomainEvent) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targeted = append(n.targeted, identity)
	n.events = append(n.events, e)
	return 1
}

func (n *capturingNotifier) Broadcast(_ context.Context, e event.DomainEvent, exclude ...contract.SessionID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcast = append(n.broadcast, e)
	n.excluded = append(n.excluded, exclude...)
	return 0
}

func (n *capturingNotifier) snapshot() (targeted []string, broadcast []event.DomainEvent, excluded []contract.SessionID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string{}, n.targeted...),
		append([]event.DomainEvent{}, n.broadcast...),
		append([]contract.SessionID{}, n.excluded...)
}

func startFanout(t *testing.T) (*runtime.PresenceQueue, *capturingNotifier, context.CancelFunc) {
	t.Helper()
	queue := runtime.NewPresenceQueue(slog.Default(), newTestMetrics(), 64)
	notifier := &capturingNotifier{}
	worker := NewPresenceFanout(slog.Default(), queue, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return queue, notifier, cancel
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func Test_Targeted_Notice_Reaches_Only_The_Target(t *testing.T) {
	req := require.New(t)
	queue, notifier, _ := startFanout(t)

	// When a typing notice aimed at bob is enqueued
	queue.Enqueue(runtime.Notice{
		Target: "bob",
		Event:  event.Typing{SenderID: "alice", IsTyping: true},
	})

	waitFor(t, func() bool {
		targeted, _, _ := notifier.snapshot()
		return len(targeted) == 1
	})

	targeted, broadcast, _ := notifier.snapshot()
	req.Equal([]string{"bob"}, targeted)
	req.Empty(broadcast)
}

func Test_Broadcast_Notice_Carries_The_Origin_Exclusion(t *testing.T) {
	req := require.New(t)
	queue, notifier, _ := startFanout(t)

	// When an online notice excluding the freshly registered session arrives
	queue.Enqueue(runtime.Notice{
		Exclude: contract.SessionID(7),
		Event:   event.UserOnline{UserID: "alice"},
	})

	waitFor(t, func() bool {
		_, broadcast, _ := notifier.snapshot()
		return len(broadcast) == 1
	})

	_, broadcast, excluded := notifier.snapshot()
	req.Equal("user-online", broadcast[0].EventName())
	req.Equal([]contract.SessionID{7}, excluded)
}

func Test_Notices_Are_Routed_In_Enqueue_Order(t *testing.T) {
	req := require.New(t)
	queue, notifier, _ := startFanout(t)

	// Online then offline for the same identity must come out in order
	queue.Enqueue(runtime.Notice{Event: event.UserOnline{UserID: "alice"}})
	queue.Enqueue(runtime.Notice{Event: event.UserOffline{UserID: "alice"}})

	waitFor(t, func() bool {
		_, broadcast, _ := notifier.snapshot()
		return len(broadcast) == 2
	})

	_, broadcast, _ := notifier.snapshot()
	req.Equal("user-online", broadcast[0].EventName())
	req.Equal("user-offline", broadcast[1].EventName())
}

func Test_Run_Stops_On_Context_Cancel(t *testing.T) {
	req := require.New(t)
	queue := runtime.NewPresenceQueue(slog.Default(), newTestMetrics(), 4)
	worker := NewPresenceFanout(slog.Default(), queue, &capturingNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
