//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"dm-engine/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
}

// Worker doesn't protect itself.
// Can be silly, focused. The supervisor handles panics and restarts.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker,
// used for logging and supervision without forcing a name into the interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is a live, writable channel to exactly one client process.
// Consume may fail: a failing sink is treated as a stale session.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// SessionID identifies one registered transport session. Ids are issued by
// a monotonic counter, so a reconnect never collides with a late disconnect.
type SessionID uint64

// SessionHandle pairs a session id with its sink so fan-out failures can
// evict exactly the session that failed.
type SessionHandle struct {
	ID   SessionID
	Sink EventSink
}

type IRegistry interface {
	Register(identity string, sink EventSink) SessionID
	Unregister(id SessionID)
	SessionsFor(identity string) []SessionHandle
	AllSessions(exclude ...SessionID) []SessionHandle
	IsOnline(identity string) bool
}

// INotifier fans an event out to live sessions. The returned count is the
// number of sessions that existed at call time, not successful writes.
type INotifier interface {
	NotifyUser(ctx context.Context, identity string, e event.DomainEvent) int
	Broadcast(ctx context.Context, e event.DomainEvent, exclude ...SessionID) int
}
