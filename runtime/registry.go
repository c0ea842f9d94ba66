// Package runtime owns the live-session state of the delivery engine:
// which identities have open transport sessions and how events reach them.
// It contains no business rules about messages themselves.
package runtime

import (
	"sync"
	"time"

	"dm-engine/contract"
	"dm-engine/domain/event"
)

type session struct {
	identity    string
	sink        contract.EventSink
	connectedAt time.Time
}

// Registry tracks live transport sessions per identity. An identity owns
// zero or many sessions (multi-device); sessions live exactly as long as
// the process, nothing is ever recovered from storage.
//
// Session ids come from a counter that only moves forward, so a reconnect
// racing a late disconnect can never be removed by mistake: the stale
// Unregister targets the old id and finds nothing.
type Registry struct {
	mu         sync.RWMutex
	nextID     contract.SessionID
	sessions   map[contract.SessionID]session
	byIdentity map[string]map[contract.SessionID]contract.EventSink
	presence   *PresenceQueue
}

func NewRegistry(presence *PresenceQueue) *Registry {
	return &Registry{
		sessions:   make(map[contract.SessionID]session),
		byIdentity: make(map[string]map[contract.SessionID]contract.EventSink),
		presence:   presence,
	}
}

// Register adds a live session for an identity and never fails.
// The online notice is enqueued under the lock so presence events leave
// in the same order the registry changed.
func (r *Registry) Register(identity string, sink contract.EventSink) contract.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.sessions[id] = session{identity: identity, sink: sink, connectedAt: time.Now().UTC()}
	if _, ok := r.byIdentity[identity]; !ok {
		r.byIdentity[identity] = make(map[contract.SessionID]contract.EventSink)
	}
	r.byIdentity[identity][id] = sink

	r.presence.Enqueue(Notice{
		Exclude: id,
		Event:   event.UserOnline{UserID: identity},
	})
	return id
}

// Unregister removes a session. Removing an unknown or already-removed id
// is a no-op. The offline notice fires only when the identity's last
// session goes away.
func (r *Registry) Unregister(id contract.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)

	if members, ok := r.byIdentity[s.identity]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.byIdentity, s.identity)
			r.presence.Enqueue(Notice{
				Event: event.UserOffline{UserID: s.identity},
			})
		}
	}
}

// SessionsFor returns the identity's live handles at call time.
// An empty result means the user is offline.
func (r *Registry) SessionsFor(identity string) []contract.SessionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.byIdentity[identity]
	if !ok {
		return nil
	}
	handles := make([]contract.SessionHandle, 0, len(members))
	for id, sink := range members {
		handles = append(handles, contract.SessionHandle{ID: id, Sink: sink})
	}
	return handles
}

// AllSessions returns every live handle except the excluded session ids.
func (r *Registry) AllSessions(exclude ...contract.SessionID) []contract.SessionHandle {
	excluded := make(map[contract.SessionID]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var handles []contract.SessionHandle
	for id, s := range r.sessions {
		if _, skip := excluded[id]; skip {
			continue
		}
		handles = append(handles, contract.SessionHandle{ID: id, Sink: s.sink})
	}
	return handles
}

func (r *Registry) IsOnline(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity[identity]) > 0
}

// Count reports the number of live sessions, for the health endpoint.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
