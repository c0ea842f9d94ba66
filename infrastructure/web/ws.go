package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"dm-engine/auth"
	"dm-engine/errors"
	"dm-engine/sink"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from a different origin; auth is the token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// eventEnvelope is the wire frame pushed to clients.
type eventEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// inboundFrame is what clients may send over the socket. Only typing
// indicators come inbound; messages go through the REST endpoint.
type inboundFrame struct {
	Event      string `json:"event"`
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

// Connect upgrades the request to a websocket and registers the session.
//
// The session lives until the client disconnects or a write fails. One
// goroutine reads inbound frames, the handler goroutine drains the sink;
// unregistration is deferred so the registry never leaks a dead session.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.ValidateToken(r.URL.Query().Get("token"))
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", errors.ErrUnauthorized, err))
		return
	}
	userID := claims.UserID

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	sessionSink := sink.NewSessionSink(h.log, h.sinkBufferSize)
	sessionID := h.registry.Register(userID, sessionSink)
	h.log.Info("session connected", "user_id", userID, "session_id", sessionID)

	defer func() {
		h.registry.Unregister(sessionID)
		sessionSink.Close()
		_ = conn.Close()
		h.log.Info("session closed", "user_id", userID, "session_id", sessionID)
	}()

	readClosed := make(chan struct{})
	go h.readLoop(conn, userID, readClosed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readClosed:
			return
		case e := <-sessionSink.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(eventEnvelope{Event: e.EventName(), Data: e}); err != nil {
				h.log.Warn("websocket write failed",
					"user_id", userID, "session_id", sessionID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop consumes inbound frames until the connection dies. Unknown
// events are ignored rather than fatal, so older clients keep working.
func (h *Handler) readLoop(conn *websocket.Conn, userID string, done chan<- struct{}) {
	defer close(done)
	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Event {
		case "typing":
			if frame.ReceiverID != "" {
				h.messageService.Typing(userID, frame.ReceiverID, frame.IsTyping)
			}
		default:
			h.log.Debug("ignoring unknown inbound event", "event", frame.Event)
		}
	}
}
