package web

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"dm-engine/observability"
	"dm-engine/repositories"
	"dm-engine/runtime"
	"dm-engine/runtime/workers"
	"dm-engine/services"
)

const testPassword = "Str0ng&Secret!x"

type testServer struct {
	*httptest.Server
	registry *runtime.Registry
}

// startServer wires the full engine against a throwaway badger instance,
// including the presence fan-out worker.
func startServer(t *testing.T) *testServer {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	metrics := observability.NewEngineMetrics(log)
	queue := runtime.NewPresenceQueue(log, metrics, 64)
	registry := runtime.NewRegistry(queue)
	notifier := runtime.NewNotifier(log, registry, metrics)
	users := repositories.NewUserRepository(db)
	messages := repositories.NewMessageRepository(db, log)

	messageService := services.NewMessageService(log, users, messages, registry, notifier, queue, metrics, 20)
	authService := services.NewAuthService(users, time.Hour)
	handler := NewHandler(log, messageService, authService, registry, metrics, 16)

	fanoutCtx := t.Context()
	go func() { _ = workers.NewPresenceFanout(log, queue, notifier).Run(fanoutCtx) }()

	server := httptest.NewServer(NewRouter(handler))
	t.Cleanup(server.Close)
	return &testServer{Server: server, registry: registry}
}

func (s *testServer) postJSON(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	request, err := http.NewRequest(http.MethodPost, s.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := s.Client().Do(request)
	require.NoError(t, err)
	return response
}

func (s *testServer) getJSON(t *testing.T, path, token string) *http.Response {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, s.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := s.Client().Do(request)
	require.NoError(t, err)
	return response
}

func decodeData(t *testing.T, response *http.Response, into any) {
	t.Helper()
	defer func() { _ = response.Body.Close() }()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	require.NoError(t, json.NewDecoder(response.Body).Decode(&envelope))
	require.True(t, envelope.Success, envelope.Message)
	if into != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, into))
	}
}

type account struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

func (s *testServer) signUp(t *testing.T, email string) account {
	t.Helper()
	response := s.postJSON(t, "/api/v1/users/sign-up", "", map[string]string{
		"email": email, "password": testPassword,
	})
	require.Equal(t, http.StatusCreated, response.StatusCode)
	var acc account
	decodeData(t, response, &acc)
	return acc
}

func Test_SignUp_Login_Roundtrip(t *testing.T) {
	req := require.New(t)
	server := startServer(t)

	acc := server.signUp(t, "alice@example.com")
	req.NotEmpty(acc.Token)
	req.NotEmpty(acc.UserID)

	// Duplicate sign-up conflicts
	response := server.postJSON(t, "/api/v1/users/sign-up", "", map[string]string{
		"email": "alice@example.com", "password": testPassword,
	})
	req.Equal(http.StatusConflict, response.StatusCode)
	_ = response.Body.Close()

	// Login with the same credentials
	response = server.postJSON(t, "/api/v1/users/login", "", map[string]string{
		"email": "alice@example.com", "password": testPassword,
	})
	req.Equal(http.StatusOK, response.StatusCode)
	var logged account
	decodeData(t, response, &logged)
	req.Equal(acc.UserID, logged.UserID)

	// Wrong password is unauthorized
	response = server.postJSON(t, "/api/v1/users/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password-1!A",
	})
	req.Equal(http.StatusUnauthorized, response.StatusCode)
	_ = response.Body.Close()
}

func Test_Protected_Routes_Require_A_Token(t *testing.T) {
	req := require.New(t)
	server := startServer(t)

	response := server.postJSON(t, "/api/v1/messages/send", "", map[string]string{
		"receiverId": "someone", "content": "hi",
	})
	req.Equal(http.StatusUnauthorized, response.StatusCode)
	_ = response.Body.Close()

	response = server.getJSON(t, "/api/v1/messages/chats/list", "")
	req.Equal(http.StatusUnauthorized, response.StatusCode)
	_ = response.Body.Close()
}

func Test_Send_History_And_Chat_List_Over_HTTP(t *testing.T) {
	req := require.New(t)
	server := startServer(t)
	alice := server.signUp(t, "alice@example.com")
	bob := server.signUp(t, "bob@example.com")

	// Alice sends to bob
	response := server.postJSON(t, "/api/v1/messages/send", alice.Token, map[string]string{
		"receiverId": bob.UserID, "content": "hello over http",
	})
	req.Equal(http.StatusCreated, response.StatusCode)
	var sent struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeData(t, response, &sent)
	req.Equal("sent", sent.Status)

	// Bob's chat list shows one unread conversation
	response = server.getJSON(t, "/api/v1/messages/chats/list", bob.Token)
	req.Equal(http.StatusOK, response.StatusCode)
	var chats []struct {
		UnreadCount int `json:"unreadCount"`
	}
	decodeData(t, response, &chats)
	req.Len(chats, 1)
	req.Equal(1, chats[0].UnreadCount)

	// Bob fetches the history, which consumes the backlog
	response = server.getJSON(t, "/api/v1/messages/"+alice.UserID, bob.Token)
	req.Equal(http.StatusOK, response.StatusCode)
	var history struct {
		Messages []struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	decodeData(t, response, &history)
	req.Len(history.Messages, 1)
	req.Equal(sent.ID, history.Messages[0].ID)
	req.Equal("hello over http", history.Messages[0].Content)

	response = server.getJSON(t, "/api/v1/messages/chats/list", bob.Token)
	decodeData(t, response, &chats)
	req.Equal(0, chats[0].UnreadCount)
}

func Test_Send_Rejects_Unknown_Message_Type(t *testing.T) {
	req := require.New(t)
	server := startServer(t)
	alice := server.signUp(t, "alice@example.com")
	bob := server.signUp(t, "bob@example.com")

	response := server.postJSON(t, "/api/v1/messages/send", alice.Token, map[string]string{
		"receiverId": bob.UserID, "content": "hi", "messageType": "hologram",
	})
	req.Equal(http.StatusBadRequest, response.StatusCode)
	_ = response.Body.Close()
}

func Test_Health_Reports_Engine_Stats(t *testing.T) {
	req := require.New(t)
	server := startServer(t)

	response := server.getJSON(t, "/health", "")
	req.Equal(http.StatusOK, response.StatusCode)
	var stats struct {
		ActiveSessions int    `json:"active_sessions"`
		MessagesSent   uint64 `json:"messages_sent"`
	}
	decodeData(t, response, &stats)
	req.Equal(0, stats.ActiveSessions)
}

func dialWS(t *testing.T, server *testServer, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, response, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if response != nil {
		_ = response.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var envelope struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&envelope))
	return envelope.Event, envelope.Data
}

// readUntil skips frames until the wanted event arrives. Presence frames
// from earlier registrations can interleave with delivery frames.
func readUntil(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		eventName, data := readEnvelope(t, conn)
		if eventName == want {
			return data
		}
	}
	t.Fatalf("never received %q", want)
	return nil
}

func Test_WS_Rejects_A_Bad_Token(t *testing.T) {
	req := require.New(t)
	server := startServer(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=garbage"
	_, response, err := websocket.DefaultDialer.Dial(wsURL, nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, response.StatusCode)
	_ = response.Body.Close()
}

func Test_WS_Session_Receives_Messages_And_Typing(t *testing.T) {
	req := require.New(t)
	server := startServer(t)
	alice := server.signUp(t, "alice@example.com")
	bob := server.signUp(t, "bob@example.com")

	bobConn := dialWS(t, server, bob.Token)
	waitForSessions(t, server.registry, 1)
	aliceConn := dialWS(t, server, alice.Token)
	waitForSessions(t, server.registry, 2)

	// Bob hears alice come online
	eventName, _ := readEnvelope(t, bobConn)
	req.Equal("user-online", eventName)

	// Alice sends over REST; bob's socket gets the message push
	response := server.postJSON(t, "/api/v1/messages/send", alice.Token, map[string]string{
		"receiverId": bob.UserID, "content": "ws delivery",
	})
	req.Equal(http.StatusCreated, response.StatusCode)
	var sent struct {
		Status string `json:"status"`
	}
	decodeData(t, response, &sent)
	req.Equal("delivered", sent.Status)

	eventName, data := readEnvelope(t, bobConn)
	req.Equal("newMessage", eventName)
	var push struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	req.NoError(json.Unmarshal(data, &push))
	req.Equal("ws delivery", push.Message.Content)

	// Alice's socket got the delivered acknowledgment
	data = readUntil(t, aliceConn, "messageStatus")
	var ack struct {
		Status string `json:"status"`
	}
	req.NoError(json.Unmarshal(data, &ack))
	req.Equal("delivered", ack.Status)

	// Alice types; only bob sees the indicator
	req.NoError(aliceConn.WriteJSON(map[string]any{
		"event": "typing", "receiverId": bob.UserID, "isTyping": true,
	}))
	eventName, data = readEnvelope(t, bobConn)
	req.Equal("typing-indicator", eventName)
	var typing struct {
		SenderID string `json:"senderId"`
		IsTyping bool   `json:"isTyping"`
	}
	req.NoError(json.Unmarshal(data, &typing))
	req.Equal(alice.UserID, typing.SenderID)
	req.True(typing.IsTyping)
}

func Test_WS_Disconnect_Broadcasts_Offline(t *testing.T) {
	req := require.New(t)
	server := startServer(t)
	alice := server.signUp(t, "alice@example.com")
	bob := server.signUp(t, "bob@example.com")

	bobConn := dialWS(t, server, bob.Token)
	waitForSessions(t, server.registry, 1)
	aliceConn := dialWS(t, server, alice.Token)
	waitForSessions(t, server.registry, 2)

	eventName, _ := readEnvelope(t, bobConn)
	req.Equal("user-online", eventName)

	// When alice's last session closes
	req.NoError(aliceConn.Close())

	eventName, data := readEnvelope(t, bobConn)
	req.Equal("user-offline", eventName)
	var offline struct {
		UserID string `json:"userId"`
	}
	req.NoError(json.Unmarshal(data, &offline))
	req.Equal(alice.UserID, offline.UserID)
}

func waitForSessions(t *testing.T, registry *runtime.Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d sessions, have %d", want, registry.Count())
}
