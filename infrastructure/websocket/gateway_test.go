package websocket_test

import (
	"context"
	"dm-relay/auth"
	"dm-relay/domain/chat"
	"dm-relay/observability"
	"dm-relay/repositories"
	"dm-relay/runtime"
	"dm-relay/services"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gateway "dm-relay/infrastructure/websocket"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const testSecret = "a-secret-long-enough-for-hs256"

type harness struct {
	gateway  *gateway.Gateway
	server   *httptest.Server
	tokens   *auth.TokenIssuer
	registry *runtime.Registry
	repo     *repositories.MessageRepository
}

func newHarness(t *testing.T, authTimeout time.Duration) harness {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)

	repo, err := repositories.NewMessageRepository(db, log, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Release()
		_ = db.Close()
	})

	registry := runtime.NewRegistry(4)
	stats := observability.NewCollector(log)
	relay := runtime.NewRelay(log, registry, repo, nil, stats, runtime.RelayConfig{EchoToSender: true})
	chatService := services.NewChatService(log, relay, repo, nil, nil)
	tokens := auth.NewTokenIssuer(testSecret, time.Hour)

	gw := gateway.NewGateway(log, chatService, tokens, gateway.Config{
		AuthTimeout:          authTimeout,
		DeliveryTimeout:      100 * time.Millisecond,
		ConnectionBufferSize: 16,
	})
	server := httptest.NewServer(gw)
	t.Cleanup(server.Close)

	return harness{gateway: gw, server: server, tokens: tokens, registry: registry, repo: repo}
}

func (h harness) url() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http")
}

func (h harness) token(t *testing.T, userID string) string {
	token, err := h.tokens.Generate(userID, nil)
	require.NoError(t, err)
	return token
}

// connect authenticates with the upgrade header and consumes the ready frame.
func (h harness) connect(t *testing.T, userID string) *websocket.Conn {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+h.token(t, userID))
	conn, _, err := websocket.DefaultDialer.Dial(h.url(), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ready := readFrame(t, conn)
	require.Equal(t, "ready", ready["event"])
	require.Equal(t, userID, ready["userId"])
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

// expectSilence asserts that nothing arrives within a short window.
// A read timeout leaves the connection unusable, so it must be the last read on conn.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	var frame map[string]any
	err := conn.ReadJSON(&frame)
	require.Error(t, err, "unexpected frame %v", frame)
}

func send(t *testing.T, conn *websocket.Conn, receiver, content, clientID string) {
	require.NoError(t, conn.WriteJSON(gateway.InboundFrame{
		Event: "send", ReceiverID: receiver, Content: content, ClientID: clientID,
	}))
}

func TestGateway_Rejects_Missing_Credential(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, time.Second)

	conn, _, err := websocket.DefaultDialer.Dial(h.url(), nil)
	req.NoError(err)
	defer conn.Close()

	// When the first frame is not an auth frame
	req.NoError(conn.WriteJSON(gateway.InboundFrame{Event: "send", ReceiverID: "bob", Content: "hi"}))

	// Then an unauthorized error is written and the channel closed
	frame := readFrame(t, conn)
	req.Equal("error", frame["event"])
	req.Equal("unauthorized", frame["reason"])
	_, _, err = conn.ReadMessage()
	req.Error(err)
	users, _ := h.registry.Count()
	req.Zero(users)
}

func TestGateway_Rejects_Invalid_Token(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, time.Second)

	header := http.Header{}
	header.Set("Authorization", "Bearer not-a-token")
	conn, _, err := websocket.DefaultDialer.Dial(h.url(), header)
	req.NoError(err)
	defer conn.Close()

	frame := readFrame(t, conn)
	req.Equal("unauthorized", frame["reason"])
}

func TestGateway_Auth_Timeout_Closes_Channel(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 50*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(h.url(), nil)
	req.NoError(err)
	defer conn.Close()

	// Given the client stays silent past the auth window
	frame := readFrame(t, conn)
	req.Equal("unauthorized", frame["reason"])
	_, _, err = conn.ReadMessage()
	req.Error(err)
}

func TestGateway_Auth_With_First_Frame(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, time.Second)

	conn, _, err := websocket.DefaultDialer.Dial(h.url(), nil)
	req.NoError(err)
	defer conn.Close()

	req.NoError(conn.WriteJSON(gateway.InboundFrame{Event: "auth", Token: h.token(t, "alice")}))
	frame := readFrame(t, conn)
	req.Equal("ready", frame["event"])
	req.Eventually(func() bool { return h.registry.IsOnline("alice") }, time.Second, 10*time.Millisecond)
}

func TestGateway_Offline_Receiver_Store_And_Forward(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, time.Second)
	alice := h.connect(t, "alice")

	// Given bob is offline
	req.False(h.registry.IsOnline("bob"))

	// When alice sends
	send(t, alice, "bob", "hi", "c-1")

	// Then alice gets a durable acknowledgement
	ack := readFrame(t, alice)
	req.Equal("sent", ack["event"])
	req.Equal("c-1", ack["clientId"])
	req.Equal("hi", ack["content"])

	// And bob finds the message in his history on reconnect
	page, err := h.repo.History(context.Background(), "bob", "alice", chat.Page{})
	req.NoError(err)
	req.Len(page.Messages, 1)
	req.Equal("hi", page.Messages[0].Content)
	req.Equal(uint64(ack["id"].(float64)), page.Messages[0].ID)
}

func TestGateway_Both_Online_Exactly_One_Push_Per_Channel(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, time.Second)
	alice := h.connect(t, "alice")
	alicePhone := h.connect(t, "alice")
	bob := h.connect(t, "bob")
	bobPhone := h.connect(t, "bob")

	send(t, alice, "bob", "hello", "")

	for _, conn := range []*websocket.Conn{bob, bobPhone, alicePhone} {
		frame := readFrame(t, conn)
		req.Equal("message", frame["event"])
		req.Equal("hello", frame["content"])
		req.Equal("alice", frame["senderId"])
		req.Equal("bob", frame["receiverId"])
		req.NotEmpty(frame["timestamp"])
		expectSilence(t, conn)
	}

	// The origin only gets its acknowledgement
	ack := readFrame(t, alice)
	req.Equal("sent", ack["event"])
	expectSilence(t, alice)
}

func TestGateway_Validation_Errors_Keep_Channel_Open(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, time.Second)
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")

	tests := []struct {
		name     string
		frame    any
		expected string
	}{
		{"Self message", gateway.InboundFrame{Event: "send", ReceiverID: "alice", Content: "me"}, "self_message"},
		{"Empty content", gateway.InboundFrame{Event: "send", ReceiverID: "bob", Content: ""}, "empty_content"},
		{"Malformed receiver", gateway.InboundFrame{Event: "send", ReceiverID: "bob:x", Content: "hi"}, "invalid_receiver"},
		{"Unknown event", gateway.InboundFrame{Event: "typing", ClientID: "c-9"}, "unknown_event"},
	}
	for _, tt := range tests {
		req.NoError(alice.WriteJSON(tt.frame), tt.name)
		frame := readFrame(t, alice)
		req.Equal("error", frame["event"], tt.name)
		req.Equal(tt.expected, frame["reason"], tt.name)
	}

	// Malformed json
	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	req.Equal("malformed_frame", readFrame(t, alice)["reason"])

	// Then nothing reached the store
	page, err := h.repo.History(context.Background(), "alice", "bob", chat.Page{})
	req.NoError(err)
	req.Empty(page.Messages)

	// And the channel still works, the first frame bob ever sees being this message
	send(t, alice, "bob", "still here", "")
	req.Equal("sent", readFrame(t, alice)["event"])
	frame := readFrame(t, bob)
	req.Equal("message", frame["event"])
	req.Equal("still here", frame["content"])
}

func TestGateway_Disconnect_Unregisters(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, time.Second)
	alice := h.connect(t, "alice")
	req.Eventually(func() bool { return h.registry.IsOnline("alice") }, time.Second, 10*time.Millisecond)

	// When the client goes away
	req.NoError(alice.Close())

	// Then the user is offline
	req.Eventually(func() bool { return !h.registry.IsOnline("alice") }, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_Ordering_Within_Pair(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, time.Second)
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")

	for i := 0; i < 10; i++ {
		send(t, alice, "bob", string(rune('a'+i)), "")
	}

	var lastID float64
	for i := 0; i < 10; i++ {
		frame := readFrame(t, bob)
		req.Equal(string(rune('a'+i)), frame["content"])
		req.Greater(frame["id"].(float64), lastID)
		lastID = frame["id"].(float64)
	}
}

func TestGateway_Wait_Returns_Once_Channels_Are_Gone(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, time.Second)
	alice := h.connect(t, "alice")
	send(t, alice, "bob", "last words", "")
	req.Equal("sent", readFrame(t, alice)["event"])

	// While a channel is open, Wait gives up with the caller's deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req.ErrorIs(h.gateway.Wait(ctx), context.DeadlineExceeded)

	// Once the peer is gone, Wait returns with the user out of the registry
	req.NoError(alice.Close())
	drained, cancelDrained := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDrained()
	req.NoError(h.gateway.Wait(drained))
	req.False(h.registry.IsOnline("alice"))

	// And the store is still usable, nothing was cut short
	page, err := h.repo.History(context.Background(), "alice", "bob", chat.Page{})
	req.NoError(err)
	req.Len(page.Messages, 1)
}
