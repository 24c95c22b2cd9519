package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TRQoder/cofounder/internal/auth"
	"github.com/TRQoder/cofounder/internal/config"
	"github.com/TRQoder/cofounder/internal/guard"
	"github.com/TRQoder/cofounder/internal/memory"
	"github.com/TRQoder/cofounder/internal/observe"
	"github.com/TRQoder/cofounder/internal/provider"
	"github.com/TRQoder/cofounder/internal/store"
	"github.com/TRQoder/cofounder/internal/turn"
)

type testGateway struct {
	server *httptest.Server
	store  store.Storage
	auth   *auth.Authenticator
	userID string
	chatID string
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	tmpDir, _ := os.MkdirTemp("", "gateway-test-*")
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	s, err := store.NewSQLiteStore(filepath.Join(tmpDir, "conversations.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	user, err := s.CreateUser(ctx, "ada@example.com", "hash", "Ada", "L")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	chat, err := s.CreateChat(ctx, user.ID, "runway math")
	if err != nil {
		t.Fatalf("failed to create chat: %v", err)
	}

	obs := observe.New(io.Discard, false)
	orch := turn.New(s, memory.NewFakeIndex(), provider.NewStubProvider("Eighteen months if you stop buying ping-pong tables."), obs)

	authn, err := auth.New("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to create authenticator: %v", err)
	}

	gw, err := New(s, orch, authn, guard.New(guard.DefaultPolicy), obs, config.GatewayConfig{
		AllowedOrigins: []string{"http://localhost:*"},
	})
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}
	t.Cleanup(gw.Close)

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	return &testGateway{server: srv, store: s, auth: authn, userID: user.ID, chatID: chat.ID}
}

func (tg *testGateway) dial(t *testing.T, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(tg.server.URL, "http")
	return websocket.DefaultDialer.Dial(url, header)
}

func (tg *testGateway) dialAuthed(t *testing.T) *websocket.Conn {
	t.Helper()
	token, err := tg.auth.Issue(tg.userID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	conn, _, err := tg.dial(t, http.Header{"Cookie": {"token=" + token}})
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) outboundEvent {
	t.Helper()
	var evt outboundEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	return evt
}

func TestGateway_RejectsMissingToken(t *testing.T) {
	tg := newTestGateway(t)

	_, resp, err := tg.dial(t, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before upgrade, got %+v", resp)
	}
}

func TestGateway_RejectsInvalidToken(t *testing.T) {
	tg := newTestGateway(t)

	_, resp, err := tg.dial(t, http.Header{"Cookie": {"token=not-a-token"}})
	if err == nil {
		t.Fatal("expected dial to fail with a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before upgrade, got %+v", resp)
	}
}

func TestGateway_BearerHeaderAccepted(t *testing.T) {
	tg := newTestGateway(t)

	token, err := tg.auth.Issue(tg.userID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	conn, _, err := tg.dial(t, http.Header{"Authorization": {"Bearer " + token}})
	if err != nil {
		t.Fatalf("expected bearer auth to succeed: %v", err)
	}
	conn.Close()
}

func TestGateway_TurnRoundTrip(t *testing.T) {
	tg := newTestGateway(t)
	conn := tg.dialAuthed(t)

	err := conn.WriteJSON(inboundEvent{Type: eventAIMessage, Chat: tg.chatID, Content: "how long is our runway?"})
	if err != nil {
		t.Fatalf("failed to write event: %v", err)
	}

	evt := readEvent(t, conn)
	if evt.Type != eventAIResponse {
		t.Fatalf("expected %s, got %+v", eventAIResponse, evt)
	}
	if evt.Chat != tg.chatID {
		t.Errorf("expected reply routed to chat %s, got %s", tg.chatID, evt.Chat)
	}
	if evt.Content == "" {
		t.Error("expected a non-empty reply")
	}
}

func TestGateway_EmptyContentRejected(t *testing.T) {
	tg := newTestGateway(t)
	conn := tg.dialAuthed(t)

	conn.WriteJSON(inboundEvent{Type: eventAIMessage, Chat: tg.chatID, Content: "   "})

	evt := readEvent(t, conn)
	if evt.Type != eventError {
		t.Fatalf("expected error frame, got %+v", evt)
	}

	// Nothing reached the orchestrator.
	msgs, err := tg.store.MessagesByChat(context.Background(), tg.chatID)
	if err != nil {
		t.Fatalf("MessagesByChat failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no persisted messages, got %d", len(msgs))
	}
}

func TestGateway_ForeignChatRejected(t *testing.T) {
	tg := newTestGateway(t)

	other, err := tg.store.CreateUser(context.Background(), "eve@example.com", "hash", "Eve", "X")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	otherChat, err := tg.store.CreateChat(context.Background(), other.ID, "private")
	if err != nil {
		t.Fatalf("failed to create chat: %v", err)
	}

	conn := tg.dialAuthed(t)
	conn.WriteJSON(inboundEvent{Type: eventAIMessage, Chat: otherChat.ID, Content: "hello"})

	evt := readEvent(t, conn)
	if evt.Type != eventError || evt.Message != "chat not found" {
		t.Fatalf("expected chat not found error, got %+v", evt)
	}
}

func TestGateway_UnknownEventType(t *testing.T) {
	tg := newTestGateway(t)
	conn := tg.dialAuthed(t)

	conn.WriteJSON(inboundEvent{Type: "ai-stream", Chat: tg.chatID, Content: "hello"})

	evt := readEvent(t, conn)
	if evt.Type != eventError {
		t.Fatalf("expected error frame, got %+v", evt)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:*", "https://*.example.com"})

	cases := []struct {
		origin string
		want   bool
	}{
		{"", true}, // non-browser client
		{"http://localhost:3000", true},
		{"https://app.example.com", true},
		{"https://evil.test", false},
		{"http://localhost.evil.test", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := check(r); got != tc.want {
			t.Errorf("origin %q: expected %v, got %v", tc.origin, got, tc.want)
		}
	}
}
