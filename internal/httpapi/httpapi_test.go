package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TRQoder/cofounder/internal/auth"
	"github.com/TRQoder/cofounder/internal/observe"
	"github.com/TRQoder/cofounder/internal/store"
)

type testAPI struct {
	handler http.Handler
	store   store.Storage
	auth    *auth.Authenticator
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	tmpDir, _ := os.MkdirTemp("", "httpapi-test-*")
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	s, err := store.NewSQLiteStore(filepath.Join(tmpDir, "conversations.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	authn, err := auth.New("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to create authenticator: %v", err)
	}

	srv := New(s, authn, observe.New(io.Discard, false), time.Hour)
	return &testAPI{handler: srv.Routes(), store: s, auth: authn}
}

func (ta *testAPI) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func (ta *testAPI) registerAndLogin(t *testing.T, email string) (userID, token string) {
	t.Helper()

	rec := ta.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "password": "hunter22", "firstName": "Grace", "lastName": "H",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register failed: %d %s", rec.Code, rec.Body.String())
	}
	var user struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
		t.Fatalf("failed to decode register response: %v", err)
	}

	tok, err := ta.auth.Issue(user.ID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return user.ID, tok
}

func TestRegister(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "grace@example.com", "password": "hunter22", "firstName": "Grace", "lastName": "H",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var user userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if user.ID == "" || user.Email != "grace@example.com" {
		t.Errorf("unexpected user payload: %+v", user)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("hunter22")) {
		t.Error("response leaks the password")
	}

	t.Run("duplicate email conflicts", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
			"email": "grace@example.com", "password": "other",
		})
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "x@example.com"})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestLogin(t *testing.T) {
	ta := newTestAPI(t)
	ta.registerAndLogin(t, "grace@example.com")

	t.Run("valid credentials set the token cookie", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email": "grace@example.com", "password": "hunter22",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var token string
		for _, c := range rec.Result().Cookies() {
			if c.Name == "token" {
				token = c.Value
			}
		}
		if token == "" {
			t.Fatal("expected a token cookie")
		}
		if _, err := ta.auth.Verify(token); err != nil {
			t.Errorf("cookie token does not verify: %v", err)
		}
	})

	t.Run("wrong password and unknown email are indistinguishable", func(t *testing.T) {
		wrongPass := ta.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email": "grace@example.com", "password": "wrong",
		})
		unknown := ta.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email": "nobody@example.com", "password": "hunter22",
		})
		if wrongPass.Code != http.StatusNotFound || unknown.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for both, got %d and %d", wrongPass.Code, unknown.Code)
		}
		if wrongPass.Body.String() != unknown.Body.String() {
			t.Error("expected identical bodies for both failure modes")
		}
	})
}

func TestChatEndpoints(t *testing.T) {
	ta := newTestAPI(t)
	userID, token := ta.registerAndLogin(t, "grace@example.com")

	t.Run("create", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, "/api/chat", token, map[string]string{"title": "fundraising"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var chat chatResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &chat); err != nil {
			t.Fatalf("failed to decode chat: %v", err)
		}
		if chat.Title != "fundraising" {
			t.Errorf("unexpected title %q", chat.Title)
		}
	})

	t.Run("blank title gets a default", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, "/api/chat", token, map[string]string{})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}
		var chat chatResponse
		json.Unmarshal(rec.Body.Bytes(), &chat)
		if chat.Title != "New Chat" {
			t.Errorf("expected default title, got %q", chat.Title)
		}
	})

	t.Run("list", func(t *testing.T) {
		rec := ta.do(t, http.MethodGet, "/api/chat", token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var chats []chatResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &chats); err != nil {
			t.Fatalf("failed to decode chats: %v", err)
		}
		if len(chats) != 2 {
			t.Fatalf("expected 2 chats, got %d", len(chats))
		}
	})

	t.Run("unauthenticated requests rejected", func(t *testing.T) {
		rec := ta.do(t, http.MethodGet, "/api/chat", "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("messages", func(t *testing.T) {
		chat, err := ta.store.CreateChat(context.Background(), userID, "history")
		if err != nil {
			t.Fatalf("failed to create chat: %v", err)
		}
		for i := 0; i < 3; i++ {
			role := store.RoleUser
			if i%2 == 1 {
				role = store.RoleModel
			}
			if _, err := ta.store.CreateMessage(context.Background(), chat.ID, userID, role, fmt.Sprintf("turn-%d", i)); err != nil {
				t.Fatalf("failed to create message: %v", err)
			}
		}

		rec := ta.do(t, http.MethodGet, "/api/chat/"+chat.ID+"/messages", token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var msgs []messageResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
			t.Fatalf("failed to decode messages: %v", err)
		}
		if len(msgs) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(msgs))
		}
		if msgs[0].Content != "turn-0" || msgs[2].Content != "turn-2" {
			t.Errorf("expected chronological order, got %q .. %q", msgs[0].Content, msgs[2].Content)
		}
	})

	t.Run("foreign chat hidden", func(t *testing.T) {
		otherID, _ := ta.registerAndLogin(t, "other@example.com")
		otherChat, err := ta.store.CreateChat(context.Background(), otherID, "private")
		if err != nil {
			t.Fatalf("failed to create chat: %v", err)
		}

		rec := ta.do(t, http.MethodGet, "/api/chat/"+otherChat.ID+"/messages", token, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}
