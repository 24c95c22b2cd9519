// Package httpapi serves the REST surface: account registration and
// login, chat management, and message history. Turn handling itself
// lives on the websocket gateway.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/TRQoder/cofounder/internal/auth"
	"github.com/TRQoder/cofounder/internal/observe"
	"github.com/TRQoder/cofounder/internal/store"
)

type contextKey string

const userIDKey contextKey = "userID"

// Server holds the REST handlers and their collaborators.
type Server struct {
	store    store.Storage
	auth     *auth.Authenticator
	obs      *observe.Observer
	tokenTTL time.Duration
}

// New creates the REST server. tokenTTL controls the login cookie
// lifetime and should match the token TTL of the authenticator.
func New(s store.Storage, authn *auth.Authenticator, obs *observe.Observer, tokenTTL time.Duration) *Server {
	if tokenTTL <= 0 {
		tokenTTL = 7 * 24 * time.Hour
	}
	return &Server{store: s, auth: authn, obs: obs, tokenTTL: tokenTTL}
}

// Routes returns the API route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/auth/logout", s.handleLogout)
	mux.Handle("POST /api/chat", s.requireAuth(s.handleCreateChat))
	mux.Handle("GET /api/chat", s.requireAuth(s.handleListChats))
	mux.Handle("GET /api/chat/{id}/messages", s.requireAuth(s.handleChatMessages))
	return mux
}

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type chatResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LastActivity time.Time `json:"lastActivity"`
	CreatedAt    time.Time `json:"createdAt"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName}
}

func toChatResponse(c *store.Chat) chatResponse {
	return chatResponse{ID: c.ID, Title: c.Title, LastActivity: c.LastActivity, CreatedAt: c.CreatedAt}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.internalError(w, "hash password", err)
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Email, hash, req.FirstName, req.LastName)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		s.internalError(w, "create user", err)
		return
	}

	s.obs.Log().Info().Str("user", user.ID).Msg("user registered")
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	// Unknown email and wrong password get the same answer, so login
	// probing cannot enumerate accounts.
	user, err := s.store.UserByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.internalError(w, "look up user", err)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	token, err := s.auth.Issue(user.ID)
	if err != nil {
		s.internalError(w, "issue token", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.tokenTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.obs.Log().Info().Str("user", user.ID).Msg("user logged in")
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		req.Title = "New Chat"
	}

	chat, err := s.store.CreateChat(r.Context(), userID(r.Context()), req.Title)
	if err != nil {
		s.internalError(w, "create chat", err)
		return
	}
	writeJSON(w, http.StatusCreated, toChatResponse(chat))
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.ChatsByUser(r.Context(), userID(r.Context()))
	if err != nil {
		s.internalError(w, "list chats", err)
		return
	}

	out := make([]chatResponse, 0, len(chats))
	for _, c := range chats {
		out = append(out, toChatResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	chat, err := s.store.ChatByID(r.Context(), r.PathValue("id"))
	if err != nil || chat.UserID != userID(r.Context()) {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.internalError(w, "look up chat", err)
			return
		}
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}

	msgs, err := s.store.MessagesByChat(r.Context(), chat.ID)
	if err != nil {
		s.internalError(w, "load messages", err)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// requireAuth verifies the identity token and stashes the user ID in
// the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		uid, err := s.auth.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, uid)))
	})
}

func userID(ctx context.Context) string {
	uid, _ := ctx.Value(userIDKey).(string)
	return uid
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value
	}
	authz := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(authz, "Bearer "); ok {
		return after
	}
	return ""
}

func (s *Server) internalError(w http.ResponseWriter, action string, err error) {
	s.obs.Log().Error().Str("action", action).Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
