// Package gateway exposes the websocket surface: it authenticates the
// session before upgrading, validates inbound turn events, and bridges
// them to the orchestrator.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dgraph-io/ristretto"
	"github.com/gorilla/websocket"

	"github.com/TRQoder/cofounder/internal/auth"
	"github.com/TRQoder/cofounder/internal/config"
	"github.com/TRQoder/cofounder/internal/guard"
	"github.com/TRQoder/cofounder/internal/observe"
	"github.com/TRQoder/cofounder/internal/store"
	"github.com/TRQoder/cofounder/internal/turn"
)

// Wire event types. Inbound turn events arrive as "ai-message"; each
// produces either an "ai-response" or an "error" frame on the same
// connection.
const (
	eventAIMessage  = "ai-message"
	eventAIResponse = "ai-response"
	eventError      = "error"
)

// tokenCacheTTL bounds how long a verified token skips signature
// re-verification. Shorter than any sane token TTL, so expiry still
// lands close to the claim.
const tokenCacheTTL = 10 * time.Minute

type inboundEvent struct {
	Type    string `json:"type"`
	Chat    string `json:"chat"`
	Content string `json:"content"`
}

type outboundEvent struct {
	Type    string `json:"type"`
	Chat    string `json:"chat,omitempty"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// Server upgrades authenticated HTTP requests to websocket sessions and
// runs one read loop per session. Events on a session are handled
// sequentially, so a session never has more than one turn in flight.
type Server struct {
	store    store.Storage
	orch     *turn.Orchestrator
	auth     *auth.Authenticator
	guard    *guard.Guard
	obs      *observe.Observer
	tokens   *ristretto.Cache
	upgrader websocket.Upgrader
}

// New creates a gateway server over the given collaborators.
func New(s store.Storage, orch *turn.Orchestrator, authn *auth.Authenticator, g *guard.Guard, obs *observe.Observer, cfg config.GatewayConfig) (*Server, error) {
	tokens, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}

	srv := &Server{
		store:  s,
		orch:   orch,
		auth:   authn,
		guard:  g,
		obs:    obs,
		tokens: tokens,
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return srv, nil
}

// Close releases the token cache.
func (s *Server) Close() {
	s.tokens.Close()
}

// originChecker matches the Origin header against the configured glob
// patterns. Requests without an Origin header are non-browser clients
// and pass.
func originChecker(patterns []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, pattern := range patterns {
			if ok, err := doublestar.Match(pattern, origin); err == nil && ok {
				return true
			}
		}
		return false
	}
}

// ServeHTTP authenticates the request and upgrades it to a websocket
// session. Unauthenticated requests are rejected before the upgrade, so
// no turn event from them ever reaches the orchestrator.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		s.obs.Log().Warn().Str("remote", r.RemoteAddr).Err(err).Msg("websocket auth rejected")
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.obs.Log().Warn().Str("remote", r.RemoteAddr).Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := &session{conn: conn, userID: userID}
	s.obs.Log().Info().Str("user", userID).Str("remote", r.RemoteAddr).Msg("session connected")
	s.readLoop(r.Context(), sess)
	s.obs.Log().Info().Str("user", userID).Msg("session disconnected")
}

// authenticate extracts and verifies the identity token, consulting the
// cache of recently verified tokens first.
func (s *Server) authenticate(r *http.Request) (string, error) {
	token := tokenFromRequest(r)
	if token == "" {
		return "", auth.ErrNoToken
	}

	if cached, ok := s.tokens.Get(token); ok {
		if userID, ok := cached.(string); ok {
			return userID, nil
		}
	}

	userID, err := s.auth.Verify(token)
	if err != nil {
		return "", err
	}
	s.tokens.SetWithTTL(token, userID, 1, tokenCacheTTL)
	return userID, nil
}

// tokenFromRequest reads the identity token from the "token" cookie,
// falling back to an Authorization bearer header.
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

type session struct {
	conn    *websocket.Conn
	userID  string
	writeMu sync.Mutex
}

func (sess *session) send(evt outboundEvent) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	return sess.conn.WriteJSON(evt)
}

// readLoop handles frames until the connection closes. Frames are
// processed one at a time, which keeps at most one turn in flight per
// session and preserves per-chat ordering for this client.
func (s *Server) readLoop(ctx context.Context, sess *session) {
	defer sess.conn.Close()

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.obs.Log().Warn().Str("user", sess.userID).Err(err).Msg("session read failed")
			}
			return
		}

		var evt inboundEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			sess.send(outboundEvent{Type: eventError, Message: "malformed event"})
			continue
		}

		switch evt.Type {
		case eventAIMessage:
			s.handleTurnEvent(ctx, sess, evt)
		default:
			sess.send(outboundEvent{Type: eventError, Chat: evt.Chat, Message: fmt.Sprintf("unknown event type %q", evt.Type)})
		}
	}
}

// handleTurnEvent validates one inbound turn event and dispatches it to
// the orchestrator. The reply is written to the session the moment the
// orchestrator emits it, before reply persistence completes.
func (s *Server) handleTurnEvent(ctx context.Context, sess *session, evt inboundEvent) {
	if v := s.guard.CheckContent(evt.Content); v != nil {
		sess.send(outboundEvent{Type: eventError, Chat: evt.Chat, Message: v.Message})
		return
	}

	chat, err := s.store.ChatByID(ctx, evt.Chat)
	if err != nil || chat.UserID != sess.userID {
		// Not distinguishing missing from foreign chats avoids leaking
		// which chat IDs exist.
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.obs.Log().Error().Str("chat", evt.Chat).Err(err).Msg("chat lookup failed")
		}
		sess.send(outboundEvent{Type: eventError, Chat: evt.Chat, Message: "chat not found"})
		return
	}

	emitted := false
	_, err = s.orch.HandleTurn(ctx, chat.ID, sess.userID, evt.Content, func(reply string) {
		emitted = true
		if sendErr := sess.send(outboundEvent{Type: eventAIResponse, Chat: chat.ID, Content: reply}); sendErr != nil {
			s.obs.Log().Warn().Str("chat", chat.ID).Err(sendErr).Msg("reply delivery failed")
		}
	})
	if err != nil && !emitted {
		sess.send(outboundEvent{Type: eventError, Chat: chat.ID, Message: "failed to generate a response"})
	}
}
