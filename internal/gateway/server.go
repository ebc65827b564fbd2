// Package gateway accepts authenticated websocket connections, places them in
// their channels and runs their inbound commands.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/auth"
	"github.com/ricirt/marketplace-realtime/internal/channel"
	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/presence"
	"github.com/ricirt/marketplace-realtime/internal/ratelimiter"
)

// Authenticator verifies the handshake credential.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*domain.Identity, error)
}

// ChatCommands is the chat behaviour the gateway drives.
type ChatCommands interface {
	ConversationIDs(ctx context.Context, userID string) ([]string, error)
	SendMessage(ctx context.Context, senderID string, req domain.SendMessageRequest) (*domain.Message, error)
	MarkRead(ctx context.Context, userID string, req domain.ReadMessageRequest) (*domain.ReadReceipt, error)
	Typing(ctx context.Context, userID, conversationID string, isTyping bool) (*domain.TypingUpdate, error)
}

type Options struct {
	SendBuffer     int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	// PresenceTTL drives the heartbeat: local identities are refreshed every
	// TTL/3 and stale shared entries are swept every TTL/3.
	PresenceTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = presence.DefaultTTL
	}
	return o
}

// Hooks are optional metric callbacks.
type Hooks struct {
	OnConnect     func(namespace string)
	OnDisconnect  func(namespace string)
	OnRateLimited func()
}

func (h Hooks) withDefaults() Hooks {
	if h.OnConnect == nil {
		h.OnConnect = func(string) {}
	}
	if h.OnDisconnect == nil {
		h.OnDisconnect = func(string) {}
	}
	if h.OnRateLimited == nil {
		h.OnRateLimited = func() {}
	}
	return h
}

type Server struct {
	auth     Authenticator
	registry *channel.Registry
	chats    ChatCommands
	presence presence.Tracker
	sessions *sessions
	limiter  *ratelimiter.Keyed
	opts     Options
	hooks    Hooks
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[string]*Conn
	closing bool
	wg      sync.WaitGroup
}

func NewServer(
	authn Authenticator,
	registry *channel.Registry,
	chats ChatCommands,
	tracker presence.Tracker,
	limiter *ratelimiter.Keyed,
	opts Options,
	logger *zap.Logger,
	hooks Hooks,
) *Server {
	return &Server{
		auth:     authn,
		registry: registry,
		chats:    chats,
		presence: tracker,
		sessions: newSessions(tracker),
		limiter:  limiter,
		opts:     opts.withDefaults(),
		hooks:    hooks.withDefaults(),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[string]*Conn),
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ServeHTTP handles GET /ws/{namespace}. Authentication happens before the
// upgrade so a rejected client never holds a socket or a channel.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ns, ok := ParseNamespace(chi.URLParam(r, "namespace"))
	if !ok {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "unknown namespace"})
		return
	}

	raw, err := auth.TokenFromRequest(r)
	var identity *domain.Identity
	if err == nil {
		identity, err = s.auth.Authenticate(r.Context(), raw)
	}
	if err != nil {
		var authErr *auth.Error
		if errors.As(err, &authErr) {
			respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication failed", "reason": authErr.Reason})
			return
		}
		s.logger.Error("authentication lookup failed", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if !s.track() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server shutting down"})
		return
	}
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	log := s.logger.With(
		zap.String("conn_id", id),
		zap.String("user_id", identity.UserID),
		zap.String("namespace", string(ns)),
	)

	if err := ns.Authorize(*identity); err != nil {
		log.Info("closing connection", zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteWait)) //nolint:errcheck
		_ = ws.Close()
		return
	}

	c := newConn(id, *identity, ns, ws, s.opts, log)
	go c.writeLoop()

	ctx := r.Context()
	if err := s.open(ctx, c); err != nil {
		log.Error("failed to open connection", zap.Error(err))
		c.shutdown(websocket.CloseInternalServerErr, "internal error")
	} else {
		log.Debug("connection opened")
		c.readLoop(func(raw []byte) { s.handle(ctx, c, raw) })
	}

	s.close(c)
	<-c.writerDone
	log.Debug("connection closed")
}

// track registers an in-flight handler unless the server is shutting down.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

// open performs every join for c. Presence is marked before the joins so a
// peer that sees the first broadcast can already find c's identity online.
func (s *Server) open(ctx context.Context, c *Conn) error {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.hooks.OnConnect(string(c.namespace))

	if err := s.sessions.acquire(ctx, c.identity.UserID); err != nil {
		c.logger.Warn("failed to mark identity online", zap.Error(err))
	}

	channels := c.namespace.staticChannels(c.identity.UserID)
	if c.namespace == NamespaceChat {
		convIDs, err := s.chats.ConversationIDs(ctx, c.identity.UserID)
		if err != nil {
			return err
		}
		for _, id := range convIDs {
			channels = append(channels, channel.ConversationChannel(id))
		}
	}
	for _, ch := range channels {
		s.registry.Join(c, ch)
	}
	return nil
}

// close runs the disconnect cleanup. It is the single exit path for every
// connection, whatever ended it.
func (s *Server) close(c *Conn) {
	c.shutdown(websocket.CloseNormalClosure, "")
	s.registry.LeaveAll(c)
	s.limiter.Forget(c.id)

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteWait)
	defer cancel()
	if err := s.sessions.release(ctx, c.identity.UserID); err != nil {
		c.logger.Warn("failed to mark identity offline", zap.Error(err))
	}

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.hooks.OnDisconnect(string(c.namespace))
}

// Connections reports the number of open connections on this process.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// RunHeartbeat refreshes the presence of every locally connected identity
// and sweeps entries left behind by dead processes. It blocks until ctx is
// done.
func (s *Server) RunHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PresenceTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.heartbeat(ctx)
		}
	}
}

func (s *Server) heartbeat(ctx context.Context) {
	for _, id := range s.sessions.identities() {
		if err := s.sessions.refresh(ctx, id); err != nil {
			s.logger.Warn("presence refresh failed", zap.String("user_id", id), zap.Error(err))
		}
	}
	removed, err := s.presence.Sweep(ctx)
	if err != nil {
		s.logger.Warn("presence sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("swept stale presence entries", zap.Int64("removed", removed))
	}
}

// Shutdown refuses new connections, closes every open one and waits for
// their cleanup to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	open := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()

	s.logger.Info("closing gateway connections", zap.Int("count", len(open)))
	for _, c := range open {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
