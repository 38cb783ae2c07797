/*
Package relay contains the real-time core of the chat server: the connection registry,
the wallet handshake, message routing, presence broadcasts and liveness probing.

This file defines the Hub, which owns every open socket, dispatches inbound frames to
the handshake and the router, and shuts everything down on exit.
*/
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"cryptochat/internal/app/chat"
	"cryptochat/internal/app/user"
	"cryptochat/internal/pkg/errs"
	"cryptochat/internal/pkg/logx"
	"cryptochat/internal/pkg/metrics"
)

// Deps are the stores and services the hub routes through.
type Deps struct {
	Users    user.Directory
	Chats    chat.Directory
	Messages chat.MessageStore

	// Mirror is optional.
	Mirror PresenceMirror

	// Tokens is optional; without it handshake acks carry no token.
	Tokens TokenIssuer
}

// Options tune liveness probing and shutdown.
type Options struct {
	HeartbeatInterval time.Duration
	MaxMissedProbes   int

	// ReleaseTimeout bounds how long Shutdown waits for closed sessions to be
	// released. Zero means five seconds.
	ReleaseTimeout time.Duration
}

// Hub coordinates all connections of the relay.
type Hub struct {
	registry *Registry
	presence *Presence
	auth     *Authenticator
	router   *Router
	monitor  *Monitor

	// mu protects sessions.
	mu       sync.Mutex
	sessions map[*Session]struct{}

	// ctx is the parent of every frame handled by the hub; it is cancelled on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	// wg waits for the monitor goroutine during shutdown.
	wg sync.WaitGroup

	// open counts sessions that have not been released yet.
	open           sync.WaitGroup
	releaseTimeout time.Duration

	logger zerolog.Logger
}

// NewHub wires the relay. Call Start to begin liveness probing.
func NewHub(deps Deps, opts Options) *Hub {
	logger := logx.Component("relay")
	registry := NewRegistry()
	presence := NewPresence(registry, deps.Mirror, logger)

	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		registry: registry,
		presence: presence,
		auth:     NewAuthenticator(deps.Users, registry, presence, deps.Tokens, logger),
		router:   NewRouter(deps.Chats, deps.Messages, registry, logger),
		sessions: make(map[*Session]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,

		releaseTimeout: opts.ReleaseTimeout,
	}
	if h.releaseTimeout <= 0 {
		h.releaseTimeout = 5 * time.Second
	}

	h.monitor = NewMonitor(opts.HeartbeatInterval, opts.MaxMissedProbes, h.openSessions, logger)
	h.monitor.onTick = presence.Refresh

	return h
}

// Start launches the liveness monitor.
func (h *Hub) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.monitor.Run(h.ctx)
	}()
}

// Registry exposes the connection registry for read-only callers.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Open starts tracking sock and returns its session.
func (h *Hub) Open(sock Socket) *Session {
	s := newSession(sock, h.logger)

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	h.open.Add(1)

	metrics.OpenSockets.Inc()
	s.logger.Debug().Msg("Socket opened")
	return s
}

// HandleFrame processes one inbound text frame of s. Frames of a single session must
// be handled sequentially.
func (h *Hub) HandleFrame(s *Session, data []byte) {
	s.touch()

	switch string(bytes.TrimSpace(data)) {
	case replyToken:
		return
	case probeToken:
		if err := s.socket.Send([]byte(replyToken)); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to answer client probe")
		}
		return
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		s.sendFrame(TypeError, ErrorPayload{
			Message: errs.NewError(errs.ErrInvalidFrame).Message,
			Error:   err.Error(),
			Code:    errs.ErrInvalidFrame,
		})
		metrics.FramesRejected.WithLabelValues("invalid_json").Inc()
		return
	}

	switch f.Type {
	case TypeHandshake:
		h.auth.Handshake(h.ctx, s, f.Payload)

	case TypeMessage:
		h.router.Route(h.ctx, s, f.Payload)

	default:
		s.logger.Warn().Str("frame_type", string(f.Type)).Msg("Client sent unsupported frame type")
		s.sendError("", errs.NewError(errs.ErrUnsupportedFrameType, string(f.Type)))
		metrics.FramesRejected.WithLabelValues("unsupported_type").Inc()
	}
}

// Close forgets s after its socket has gone away.
func (h *Hub) Close(s *Session) {
	h.mu.Lock()
	_, tracked := h.sessions[s]
	delete(h.sessions, s)
	h.mu.Unlock()

	if !tracked {
		return
	}

	defer h.open.Done()

	metrics.OpenSockets.Dec()
	// the hub context may already be cancelled during shutdown
	h.auth.Release(context.WithoutCancel(h.ctx), s)
}

// IsOnline reports whether address has a registered connection.
func (h *Hub) IsOnline(address string) bool {
	_, ok := h.registry.LookupByAddress(address)
	return ok
}

func (h *Hub) openSessions() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Shutdown stops the monitor, closes every open socket with 1001 Going Away and waits
// for their sessions to be released.
func (h *Hub) Shutdown() {
	h.logger.Info().Msg("Shutting down relay hub...")

	h.cancel()
	h.wg.Wait()

	sessions := h.openSessions()
	for _, s := range sessions {
		s.socket.Close(websocket.CloseGoingAway, "Server shutting down.")
	}

	released := make(chan struct{})
	go func() {
		h.open.Wait()
		close(released)
	}()

	select {
	case <-released:
	case <-time.After(h.releaseTimeout):
		h.logger.Warn().Msg("Timed out waiting for sessions to be released")
	}

	h.logger.Info().Int("closed_sockets", len(sessions)).Msg("Relay hub shutdown complete.")
}
