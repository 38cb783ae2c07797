package relay

import (
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"cryptochat/internal/app/user"
	"cryptochat/internal/pkg/errs"
)

var (
	// ErrSocketClosed is returned by Socket.Send once the socket is closed.
	ErrSocketClosed = errors.New("socket closed")

	// ErrSendQueueFull is returned by Socket.Send when the outbound queue is full.
	ErrSendQueueFull = errors.New("send queue full")
)

// Socket is the outbound side of one client connection.
type Socket interface {
	// SessionID identifies the connection in logs.
	SessionID() string

	// Send queues a text frame without blocking.
	Send(data []byte) error

	// Close sends a close frame with code and reason and tears the connection down.
	// It is safe to call more than once.
	Close(code int, reason string)
}

// Session is the per-connection state owned by the connection's read loop.
// Only the missed probe counter is touched by other goroutines.
type Session struct {
	socket Socket

	address string
	userID  int64
	bound   bool

	missed atomic.Int32

	logger zerolog.Logger
}

func newSession(sock Socket, logger zerolog.Logger) *Session {
	return &Session{
		socket: sock,
		userID: user.GuestID,
		logger: logger.With().Str("session_id", sock.SessionID()).Logger(),
	}
}

// Address returns the bound address, or "" before a handshake.
func (s *Session) Address() string { return s.address }

// UserID returns the bound user id. Unbound sessions report the guest sentinel.
func (s *Session) UserID() int64 { return s.userID }

// Socket returns the session's socket.
func (s *Session) Socket() Socket { return s.socket }

func (s *Session) bind(address string, userID int64) {
	s.address = address
	s.userID = userID
	s.bound = true
	s.logger = s.logger.With().Str("address", address).Int64("user_id", userID).Logger()
}

// touch records inbound traffic.
func (s *Session) touch() {
	s.missed.Store(0)
}

func (s *Session) sendFrame(t FrameType, payload any) {
	data, err := encodeFrame(t, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("frame_type", string(t)).Msg("Failed to encode outbound frame")
		return
	}

	if err := s.socket.Send(data); err != nil {
		s.logger.Warn().Err(err).Str("frame_type", string(t)).Msg("Failed to queue outbound frame")
	}
}

// sendError reports err to the client. clientID echoes the client's message id when
// the failure belongs to a specific message.
func (s *Session) sendError(clientID FlexID, err *errs.CustomError) {
	s.sendFrame(TypeError, ErrorPayload{
		MessageID: string(clientID),
		Error:     err.Message,
		Code:      err.Code,
	})
}
