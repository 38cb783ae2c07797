package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cryptochat/internal/app/user"
	"cryptochat/internal/pkg/errs"
	"cryptochat/internal/pkg/metrics"
)

// WsCloseCodeSessionKicked is sent to a connection replaced by a newer one for the same address.
const WsCloseCodeSessionKicked = 4001

// Handshake results, also used as metric labels.
const (
	resultUser     = "user"
	resultCreated  = "created"
	resultGuest    = "guest"
	resultFallback = "fallback"
	resultIgnored  = "ignored"
	resultRejected = "rejected"
)

// TokenIssuer signs a session token for a persisted user.
type TokenIssuer func(userID int64, address string) (string, error)

// Authenticator binds sessions to wallet addresses and unbinds them on close.
type Authenticator struct {
	users    user.Directory
	registry *Registry
	presence *Presence
	issue    TokenIssuer
	now      func() time.Time
	logger   zerolog.Logger

	transitions *addressLocks
}

// NewAuthenticator wires the handshake. issue may be nil, in which case acks carry no token.
func NewAuthenticator(users user.Directory, registry *Registry, presence *Presence, issue TokenIssuer, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		users:    users,
		registry: registry,
		presence: presence,
		issue:    issue,
		now:      time.Now,
		logger:   logger,

		transitions: newAddressLocks(),
	}
}

// Handshake processes a handshake frame for s. A payload without an address is ignored.
// Directory failures never reject the handshake: the session is bound as a guest instead.
func (a *Authenticator) Handshake(ctx context.Context, s *Session, raw json.RawMessage) string {
	var p HandshakePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError("", errs.NewError(errs.ErrInvalidFrame))
		metrics.Handshakes.WithLabelValues(resultRejected).Inc()
		return resultRejected
	}

	address := user.NormalizeAddress(p.Address)
	if address == "" {
		s.logger.Debug().Msg("Handshake without address ignored")
		metrics.Handshakes.WithLabelValues(resultIgnored).Inc()
		return resultIgnored
	}

	if s.bound {
		return a.rehandshake(s, address)
	}

	userID := user.GuestID
	result := resultGuest
	if !p.IsGuest {
		id, res, err := a.resolveUser(ctx, address, p)
		if err != nil {
			s.logger.Error().Err(err).Str("address", address).Msg("User directory failed during handshake, binding as guest")
			res = resultFallback
			id = user.GuestID
		}
		userID, result = id, res
	}

	unlock := a.transitions.lock(address)
	defer unlock()

	_, prev := a.registry.Register(address, s.socket, userID)
	s.bind(address, userID)

	if prev != nil && prev.Socket != s.socket {
		s.logger.Warn().
			Str("replaced_session", prev.Socket.SessionID()).
			Msg("Address already connected. Closing old connection for replacement.")
		kickOut(prev.Socket)
	}

	s.sendFrame(TypeHandshake, a.ack(s, result))
	a.presence.Broadcast(ctx, address, true)

	metrics.Handshakes.WithLabelValues(result).Inc()
	s.logger.Info().Str("result", result).Msg("Handshake completed")

	return result
}

// kickOut tells a replaced connection why it is going away and closes it.
func kickOut(sock Socket) {
	kicked := errs.NewError(errs.ErrSessionKicked)
	if data, err := encodeFrame(TypeError, ErrorPayload{Error: kicked.Message, Code: kicked.Code}); err == nil {
		_ = sock.Send(data)
	}
	sock.Close(WsCloseCodeSessionKicked, "Session replaced by new connection.")
}

// rehandshake answers a second handshake on an already bound session.
func (a *Authenticator) rehandshake(s *Session, address string) string {
	if address != s.address {
		s.logger.Warn().Str("requested_address", address).Msg("Handshake for a different address on a bound connection")
		s.sendError("", errs.NewError(errs.ErrAlreadyAuthenticated))
		metrics.Handshakes.WithLabelValues(resultRejected).Inc()
		return resultRejected
	}

	result := resultUser
	if s.userID == user.GuestID {
		result = resultGuest
	}
	s.sendFrame(TypeHandshake, a.ack(s, result))
	return result
}

// resolveUser finds or creates the user behind address.
func (a *Authenticator) resolveUser(ctx context.Context, address string, p HandshakePayload) (int64, string, error) {
	u, err := a.users.FindByAddress(ctx, address)
	switch {
	case err == nil:
		now := a.now()
		upd := user.Update{LastSeen: &now}
		if p.PublicKey != "" && p.PublicKey != u.PublicKey {
			upd.PublicKey = &p.PublicKey
		}
		if _, err := a.users.Update(ctx, address, upd); err != nil {
			return 0, "", fmt.Errorf("refresh user: %w", err)
		}
		return u.ID, resultUser, nil

	case errors.Is(err, user.ErrNotFound):
		created, err := a.users.Create(ctx, user.NewUser{
			Address:     address,
			PublicKey:   p.PublicKey,
			EnsName:     p.EnsName,
			DisplayName: p.DisplayName,
		})
		if errors.Is(err, user.ErrAlreadyExists) {
			// lost a creation race to a concurrent handshake
			u, err := a.users.FindByAddress(ctx, address)
			if err != nil {
				return 0, "", fmt.Errorf("find user after create conflict: %w", err)
			}
			return u.ID, resultUser, nil
		}
		if err != nil {
			return 0, "", fmt.Errorf("create user: %w", err)
		}
		return created.ID, resultCreated, nil

	default:
		return 0, "", fmt.Errorf("find user: %w", err)
	}
}

func (a *Authenticator) ack(s *Session, result string) HandshakeAck {
	ack := HandshakeAck{Success: true}
	if a.issue == nil || s.userID == user.GuestID || (result != resultUser && result != resultCreated) {
		return ack
	}

	token, err := a.issue(s.userID, s.address)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to issue session token")
		return ack
	}
	ack.Token = token
	return ack
}

// Release unbinds s when its socket closes. Nothing happens unless s still owns the
// registry entry for its address.
func (a *Authenticator) Release(ctx context.Context, s *Session) bool {
	if !s.bound {
		return false
	}

	unlock := a.transitions.lock(s.address)
	if !a.registry.Release(s.address, s.socket) {
		unlock()
		return false
	}
	a.presence.Broadcast(ctx, s.address, false)
	unlock()

	if s.userID != user.GuestID {
		now := a.now()
		if _, err := a.users.Update(ctx, s.address, user.Update{LastSeen: &now}); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to record last seen")
		}
	}

	s.logger.Info().Msg("Connection released")
	return true
}
