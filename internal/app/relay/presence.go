package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// mirrorTimeout bounds a single presence mirror write.
const mirrorTimeout = 2 * time.Second

// PresenceMirror publishes presence outside the process, e.g. to Redis, so that other
// readers can answer "is this address online" without the in-memory registry.
type PresenceMirror interface {
	SetOnline(ctx context.Context, address string, at time.Time) error
	SetOffline(ctx context.Context, address string, at time.Time) error

	// Refresh extends the online marker of every address in addresses.
	Refresh(ctx context.Context, addresses []string) error
}

// Presence fans online/offline transitions out to every other registered connection.
type Presence struct {
	registry *Registry
	mirror   PresenceMirror
	now      func() time.Time
	logger   zerolog.Logger
}

// NewPresence builds a broadcaster over registry. mirror may be nil.
func NewPresence(registry *Registry, mirror PresenceMirror, logger zerolog.Logger) *Presence {
	return &Presence{
		registry: registry,
		mirror:   mirror,
		now:      time.Now,
		logger:   logger,
	}
}

// Broadcast notifies every registered connection except address itself and returns
// the number of connections the frame was queued on. Failed sends are skipped.
func (p *Presence) Broadcast(ctx context.Context, address string, online bool) int {
	at := p.now()

	data, err := encodeFrame(TypePresence, PresencePayload{
		Address:   address,
		Online:    online,
		Timestamp: at.UnixMilli(),
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to encode presence frame")
		return 0
	}

	sent := 0
	for _, conn := range p.registry.Snapshot() {
		if conn.Address == address {
			continue
		}
		if err := conn.Socket.Send(data); err != nil {
			p.logger.Debug().Err(err).Str("recipient", conn.Address).Msg("Skipping presence recipient")
			continue
		}
		sent++
	}

	p.mirrorTransition(ctx, address, online, at)

	p.logger.Debug().
		Str("address", address).
		Bool("online", online).
		Int("recipients", sent).
		Msg("Presence broadcast")

	return sent
}

func (p *Presence) mirrorTransition(ctx context.Context, address string, online bool, at time.Time) {
	if p.mirror == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	var err error
	if online {
		err = p.mirror.SetOnline(ctx, address, at)
	} else {
		err = p.mirror.SetOffline(ctx, address, at)
	}
	if err != nil {
		p.logger.Warn().Err(err).Str("address", address).Bool("online", online).Msg("Presence mirror update failed")
	}
}

// Refresh re-publishes every registered address to the mirror.
func (p *Presence) Refresh(ctx context.Context) {
	if p.mirror == nil {
		return
	}

	conns := p.registry.Snapshot()
	if len(conns) == 0 {
		return
	}

	addresses := make([]string, 0, len(conns))
	for _, conn := range conns {
		addresses = append(addresses, conn.Address)
	}

	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	if err := p.mirror.Refresh(ctx, addresses); err != nil {
		p.logger.Warn().Err(err).Int("addresses", len(addresses)).Msg("Presence mirror refresh failed")
	}
}
