package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"cryptochat/internal/pkg/metrics"
)

// WsCloseCodeLivenessTimeout is sent to a socket that stopped answering probes.
const WsCloseCodeLivenessTimeout = 4002

// Monitor probes every open socket on a fixed interval and closes those that miss
// maxMissed consecutive probes. Any inbound frame resets a socket's count.
type Monitor struct {
	interval  time.Duration
	maxMissed int32
	sessions  func() []*Session
	onTick    func(ctx context.Context)
	logger    zerolog.Logger
}

// NewMonitor builds a Monitor over the sessions returned by sessions.
// maxMissed <= 0 keeps probing without ever evicting.
func NewMonitor(interval time.Duration, maxMissed int, sessions func() []*Session, logger zerolog.Logger) *Monitor {
	return &Monitor{
		interval:  interval,
		maxMissed: int32(maxMissed),
		sessions:  sessions,
		logger:    logger,
	}
}

// Run blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.interval).Int32("max_missed", m.maxMissed).Msg("Liveness monitor started.")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Liveness monitor stopped.")
			return
		case <-ticker.C:
			m.Sweep()
			if m.onTick != nil {
				m.onTick(ctx)
			}
		}
	}
}

// Sweep runs one probe round and returns the number of evicted sockets.
func (m *Monitor) Sweep() int {
	evicted := 0

	for _, s := range m.sessions() {
		if m.maxMissed > 0 && s.missed.Load() >= m.maxMissed {
			s.logger.Warn().Int32("missed", s.missed.Load()).Msg("Liveness probes unanswered, closing socket")
			s.socket.Close(WsCloseCodeLivenessTimeout, "Liveness timeout.")
			metrics.LivenessEvictions.Inc()
			evicted++
			continue
		}

		if err := s.socket.Send([]byte(probeToken)); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to queue liveness probe")
		}
		s.missed.Add(1)
	}

	return evicted
}
