package connectivity

import (
	"context"
	"sync"
	"time"

	"tripline/internal/domain"
	"tripline/internal/events"

	"github.com/rs/zerolog"
)

// Prober is the environment's network signal: a cheap remote health check.
type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor tracks the process-wide online/offline state and publishes one
// event per transition. It is injected wherever the write path must choose
// between the remote store and the sync queue.
type Monitor struct {
	prober   Prober
	bus      domain.EventPublisher
	logger   *zerolog.Logger
	interval time.Duration

	mu     sync.Mutex
	online bool
}

func NewMonitor(prober Prober, bus domain.EventPublisher, logger *zerolog.Logger, interval time.Duration, initialOnline bool) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		prober:   prober,
		bus:      bus,
		logger:   logger,
		interval: interval,
		online:   initialOnline,
	}
}

// Online reports the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline applies an environment transition. Repeated calls with the same
// state are no-ops; each actual transition publishes exactly one event.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.mu.Unlock()

	eventType := events.EventDisconnected
	if online {
		eventType = events.EventReconnected
	}

	m.logger.Info().Bool("online", online).Msg("connectivity transition")

	if err := m.bus.PublishJSON(eventType, events.ConnectivityEventPayload{
		Online: online,
		At:     time.Now(),
	}); err != nil {
		m.logger.Error().Err(err).Str("event_type", eventType).Msg("publish connectivity event")
	}
}

// Run probes the remote store until ctx is done, feeding transitions into
// SetOnline. Rapid flapping may fire redundant reconnect events; consumers
// are expected to be idempotent.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, m.interval)
			err := m.prober.Ping(probeCtx)
			cancel()

			m.SetOnline(err == nil)
		}
	}
}
