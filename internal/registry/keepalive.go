package registry

import (
	"context"
	"sync"
	"time"

	"gaitstream/internal/logger"
	"gaitstream/internal/models"
)

// Supervisor periodically sends heartbeat frames to every consumer so
// silently dead connections (client network gone, no RST seen) get
// detected and reclaimed. Best-effort: Broadcast already self-heals on
// failed sends, the supervisor only bounds how long an idle corpse can
// linger.
type Supervisor struct {
	registry *Registry
	interval time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewSupervisor creates a keepalive supervisor over the registry
func NewSupervisor(registry *Registry, interval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Supervisor{registry: registry, interval: interval}
}

// Start launches the heartbeat loop
func (s *Supervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	log := logger.WithComponent("keepalive")
	log.Info().Dur("interval", s.interval).Msg("keepalive supervisor started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("keepalive supervisor stopped")
				return
			case <-ticker.C:
				s.registry.fanOut(models.Heartbeat{
					Type:      "heartbeat",
					Timestamp: time.Now().UTC(),
				}, "keepalive")
			}
		}
	}()
}

// Stop terminates the heartbeat loop and waits for it to exit
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
