// Package sweeper expires delivery requests that were never accepted.
package sweeper

import (
	"context"
	"time"

	"swiftdrop/internal/common/logger"
	"swiftdrop/internal/config"
	"swiftdrop/internal/microservices/delivery/service"
)

type Sweeper struct {
	delivery service.DeliveryServiceInterface
	cfg      config.DeliveryConfig
	lg       *logger.Logger
}

func New(delivery service.DeliveryServiceInterface, cfg config.DeliveryConfig, lg *logger.Logger) *Sweeper {
	return &Sweeper{delivery: delivery, cfg: cfg, lg: lg}
}

// Run sweeps on the configured interval until the context is cancelled.
// One failed sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	s.lg.Info("sweeper_started", map[string]any{"interval": interval.String(), "batch": s.cfg.SweepBatch})
	for {
		select {
		case <-ctx.Done():
			s.lg.Info("graceful_shutdown", nil)
			return nil
		case <-t.C:
			n, err := s.delivery.ExpirePending(ctx, s.cfg.SweepBatch)
			if err != nil {
				s.lg.Error("sweep_failed", err, nil)
				continue
			}
			if n > 0 {
				s.lg.Debug("sweep_completed", map[string]any{"expired": n})
			}
		}
	}
}
