package usecase

import (
	"context"
	"time"

	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/pkg/logger"
)

// Scheduler runs the periodic sweeps: delivery advancement and evidence
// reconciliation.
type Scheduler struct {
	batch    *BatchUsecase
	refunds  *RefundUsecase
	interval time.Duration
}

func NewScheduler(batch *BatchUsecase, refunds *RefundUsecase, interval time.Duration) *Scheduler {
	return &Scheduler{batch: batch, refunds: refunds, interval: interval}
}

// Run blocks until ctx is done. A zero interval disables the sweeps.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		logger.Info().Msg("Scheduler disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one round of every sweep as the system actor.
func (s *Scheduler) Tick(ctx context.Context) {
	ctx = domain.WithActor(ctx, &domain.User{ID: domain.SystemActor, Role: domain.RoleAdmin})

	if _, err := s.batch.AutoAdvanceDelivery(ctx); err != nil {
		logger.Error().Err(err).Msg("Scheduled delivery sweep aborted")
	}
	if _, err := s.refunds.ReconcileOrphanEvidence(ctx); err != nil {
		logger.Error().Err(err).Msg("Scheduled evidence sweep failed")
	}
}
