package scheduler

import (
	"context"
	"errors"

	"github.com/smallbiznis/paygate/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"go.uber.org/zap"
)

const jobPendingSweep = "pending_sweep"

// PendingSweepJob polls the provider for pending charges that have been
// neither updated nor polled for StaleAfter, covering notifications that never
// arrived. Each run handles one batch, least recently polled first, and stamps
// every charge it asks about, so charges that stay pending or keep failing
// rotate to the back of the queue.
func (s *Scheduler) PendingSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobPendingSweep, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	now := s.clock.Now()
	charges, err := s.repo.ListStalePending(ctx, s.db, now.Add(-s.cfg.StaleAfter), now.Add(-s.cfg.MaxAge), s.cfg.BatchSize)
	if err != nil {
		s.logJobError(ctx, run, "scheduler.sweep.list.failed", 0, err)
		return err
	}

	var jobErr error
	for _, charge := range charges {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		orgCtx := orgcontext.WithOrgID(s.withLogContext(ctx, charge.OrgID), charge.OrgID)
		transition, err := s.payments.RefreshStatus(orgCtx, charge.ID)
		if markErr := s.repo.MarkPolled(ctx, s.db, charge.ID, now); markErr != nil {
			jobErr = errors.Join(jobErr, markErr)
			s.logJobError(ctx, run, "scheduler.sweep.mark.failed", charge.OrgID, markErr,
				zap.String("charge_id", charge.ID.String()),
			)
		}
		var conflict *paymentdomain.ReconciliationConflict
		switch {
		case errors.As(err, &conflict):
			// Already logged by the guard; the charge keeps its status.
			run.AddProcessed(1)
			continue
		case err != nil:
			jobErr = errors.Join(jobErr, err)
			s.logJobError(ctx, run, "scheduler.sweep.refresh.failed", charge.OrgID, err,
				zap.String("charge_id", charge.ID.String()),
				zap.String("provider", charge.Provider),
			)
			continue
		}

		run.AddProcessed(1)
		if transition != nil && transition.Outcome == paymentdomain.OutcomeApplied {
			s.logger(orgCtx).Info("scheduler.sweep.charge.updated",
				zap.String("charge_id", charge.ID.String()),
				zap.String("provider", charge.Provider),
				zap.String("from", string(transition.From)),
				zap.String("to", string(transition.To)),
			)
		}
	}

	return jobErr
}
