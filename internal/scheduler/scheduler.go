// Package scheduler runs background reconciliation jobs on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paygate/internal/clock"
	"github.com/smallbiznis/paygate/internal/locker"
	obsmetrics "github.com/smallbiznis/paygate/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependencies")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     paymentdomain.Repository
	Payments paymentdomain.Service
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   Config              `optional:"true"`
	Locker   *locker.Locker      `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	repo     paymentdomain.Repository
	payments paymentdomain.Service
	locker   *locker.Locker
	metrics  *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Repo == nil || p.Payments == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		payments: p.Payments,
		locker:   p.Locker,
		metrics:  p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)

	// Only one instance runs a job at a time; the rest skip the tick.
	token, acquired, err := s.locker.TryLock(ctx, locker.JobKey(name))
	if err != nil {
		s.metrics.RecordJobRun(ctx, name, "error")
		return fmt.Errorf("%s: lock: %w", name, err)
	}
	if !acquired {
		log.Debug("job held by another instance")
		return nil
	}
	defer func() {
		_ = s.locker.Release(context.WithoutCancel(ctx), locker.JobKey(name), token)
	}()

	if owner {
		s.logJobStart(ctx, run)
	}
	err = fn(ctx)
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		s.metrics.RecordJobRun(ctx, name, "ok")
		return nil
	}

	// A deadline only cuts the batch short; the next tick picks up the rest.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.RecordJobRun(ctx, name, "timeout")
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	s.metrics.RecordJobRun(ctx, name, "error")
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, jobPendingSweep, s.cfg.BatchSize, s.cfg.JobTimeout, s.PendingSweepJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
