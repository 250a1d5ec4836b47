package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/clock"
	obsmetrics "github.com/smallbiznis/entitlements/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	"github.com/smallbiznis/entitlements/pkg/errs"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobEndAtPeriodEnd   = "end_at_period_end"
	JobExpireIncomplete = "expire_incomplete"
	JobRenewPeriods     = "renew_periods"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	SubscriptionSvc subscriptiondomain.Service
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
	Config          Config              `optional:"true"`
}

// Scheduler sweeps subscriptions whose period boundary has passed: it ends
// the ones set to cancel, expires stale incomplete ones, and rolls the rest
// into their next period.
type Scheduler struct {
	db              *gorm.DB
	log             *zap.Logger
	cfg             Config
	genID           *snowflake.Node
	clock           clock.Clock
	subscriptionSvc subscriptiondomain.Service
	metrics         *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.SubscriptionSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:              p.DB,
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		genID:           p.GenID,
		clock:           p.Clock,
		subscriptionSvc: p.SubscriptionSvc,
		metrics:         p.ObsMetrics,
	}, nil
}

// runJob runs fn under a deadline. Running out of time is not a failure:
// the next tick resumes the sweep from the first unhandled row.
func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	ctx, r := s.begin(ctx, name)

	err := fn(ctx)
	r.finish(err)

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		outcome, err = "timeout", nil
		r.log.Warn("scheduler job timed out", zap.Duration("timeout", timeout))
	default:
		outcome, err = "error", fmt.Errorf("%s: %w", name, err)
	}
	s.metrics.RecordJobRun(parent, name, outcome, time.Since(r.started))
	return err
}

// RunOnce runs every enabled job a single time. Ending comes before renewal
// so a subscription set to cancel is never rolled forward.
func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobEndAtPeriodEnd, s.EndAtPeriodEndJob},
		{JobExpireIncomplete, s.ExpireIncompleteJob},
		{JobRenewPeriods, s.RenewPeriodsJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return err
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

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// EndAtPeriodEndJob cancels subscriptions flagged cancel_at_period_end once
// their period is over, which revokes their grants.
func (s *Scheduler) EndAtPeriodEndJob(ctx context.Context) error {
	return s.sweep(ctx, s.fetchEnding, func(ctx context.Context, sub WorkSubscription) error {
		_, err := s.subscriptionSvc.Transition(ctx, sub.ID.String(), subscriptiondomain.SubscriptionStatusCanceled)
		return err
	})
}

// ExpireIncompleteJob expires subscriptions that never left incomplete.
func (s *Scheduler) ExpireIncompleteJob(ctx context.Context) error {
	return s.sweep(ctx, s.fetchStaleIncomplete, func(ctx context.Context, sub WorkSubscription) error {
		_, err := s.subscriptionSvc.Transition(ctx, sub.ID.String(), subscriptiondomain.SubscriptionStatusIncompleteExpired)
		return err
	})
}

// RenewPeriodsJob rolls entitled subscriptions into their next period.
func (s *Scheduler) RenewPeriodsJob(ctx context.Context) error {
	return s.sweep(ctx, s.fetchRenewable, func(ctx context.Context, sub WorkSubscription) error {
		_, err := s.subscriptionSvc.Renew(ctx, sub.ID.String())
		return err
	})
}

type fetchFunc func(ctx context.Context, now time.Time, after snowflake.ID, limit int) ([]WorkSubscription, error)

// sweep pages through fetch by id and applies fn to each row under the row's
// tenant. Rows that moved underneath the sweep are skipped, not failed.
func (s *Scheduler) sweep(ctx context.Context, fetch fetchFunc, fn func(context.Context, WorkSubscription) error) error {
	r := runFrom(ctx)
	now := s.clock.Now(ctx)

	var (
		after  snowflake.ID
		failed error
	)
	for {
		batch, err := fetch(ctx, now, after, s.cfg.BatchSize)
		if err != nil {
			r.fail("scheduler fetch failed", WorkSubscription{}, err)
			return errors.Join(failed, err)
		}

		for _, sub := range batch {
			if err := ctx.Err(); err != nil {
				return errors.Join(failed, err)
			}
			after = sub.ID

			switch err := fn(tenant(ctx, sub.OrgID), sub); {
			case err == nil:
				r.ok()
			case isRaced(err):
				r.skip(sub, err)
			default:
				failed = errors.Join(failed, err)
				r.fail("scheduler subscription failed", sub, err)
			}
		}

		if len(batch) < s.cfg.BatchSize {
			return failed
		}
	}
}

// isRaced reports errors caused by a concurrent change to the subscription.
func isRaced(err error) bool {
	switch errs.KindOf(err) {
	case errs.KindInvalidState, errs.KindConflict:
		return true
	default:
		return false
	}
}
