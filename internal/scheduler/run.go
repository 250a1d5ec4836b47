package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/entitlements/internal/observability/context"
	obslogger "github.com/smallbiznis/entitlements/internal/observability/logger"
	"github.com/smallbiznis/entitlements/internal/orgcontext"
	"github.com/smallbiznis/entitlements/pkg/errs"
	"go.uber.org/zap"
)

// run tracks one execution of a job. The run id doubles as the request id
// so every log line of a sweep can be correlated. A nil *run is a no-op.
type run struct {
	job     string
	id      string
	started time.Time
	log     *zap.Logger

	done    int
	skipped int
	failed  int
}

type runKey struct{}

func (s *Scheduler) begin(ctx context.Context, job string) (context.Context, *run) {
	r := &run{job: job, id: s.genID.Generate().String(), started: time.Now()}
	ctx = obscontext.WithRequestID(ctx, r.id)
	ctx = context.WithValue(ctx, runKey{}, r)
	r.log = obslogger.WithContext(ctx, s.log).With(zap.String("job", job))
	r.log.Debug("scheduler job started", zap.Int("batch_size", s.cfg.BatchSize))
	return ctx, r
}

func runFrom(ctx context.Context) *run {
	r, _ := ctx.Value(runKey{}).(*run)
	return r
}

// tenant scopes ctx to the organization that owns a row.
func tenant(ctx context.Context, orgID snowflake.ID) context.Context {
	if orgID == 0 {
		return ctx
	}
	return orgcontext.WithOrgID(ctx, orgID)
}

func (r *run) ok() {
	if r != nil {
		r.done++
	}
}

func (r *run) skip(sub WorkSubscription, err error) {
	if r == nil {
		return
	}
	r.skipped++
	r.log.Debug("subscription changed under sweep",
		zap.String("subscription_id", sub.ID.String()),
		zap.Error(err),
	)
}

func (r *run) fail(msg string, sub WorkSubscription, err error) {
	if r == nil {
		return
	}
	r.failed++
	fields := []zap.Field{
		zap.String("error_type", string(errs.KindOf(err))),
		zap.Error(err),
	}
	if sub.ID != 0 {
		fields = append(fields,
			zap.String("subscription_id", sub.ID.String()),
			zap.String("org_id", sub.OrgID.String()),
		)
	}
	r.log.Error(msg, fields...)
}

func (r *run) finish(err error) {
	if r == nil {
		return
	}
	if err != nil && r.failed == 0 {
		r.failed++
	}
	fields := []zap.Field{
		zap.Duration("took", time.Since(r.started)),
		zap.Int("processed", r.done),
		zap.Int("skipped", r.skipped),
		zap.Int("failed", r.failed),
	}
	switch {
	case r.failed > 0:
		r.log.Warn("scheduler job finished with errors", fields...)
	case r.done > 0:
		r.log.Info("scheduler job finished", fields...)
	default:
		r.log.Debug("scheduler job idle", fields...)
	}
}
