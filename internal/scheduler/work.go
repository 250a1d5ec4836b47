package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
)

type WorkSubscription struct {
	ID               snowflake.ID
	OrgID            snowflake.ID
	Status           subscriptiondomain.SubscriptionStatus
	CurrentPeriodEnd time.Time
}

var renewableStatuses = []subscriptiondomain.SubscriptionStatus{
	subscriptiondomain.SubscriptionStatusActive,
	subscriptiondomain.SubscriptionStatusTrialing,
	subscriptiondomain.SubscriptionStatusPastDue,
}

func (s *Scheduler) fetchEnding(ctx context.Context, now time.Time, after snowflake.ID, limit int) ([]WorkSubscription, error) {
	return s.fetch(ctx,
		`cancel_at_period_end = ? AND status IN ? AND current_period_end <= ?`,
		[]any{true, subscriptiondomain.OpenStatuses, now},
		after, limit,
	)
}

func (s *Scheduler) fetchRenewable(ctx context.Context, now time.Time, after snowflake.ID, limit int) ([]WorkSubscription, error) {
	return s.fetch(ctx,
		`cancel_at_period_end = ? AND status IN ? AND current_period_end <= ?`,
		[]any{false, renewableStatuses, now},
		after, limit,
	)
}

func (s *Scheduler) fetchStaleIncomplete(ctx context.Context, now time.Time, after snowflake.ID, limit int) ([]WorkSubscription, error) {
	return s.fetch(ctx,
		`status = ? AND created_at <= ?`,
		[]any{subscriptiondomain.SubscriptionStatusIncomplete, now.Add(-s.cfg.IncompleteExpiry)},
		after, limit,
	)
}

// fetch reads one page of work across every tenant, ordered by id.
func (s *Scheduler) fetch(ctx context.Context, where string, args []any, after snowflake.ID, limit int) ([]WorkSubscription, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `SELECT id, org_id, status, current_period_end
		FROM subscriptions
		WHERE ` + where + ` AND id > ?
		ORDER BY id
		LIMIT ?`
	params := append(append([]any{}, args...), after, limit)

	var rows []WorkSubscription
	if err := s.db.WithContext(claimCtx).Raw(query, params...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
