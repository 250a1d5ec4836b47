// Package domain contains persistence models for per-period usage counters.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
)

// UsageRecord is the consumption counter of one quota feature for one
// customer and period.
type UsageRecord struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	OrgID         snowflake.ID `gorm:"not null;uniqueIndex:ux_usage_records_period,priority:1"`
	CustomerID    snowflake.ID `gorm:"not null;uniqueIndex:ux_usage_records_period,priority:2"`
	FeatureID     snowflake.ID `gorm:"not null;uniqueIndex:ux_usage_records_period,priority:3"`
	PeriodStart   time.Time    `gorm:"not null;uniqueIndex:ux_usage_records_period,priority:4"`
	PeriodEnd     time.Time    `gorm:"not null"`
	ConsumedUnits int64        `gorm:"not null;default:0"`
	LimitUnits    int64        `gorm:"not null;default:0"`
	CreatedAt     time.Time    `gorm:"not null"`
	UpdatedAt     time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// Contains reports whether at falls in the record's half-open period.
func (r *UsageRecord) Contains(at time.Time) bool {
	return !at.Before(r.PeriodStart) && at.Before(r.PeriodEnd)
}

// PercentageUsed is consumed*100/limit, for display. A zero limit has no
// meaningful percentage and reports 0.
func (r *UsageRecord) PercentageUsed() float64 {
	if r.LimitUnits <= 0 {
		return 0
	}
	return float64(r.ConsumedUnits) * 100 / float64(r.LimitUnits)
}

// Reaches reports consumed/limit >= thresholdPercent/100, decided by cross
// multiplication so a record exactly at the threshold is never lost to
// rounding. A zero limit never reaches any threshold.
func (r *UsageRecord) Reaches(thresholdPercent float64) bool {
	if r.LimitUnits <= 0 {
		return false
	}
	return float64(r.ConsumedUnits)*100 >= thresholdPercent*float64(r.LimitUnits)
}

// AtRiskRow is a current-period record joined with its feature key.
type AtRiskRow struct {
	UsageRecord
	FeatureKey string
}

// FeatureTotal is the current-period consumption summed over customers.
type FeatureTotal struct {
	FeatureID     snowflake.ID
	FeatureKey    string
	ConsumedUnits int64
	Customers     int64
}

// CurrentPeriod returns the [start, end) window of cadence containing now.
// Calendar cadences are UTC windows (weeks start Monday). billing_period
// continues the anchor window, typically the subscription's current period,
// on the anchor's own calendar step.
func CurrentPeriod(cadence featuredomain.ResetCadence, now, anchorStart, anchorEnd time.Time) (time.Time, time.Time) {
	now = now.UTC()
	y, m, d := now.Date()
	switch cadence {
	case featuredomain.ResetDaily:
		start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	case featuredomain.ResetWeekly:
		offset := (int(now.Weekday()) + 6) % 7
		start := time.Date(y, m, d-offset, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 7)
	case featuredomain.ResetYearly:
		start := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0)
	case featuredomain.ResetBillingPeriod:
		if anchorEnd.After(anchorStart) {
			return billingWindow(now, anchorStart.UTC(), anchorEnd.UTC())
		}
	}
	start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// billingWindow finds the window n such that anchorStart stepped n times is
// <= now < anchorStart stepped n+1 times. Steps are always taken from
// anchorStart with AddDate, the same arithmetic subscriptions renew with, so
// a 31-day January never stretches February.
func billingWindow(now, anchorStart, anchorEnd time.Time) (time.Time, time.Time) {
	months, days, calendar := anchorStep(anchorStart, anchorEnd)
	if !calendar {
		length := anchorEnd.Sub(anchorStart)
		n := floorDiv(int64(now.Sub(anchorStart)), int64(length))
		start := anchorStart.Add(time.Duration(n) * length)
		return start, start.Add(length)
	}

	at := func(n int) time.Time { return anchorStart.AddDate(0, n*months, n*days) }
	var n int
	if months > 0 {
		elapsed := (now.Year()-anchorStart.Year())*12 + int(now.Month()-anchorStart.Month())
		n = int(floorDiv(int64(elapsed), int64(months)))
	} else {
		n = int(floorDiv(int64(now.Sub(anchorStart)/(24*time.Hour)), int64(days)))
	}
	// the estimate is off by at most one step around month-end normalization
	for at(n).After(now) {
		n--
	}
	for !at(n + 1).After(now) {
		n++
	}
	return at(n), at(n + 1)
}

// anchorStep reports the calendar step of an anchor window: a whole number of
// months, or else a whole number of days. Anchors that are neither fall back
// to a fixed duration.
func anchorStep(start, end time.Time) (months, days int, ok bool) {
	for k := 1; k <= 36; k++ {
		next := start.AddDate(0, k, 0)
		if next.Equal(end) {
			return k, 0, true
		}
		if next.After(end) {
			break
		}
	}
	if length := end.Sub(start); length%(24*time.Hour) == 0 {
		return 0, int(length / (24 * time.Hour)), true
	}
	return 0, 0, false
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
