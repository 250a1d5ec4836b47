// Package domain contains persistence models for subscriptions and the
// feature grants they carry.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusIncomplete,
		SubscriptionStatusIncompleteExpired,
		SubscriptionStatusTrialing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusUnpaid,
		SubscriptionStatusPaused,
		SubscriptionStatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal states end the subscription; nothing transitions out of them.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusIncompleteExpired
}

var transitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusIncomplete: {
		SubscriptionStatusActive, SubscriptionStatusTrialing,
		SubscriptionStatusIncompleteExpired, SubscriptionStatusCanceled,
	},
	SubscriptionStatusTrialing: {
		SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCanceled,
		SubscriptionStatusPaused, SubscriptionStatusUnpaid,
	},
	SubscriptionStatusActive: {
		SubscriptionStatusPastDue, SubscriptionStatusCanceled,
		SubscriptionStatusPaused, SubscriptionStatusUnpaid,
	},
	SubscriptionStatusPastDue: {
		SubscriptionStatusActive, SubscriptionStatusCanceled, SubscriptionStatusUnpaid,
	},
	SubscriptionStatusUnpaid: {SubscriptionStatusActive, SubscriptionStatusCanceled},
	SubscriptionStatusPaused: {SubscriptionStatusActive, SubscriptionStatusCanceled},
}

func CanTransition(from, to SubscriptionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// EntitledStatuses are the statuses whose subscriptions confer features.
// past_due is included while the grace policy allows it.
func EntitledStatuses(pastDueEntitled bool) []SubscriptionStatus {
	statuses := []SubscriptionStatus{SubscriptionStatusActive, SubscriptionStatusTrialing}
	if pastDueEntitled {
		statuses = append(statuses, SubscriptionStatusPastDue)
	}
	return statuses
}

// OpenStatuses are every non-terminal status.
var OpenStatuses = []SubscriptionStatus{
	SubscriptionStatusIncomplete,
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusUnpaid,
	SubscriptionStatusPaused,
}

// LiveStatuses count as live subscribers when deciding whether an edit must
// fork a new version.
var LiveStatuses = []SubscriptionStatus{SubscriptionStatusActive, SubscriptionStatusTrialing}

// Subscription binds a customer to one exact product version and price.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey"`
	OrgID              snowflake.ID       `gorm:"not null;index"`
	CustomerID         snowflake.ID       `gorm:"not null;index"`
	ProductID          snowflake.ID       `gorm:"not null;index"`
	PriceID            snowflake.ID       `gorm:"not null"`
	Status             SubscriptionStatus `gorm:"type:text;not null"`
	CurrentPeriodStart time.Time          `gorm:"not null"`
	CurrentPeriodEnd   time.Time          `gorm:"not null"`
	CancelAtPeriodEnd  bool               `gorm:"not null;default:false"`
	CanceledAt         *time.Time
	EndedAt            *time.Time
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// FeatureGrant records that a subscription confers a feature. A grant is
// active until RevokedAt is set.
type FeatureGrant struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	OrgID          snowflake.ID `gorm:"not null;index:ix_feature_grants_lookup,priority:1"`
	CustomerID     snowflake.ID `gorm:"not null;index:ix_feature_grants_lookup,priority:2"`
	FeatureID      snowflake.ID `gorm:"not null;index:ix_feature_grants_lookup,priority:3"`
	SubscriptionID snowflake.ID `gorm:"not null;index"`
	ProductID      snowflake.ID `gorm:"not null"`
	GrantedAt      time.Time    `gorm:"not null"`
	RevokedAt      *time.Time
}

func (FeatureGrant) TableName() string { return "feature_grants" }

func (g *FeatureGrant) Active() bool {
	return g.RevokedAt == nil
}
