package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"golang.org/x/text/currency"
)

type BillingInterval string

const (
	Day   BillingInterval = "day"
	Week  BillingInterval = "week"
	Month BillingInterval = "month"
	Year  BillingInterval = "year"
)

func (i BillingInterval) Valid() bool {
	switch i {
	case Day, Week, Month, Year:
		return true
	default:
		return false
	}
}

// Advance moves t forward by count intervals. Month and year steps follow
// time.AddDate normalization.
func (i BillingInterval) Advance(t time.Time, count int) time.Time {
	if count < 1 {
		count = 1
	}
	switch i {
	case Day:
		return t.AddDate(0, 0, count)
	case Week:
		return t.AddDate(0, 0, 7*count)
	case Year:
		return t.AddDate(count, 0, 0)
	default:
		return t.AddDate(0, count, 0)
	}
}

type AmountType string

const (
	AmountFixed AmountType = "fixed"
	AmountFree  AmountType = "free"
)

func (t AmountType) Valid() bool {
	return t == AmountFixed || t == AmountFree
}

// Price is one pricing line of a product version. Amounts are integer cents.
type Price struct {
	ID                     snowflake.ID     `gorm:"primaryKey"`
	OrgID                  snowflake.ID     `gorm:"column:org_id;not null;index"`
	ProductID              snowflake.ID     `gorm:"column:product_id;not null;index"`
	PreviousPriceID        *snowflake.ID    `gorm:"column:previous_price_id"`
	AmountType             AmountType       `gorm:"type:text;not null"`
	PriceAmount            *int64           `gorm:"column:price_amount"`
	PriceCurrency          string           `gorm:"type:text;not null"`
	RecurringInterval      *BillingInterval `gorm:"type:text"`
	RecurringIntervalCount *int             `gorm:"column:recurring_interval_count"`
	IsArchived             bool             `gorm:"not null;default:false"`
	ExternalID             *string          `gorm:"column:external_id;type:text"`
	CreatedAt              time.Time        `gorm:"not null"`
	UpdatedAt              time.Time        `gorm:"not null"`
}

func (Price) TableName() string { return "prices" }

var currencyRegexp = regexp.MustCompile(`^[a-z]{3}$`)

// Validate enforces the amount/currency invariants of a price line.
func (p *Price) Validate() error {
	switch p.AmountType {
	case AmountFixed:
		if p.PriceAmount == nil || *p.PriceAmount <= 0 {
			return ErrInvalidAmount
		}
	case AmountFree:
		if p.PriceAmount != nil {
			return ErrAmountOnFreePrice
		}
	default:
		return ErrInvalidAmountType
	}

	if !currencyRegexp.MatchString(p.PriceCurrency) {
		return ErrInvalidCurrency
	}
	if _, err := currency.ParseISO(strings.ToUpper(p.PriceCurrency)); err != nil {
		return ErrInvalidCurrency
	}

	if p.RecurringInterval != nil && !p.RecurringInterval.Valid() {
		return ErrInvalidInterval
	}
	if p.RecurringIntervalCount != nil && *p.RecurringIntervalCount < 1 {
		return ErrInvalidIntervalCount
	}
	return nil
}

// EffectiveInterval resolves the override against the product's interval.
func (p *Price) EffectiveInterval(productInterval BillingInterval, productCount int) (BillingInterval, int) {
	interval, count := productInterval, productCount
	if p.RecurringInterval != nil {
		interval = *p.RecurringInterval
	}
	if p.RecurringIntervalCount != nil {
		count = *p.RecurringIntervalCount
	}
	return interval, count
}
