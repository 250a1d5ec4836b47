package service

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	pricedomain "github.com/smallbiznis/entitlements/internal/price/domain"
	productdomain "github.com/smallbiznis/entitlements/internal/product/domain"
	productfeaturedomain "github.com/smallbiznis/entitlements/internal/productfeature/domain"
	"github.com/smallbiznis/entitlements/internal/versioning/domain"
	"github.com/smallbiznis/entitlements/pkg/errs"
	"gorm.io/datatypes"
)

// snapshot is the stored state of one product version.
type snapshot struct {
	product     productdomain.Product
	prices      []pricedomain.Price
	assignments []productfeaturedomain.FeatureAssignment
}

// plan is a snapshot with changes applied, plus what moved.
type plan struct {
	product       productdomain.Product
	prices        []pricedomain.Price
	changedPrices []snowflake.ID
	attachments   []productfeaturedomain.ProductFeature

	added   []productfeaturedomain.ProductFeature
	updated []productfeaturedomain.ProductFeature
	removed []snowflake.ID

	changed  []string
	breaking []string
}

func (p *plan) record(field string, breaking bool) {
	p.changed = append(p.changed, field)
	if breaking {
		p.breaking = append(p.breaking, field)
	}
}

func (p *plan) featuresChanged() bool {
	return len(p.added) > 0 || len(p.updated) > 0 || len(p.removed) > 0
}

// buildPlan applies changes to cur and classifies every field that moved.
// features holds the definitions of features being added.
func buildPlan(cur snapshot, changes domain.ProductChanges, features map[snowflake.ID]*featuredomain.Feature, now time.Time) (*plan, error) {
	p := &plan{product: cur.product}
	if err := p.applyProduct(changes); err != nil {
		return nil, err
	}
	if err := p.applyPrices(cur.prices, changes.Prices); err != nil {
		return nil, err
	}
	if err := p.applyFeatures(cur, changes, features, now); err != nil {
		return nil, err
	}
	if p.changed == nil {
		p.changed = []string{}
	}
	if p.breaking == nil {
		p.breaking = []string{}
	}
	return p, nil
}

func (p *plan) applyProduct(changes domain.ProductChanges) error {
	prod := &p.product
	if changes.Name != nil {
		if name := strings.TrimSpace(*changes.Name); name != prod.Name {
			prod.Name = name
			p.record("name", false)
		}
	}
	if changes.Description != nil {
		desc := strings.TrimSpace(*changes.Description)
		var next *string
		if desc != "" {
			next = &desc
		}
		if !equalPtr(prod.Description, next) {
			prod.Description = next
			p.record("description", false)
		}
	}
	if changes.Metadata != nil && !reflect.DeepEqual(map[string]any(prod.Metadata), changes.Metadata) {
		prod.Metadata = datatypes.JSONMap(changes.Metadata)
		p.record("metadata", false)
	}
	if changes.IsArchived != nil && *changes.IsArchived != prod.IsArchived {
		prod.IsArchived = *changes.IsArchived
		p.record("is_archived", false)
	}
	if changes.TrialDays != nil && *changes.TrialDays != prod.TrialDays {
		prod.TrialDays = *changes.TrialDays
		p.record("trial_days", false)
	}
	if changes.RecurringInterval != nil && *changes.RecurringInterval != prod.RecurringInterval {
		prod.RecurringInterval = *changes.RecurringInterval
		p.record("recurring_interval", true)
	}
	if changes.RecurringIntervalCount != nil && *changes.RecurringIntervalCount != prod.RecurringIntervalCount {
		prod.RecurringIntervalCount = *changes.RecurringIntervalCount
		p.record("recurring_interval_count", true)
	}
	return prod.Validate()
}

func (p *plan) applyPrices(current []pricedomain.Price, changes []domain.PriceChange) error {
	p.prices = make([]pricedomain.Price, len(current))
	copy(p.prices, current)

	index := make(map[snowflake.ID]int, len(p.prices))
	for i := range p.prices {
		index[p.prices[i].ID] = i
	}

	seen := make(map[snowflake.ID]struct{}, len(changes))
	for _, change := range changes {
		id, err := snowflake.ParseString(strings.TrimSpace(change.PriceID))
		if err != nil || id == 0 {
			return domain.ErrInvalidPriceID
		}
		if _, dup := seen[id]; dup {
			return domain.ErrDuplicatePriceChange
		}
		seen[id] = struct{}{}

		i, ok := index[id]
		if !ok {
			return domain.ErrPriceNotInProduct
		}
		price := &p.prices[i]
		label := fmt.Sprintf("prices[%s]", id)
		moved := false

		if change.AmountType != nil && *change.AmountType != price.AmountType {
			price.AmountType = *change.AmountType
			if price.AmountType == pricedomain.AmountFree {
				price.PriceAmount = nil
			}
			p.record(label+".amount_type", true)
			moved = true
		}
		if change.PriceAmount != nil && !equalPtr(price.PriceAmount, change.PriceAmount) {
			amount := *change.PriceAmount
			price.PriceAmount = &amount
			p.record(label+".price_amount", true)
			moved = true
		}
		if change.PriceCurrency != nil {
			if cur := strings.ToLower(strings.TrimSpace(*change.PriceCurrency)); cur != price.PriceCurrency {
				price.PriceCurrency = cur
				p.record(label+".price_currency", true)
				moved = true
			}
		}
		if change.RecurringInterval != nil && !equalPtr(price.RecurringInterval, change.RecurringInterval) {
			interval := *change.RecurringInterval
			price.RecurringInterval = &interval
			p.record(label+".recurring_interval", true)
			moved = true
		}
		if change.RecurringIntervalCount != nil && !equalPtr(price.RecurringIntervalCount, change.RecurringIntervalCount) {
			count := *change.RecurringIntervalCount
			price.RecurringIntervalCount = &count
			p.record(label+".recurring_interval_count", true)
			moved = true
		}

		if err := price.Validate(); err != nil {
			return err
		}
		if moved {
			p.changedPrices = append(p.changedPrices, id)
		}
	}
	return nil
}

func (p *plan) applyFeatures(cur snapshot, changes domain.ProductChanges, features map[snowflake.ID]*featuredomain.Feature, now time.Time) error {
	attached := make(map[snowflake.ID]int, len(cur.assignments))
	for i := range cur.assignments {
		attached[cur.assignments[i].FeatureID] = i
	}
	seen := make(map[snowflake.ID]struct{})
	claim := func(raw string) (snowflake.ID, error) {
		id, err := parseFeatureID(raw)
		if err != nil {
			return 0, err
		}
		if _, dup := seen[id]; dup {
			return 0, domain.ErrDuplicateFeatureChange
		}
		seen[id] = struct{}{}
		return id, nil
	}

	removed := make(map[snowflake.ID]struct{}, len(changes.RemoveFeatures))
	for _, raw := range changes.RemoveFeatures {
		id, err := claim(raw)
		if err != nil {
			return err
		}
		i, ok := attached[id]
		if !ok {
			return domain.ErrFeatureNotAttached
		}
		removed[id] = struct{}{}
		p.removed = append(p.removed, id)
		p.record(fmt.Sprintf("features[%s].removed", cur.assignments[i].Name), true)
	}

	replaced := make(map[snowflake.ID]productfeaturedomain.ProductFeature, len(changes.UpdateFeatures))
	for _, update := range changes.UpdateFeatures {
		id, err := claim(update.FeatureID)
		if err != nil {
			return err
		}
		i, ok := attached[id]
		if !ok {
			return domain.ErrFeatureNotAttached
		}
		before := cur.assignments[i]
		row, moved, err := p.updateAttachment(before, update)
		if err != nil {
			return err
		}
		if moved {
			replaced[id] = row
			p.updated = append(p.updated, row)
		}
	}

	for _, addition := range changes.AddFeatures {
		id, err := claim(addition.FeatureID)
		if err != nil {
			return err
		}
		if _, ok := attached[id]; ok {
			return domain.ErrFeatureAlreadyAttached
		}
		feature, ok := features[id]
		if !ok || feature == nil {
			return domain.ErrFeatureNotFound
		}
		row, err := productfeaturedomain.NewAttachment(feature, p.product.ID, addition.DisplayOrder, addition.ConfigOverride, now)
		if err != nil {
			return err
		}
		p.added = append(p.added, row)
		p.record(fmt.Sprintf("features[%s].added", feature.Name), false)
	}

	p.attachments = make([]productfeaturedomain.ProductFeature, 0, len(cur.assignments)+len(p.added))
	for i := range cur.assignments {
		a := cur.assignments[i]
		if _, gone := removed[a.FeatureID]; gone {
			continue
		}
		if row, ok := replaced[a.FeatureID]; ok {
			p.attachments = append(p.attachments, row)
			continue
		}
		p.attachments = append(p.attachments, a.Attachment(p.product.OrgID))
	}
	p.attachments = append(p.attachments, p.added...)
	return nil
}

// updateAttachment applies one update. Loosening a grant is safe in place;
// tightening it is breaking.
func (p *plan) updateAttachment(before productfeaturedomain.FeatureAssignment, update domain.FeatureUpdate) (productfeaturedomain.ProductFeature, bool, error) {
	row := before.Attachment(p.product.OrgID)
	moved := false
	label := fmt.Sprintf("features[%s]", before.Name)

	if update.DisplayOrder != nil && *update.DisplayOrder != row.DisplayOrder {
		row.DisplayOrder = *update.DisplayOrder
		p.record(label+".display_order", false)
		moved = true
	}

	if update.ConfigOverride == nil {
		return row, moved, nil
	}

	prev, err := before.EffectiveConfig()
	if err != nil {
		return row, false, err
	}

	after := before
	trimmed := bytes.TrimSpace(update.ConfigOverride)
	if bytes.Equal(trimmed, []byte("null")) {
		after.ConfigOverride = nil
	} else {
		cfg, err := featuredomain.DecodeConfig(before.FeatureType, trimmed)
		if err != nil {
			return row, false, errs.Wrap(productfeaturedomain.ErrInvalidOverride, "%v", err)
		}
		encoded, err := featuredomain.EncodeConfig(cfg)
		if err != nil {
			return row, false, err
		}
		after.ConfigOverride = encoded
	}
	if bytes.Equal(after.ConfigOverride, before.ConfigOverride) {
		return row, moved, nil
	}

	next, err := after.EffectiveConfig()
	if err != nil {
		return row, false, err
	}
	row.ConfigOverride = after.ConfigOverride
	p.record(label+".config_override", featuredomain.Compare(prev, next) == featuredomain.DeltaRestricts)
	return row, true, nil
}

func (p *plan) addedIDs() []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(p.added))
	for _, row := range p.added {
		ids = append(ids, row.FeatureID)
	}
	return ids
}

func parseFeatureID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidFeatureID
	}
	return id, nil
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
