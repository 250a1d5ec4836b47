package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

type ResetCadence string

const (
	ResetDaily         ResetCadence = "day"
	ResetWeekly        ResetCadence = "week"
	ResetMonthly       ResetCadence = "month"
	ResetYearly        ResetCadence = "year"
	ResetBillingPeriod ResetCadence = "billing_period"
)

func (c ResetCadence) Valid() bool {
	switch c {
	case ResetDaily, ResetWeekly, ResetMonthly, ResetYearly, ResetBillingPeriod:
		return true
	default:
		return false
	}
}

// Config is the typed properties of a feature. The set of implementations is
// closed: BooleanFlagConfig, UsageQuotaConfig and NumericLimitConfig.
type Config interface {
	Type() FeatureType
	Validate() error
	config()
}

type BooleanFlagConfig struct {
	Enabled bool `json:"enabled"`
}

type UsageQuotaConfig struct {
	Limit        int64        `json:"limit"`
	ResetCadence ResetCadence `json:"reset_cadence"`
}

type NumericLimitConfig struct {
	Max int64 `json:"max"`
}

func (BooleanFlagConfig) Type() FeatureType  { return FeatureTypeBooleanFlag }
func (UsageQuotaConfig) Type() FeatureType   { return FeatureTypeUsageQuota }
func (NumericLimitConfig) Type() FeatureType { return FeatureTypeNumericLimit }

func (BooleanFlagConfig) config()  {}
func (UsageQuotaConfig) config()   {}
func (NumericLimitConfig) config() {}

func (BooleanFlagConfig) Validate() error { return nil }

func (c UsageQuotaConfig) Validate() error {
	if c.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidProperties)
	}
	if !c.ResetCadence.Valid() {
		return fmt.Errorf("%w: unknown reset_cadence %q", ErrInvalidProperties, c.ResetCadence)
	}
	return nil
}

func (c NumericLimitConfig) Validate() error {
	if c.Max < 0 {
		return fmt.Errorf("%w: max must not be negative", ErrInvalidProperties)
	}
	return nil
}

// DefaultConfig is used when a feature is created without properties.
func DefaultConfig(t FeatureType) (Config, error) {
	switch t {
	case FeatureTypeBooleanFlag:
		return BooleanFlagConfig{Enabled: true}, nil
	case FeatureTypeUsageQuota:
		return UsageQuotaConfig{ResetCadence: ResetBillingPeriod}, nil
	case FeatureTypeNumericLimit:
		return NumericLimitConfig{}, nil
	default:
		return nil, ErrInvalidType
	}
}

// DecodeConfig parses raw properties as the config variant of t. Unknown
// fields are rejected so properties of the wrong type never decode silently.
func DecodeConfig(t FeatureType, raw []byte) (Config, error) {
	base, err := DefaultConfig(t)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return base, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var cfg Config
	switch base := base.(type) {
	case BooleanFlagConfig:
		err = dec.Decode(&base)
		cfg = base
	case UsageQuotaConfig:
		err = dec.Decode(&base)
		cfg = base
	case NumericLimitConfig:
		err = dec.Decode(&base)
		cfg = base
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProperties, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func EncodeConfig(cfg Config) (datatypes.JSON, error) {
	if cfg == nil {
		return nil, ErrInvalidProperties
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// MostPermissive merges two grants of the same feature: the larger limit wins
// and an enabled flag wins. Mismatched variants keep a.
func MostPermissive(a, b Config) Config {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	switch x := a.(type) {
	case BooleanFlagConfig:
		if y, ok := b.(BooleanFlagConfig); ok {
			return BooleanFlagConfig{Enabled: x.Enabled || y.Enabled}
		}
	case UsageQuotaConfig:
		if y, ok := b.(UsageQuotaConfig); ok && y.Limit > x.Limit {
			return y
		}
	case NumericLimitConfig:
		if y, ok := b.(NumericLimitConfig); ok && y.Max > x.Max {
			return y
		}
	}
	return a
}

type Delta int

const (
	DeltaNone Delta = iota
	DeltaExpands
	DeltaRestricts
)

// Compare classifies moving a grant from before to after. A cadence change or
// a change of variant counts as restricting.
func Compare(before, after Config) Delta {
	switch x := before.(type) {
	case BooleanFlagConfig:
		y, ok := after.(BooleanFlagConfig)
		switch {
		case !ok:
			return DeltaRestricts
		case x.Enabled == y.Enabled:
			return DeltaNone
		case y.Enabled:
			return DeltaExpands
		default:
			return DeltaRestricts
		}
	case UsageQuotaConfig:
		y, ok := after.(UsageQuotaConfig)
		switch {
		case !ok, x.ResetCadence != y.ResetCadence, y.Limit < x.Limit:
			return DeltaRestricts
		case y.Limit > x.Limit:
			return DeltaExpands
		default:
			return DeltaNone
		}
	case NumericLimitConfig:
		y, ok := after.(NumericLimitConfig)
		switch {
		case !ok, y.Max < x.Max:
			return DeltaRestricts
		case y.Max > x.Max:
			return DeltaExpands
		default:
			return DeltaNone
		}
	}
	return DeltaRestricts
}

// QuotaLimit returns the usage limit carried by cfg, if it is a quota.
func QuotaLimit(cfg Config) (UsageQuotaConfig, bool) {
	quota, ok := cfg.(UsageQuotaConfig)
	return quota, ok
}
