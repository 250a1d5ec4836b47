package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EntitlementPolicy holds the tunables that may change without a restart.
type EntitlementPolicy struct {
	AtRiskThreshold float64       `mapstructure:"atRiskThreshold"`
	PastDueEntitled bool          `mapstructure:"pastDueEntitled"`
	CacheTTL        time.Duration `mapstructure:"cacheTTL"`
}

func DefaultEntitlementPolicy() EntitlementPolicy {
	return EntitlementPolicy{
		AtRiskThreshold: 80,
		PastDueEntitled: true,
		CacheTTL:        30 * time.Second,
	}
}

type EntitlementPolicyHolder struct {
	current atomic.Value // holds EntitlementPolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(policy EntitlementPolicy) *EntitlementPolicyHolder {
	holder := &EntitlementPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

// NewEntitlementPolicyHolder reads entitlement.yml from the configured paths and
// keeps watching it. A missing file falls back to defaults.
func NewEntitlementPolicyHolder(cfg Config, log *zap.Logger) (*EntitlementPolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.policy")

	v := viper.New()
	v.SetConfigName("entitlement")
	v.SetConfigType("yml")
	for _, path := range cfg.PolicyPaths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("ENTITLEMENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEntitlementPolicy()
	v.SetDefault("entitlement.atRiskThreshold", defaults.AtRiskThreshold)
	v.SetDefault("entitlement.pastDueEntitled", defaults.PastDueEntitled)
	v.SetDefault("entitlement.cacheTTL", defaults.CacheTTL)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	policy, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileFound || !cfg.PolicyWatch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			log.Warn("policy reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy reloaded", zap.String("file", e.Name), zap.Float64("at_risk_threshold", updated.AtRiskThreshold))
	})

	return holder, nil
}

func (h *EntitlementPolicyHolder) Get() EntitlementPolicy {
	if h == nil {
		return DefaultEntitlementPolicy()
	}
	return h.current.Load().(EntitlementPolicy)
}

func decodePolicy(v *viper.Viper) (EntitlementPolicy, error) {
	var policy EntitlementPolicy
	if err := v.UnmarshalKey("entitlement", &policy); err != nil {
		return EntitlementPolicy{}, err
	}
	if err := validatePolicy(policy); err != nil {
		return EntitlementPolicy{}, err
	}
	return policy, nil
}

func validatePolicy(policy EntitlementPolicy) error {
	if policy.AtRiskThreshold <= 0 || policy.AtRiskThreshold > 100 {
		return errors.New("entitlement.atRiskThreshold must be within (0, 100]")
	}
	if policy.CacheTTL < 0 {
		return errors.New("entitlement.cacheTTL cannot be negative")
	}
	return nil
}
