package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEntitlementPolicyDefaultsWhenFileMissing(t *testing.T) {
	holder, err := NewEntitlementPolicyHolder(Config{PolicyPaths: []string{t.TempDir()}}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, DefaultEntitlementPolicy(), holder.Get())
}

func TestEntitlementPolicyReadsFile(t *testing.T) {
	dir := t.TempDir()
	body := []byte("entitlement:\n  atRiskThreshold: 90\n  pastDueEntitled: false\n  cacheTTL: 5s\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "entitlement.yml"), body, 0o600))

	holder, err := NewEntitlementPolicyHolder(Config{PolicyPaths: []string{dir}}, zap.NewNop())
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, float64(90), policy.AtRiskThreshold)
	assert.False(t, policy.PastDueEntitled)
	assert.Equal(t, 5*time.Second, policy.CacheTTL)
}

func TestEntitlementPolicyRejectsInvalidThreshold(t *testing.T) {
	dir := t.TempDir()
	body := []byte("entitlement:\n  atRiskThreshold: 140\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "entitlement.yml"), body, 0o600))

	_, err := NewEntitlementPolicyHolder(Config{PolicyPaths: []string{dir}}, zap.NewNop())
	assert.Error(t, err)
}

func TestNilHolderFallsBackToDefaults(t *testing.T) {
	var holder *EntitlementPolicyHolder
	assert.Equal(t, float64(80), holder.Get().AtRiskThreshold)
}
