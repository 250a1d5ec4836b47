package service_test

import (
	"encoding/json"
	"testing"

	"github.com/smallbiznis/entitlements/internal/feature/domain"
	"github.com/smallbiznis/entitlements/internal/orgcontext"
	"github.com/smallbiznis/entitlements/internal/testutil"
	"github.com/smallbiznis/entitlements/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flagRequest(name, title string) domain.CreateRequest {
	return domain.CreateRequest{
		Name:       name,
		Title:      title,
		Type:       domain.FeatureTypeBooleanFlag,
		Properties: json.RawMessage(`{"enabled":true}`),
	}
}

func TestCreateDerivesNameFromTitle(t *testing.T) {
	env := testutil.NewEnv(t)

	resp, err := env.Features.Create(env.Ctx, domain.CreateRequest{
		Title:      "API Calls / month",
		Type:       domain.FeatureTypeUsageQuota,
		Properties: json.RawMessage(`{"limit":1000,"reset_cadence":"month"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "api_calls_month", resp.Name)
	assert.Equal(t, "API Calls / month", resp.Title)
	assert.Equal(t, domain.UsageQuotaConfig{Limit: 1000, ResetCadence: domain.ResetMonthly}, resp.Properties)
}

func TestCreateRejectsDuplicateNameInOrganization(t *testing.T) {
	env := testutil.NewEnv(t)

	_, err := env.Features.Create(env.Ctx, flagRequest("sso", "SSO"))
	require.NoError(t, err)

	_, err = env.Features.Create(env.Ctx, flagRequest("sso", "Single sign-on"))
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	// a derived name collides the same way
	_, err = env.Features.Create(env.Ctx, flagRequest("", "SSO"))
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
}

func TestCreateAllowsSameNameInAnotherOrganization(t *testing.T) {
	env := testutil.NewEnv(t)

	first, err := env.Features.Create(env.Ctx, flagRequest("sso", "SSO"))
	require.NoError(t, err)

	otherOrg := env.GenID.Generate()
	second, err := env.Features.Create(orgcontext.WithOrgID(env.Ctx, otherOrg), flagRequest("sso", "SSO"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, otherOrg, second.OrganizationID)

	// each organization only sees its own
	_, err = env.Features.Get(env.Ctx, second.ID.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	env := testutil.NewEnv(t)

	cases := []struct {
		name string
		req  domain.CreateRequest
		want error
	}{
		{"missing title", flagRequest("sso", " "), domain.ErrInvalidTitle},
		{"bad name", flagRequest("Single Sign-On", "SSO"), domain.ErrInvalidName},
		{"unknown type", domain.CreateRequest{Name: "sso", Title: "SSO", Type: "toggle"}, domain.ErrInvalidType},
		{"properties of another type", domain.CreateRequest{
			Name: "sso", Title: "SSO", Type: domain.FeatureTypeBooleanFlag,
			Properties: json.RawMessage(`{"limit":5}`),
		}, domain.ErrInvalidProperties},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Features.Create(env.Ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestUpdateKeepsName(t *testing.T) {
	env := testutil.NewEnv(t)
	created, err := env.Features.Create(env.Ctx, flagRequest("sso", "SSO"))
	require.NoError(t, err)

	// name is not part of the update payload and is dropped on decode
	var req domain.UpdateRequest
	require.NoError(t, json.Unmarshal([]byte(`{"name":"renamed","title":"Single sign-on"}`), &req))
	req.ID = created.ID.String()

	updated, err := env.Features.Update(env.Ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "sso", updated.Name)
	assert.Equal(t, "Single sign-on", updated.Title)

	stored, err := env.Features.Get(env.Ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "sso", stored.Name)
	assert.Equal(t, "Single sign-on", stored.Title)

	empty := ""
	_, err = env.Features.Update(env.Ctx, domain.UpdateRequest{ID: created.ID.String(), Title: &empty})
	assert.ErrorIs(t, err, domain.ErrInvalidTitle)
}
