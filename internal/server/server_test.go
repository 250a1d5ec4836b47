package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitlements/internal/config"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	priceservice "github.com/smallbiznis/entitlements/internal/price/service"
	productfeatureservice "github.com/smallbiznis/entitlements/internal/productfeature/service"
	"github.com/smallbiznis/entitlements/internal/ratelimit"
	"github.com/smallbiznis/entitlements/internal/server"
	"github.com/smallbiznis/entitlements/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	env    *testutil.Env
	engine *gin.Engine
}

func newHarness(t *testing.T, limiter *ratelimit.UsageLimiter) *harness {
	t.Helper()
	env := testutil.NewEnv(t)
	engine := server.NewEngine(nil)
	server.NewServer(server.Params{
		Gin:               engine,
		FeatureSvc:        env.Features,
		PriceSvc:          priceservice.New(priceservice.Params{DB: env.DB, Log: env.Log, Repo: env.PriceRepo}),
		ProductSvc:        env.Products,
		ProductFeatureSvc: productfeatureservice.New(productfeatureservice.Params{DB: env.DB, Log: env.Log, Repo: env.ProductFeatureRepo}),
		SubscriptionSvc:   env.Subscriptions,
		UsageSvc:          env.Usage,
		EntitlementSvc:    env.Entitlements,
		VersioningSvc:     env.Versioning,
		UsageLimiter:      limiter,
	})
	return &harness{env: env, engine: engine}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Type string `json:"type"`
		Code string `json:"code"`
	} `json:"error"`
}

func (h *harness) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.HeaderOrg, h.env.OrgID.String())

	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)

	var out envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrgHeaderRequired(t *testing.T) {
	h := newHarness(t, nil)
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/features", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	h := newHarness(t, nil)
	env := h.env
	calls := env.Quota(t, "api_calls", 10, featuredomain.ResetMonthly)
	product := env.Product(t, "Pro", 1000, testutil.Attach(calls, 0, nil))
	customer := env.GenID.Generate()
	env.Subscribe(t, customer, product)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
		code   string
	}{
		{
			name: "validation", method: http.MethodPost, path: "/api/usage",
			body:   map[string]any{"customer_id": customer.String(), "feature_id": calls.ID.String(), "units": -1},
			status: http.StatusBadRequest, kind: "validation_error", code: "invalid_units",
		},
		{
			name: "not entitled", method: http.MethodPost, path: "/api/usage",
			body:   map[string]any{"customer_id": env.GenID.Generate().String(), "feature_id": calls.ID.String(), "units": 1},
			status: http.StatusForbidden, kind: "not_entitled", code: "not_entitled",
		},
		{
			name: "not found", method: http.MethodGet, path: "/api/products/" + env.GenID.Generate().String(),
			status: http.StatusNotFound, kind: "not_found", code: "product_not_found",
		},
		{
			name: "confirmation required", method: http.MethodPost, path: "/api/products/" + product.ID.String() + "/edits",
			body:   map[string]any{"changes": map[string]any{"recurring_interval": "year"}},
			status: http.StatusBadRequest, kind: "validation_error", code: "confirmation_required",
		},
		{
			name: "stale version", method: http.MethodPost, path: "/api/products/" + product.ID.String() + "/edits?retry=false",
			body:   map[string]any{"expected_version": 4, "changes": map[string]any{"name": "Pro 2"}},
			status: http.StatusConflict, kind: "conflict", code: "version_conflict",
		},
		{
			name: "bad json", method: http.MethodPost, path: "/api/features",
			body:   "nope",
			status: http.StatusBadRequest, kind: "validation_error", code: "invalid_request",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, out := h.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.kind, out.Error.Type)
			assert.Equal(t, tc.code, out.Error.Code)
		})
	}
}

func TestEditLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	env := h.env
	product := env.Product(t, "Pro", 1000)
	env.Subscribe(t, env.GenID.Generate(), product)
	path := "/api/products/" + product.ID.String()

	rec, out := h.do(t, http.MethodPost, path+"/edits/propose", map[string]any{"recurring_interval": "year"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var decision struct {
		WillVersion bool `json:"will_version"`
		NewVersion  *int `json:"new_version"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &decision))
	assert.True(t, decision.WillVersion)
	require.NotNil(t, decision.NewVersion)
	assert.Equal(t, 2, *decision.NewVersion)

	rec, out = h.do(t, http.MethodPost, path+"/edits", map[string]any{
		"changes": map[string]any{"recurring_interval": "year"},
		"reason":  "annual only",
		"confirm": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result struct {
		Versioned bool `json:"versioned"`
		Product   struct {
			Version int `json:"version"`
		} `json:"product"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &result))
	assert.True(t, result.Versioned)
	assert.Equal(t, 2, result.Product.Version)

	rec, out = h.do(t, http.MethodGet, path+"/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var versions []json.RawMessage
	require.NoError(t, json.Unmarshal(out.Data, &versions))
	assert.Len(t, versions, 2)
}

func TestEntitlementsOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	env := h.env

	rec, out := h.do(t, http.MethodGet, "/api/customers/"+env.GenID.Generate().String()+"/entitlements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(out.Data))

	sso := env.Flag(t, "sso", true)
	product := env.Product(t, "Pro", 1000, testutil.Attach(sso, 0, nil))
	customer := env.GenID.Generate()
	env.Subscribe(t, customer, product)

	rec, _ = h.do(t, http.MethodGet, "/api/customers/"+customer.String()+"/entitlements/sso", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, out = h.do(t, http.MethodGet, "/api/customers/"+customer.String()+"/entitlements/audit_log", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_entitled", out.Error.Code)
}

func TestUsageRateLimit(t *testing.T) {
	_, client := testutil.NewRedis(t)
	limiter, err := ratelimit.NewUsageLimiter(config.Config{
		RateLimit: config.RateLimitConfig{Enabled: true, UsageOrgRate: 0.001, UsageOrgBurst: 1},
	}, client)
	require.NoError(t, err)

	h := newHarness(t, limiter)
	env := h.env
	calls := env.Quota(t, "api_calls", 10, featuredomain.ResetMonthly)
	product := env.Product(t, "Pro", 1000, testutil.Attach(calls, 0, nil))
	customer := env.GenID.Generate()
	env.Subscribe(t, customer, product)

	body := map[string]any{"customer_id": customer.String(), "feature_id": calls.ID.String(), "units": 1}
	rec, _ := h.do(t, http.MethodPost, "/api/usage", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, out := h.do(t, http.MethodPost, "/api/usage", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", out.Error.Type)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
