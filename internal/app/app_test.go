package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/shared"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MATCH_PRICE_TOLERANCE_PCT", "1.5")
	t.Setenv("ASSET_CAPITALIZATION_THRESHOLD", "5000000")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)

	tol, err := cfg.MatchTolerances()
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("1.5").Equal(tol.PricePct))
	require.True(t, decimal.NewFromInt(5).Equal(tol.QuantityPct))

	settings, err := cfg.AssetSettings()
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(5000000).Equal(settings.CapitalizationThreshold))
}

func TestLoadConfigRejectsBadTolerance(t *testing.T) {
	t.Setenv("MATCH_FAIL_THRESHOLD", "-1")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "MATCH_FAIL_THRESHOLD")

	t.Setenv("MATCH_FAIL_THRESHOLD", "100")
	t.Setenv("ASSET_CAPITALIZATION_THRESHOLD", "lots")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "ASSET_CAPITALIZATION_THRESHOLD")
}

func TestScopeMiddleware(t *testing.T) {
	var actor int64
	var org *int64
	h := ScopeMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = shared.ActorFromContext(r.Context())
		org = shared.OrganizationFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActor, "7")
	req.Header.Set(HeaderOrganization, "3")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(7), actor)
	require.NotNil(t, org)
	require.Equal(t, int64(3), *org)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActor, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouterHealthAndProblems(t *testing.T) {
	router := NewRouter(RouterParams{Logger: NewLogger(&Config{LogFormat: "json"}), Config: &Config{AppEnv: "test"}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/journals/1", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "Not Found", problem["title"])
}
