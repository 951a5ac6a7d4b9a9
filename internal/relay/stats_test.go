package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleHealth(t *testing.T) {
	r := New(testConfig())
	admitFakeSession(t, r)

	rec := httptest.NewRecorder()
	r.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Sessions)
	assert.Equal(t, 5, resp.MaxSessions)
	assert.GreaterOrEqual(t, resp.UptimeSeconds, int64(0))
}

func TestHandleStats(t *testing.T) {
	r := New(testConfig())
	s, _, _ := admitFakeSession(t, r)
	s.AddCostCents(1.5)

	rec := httptest.NewRecorder()
	r.handleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Total)
	require.Len(t, resp.Active, 1)
	assert.Equal(t, "proj", resp.Active[0].Project)
	assert.InDelta(t, 1.5, resp.TotalCostCents, 1e-6)
	assert.InDelta(t, 1.5, resp.ByProject["proj"], 1e-6)
	assert.InDelta(t, 1.5, resp.ByColony["col"], 1e-6)
}

func TestControlPlane_OriginMirrorsAllowList(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://a.example"}
	r := New(cfg)

	for _, path := range []string{"/health", "/stats"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		r.Routes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)

		req = httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Origin", "https://a.example")
		rec = httptest.NewRecorder()
		r.Routes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)

		// No Origin header (curl, probes) is allowed through.
		rec = httptest.NewRecorder()
		r.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestStats_ReadsDoNotMutate(t *testing.T) {
	r := New(testConfig())
	s, _, _ := admitFakeSession(t, r)
	s.AddCostCents(0.7)

	before := r.registry.Snapshot()
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.handleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	}
	after := r.registry.Snapshot()

	assert.Equal(t, before.Total, after.Total)
	assert.InDelta(t, before.TotalCostCents, after.TotalCostCents, 1e-9)
	assert.Len(t, after.Active, 1)
}
