package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMethodName(t *testing.T) {
	service, method := splitMethodName("/grantfed.broker.Broker/Publish")
	assert.Equal(t, "grantfed.broker.Broker", service)
	assert.Equal(t, "Publish", method)

	service, method = splitMethodName("")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "unknown", method)

	service, method = splitMethodName("Publish")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "Publish", method)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s := NewServer("127.0.0.1:0")

	DuplicateRequestsTotal.WithLabelValues("test").Inc()
	require.GreaterOrEqual(t, testutil.ToFloat64(DuplicateRequestsTotal.WithLabelValues("test")), 1.0)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "grantfed_request_duplicates_total")
}

func getHealth(t *testing.T, s *Server) (int, healthReport) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report healthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	return rec.Code, report
}

func TestServer_HealthReportsComponentReadiness(t *testing.T) {
	s := NewServer("127.0.0.1:0")

	code, report := getHealth(t, s)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", report.Status)
	assert.Empty(t, report.Components)

	var universityErr error
	s.AddCheck("university", func() error { return universityErr })
	s.AddCheck("agency", func() error { return nil })

	code, report = getHealth(t, s)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"university": "ok", "agency": "ok"}, report.Components)

	universityErr = errors.New("executor not running: university_requests")
	code, report = getHealth(t, s)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", report.Status)
	assert.Equal(t, "executor not running: university_requests", report.Components["university"])
	assert.Equal(t, "ok", report.Components["agency"])
}
