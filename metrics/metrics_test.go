package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveValidation(ResultValid, "ok")
	m.ObserveDependencyFailure("jwks")
	m.ObserveUpstream(200)
	m.ObserveRequest("/health", http.MethodGet, 200, time.Millisecond)
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveValidation(ResultInvalid, "token_expired")
	m.ObserveValidation(ResultInvalid, "token_expired")
	m.ObserveDependencyFailure("metadata_unavailable")
	m.ObserveUpstream(503)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TokenValidations.WithLabelValues(ResultInvalid, "token_expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DependencyFailures.WithLabelValues("metadata_unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamResponses.WithLabelValues("503")))
}

func TestHandlerExposesGatewayMetrics(t *testing.T) {
	m := New()
	m.ObserveValidation(ResultValid, "ok")
	m.ObserveRequest("/api/protected/health", http.MethodGet, 200, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `gateway_token_validations_total{reason="ok",result="valid"} 1`))
	assert.Contains(t, body, "gateway_http_request_duration_seconds_bucket")
	assert.Contains(t, body, "go_goroutines")
}
