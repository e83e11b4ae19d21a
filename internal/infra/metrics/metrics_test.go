package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrupp/booksy/internal/infra/metrics"
)

func TestCollector_RecordOperation(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordOperation("login", metrics.ResultOK, 10*time.Millisecond)
	c.RecordOperation("login", metrics.ResultInvalidCredentials, 20*time.Millisecond)
	c.RecordOperation("login", metrics.ResultInvalidCredentials, 30*time.Millisecond)

	count, err := testutil.GatherAndCount(reg, "booksy_session_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(reg, "booksy_session_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_RecordHTTPStatus(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordHTTPStatus("/auth/login", http.StatusTooManyRequests)

	count, err := testutil.GatherAndCount(reg, "booksy_http_responses_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHandler_ServesMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg).RecordOperation("register", metrics.ResultOK, time.Millisecond)

	w := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `booksy_session_operations_total{operation="register",result="ok"} 1`)
}

func TestNopRecorder(t *testing.T) {
	t.Parallel()

	var r metrics.Recorder = metrics.NopRecorder{}

	assert.NotPanics(t, func() {
		r.RecordOperation("logout", metrics.ResultOK, time.Second)
		r.RecordHTTPStatus("/auth/logout", http.StatusNoContent)
	})
}
