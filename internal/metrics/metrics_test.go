package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	m := New("checkout-api")
	m.CheckoutRequests.WithLabelValues(OutcomeSuccess).Inc()
	m.CheckoutRequests.WithLabelValues(OutcomeInsufficientStock).Add(3)
	m.HTTPRequests.WithLabelValues("/v1/checkout", "200").Inc()
	m.CheckoutDuration.Observe(0.02)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.CheckoutRequests.WithLabelValues(OutcomeInsufficientStock)))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `checkout_requests_total{outcome="success",service="checkout-api"} 1`)
	assert.Contains(t, string(body), "checkout_duration_seconds_bucket")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNewIsRepeatable(t *testing.T) {
	assert.NotPanics(t, func() {
		New("a")
		New("a")
	})
}
