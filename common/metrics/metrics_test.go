package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("rent-service")

	m.EventPublished("rent_events", "rent.order.created", nil)
	m.EventPublished("rent_events", "rent.order.created", nil)
	m.EventPublished("rent_events", "rent.order.created", errors.New("closed"))
	m.EventConsumed("rent.payments", "payment.successful", "ack")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Published("rent_events", "rent.order.created", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Published("rent_events", "rent.order.created", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Consumed("rent.payments", "payment.successful", "ack")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventPublished("x", "y", nil)
		m.EventConsumed("q", "y", "ack")
		m.OutboxPending(3)
		m.PaymentInitiate("ok")
		m.GatewayOutcome("acquirer", "capture", "completed")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New("payment-service")
	m.PaymentInitiate("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `rental_payment_initiate_total{outcome="ok",service="payment-service"} 1`))
}
