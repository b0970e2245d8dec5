package gateway

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/metrics"
)

func TestMockAcquirer_AlwaysApproves(t *testing.T) {
	a := NewMockAcquirer(zap.NewNop(), WithDeclineRate(0), WithLatency(0))

	result, err := a.Charge(context.Background(), "0123456789abcdef", 700, "card")
	require.NoError(t, err)
	assert.True(t, result.Approved())
	assert.True(t, strings.HasPrefix(result.TransactionID, "TXN_01234567_"), result.TransactionID)

	refund, err := a.Refund(context.Background(), "fedcba9876543210", "0123456789abcdef", 700)
	require.NoError(t, err)
	assert.True(t, refund.Approved())
	assert.True(t, strings.HasPrefix(refund.TransactionID, "REF_fedcba98_"), refund.TransactionID)
}

func TestMockAcquirer_AlwaysDeclines(t *testing.T) {
	m := metrics.New("payment-test")
	a := NewMockAcquirer(zap.NewNop(),
		WithDeclineRate(1),
		WithLatency(0),
		WithRand(rand.New(rand.NewSource(1))),
		WithMetrics(m))

	for i := 0; i < 3; i++ {
		result, err := a.Charge(context.Background(), "P1", 100, "card")
		require.NoError(t, err)
		assert.False(t, result.Approved())
		assert.NotEmpty(t, result.TransactionID)
		assert.NotEmpty(t, result.Reason)
	}

	count, err := testutil.GatherAndCount(m.Registry(), "rental_gateway_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMockAcquirer_CancelledContext(t *testing.T) {
	a := NewMockAcquirer(zap.NewNop(), WithLatency(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Charge(ctx, "P1", 100, "card")
	assert.True(t, errors.HasCode(err, errors.ErrCodeUpstreamUnavailable))
}

func TestLogRegistrar(t *testing.T) {
	r := NewLogRegistrar(zap.NewNop(), nil)
	id, err := r.RegisterReceipt(context.Background(), "P1", 700)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "RCPT_"))
}

func TestFake(t *testing.T) {
	f := &Fake{}
	result, err := f.Charge(context.Background(), "P1", 100, "card")
	require.NoError(t, err)
	assert.True(t, result.Approved())

	f.SetDecline(true)
	result, err = f.Charge(context.Background(), "P2", 100, "card")
	require.NoError(t, err)
	assert.False(t, result.Approved())
	assert.Equal(t, 2, f.ChargeCount())

	f.SetErr(errors.New(errors.ErrCodeUpstreamUnavailable, "down"))
	_, err = f.Charge(context.Background(), "P3", 100, "card")
	assert.Error(t, err)
	assert.Equal(t, 2, f.ChargeCount())
}
