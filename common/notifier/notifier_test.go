package notifier

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/metrics"
)

func TestMock_FailureRate(t *testing.T) {
	m := metrics.New("test")
	rolls := []float64{0.01, 0.5}
	next := 0
	mock := NewMock(zap.NewNop(),
		WithLatency(0, 0),
		WithFailureRate(0.05),
		WithMetrics(m),
		WithRand(func() float64 {
			v := rolls[next%len(rolls)]
			next++
			return v
		}))

	err := mock.SendPush(context.Background(), "u-1", "Pickup Reminder", "tomorrow")
	assert.True(t, errors.HasCode(err, errors.ErrCodeUpstreamUnavailable))

	require.NoError(t, mock.SendEmail(context.Background(), "u1@example.com", "Pickup", "tomorrow"))
}

func TestMock_HonorsContext(t *testing.T) {
	mock := NewMock(zap.NewNop(), WithFailureRate(0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := mock.SendEmail(ctx, "u1@example.com", "subject", "body")
	assert.Error(t, err)
}

func TestMock_RecordsGatewayOutcome(t *testing.T) {
	m := metrics.New("test")
	mock := NewMock(zap.NewNop(), WithLatency(0, 0), WithFailureRate(0), WithMetrics(m))

	require.NoError(t, mock.SendPush(context.Background(), "u-1", "t", "b"))
	require.NoError(t, mock.SendPush(context.Background(), "u-1", "t", "b"))

	count, err := testutil.GatherAndCount(m.Registry(), "rental_gateway_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	require.NoError(t, r.SendPush(context.Background(), "u-1", "title", "body"))
	r.Fail("email")
	assert.Error(t, r.SendEmail(context.Background(), "u1@example.com", "s", "b"))

	sent := r.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "push", sent[0].Channel)
	assert.Equal(t, "u-1", sent[0].Target)
}
