package paymentrpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/kyungseok/msa-rental-go/common/errors"
)

type fakeAuthority struct {
	delay time.Duration
	err   error
	got   InitiateRequest
}

func (f *fakeAuthority) InitiatePayment(ctx context.Context, req InitiateRequest) (InitiateResponse, error) {
	f.got = req
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return InitiateResponse{}, ctx.Err()
		}
	}
	if f.err != nil {
		return InitiateResponse{}, f.err
	}
	return InitiateResponse{PaymentID: "p-" + req.OrderID, Status: "initiated", Message: "Payment initiated successfully"}, nil
}

func startServer(t *testing.T, impl Authority, timeout time.Duration) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	Register(srv, impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := Dial("passthrough:///bufnet", timeout, zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient_InitiatePayment(t *testing.T) {
	impl := &fakeAuthority{}
	client := startServer(t, impl, time.Second)

	resp, err := client.InitiatePayment(context.Background(), InitiateRequest{
		OrderID: "o-1",
		UserID:  "U1",
		Amount:  700,
		Method:  "card",
	})
	require.NoError(t, err)

	assert.Equal(t, "p-o-1", resp.PaymentID)
	assert.Equal(t, "initiated", resp.Status)
	assert.Equal(t, InitiateRequest{OrderID: "o-1", UserID: "U1", Amount: 700, Method: "card"}, impl.got)
}

func TestClient_TimeoutIsUpstreamUnavailable(t *testing.T) {
	client := startServer(t, &fakeAuthority{delay: time.Second}, 50*time.Millisecond)

	_, err := client.InitiatePayment(context.Background(), InitiateRequest{OrderID: "o-1", Amount: 100})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUpstreamUnavailable))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(stdUnwrap(err)))
}

func TestServer_MapsDomainErrors(t *testing.T) {
	client := startServer(t, &fakeAuthority{err: errors.New(errors.ErrCodePreconditionFailed, "payment already settled")}, time.Second)

	_, err := client.InitiatePayment(context.Background(), InitiateRequest{OrderID: "o-1", Amount: 100})
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(stdUnwrap(err)))
}

func TestServer_RejectsInvalidRequest(t *testing.T) {
	client := startServer(t, &fakeAuthority{}, time.Second)

	_, err := client.InitiatePayment(context.Background(), InitiateRequest{OrderID: "o-1", Amount: 0})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(stdUnwrap(err)))
}

func stdUnwrap(err error) error {
	if de, ok := err.(*errors.DomainError); ok {
		return de.Cause
	}
	return err
}
