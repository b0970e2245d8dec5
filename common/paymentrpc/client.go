package paymentrpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kyungseok/msa-rental-go/common/errors"
)

// Client 결제 승인 기관 gRPC 클라이언트
type Client struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	timeout time.Duration
	logger  *zap.Logger
}

// Dial 결제 서비스 연결 (연결은 첫 호출 시 맺어짐)
func Dial(addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUpstreamUnavailable, "failed to create payment client", err)
	}
	c := NewClient(conn, timeout, logger)
	c.closer = conn.Close
	return c, nil
}

// NewClient 기존 연결로 클라이언트 생성
func NewClient(conn grpc.ClientConnInterface, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{conn: conn, timeout: timeout, logger: logger}
}

// InitiatePayment 결제 시작 (timeout 내에 응답이 없으면 UPSTREAM_UNAVAILABLE)
func (c *Client) InitiatePayment(ctx context.Context, req InitiateRequest) (InitiateResponse, error) {
	in, err := encodeRequest(req)
	if err != nil {
		return InitiateResponse{}, errors.Wrap(errors.ErrCodeSerializationError, "failed to encode initiate request", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, initiateMethod, in, out); err != nil {
		return InitiateResponse{}, errors.Wrap(errors.ErrCodeUpstreamUnavailable, "payment initiate failed", err)
	}

	fields := out.GetFields()
	resp := InitiateResponse{
		PaymentID: fields["payment_id"].GetStringValue(),
		Status:    fields["status"].GetStringValue(),
		Message:   fields["message"].GetStringValue(),
	}

	c.logger.Debug("payment initiated",
		zap.String("orderId", req.OrderID),
		zap.String("paymentId", resp.PaymentID),
		zap.String("status", resp.Status))
	return resp, nil
}

// Close 연결 종료
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
