package paymentrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kyungseok/msa-rental-go/common/errors"
)

// ServiceName gRPC 서비스 이름
const ServiceName = "payment.v1.PaymentAuthority"

const initiateMethod = "/" + ServiceName + "/InitiatePayment"

// InitiateRequest 결제 시작 요청
type InitiateRequest struct {
	OrderID string
	UserID  string
	Amount  float64
	Method  string
}

// InitiateResponse 결제 시작 응답
type InitiateResponse struct {
	PaymentID string
	Status    string
	Message   string
}

// Authority 결제 승인 기관 (payment 서비스가 구현)
type Authority interface {
	InitiatePayment(ctx context.Context, req InitiateRequest) (InitiateResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Authority)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "InitiatePayment",
			Handler:    initiateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "payment/v1/payment.proto",
}

// Register gRPC 서버에 Authority 등록
func Register(s grpc.ServiceRegistrar, impl Authority) {
	s.RegisterService(&serviceDesc, impl)
}

func initiateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	call := func(ctx context.Context, req interface{}) (interface{}, error) {
		r, err := decodeRequest(req.(*structpb.Struct))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		resp, err := srv.(Authority).InitiatePayment(ctx, r)
		if err != nil {
			return nil, toStatus(err)
		}
		return structpb.NewStruct(map[string]interface{}{
			"payment_id": resp.PaymentID,
			"status":     resp.Status,
			"message":    resp.Message,
		})
	}

	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: initiateMethod}
	return interceptor(ctx, in, info, call)
}

func encodeRequest(req InitiateRequest) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"order_id":       req.OrderID,
		"user_id":        req.UserID,
		"amount":         req.Amount,
		"payment_method": req.Method,
	})
}

func decodeRequest(s *structpb.Struct) (InitiateRequest, error) {
	fields := s.GetFields()
	req := InitiateRequest{
		OrderID: fields["order_id"].GetStringValue(),
		UserID:  fields["user_id"].GetStringValue(),
		Amount:  fields["amount"].GetNumberValue(),
		Method:  fields["payment_method"].GetStringValue(),
	}
	if req.OrderID == "" {
		return req, fmt.Errorf("order_id is required")
	}
	if req.Amount <= 0 {
		return req, fmt.Errorf("amount must be positive")
	}
	return req, nil
}

func toStatus(err error) error {
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, err.Error())
	case errors.ErrCodeInvalidArgument:
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.ErrCodePreconditionFailed:
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
