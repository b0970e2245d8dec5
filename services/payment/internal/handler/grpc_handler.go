package handler

import (
	"context"

	"github.com/kyungseok/msa-rental-go/common/paymentrpc"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/service"
)

// Authority gRPC 결제 시작 요청을 결제 서비스로 연결
type Authority struct {
	paymentService service.PaymentService
}

// NewAuthority gRPC Authority 생성
func NewAuthority(paymentService service.PaymentService) *Authority {
	return &Authority{paymentService: paymentService}
}

// InitiatePayment 결제 시작 (주문당 1건)
func (a *Authority) InitiatePayment(ctx context.Context, req paymentrpc.InitiateRequest) (paymentrpc.InitiateResponse, error) {
	payment, err := a.paymentService.InitiatePayment(ctx, service.InitiateCommand{
		OrderID: req.OrderID,
		UserID:  req.UserID,
		Amount:  req.Amount,
		Method:  req.Method,
	})
	if err != nil {
		return paymentrpc.InitiateResponse{}, err
	}
	return paymentrpc.InitiateResponse{
		PaymentID: payment.ID,
		Status:    string(payment.Status),
		Message:   "payment initiated",
	}, nil
}
