package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Fake 결정적 게이트웨이 (테스트용)
// Decline 이 true 면 모든 승인을 거절, Err 가 있으면 통신 실패
// 같은 결제/환불 ID 의 재요청은 첫 결과를 그대로 반환 (실제 승인은 1회)
type Fake struct {
	mu sync.Mutex

	charged  map[string]Result
	refunded map[string]Result

	Decline       bool
	DeclineRefund bool
	Err           error
	ReceiptErr    error

	Charges  []string
	Refunds  []string
	Receipts []string
}

// Charge 결제 승인
func (f *Fake) Charge(_ context.Context, paymentID string, _ float64, _ string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return Result{}, f.Err
	}
	if result, ok := f.charged[paymentID]; ok {
		return result, nil
	}
	f.Charges = append(f.Charges, paymentID)

	result := Result{TransactionID: fmt.Sprintf("TXN_%s_%06d", short(paymentID), len(f.Charges)), Outcome: OutcomeApproved}
	if f.Decline {
		result.Outcome = OutcomeDeclined
		result.Reason = "declined by issuer"
	}
	if f.charged == nil {
		f.charged = make(map[string]Result)
	}
	f.charged[paymentID] = result
	return result, nil
}

// Refund 환불
func (f *Fake) Refund(_ context.Context, refundID, _ string, _ float64) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return Result{}, f.Err
	}
	if result, ok := f.refunded[refundID]; ok {
		return result, nil
	}
	f.Refunds = append(f.Refunds, refundID)

	result := Result{TransactionID: fmt.Sprintf("REF_%s_%06d", short(refundID), len(f.Refunds)), Outcome: OutcomeApproved}
	if f.DeclineRefund {
		result.Outcome = OutcomeDeclined
		result.Reason = "refund rejected by acquirer"
	}
	if f.refunded == nil {
		f.refunded = make(map[string]Result)
	}
	f.refunded[refundID] = result
	return result, nil
}

// RegisterReceipt 영수증 등록
func (f *Fake) RegisterReceipt(_ context.Context, paymentID string, _ float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReceiptErr != nil {
		return "", f.ReceiptErr
	}
	f.Receipts = append(f.Receipts, paymentID)
	return "RCPT_" + paymentID, nil
}

// ChargeCount 승인 요청 횟수
func (f *Fake) ChargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Charges)
}

// RefundCount 환불 요청 횟수
func (f *Fake) RefundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Refunds)
}

// SetDecline 승인 거절 여부 변경
func (f *Fake) SetDecline(decline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Decline = decline
}

// SetErr 통신 실패 설정
func (f *Fake) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}
