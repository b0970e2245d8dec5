package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/httpapi"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/domain"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/service"
)

// HTTPHandler HTTP 핸들러
type HTTPHandler struct {
	paymentService service.PaymentService
	logger         *zap.Logger
}

// NewHTTPHandler HTTP 핸들러 생성
func NewHTTPHandler(paymentService service.PaymentService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		paymentService: paymentService,
		logger:         logger,
	}
}

// Register 라우트 등록
func (h *HTTPHandler) Register(router gin.IRouter) {
	payments := router.Group("/api/v1/payments")
	payments.POST("", h.InitiatePayment)
	payments.GET("/:id", h.GetPayment)
	payments.POST("/:id/process", h.ProcessPayment)
	payments.GET("/:id/refunds", h.ListRefunds)

	router.GET("/api/v1/orders/:id/payment", h.GetPaymentByOrder)

	refunds := router.Group("/api/v1/refunds")
	refunds.POST("", h.RequestRefund)
	refunds.GET("/:id", h.GetRefund)
	refunds.POST("/:id/process", h.ProcessRefund)
	refunds.POST("/:id/decline", h.DeclineRefund)
}

// InitiatePaymentRequest 결제 시작 요청
type InitiatePaymentRequest struct {
	OrderID       string  `json:"order_id" binding:"required"`
	UserID        string  `json:"user_id"`
	Amount        float64 `json:"amount" binding:"required"`
	PaymentMethod string  `json:"payment_method"`
}

// RefundRequest 환불 요청
type RefundRequest struct {
	PaymentID string  `json:"payment_id" binding:"required"`
	UserID    string  `json:"user_id"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason"`
}

// DeclineRefundRequest 환불 거절 요청
type DeclineRefundRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// PaymentResponse 결제 응답
type PaymentResponse struct {
	PaymentID     string     `json:"payment_id"`
	OrderID       string     `json:"order_id"`
	UserID        string     `json:"user_id"`
	Amount        float64    `json:"amount"`
	PaymentMethod string     `json:"payment_method"`
	Status        string     `json:"status"`
	TransactionID string     `json:"transaction_id,omitempty"`
	DeclineReason string     `json:"decline_reason,omitempty"`
	ReceiptID     string     `json:"receipt_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// RefundResponse 환불 응답
type RefundResponse struct {
	RefundID      string     `json:"refund_id"`
	PaymentID     string     `json:"payment_id"`
	OrderID       string     `json:"order_id"`
	UserID        string     `json:"user_id"`
	Amount        float64    `json:"amount"`
	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	DeclineReason string     `json:"decline_reason,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func toPaymentResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		UserID:        p.UserID,
		Amount:        p.Amount,
		PaymentMethod: p.Method,
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
		DeclineReason: p.DeclineReason,
		ReceiptID:     p.ReceiptID,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		CompletedAt:   p.CompletedAt,
	}
}

func toRefundResponse(r *domain.Refund) RefundResponse {
	return RefundResponse{
		RefundID:      r.ID,
		PaymentID:     r.PaymentID,
		OrderID:       r.OrderID,
		UserID:        r.UserID,
		Amount:        r.Amount,
		Status:        string(r.Status),
		Reason:        r.Reason,
		DeclineReason: r.DeclineReason,
		TransactionID: r.TransactionID,
		CreatedAt:     r.CreatedAt,
		CompletedAt:   r.CompletedAt,
	}
}

// InitiatePayment 결제 시작 API
func (h *HTTPHandler) InitiatePayment(c *gin.Context) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, err)
		return
	}

	payment, err := h.paymentService.InitiatePayment(c.Request.Context(), service.InitiateCommand{
		OrderID: req.OrderID,
		UserID:  req.UserID,
		Amount:  req.Amount,
		Method:  req.PaymentMethod,
	})
	if err != nil {
		httpapi.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toPaymentResponse(payment))
}

// GetPayment 결제 조회 API
func (h *HTTPHandler) GetPayment(c *gin.Context) {
	payment, err := h.paymentService.GetPayment(c.Request.Context(), c.Param("id"))
	h.respondPayment(c, payment, err)
}

// GetPaymentByOrder 주문별 결제 조회 API
func (h *HTTPHandler) GetPaymentByOrder(c *gin.Context) {
	payment, err := h.paymentService.GetPaymentByOrder(c.Request.Context(), c.Param("id"))
	h.respondPayment(c, payment, err)
}

// ProcessPayment 결제 승인 API
func (h *HTTPHandler) ProcessPayment(c *gin.Context) {
	payment, err := h.paymentService.ProcessPayment(c.Request.Context(), c.Param("id"))
	h.respondPayment(c, payment, err)
}

// ListRefunds 결제의 환불 목록 API
func (h *HTTPHandler) ListRefunds(c *gin.Context) {
	refunds, err := h.paymentService.ListRefunds(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.RespondError(c, h.logger, err)
		return
	}
	resp := make([]RefundResponse, 0, len(refunds))
	for _, r := range refunds {
		resp = append(resp, toRefundResponse(r))
	}
	c.JSON(http.StatusOK, resp)
}

// RequestRefund 환불 요청 API
func (h *HTTPHandler) RequestRefund(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, err)
		return
	}

	refund, err := h.paymentService.RequestRefund(c.Request.Context(), service.RefundCommand{
		PaymentID: req.PaymentID,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		httpapi.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toRefundResponse(refund))
}

// GetRefund 환불 조회 API
func (h *HTTPHandler) GetRefund(c *gin.Context) {
	refund, err := h.paymentService.GetRefund(c.Request.Context(), c.Param("id"))
	h.respondRefund(c, refund, err)
}

// ProcessRefund 환불 처리 API
func (h *HTTPHandler) ProcessRefund(c *gin.Context) {
	refund, err := h.paymentService.ProcessRefund(c.Request.Context(), c.Param("id"))
	h.respondRefund(c, refund, err)
}

// DeclineRefund 환불 거절 API
func (h *HTTPHandler) DeclineRefund(c *gin.Context) {
	var req DeclineRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, err)
		return
	}
	refund, err := h.paymentService.DeclineRefund(c.Request.Context(), c.Param("id"), req.Reason)
	h.respondRefund(c, refund, err)
}

func (h *HTTPHandler) respondPayment(c *gin.Context, payment *domain.Payment, err error) {
	if err != nil {
		httpapi.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

func (h *HTTPHandler) respondRefund(c *gin.Context, refund *domain.Refund, err error) {
	if err != nil {
		httpapi.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toRefundResponse(refund))
}
