package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/httpapi"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/domain"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/service"
)

// HTTPHandler HTTP 핸들러
type HTTPHandler struct {
	orderService service.OrderService
	logger       *zap.Logger
}

// NewHTTPHandler HTTP 핸들러 생성
func NewHTTPHandler(orderService service.OrderService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		orderService: orderService,
		logger:       logger,
	}
}

// Register 라우트 등록
func (h *HTTPHandler) Register(router gin.IRouter) {
	orders := router.Group("/api/v1/orders")
	orders.POST("", h.CreateOrder)
	orders.GET("/:id", h.GetOrder)
	orders.POST("/:id/pickup-notification", h.SendPickupNotification)
	orders.POST("/:id/confirm-receipt", h.ConfirmReceipt)
	orders.POST("/:id/extend", h.ExtendRentalPeriod)
	orders.POST("/:id/return-reminder", h.SendReturnReminder)
	orders.POST("/:id/return", h.ReturnGame)
	orders.POST("/:id/penalty", h.ChargePenalty)
}

// RegisterAdmin 내부 전용 라우트 등록 (운영자/스케줄러, 별도 리스너에서만 노출)
func (h *HTTPHandler) RegisterAdmin(router gin.IRouter) {
	router.POST("/internal/v1/orders/:id/end", h.EndRentalPeriod)
}

// CreateOrderRequest 주문 생성 요청
type CreateOrderRequest struct {
	BookingID      string `json:"booking_id" binding:"required"`
	UserID         string `json:"user_id" binding:"required"`
	PickupLocation string `json:"pickup_location"`
	RentalDays     int    `json:"rental_days"`
}

// UserRequest 사용자 확인이 필요한 요청
type UserRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// PickupNotificationRequest 픽업 알림 요청
type PickupNotificationRequest struct {
	PickupDate     time.Time `json:"pickup_date"`
	PickupLocation string    `json:"pickup_location"`
}

// ExtendRequest 기간 연장 요청
type ExtendRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	AdditionalDays int    `json:"additional_days"`
}

// ReturnReminderRequest 반납 알림 요청
type ReturnReminderRequest struct {
	ReturnDate time.Time `json:"return_date"`
}

// ReturnRequest 반납 요청
type ReturnRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	ReturnLocation string `json:"return_location"`
}

// PenaltyRequest 연체료 요청
type PenaltyRequest struct {
	PenaltyAmount float64 `json:"penalty_amount"`
	Reason        string  `json:"reason"`
}

// EndRentalRequest 렌탈 종료 요청
type EndRentalRequest struct {
	Condition string `json:"condition"`
}

// OrderResponse 주문 응답
type OrderResponse struct {
	OrderID        string     `json:"order_id"`
	BookingID      string     `json:"booking_id"`
	GameID         string     `json:"game_id"`
	UserID         string     `json:"user_id"`
	Status         string     `json:"status"`
	PickupDate     time.Time  `json:"pickup_date"`
	PickupLocation string     `json:"pickup_location"`
	ReturnDate     *time.Time `json:"return_date,omitempty"`
	ReturnLocation string     `json:"return_location,omitempty"`
	RentalDays     int        `json:"rental_days"`
	TotalAmount    float64    `json:"total_amount"`
	PenaltyAmount  float64    `json:"penalty_amount"`
	PenaltyReason  string     `json:"penalty_reason,omitempty"`
	PaymentID      string     `json:"payment_id,omitempty"`
	PaymentStatus  string     `json:"payment_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		OrderID:        o.ID,
		BookingID:      o.BookingID,
		GameID:         o.GameID,
		UserID:         o.UserID,
		Status:         string(o.Status),
		PickupDate:     o.PickupDate,
		PickupLocation: o.PickupLocation,
		ReturnDate:     o.ReturnDate,
		ReturnLocation: o.ReturnLocation,
		RentalDays:     o.RentalDays,
		TotalAmount:    o.TotalAmount,
		PenaltyAmount:  o.PenaltyAmount,
		PenaltyReason:  o.PenaltyReason,
		PaymentID:      o.PaymentID,
		PaymentStatus:  string(o.PaymentStatus),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

// CreateOrder 주문 생성 API
func (h *HTTPHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, err)
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), service.CreateOrderCommand{
		BookingID:      req.BookingID,
		UserID:         req.UserID,
		PickupLocation: req.PickupLocation,
		RentalDays:     req.RentalDays,
	})
	if err != nil {
		httpapi.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toResponse(order))
}

// GetOrder 주문 조회 API
func (h *HTTPHandler) GetOrder(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	h.respond(c, order, err)
}

// SendPickupNotification 픽업 알림 API
func (h *HTTPHandler) SendPickupNotification(c *gin.Context) {
	var req PickupNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, err)
		return
	}
	order, err := h.orderService.SendPickupNotification(c.Request.Context(), c.Param("id"), req.PickupDate, req.PickupLocation)
	h.respond(c, order, err)
}

// ConfirmReceipt 수령 확인 API
func (h *HTTPHandler) ConfirmReceipt(c *gin.Context) {
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, err)
		return
	}
	order, err := h.orderService.ConfirmReceipt(c.Request.Context(), c.Param("id"), req.UserID)
	h.respond(c, order, err)
}

// ExtendRentalPeriod 기간 연장 API
func (h *HTTPHandler) ExtendRentalPeriod(c *gin.Context) {
	var req ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, err)
		return
	}
	order, err := h.orderService.ExtendRentalPeriod(c.Request.Context(), c.Param("id"), req.UserID, req.AdditionalDays)
	h.respond(c, order, err)
}

// SendReturnReminder 반납 알림 API
func (h *HTTPHandler) SendReturnReminder(c *gin.Context) {
	var req ReturnReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, err)
		return
	}
	order, err := h.orderService.SendReturnReminder(c.Request.Context(), c.Param("id"), req.ReturnDate)
	h.respond(c, order, err)
}

// ReturnGame 반납 API
func (h *HTTPHandler) ReturnGame(c *gin.Context) {
	var req ReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, err)
		return
	}
	order, err := h.orderService.ReturnGame(c.Request.Context(), c.Param("id"), req.UserID, req.ReturnLocation)
	h.respond(c, order, err)
}

// ChargePenalty 연체료 API
func (h *HTTPHandler) ChargePenalty(c *gin.Context) {
	var req PenaltyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, err)
		return
	}
	order, err := h.orderService.ChargePenalty(c.Request.Context(), c.Param("id"), req.PenaltyAmount, req.Reason)
	h.respond(c, order, err)
}

// EndRentalPeriod 렌탈 종료 API
func (h *HTTPHandler) EndRentalPeriod(c *gin.Context) {
	var req EndRentalRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpapi.BadRequest(c, err)
			return
		}
	}
	order, err := h.orderService.EndRentalPeriod(c.Request.Context(), c.Param("id"), req.Condition)
	h.respond(c, order, err)
}

func (h *HTTPHandler) respond(c *gin.Context, order *domain.Order, err error) {
	if err != nil {
		httpapi.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(order))
}
