package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/httpapi"
	"github.com/kyungseok/msa-rental-go/services/notification/internal/service"
)

// HTTPHandler HTTP 핸들러
type HTTPHandler struct {
	notifications service.NotificationService
}

// NewHTTPHandler HTTP 핸들러 생성
func NewHTTPHandler(notifications service.NotificationService) *HTTPHandler {
	return &HTTPHandler{notifications: notifications}
}

// Register 라우트 등록
func (h *HTTPHandler) Register(router gin.IRouter) {
	router.GET("/api/v1/notifications", h.ListNotifications)
}

// ListNotifications 최근 알림 조회 API (?user_id=&limit=)
func (h *HTTPHandler) ListNotifications(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpapi.BadRequest(c, errors.New(errors.ErrCodeInvalidArgument, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	activities := h.notifications.Recent(c.Query("user_id"), limit)
	if activities == nil {
		activities = []service.Activity{}
	}
	c.JSON(http.StatusOK, activities)
}
