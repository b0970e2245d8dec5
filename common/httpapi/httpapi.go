package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/metrics"
)

// ErrorResponse 에러 응답
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// StatusOf 에러 코드에 대응하는 HTTP 상태
func StatusOf(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodePreconditionFailed, errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeInvalidArgument, errors.ErrCodeSerializationError:
		return http.StatusBadRequest
	case errors.ErrCodePaymentDeclined:
		return http.StatusPaymentRequired
	case errors.ErrCodeUpstreamUnavailable, errors.ErrCodeBrokerUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError 도메인 에러를 HTTP 응답으로 변환
func RespondError(c *gin.Context, logger *zap.Logger, err error) {
	code := errors.CodeOf(err)
	status := StatusOf(code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Code: string(code)})
}

// BadRequest 요청 본문 파싱 실패 응답
func BadRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error: err.Error(),
		Code:  string(errors.ErrCodeInvalidArgument),
	})
}

// NewRouter 공통 미들웨어, /health, /metrics 가 붙은 gin 엔진
func NewRouter(service string, logger *zap.Logger, m *metrics.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": service})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))
	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
