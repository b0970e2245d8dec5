package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		code errors.ErrorCode
		want int
	}{
		{errors.ErrCodeNotFound, http.StatusNotFound},
		{errors.ErrCodePreconditionFailed, http.StatusConflict},
		{errors.ErrCodeForbidden, http.StatusForbidden},
		{errors.ErrCodeInvalidArgument, http.StatusBadRequest},
		{errors.ErrCodeUpstreamUnavailable, http.StatusServiceUnavailable},
		{errors.ErrCodeDatabaseError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.code))
		})
	}
}

func TestRouter_HealthAndErrors(t *testing.T) {
	router := NewRouter("rent", zap.NewNop(), metrics.New("rent"))
	router.GET("/boom", func(c *gin.Context) {
		RespondError(c, zap.NewNop(), errors.New(errors.ErrCodeForbidden, "not your order"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"rent"}`, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "FORBIDDEN", body.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
