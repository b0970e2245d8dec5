package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := New(ErrCodeNotFound, "order not found")
		assert.Equal(t, "[NOT_FOUND] order not found", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		err := Wrap(ErrCodeDatabaseError, "failed to load order", stderrors.New("connection reset"))
		assert.Equal(t, "[DATABASE_ERROR] failed to load order: connection reset", err.Error())
	})
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("handler: %w", New(ErrCodeForbidden, "not your order"))
	assert.Equal(t, ErrCodeForbidden, CodeOf(err))
	assert.Equal(t, ErrCodeUnknownError, CodeOf(stderrors.New("plain")))
	assert.Equal(t, ErrCodeUnknownError, CodeOf(nil))
}

func TestHasCode_WalksCauseChain(t *testing.T) {
	inner := New(ErrCodeNotFound, "booking not found")
	outer := Wrap(ErrCodeUpstreamUnavailable, "booking lookup", inner)

	assert.True(t, HasCode(outer, ErrCodeUpstreamUnavailable))
	assert.True(t, HasCode(outer, ErrCodeNotFound))
	assert.False(t, HasCode(outer, ErrCodeForbidden))
	assert.False(t, HasCode(nil, ErrCodeNotFound))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		retryable bool
		business  bool
	}{
		{ErrCodeNotFound, false, true},
		{ErrCodePreconditionFailed, false, true},
		{ErrCodeForbidden, false, true},
		{ErrCodeInvalidArgument, false, true},
		{ErrCodeConflict, true, false},
		{ErrCodeDatabaseError, true, false},
		{ErrCodeBrokerUnavailable, true, false},
		{ErrCodeSerializationError, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "x")
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, tt.business, IsBusinessError(err))
		})
	}
}
