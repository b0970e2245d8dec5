package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode 에러 코드 정의
type ErrorCode string

const (
	// Business Errors
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodePreconditionFailed ErrorCode = "PRECONDITION_FAILED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeInvalidArgument    ErrorCode = "INVALID_ARGUMENT"
	ErrCodePaymentDeclined    ErrorCode = "PAYMENT_DECLINED"

	// Technical Errors
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrCodeBrokerUnavailable   ErrorCode = "BROKER_UNAVAILABLE"
	ErrCodeUnroutable          ErrorCode = "UNROUTABLE"
	ErrCodeConflict            ErrorCode = "CONFLICT"
	ErrCodeDatabaseError       ErrorCode = "DATABASE_ERROR"
	ErrCodeSerializationError  ErrorCode = "SERIALIZATION_ERROR"
	ErrCodeUnknownError        ErrorCode = "UNKNOWN_ERROR"
)

// DomainError 도메인 에러 구조체
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// New 새로운 도메인 에러 생성
func New(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Newf 포맷 메시지로 도메인 에러 생성
func Newf(code ErrorCode, format string, args ...interface{}) *DomainError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 기존 에러를 래핑한 도메인 에러 생성
func Wrap(code ErrorCode, message string, cause error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf 에러 체인에서 가장 바깥쪽 도메인 에러 코드 반환
func CodeOf(err error) ErrorCode {
	var domainErr *DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ErrCodeUnknownError
}

// HasCode 에러 체인에 해당 코드의 도메인 에러가 있는지 확인
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var domainErr *DomainError
		if !stderrors.As(err, &domainErr) {
			return false
		}
		if domainErr.Code == code {
			return true
		}
		err = domainErr.Cause
	}
	return false
}

// IsRetryable 재시도 가능한 에러인지 판단
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeDatabaseError, ErrCodeUpstreamUnavailable, ErrCodeBrokerUnavailable, ErrCodeConflict:
		return true
	}
	return false
}

// IsBusinessError 비즈니스 에러인지 판단 (재시도 불필요)
func IsBusinessError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNotFound, ErrCodePreconditionFailed, ErrCodeForbidden,
		ErrCodeInvalidArgument, ErrCodePaymentDeclined:
		return true
	}
	return false
}
