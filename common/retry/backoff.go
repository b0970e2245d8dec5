package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config 재시도 설정
type Config struct {
	MaxAttempts        int
	InitialInterval    time.Duration
	MaxInterval        time.Duration
	BackoffCoefficient float64
	MaxElapsedTime     time.Duration

	// RetryIf 가 false 를 반환하는 에러는 재시도하지 않고 그대로 반환
	RetryIf func(error) bool
}

// DefaultConfig 기본 재시도 설정
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        5,
		InitialInterval:    time.Second,
		MaxInterval:        time.Minute,
		BackoffCoefficient: 2.0,
		MaxElapsedTime:     time.Minute * 5,
	}
}

// Forever 무한 재시도 설정 (브로커 재연결용)
func Forever() Config {
	return Config{
		MaxAttempts:        0,
		InitialInterval:    500 * time.Millisecond,
		MaxInterval:        30 * time.Second,
		BackoffCoefficient: 2.0,
	}
}

// Do 재시도 실행
func Do(ctx context.Context, config Config, logger *zap.Logger, fn func() error) error {
	_, err := DoWithResult(ctx, config, logger, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult 재시도 실행 (결과 반환)
// MaxAttempts, MaxElapsedTime 이 0 이면 제한 없음
func DoWithResult[T any](ctx context.Context, config Config, logger *zap.Logger, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	interval := config.InitialInterval
	startTime := time.Now()

	for attempt := 1; config.MaxAttempts <= 0 || attempt <= config.MaxAttempts; attempt++ {
		// 컨텍스트 취소 확인
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		// 최대 경과 시간 확인
		if config.MaxElapsedTime > 0 && time.Since(startTime) > config.MaxElapsedTime {
			return zero, fmt.Errorf("max elapsed time exceeded: %w", lastErr)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err
		if config.RetryIf != nil && !config.RetryIf(err) {
			return zero, err
		}
		logger.Warn("retry attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", config.MaxAttempts),
			zap.Duration("nextInterval", interval),
			zap.Error(err))

		// 마지막 시도이면 재시도 안함
		if attempt == config.MaxAttempts {
			break
		}

		// 백오프 대기
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		// 다음 인터벌 계산 (exponential backoff)
		interval = time.Duration(float64(interval) * config.BackoffCoefficient)
		if config.MaxInterval > 0 && interval > config.MaxInterval {
			interval = config.MaxInterval
		}
	}

	return zero, fmt.Errorf("max attempts reached: %w", lastErr)
}
