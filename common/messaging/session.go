package messaging

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/retry"
)

// Session 프로세스가 소유하는 장기 RabbitMQ 연결
// 연결이 끊기면 백그라운드에서 재연결하고, 채널은 필요할 때마다 새로 연다
type Session struct {
	url    string
	logger *zap.Logger
	dial   func(url string) (*amqp.Connection, error)

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.RWMutex
	conn *amqp.Connection
}

// NewSession RabbitMQ 세션 생성 (초기 연결은 재시도)
func NewSession(ctx context.Context, url string, logger *zap.Logger) (*Session, error) {
	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		url:    url,
		logger: logger,
		dial:   amqp.Dial,
		ctx:    sessionCtx,
		cancel: cancel,
	}

	conn, err := retry.DoWithResult(ctx, retry.DefaultConfig(), logger, func() (*amqp.Connection, error) {
		return s.dial(s.url)
	})
	if err != nil {
		cancel()
		return nil, errors.Wrap(errors.ErrCodeBrokerUnavailable, "failed to connect to rabbitmq", err)
	}

	s.conn = conn
	go s.watch(conn)

	logger.Info("connected to rabbitmq")
	return s, nil
}

// Channel 현재 연결에서 새 채널 열기
func (s *Session) Channel() (Channel, error) {
	if s.ctx.Err() != nil {
		return nil, errors.New(errors.ErrCodeBrokerUnavailable, "session closed")
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, errors.New(errors.ErrCodeBrokerUnavailable, "rabbitmq connection is not open")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBrokerUnavailable, "failed to open channel", err)
	}
	return ch, nil
}

// Close 세션 종료
func (s *Session) Close() error {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.conn.IsClosed() {
		return nil
	}
	return s.conn.Close()
}

func (s *Session) watch(conn *amqp.Connection) {
	for {
		closed := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-s.ctx.Done():
			return
		case amqpErr := <-closed:
			if s.ctx.Err() != nil {
				return
			}
			if amqpErr != nil {
				s.logger.Warn("rabbitmq connection lost",
					zap.Int("code", amqpErr.Code),
					zap.String("reason", amqpErr.Reason))
			} else {
				s.logger.Warn("rabbitmq connection closed")
			}
		}

		next, err := retry.DoWithResult(s.ctx, retry.Forever(), s.logger, func() (*amqp.Connection, error) {
			return s.dial(s.url)
		})
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conn = next
		s.mu.Unlock()
		conn = next

		s.logger.Info("reconnected to rabbitmq")
	}
}
