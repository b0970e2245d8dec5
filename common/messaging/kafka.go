package messaging

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/events"
)

// KafkaPublisher Kafka 감사(audit) 미러 발행자
// 토픽은 접두사 + 이벤트 타입, 키는 order_id (없으면 payment_id)
type KafkaPublisher struct {
	producer    sarama.SyncProducer
	topicPrefix string
	logger      *zap.Logger
}

// NewKafkaPublisher Kafka 발행자 생성
func NewKafkaPublisher(brokers []string, topicPrefix string, logger *zap.Logger) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewKafkaPublisherWithProducer(producer, topicPrefix, logger), nil
}

// NewKafkaPublisherWithProducer 주어진 producer 로 발행자 생성
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topicPrefix string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer:    producer,
		topicPrefix: topicPrefix,
		logger:      logger,
	}
}

// Publish 이벤트 발행
func (p *KafkaPublisher) Publish(_ context.Context, eventType events.EventType, payload interface{}) error {
	body, fields, err := encodeFlat(payload)
	if err != nil {
		return err
	}

	key := stringField(fields, "order_id")
	if key == "" {
		key = stringField(fields, "payment_id")
	}

	topic := p.topicPrefix + string(eventType)
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderEventType), Value: []byte(eventType)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("failed to send message",
			zap.Error(err),
			zap.String("topic", topic),
			zap.String("key", key))
		return errors.Wrap(errors.ErrCodeBrokerUnavailable, "failed to send kafka message", err)
	}

	p.logger.Debug("message mirrored to kafka",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))

	return nil
}

// Close 발행자 종료
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
