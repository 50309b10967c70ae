package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gridpay/relayctl/internal/config"
	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/port"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher streams engine events to a Kafka topic keyed by meter number.
// The writer is asynchronous so the engine is never held up by the broker.
type Publisher struct {
	writer messageWriter
	logger *zap.Logger
}

var _ port.EventPublisher = (*Publisher)(nil)

func NewPublisher(cfg config.KafkaConfig, logger *zap.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka@write failed", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
	return newPublisher(w, logger)
}

func newPublisher(w messageWriter, logger *zap.Logger) *Publisher {
	return &Publisher{
		writer: w,
		logger: logger,
	}
}

func (p *Publisher) Publish(ctx context.Context, event domain.EngineEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("kafka@publish encode failed", zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(event.MeterNumber),
		Value: payload,
		Time:  event.At,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("kafka@publish failed", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
