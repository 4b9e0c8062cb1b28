package settlement_retrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
	"onramp/apps/onramp/internal/apperr"
	"onramp/apps/onramp/internal/events"
	"onramp/apps/onramp/internal/model"
	"onramp/apps/onramp/internal/settlement"
)

// Settler re-runs the success path for an order.
type Settler interface {
	HandleSuccess(ctx context.Context, reference string) (*settlement.Result, error)
}

// Consumer is the part of *kafka.Consumer the retrier uses.
type Consumer interface {
	Subscribe(topic string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	Close() error
}

// SettlementRetrier consumes order events and re-drives settlements that
// were deferred after a retryable disbursement failure.
type SettlementRetrier struct {
	logger        *zap.Logger
	kafkaConsumer Consumer
	settler       Settler
	kafkaTopic    string
	retryDelay    time.Duration
	now           func() time.Time
}

func NewKafkaConsumer(kafkaBroker, groupID string) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"group.id":          groupID,
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	return consumer, nil
}

func NewSettlementRetrier(consumer Consumer, kafkaTopic string, settler Settler, retryDelay time.Duration, logger *zap.Logger) *SettlementRetrier {
	return &SettlementRetrier{
		logger:        logger,
		kafkaConsumer: consumer,
		settler:       settler,
		kafkaTopic:    kafkaTopic,
		retryDelay:    retryDelay,
		now:           time.Now,
	}
}

// Start consumes until ctx is cancelled.
func (r *SettlementRetrier) Start(ctx context.Context) error {
	r.logger.Info("Starting Settlement Retrier...", zap.Duration("retry_delay", r.retryDelay))

	err := r.kafkaConsumer.Subscribe(r.kafkaTopic, nil)
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", r.kafkaTopic, err)
	}

	for ctx.Err() == nil {
		msg, err := r.kafkaConsumer.ReadMessage(time.Second)
		if err != nil {
			var kafkaErr kafka.Error
			if errors.As(err, &kafkaErr) && kafkaErr.Code() == kafka.ErrTimedOut {
				continue
			}
			r.logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		if err := r.processMessage(ctx, msg); err != nil {
			r.logger.Error("Error processing message",
				zap.String("topic", *msg.TopicPartition.Topic),
				zap.Int32("partition", msg.TopicPartition.Partition),
				zap.String("key", string(msg.Key)),
				zap.Error(err))
		}
	}

	r.logger.Info("Settlement Retrier stopped")
	return nil
}

func (r *SettlementRetrier) processMessage(ctx context.Context, msg *kafka.Message) error {
	var orderEvent events.OrderEvent
	if err := json.Unmarshal(msg.Value, &orderEvent); err != nil {
		return fmt.Errorf("failed to unmarshal order event: %w", err)
	}

	if orderEvent.EventType != model.EventSettlementDeferred {
		return nil
	}

	if err := r.waitUntil(ctx, orderEvent.CreatedAt.Add(r.retryDelay)); err != nil {
		return err
	}

	r.logger.Info("Retrying deferred settlement",
		zap.String("reference", orderEvent.Reference),
		zap.Int64("event_id", orderEvent.EventID))

	result, err := r.settler.HandleSuccess(ctx, orderEvent.Reference)
	if err != nil {
		// The order reached a terminal state some other way.
		if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrNotFound) {
			r.logger.Info("Dropping deferred settlement",
				zap.String("reference", orderEvent.Reference),
				zap.Error(err))
			return nil
		}
		return fmt.Errorf("failed to retry settlement for %s: %w", orderEvent.Reference, err)
	}

	r.logger.Info("Deferred settlement retried",
		zap.String("reference", orderEvent.Reference),
		zap.String("outcome", string(result.Outcome)),
		zap.String("detail", result.Detail))
	return nil
}

func (r *SettlementRetrier) waitUntil(ctx context.Context, at time.Time) error {
	wait := at.Sub(r.now())
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *SettlementRetrier) Close() error {
	if r.kafkaConsumer != nil {
		return r.kafkaConsumer.Close()
	}
	return nil
}
