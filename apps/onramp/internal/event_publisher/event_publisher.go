package event_publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
	"onramp/apps/onramp/internal/events"
	"onramp/apps/onramp/internal/model"
)

// Outbox is the order event outbox drained by the publisher.
type Outbox interface {
	GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkEventAsSent(ctx context.Context, eventID int64) error
	MarkEventAsFailed(ctx context.Context, eventID int64) error
}

// Producer is the part of *kafka.Producer the publisher uses.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Close()
}

type Recorder interface {
	OutboxEvent(result string)
}

type EventPublisher struct {
	logger        *zap.Logger
	kafkaProducer Producer
	kafkaTopic    string
	outbox        Outbox
	metrics       Recorder
	interval      time.Duration
	batchSize     int
	mu            sync.Mutex // Protects concurrent access to publishing operations
}

func NewKafkaProducer(kafkaBroker string) (*kafka.Producer, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return producer, nil
}

func NewEventPublisher(producer Producer, kafkaTopic string, outbox Outbox, metrics Recorder, interval time.Duration, logger *zap.Logger) *EventPublisher {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &EventPublisher{
		logger:        logger,
		kafkaProducer: producer,
		kafkaTopic:    kafkaTopic,
		outbox:        outbox,
		metrics:       metrics,
		interval:      interval,
		batchSize:     100,
	}
}

// StartPublishing drains the outbox every interval until ctx is cancelled.
func (ep *EventPublisher) StartPublishing(ctx context.Context) {
	ticker := time.NewTicker(ep.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ep.logger.Info("Event publisher stopped")
			return
		case <-ticker.C:
			if err := ep.PublishUnsentEvents(ctx); err != nil {
				ep.logger.Error("Error publishing events to Kafka", zap.Error(err))
			}
		}
	}
}

func (ep *EventPublisher) PublishUnsentEvents(ctx context.Context) error {
	// Use mutex to ensure only one publishing operation at a time per instance
	ep.mu.Lock()
	defer ep.mu.Unlock()

	outboxEvents, err := ep.outbox.GetUnsentEventsForProcessing(ctx, ep.batchSize)
	if err != nil {
		return err
	}

	successCount := 0
	for _, event := range outboxEvents {
		if err := ep.publishEventToKafka(event); err != nil {
			ep.logger.Error("Failed to publish event to Kafka", zap.Int64("event_id", event.EventID), zap.String("event_type", event.EventType), zap.Error(err))
			ep.record("failed")
			// Returns the event to 'unsent' for retry
			if markErr := ep.outbox.MarkEventAsFailed(ctx, event.EventID); markErr != nil {
				ep.logger.Error("Failed to mark event as failed", zap.Int64("event_id", event.EventID), zap.Error(markErr))
			}
			continue
		}

		if err := ep.outbox.MarkEventAsSent(ctx, event.EventID); err != nil {
			// Published but still marked processing; a restart resends it.
			ep.logger.Error("Failed to mark event as sent", zap.Int64("event_id", event.EventID), zap.Error(err))
			continue
		}
		ep.record("sent")
		successCount++
	}

	if successCount > 0 {
		ep.logger.Info("Published events to Kafka", zap.Int("success_count", successCount), zap.Int("attempted", len(outboxEvents)))
	}

	return nil
}

func (ep *EventPublisher) publishEventToKafka(event model.OutboxEvent) error {
	kafkaMsg := events.OrderEvent{
		EventID:       event.EventID,
		EventType:     event.EventType,
		Reference:     event.Reference,
		WalletAddress: event.WalletAddress,
		EventData:     event.EventBlob,
		CreatedAt:     event.CreatedAt,
		Timestamp:     time.Now(),
	}

	msgBytes, err := json.Marshal(kafkaMsg)
	if err != nil {
		return err
	}

	deliveryChan := make(chan kafka.Event, 1)

	err = ep.kafkaProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &ep.kafkaTopic, Partition: kafka.PartitionAny},
		Key:            []byte(event.Reference), // Keeps one order's events in order
		Value:          msgBytes,
		Headers:        []kafka.Header{{Key: "event_type", Value: []byte(event.EventType)}},
	}, deliveryChan)
	if err != nil {
		return err
	}

	// Wait for delivery confirmation
	e := <-deliveryChan
	switch ev := e.(type) {
	case *kafka.Message:
		if ev.TopicPartition.Error != nil {
			return ev.TopicPartition.Error
		}
		return nil
	default:
		return fmt.Errorf("unexpected kafka event type: %T", e)
	}
}

func (ep *EventPublisher) record(result string) {
	if ep.metrics != nil {
		ep.metrics.OutboxEvent(result)
	}
}

func (ep *EventPublisher) Close() error {
	if ep.kafkaProducer != nil {
		ep.kafkaProducer.Close()
	}
	return nil
}
