package consumer

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader subset of *kafka.Reader used here
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaConsumer poll loop over a consumer-group reader. Receive errors
// pause the loop and feed the breaker; processing errors never do.
type KafkaConsumer struct {
	reader     MessageReader
	handler    PayloadHandler
	dispatcher *Dispatcher
	breaker    *Breaker
	cooldown   time.Duration
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewKafkaConsumer creates the consumer
func NewKafkaConsumer(
	reader MessageReader,
	handler PayloadHandler,
	dispatcher *Dispatcher,
	maxRetries int,
	cooldown time.Duration,
	logger *zap.Logger,
) *KafkaConsumer {
	return &KafkaConsumer{
		reader:     reader,
		handler:    handler,
		dispatcher: dispatcher,
		breaker:    NewBreaker(maxRetries, cooldown),
		cooldown:   cooldown,
		retryDelay: 500 * time.Millisecond,
		logger:     logger,
	}
}

// Start consumes until ctx is cancelled
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info("Kafka consumer started")

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			open := c.breaker.Failure()
			c.logger.Error("Failed to read Kafka message",
				zap.Error(err),
				zap.Int("consecutive_failures", c.breaker.Failures()),
			)

			if err := sleepContext(ctx, c.retryDelay); err != nil {
				return nil
			}
			if open {
				c.logger.Warn("Circuit breaker open, pausing consumption",
					zap.Duration("cooldown", c.cooldown),
				)
				if err := c.breaker.Wait(ctx); err != nil {
					return nil
				}
				c.logger.Info("Circuit breaker reset, resuming consumption")
			}
			continue
		}

		c.breaker.Success()

		payload := msg.Value
		c.dispatcher.Dispatch(ctx, "kafka", func(ctx context.Context) error {
			return c.handler.HandlePayload(ctx, payload)
		})
	}
}

// Close closes the reader
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
