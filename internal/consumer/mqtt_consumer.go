package consumer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	mqttcommon "github.com/JesusCabrera84/siscom-trips/common/mqtt"
)

// Subscriber subset of the MQTT client used here
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer push-based source. Each delivery is dispatched before the
// callback returns, so the broker ack follows scheduling.
type MQTTConsumer struct {
	client     Subscriber
	topic      string
	qos        byte
	handler    PayloadHandler
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewMQTTConsumer creates the consumer
func NewMQTTConsumer(client Subscriber, topic string, qos byte, handler PayloadHandler, dispatcher *Dispatcher, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		client:     client,
		topic:      topic,
		qos:        qos,
		handler:    handler,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Start subscribes and blocks until ctx is cancelled
func (c *MQTTConsumer) Start(ctx context.Context) error {
	err := c.client.Subscribe(c.topic, c.qos, func(topic string, payload []byte) error {
		if ctx.Err() != nil {
			return nil
		}
		data := make([]byte, len(payload))
		copy(data, payload)

		c.dispatcher.Dispatch(ctx, "mqtt", func(ctx context.Context) error {
			return c.handler.HandlePayload(ctx, data)
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.topic),
		zap.Uint8("qos", c.qos),
	)

	<-ctx.Done()

	if err := c.client.Unsubscribe(c.topic); err != nil {
		c.logger.Warn("Failed to unsubscribe", zap.String("topic", c.topic), zap.Error(err))
	}
	return nil
}
