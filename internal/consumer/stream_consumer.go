package consumer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "github.com/JesusCabrera84/siscom-trips/common/redis"
)

// payloadField entry field carrying an undecoded broker payload
const payloadField = "payload"

// StreamHandler what the stream source needs from the engine
type StreamHandler interface {
	PayloadHandler
	FieldsHandler
}

// StreamConsumerConfig Redis Streams source settings
type StreamConsumerConfig struct {
	Stream        string
	ConsumerGroup string
	ConsumerName  string
	BatchSize     int64
	Block         time.Duration
	// ClaimIdle is both the minimum idle time of a pending entry before it
	// is taken over and the interval between takeover sweeps. Zero disables.
	ClaimIdle     time.Duration
}

// StreamConsumer reads a Redis stream through a consumer group. Entries are
// acknowledged once processed, whatever the outcome.
type StreamConsumer struct {
	config     StreamConsumerConfig
	client     *redis.Client
	handler    StreamHandler
	dispatcher *Dispatcher
	logger     *zap.Logger
	lastClaim  time.Time
}

// NewStreamConsumer creates the Redis Streams consumer
func NewStreamConsumer(cfg StreamConsumerConfig, client *redis.Client, handler StreamHandler, dispatcher *Dispatcher, logger *zap.Logger) *StreamConsumer {
	return &StreamConsumer{
		config:     cfg,
		client:     client,
		handler:    handler,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Start consumes until ctx is cancelled
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.client, c.config.Stream, c.config.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.config.Stream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", c.config.Stream),
		zap.String("consumer_group", c.config.ConsumerGroup),
		zap.String("consumer_name", c.config.ConsumerName),
	)

	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume stream",
				zap.String("stream", c.config.Stream),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			if err := sleepContext(ctx, backoff); err != nil {
				return nil
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (c *StreamConsumer) consume(ctx context.Context) error {
	c.reclaim(ctx)

	messages, err := rediscommon.ReadFromStream(ctx, c.client,
		c.config.Stream,
		c.config.ConsumerGroup,
		c.config.ConsumerName,
		c.config.BatchSize,
		c.config.Block,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream %s: %w", c.config.Stream, err)
	}

	c.dispatch(ctx, messages)
	return nil
}

// reclaim takes over entries left pending by consumers that never acked them
func (c *StreamConsumer) reclaim(ctx context.Context) {
	if c.config.ClaimIdle <= 0 || time.Since(c.lastClaim) < c.config.ClaimIdle {
		return
	}
	c.lastClaim = time.Now()

	messages, err := rediscommon.ClaimPending(ctx, c.client,
		c.config.Stream,
		c.config.ConsumerGroup,
		c.config.ConsumerName,
		c.config.ClaimIdle,
		c.config.BatchSize,
	)
	if err != nil {
		c.logger.Warn("Failed to claim pending stream entries",
			zap.String("stream", c.config.Stream),
			zap.Error(err),
		)
		return
	}
	if len(messages) > 0 {
		c.logger.Info("Claimed pending stream entries",
			zap.String("stream", c.config.Stream),
			zap.Int("count", len(messages)),
		)
	}
	c.dispatch(ctx, messages)
}

func (c *StreamConsumer) dispatch(ctx context.Context, messages []rediscommon.StreamMessage) {
	for _, msg := range messages {
		msg := msg
		c.dispatcher.Dispatch(ctx, "redis", func(ctx context.Context) error {
			defer c.ack(ctx, msg.ID)
			return c.process(ctx, msg)
		})
	}
}

func (c *StreamConsumer) process(ctx context.Context, msg rediscommon.StreamMessage) error {
	if raw, ok := msg.Values[payloadField]; ok {
		return c.handler.HandlePayload(ctx, []byte(fmt.Sprint(raw)))
	}

	values := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		values[k] = fmt.Sprint(v)
	}
	return c.handler.HandleFields(ctx, values, entryTime(msg.ID))
}

func (c *StreamConsumer) ack(ctx context.Context, id string) {
	if err := rediscommon.AckStream(ctx, c.client, c.config.Stream, c.config.ConsumerGroup, id); err != nil {
		c.logger.Warn("Failed to ack stream entry",
			zap.String("stream", c.config.Stream),
			zap.String("entry_id", id),
			zap.Error(err),
		)
	}
}

// entryTime extracts the millisecond timestamp from an entry id ("<ms>-<seq>")
func entryTime(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}
