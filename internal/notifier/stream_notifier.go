package notifier

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "github.com/JesusCabrera84/siscom-trips/common/redis"
	"github.com/JesusCabrera84/siscom-trips/internal/models"
)

// StreamNotifier publishes trip boundaries to a Redis stream
type StreamNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewStreamNotifier creates the notifier. maxLen <= 0 leaves the stream uncapped.
func NewStreamNotifier(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamNotifier {
	return &StreamNotifier{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// NotifyTrip XADDs the notification as a JSON "data" field
func (n *StreamNotifier) NotifyTrip(ctx context.Context, note *models.TripNotification) error {
	id, err := rediscommon.PublishJSONToStream(ctx, n.client, n.stream, n.maxLen, note)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", n.stream, err)
	}

	n.logger.Debug("Published trip notification",
		zap.String("stream", n.stream),
		zap.String("entry_id", id),
		zap.String("type", note.Type),
		zap.String("trip_id", note.TripID.String()),
	)
	return nil
}
