package consumer

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PayloadHandler processes one raw payload (see trip.Engine)
type PayloadHandler interface {
	HandlePayload(ctx context.Context, payload []byte) error
}

// FieldsHandler processes one flat field map (see trip.Engine)
type FieldsHandler interface {
	HandleFields(ctx context.Context, values map[string]string, receivedAt time.Time) error
}

// Dispatcher runs each event on its own goroutine, at most limit at a time.
// Dispatch blocks while the limit is reached.
type Dispatcher struct {
	group  errgroup.Group
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher; limit <= 0 means unbounded
func NewDispatcher(limit int, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{logger: logger}
	if limit > 0 {
		d.group.SetLimit(limit)
	}
	return d
}

// Dispatch schedules fn. Tasks outlive cancellation of ctx so in-flight
// transactions finish during shutdown. Errors are logged, never propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, source string, fn func(ctx context.Context) error) {
	taskCtx := context.WithoutCancel(ctx)
	d.group.Go(func() error {
		if err := fn(taskCtx); err != nil {
			d.logger.Error("Failed to process event",
				zap.String("source", source),
				zap.Error(err),
			)
		}
		return nil
	})
}

// Wait blocks until every dispatched task has returned
func (d *Dispatcher) Wait() {
	_ = d.group.Wait()
}
