package trip

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JesusCabrera84/siscom-trips/internal/models"
	"github.com/JesusCabrera84/siscom-trips/internal/repository"
	"github.com/JesusCabrera84/siscom-trips/internal/transformer"
)

// Notifier receives trip boundaries after they commit
type Notifier interface {
	NotifyTrip(ctx context.Context, n *models.TripNotification) error
}

// Engine applies one event per transaction against the device's locked
// state row. Events for different devices run in parallel; events for the
// same device serialize on the row lock.
type Engine struct {
	store    repository.TripStore
	decoder  *transformer.Decoder
	notifier Notifier
	logger   *zap.Logger
}

// NewEngine creates the trip engine. notifier may be nil.
func NewEngine(store repository.TripStore, decoder *transformer.Decoder, notifier Notifier, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		decoder:  decoder,
		notifier: notifier,
		logger:   logger,
	}
}

// HandlePayload decodes and processes a raw payload. Decode failures are
// logged and swallowed so the source does not redeliver a permanently bad
// message.
func (e *Engine) HandlePayload(ctx context.Context, payload []byte) error {
	event, err := e.decoder.Decode(payload)
	if err != nil {
		e.logger.Warn("Dropping undecodable payload",
			zap.Int("bytes", len(payload)),
			zap.Error(err),
		)
		return nil
	}

	_, err = e.Handle(ctx, event)
	return err
}

// HandleFields processes a flat field map, see transformer.Decoder.DecodeFields
func (e *Engine) HandleFields(ctx context.Context, values map[string]string, receivedAt time.Time) error {
	event, err := e.decoder.DecodeFields(values, receivedAt)
	if err != nil {
		e.logger.Warn("Dropping undecodable entry",
			zap.Int("fields", len(values)),
			zap.Error(err),
		)
		return nil
	}

	_, err = e.Handle(ctx, event)
	return err
}

// Handle runs the read-decide-write cycle for one event. Either every write
// implied by the destination lands together with the state upsert, or none
// does.
func (e *Engine) Handle(ctx context.Context, event *models.Event) (dest Destination, err error) {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return Undecided, err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				e.logger.Error("Failed to rollback", zap.String("device_id", event.DeviceID), zap.Error(rbErr))
			}
		}
	}()

	state, err := tx.LockDeviceState(ctx, event.DeviceID)
	if err != nil {
		return Undecided, err
	}

	if event.Idempotent && state.LastCorrelationID != nil && *state.LastCorrelationID == event.EventID {
		e.logger.Warn("Redelivered event",
			zap.String("device_id", event.DeviceID),
			zap.String("event_id", event.EventID.String()),
		)
	}

	tripActive := state.IgnitionOn
	var tripID *uuid.UUID
	if tripActive {
		tripID = state.CurrentTripID
		if tripID == nil {
			tripID, err = e.recoverTripID(ctx, tx, event.DeviceID)
			if err != nil {
				return Undecided, err
			}
		}
	}

	dest = Classify(event.Alert, tripActive)

	next := &models.DeviceCurrentState{
		DeviceID:      event.DeviceID,
		IgnitionOn:    state.IgnitionOn,
		CurrentTripID: tripID,
	}
	var notice *models.TripNotification

	switch dest {
	case NewTrip:
		if err = e.startTrip(ctx, tx, event); err != nil {
			return dest, err
		}
		// the new trip stays reachable through ignition_on plus the open
		// trip lookup
		next.IgnitionOn = true
		next.CurrentTripID = nil
		notice = notification(models.NotificationTripStarted, event.EventID, event)

	case EndTrip:
		if tripID == nil {
			e.logger.Error("Cannot close trip: no open trip for device, state left as is",
				zap.String("device_id", event.DeviceID),
				zap.String("event_id", event.EventID.String()),
			)
			break
		}
		closed, endErr := e.endTrip(ctx, tx, *tripID, event)
		if endErr != nil {
			err = endErr
			return dest, err
		}
		next.IgnitionOn = false
		next.CurrentTripID = nil
		if closed {
			notice = notification(models.NotificationTripEnded, *tripID, event)
		}

	case TripAlert:
		if tripID == nil {
			e.logger.Warn("Dropping trip alert: trip id unresolved",
				zap.String("device_id", event.DeviceID),
				zap.String("alert", event.AlertText()),
			)
			break
		}
		if err = tx.InsertTripAlert(ctx, newTripAlert(*tripID, *event.Alert, event)); err != nil {
			return dest, err
		}

	case TripPoint:
		if tripID == nil {
			e.logger.Warn("Skipping trip point: trip id unresolved",
				zap.String("device_id", event.DeviceID),
			)
			break
		}
		if err = tx.InsertTripPoint(ctx, newTripPoint(*tripID, event)); err != nil {
			return dest, err
		}

	case IdleActivity:
		if err = tx.InsertIdleActivity(ctx, newIdleActivity(event)); err != nil {
			return dest, err
		}

	case IgnoredIgnitionOn, IgnoredIgnitionOff:
		e.logger.Debug("Ignition signal matches current state",
			zap.String("device_id", event.DeviceID),
			zap.Stringer("destination", dest),
		)
	}

	setLastPoint(next, event)
	if err = tx.UpsertDeviceState(ctx, next); err != nil {
		return dest, err
	}
	if err = tx.Commit(); err != nil {
		return dest, err
	}

	e.logger.Debug("Event processed",
		zap.String("device_id", event.DeviceID),
		zap.String("event_id", event.EventID.String()),
		zap.String("msg_class", event.MsgClass),
		zap.Stringer("destination", dest),
	)

	if notice != nil && e.notifier != nil {
		if nErr := e.notifier.NotifyTrip(ctx, notice); nErr != nil {
			e.logger.Warn("Failed to publish trip notification",
				zap.String("trip_id", notice.TripID.String()),
				zap.Error(nErr),
			)
		}
	}

	return dest, nil
}

// recoverTripID resolves the open trip when the state row is active but
// carries no trip id. A nil result means the drift could not be repaired.
func (e *Engine) recoverTripID(ctx context.Context, tx repository.TripTx, deviceID string) (*uuid.UUID, error) {
	id, err := tx.FindOpenTrip(ctx, deviceID)
	if errors.Is(err, repository.ErrNoOpenTrip) {
		e.logger.Error("Trip state drift: ignition on without an open trip",
			zap.String("device_id", deviceID),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info("Recovered current trip id from open trip",
		zap.String("device_id", deviceID),
		zap.String("trip_id", id.String()),
	)
	return &id, nil
}

func (e *Engine) startTrip(ctx context.Context, tx repository.TripTx, event *models.Event) error {
	lat, lng := event.Latitude, event.Longitude
	trip := &models.Trip{
		TripID:    event.EventID,
		DeviceID:  event.DeviceID,
		StartTime: event.Timestamp,
		StartLat:  &lat,
		StartLng:  &lng,
	}
	if event.HasOdometer {
		odo := event.Odometer
		trip.StartOdometer = &odo
	}

	if err := tx.InsertTrip(ctx, trip); err != nil {
		return err
	}
	if err := tx.InsertTripAlert(ctx, newTripAlert(trip.TripID, models.AlertIgnitionOn, event)); err != nil {
		return err
	}

	e.logger.Info("Trip started",
		zap.String("device_id", event.DeviceID),
		zap.String("trip_id", trip.TripID.String()),
		zap.Time("start_time", event.Timestamp),
	)
	return nil
}

// endTrip closes the trip. closed is false when the trip was already closed
// or missing, in which case no ignition_off alert is written.
func (e *Engine) endTrip(ctx context.Context, tx repository.TripTx, tripID uuid.UUID, event *models.Event) (closed bool, err error) {
	end := repository.TripEnd{
		TripID:  tripID,
		EndTime: event.Timestamp,
		EndLat:  event.Latitude,
		EndLng:  event.Longitude,
	}
	if event.HasOdometer {
		odo := event.Odometer
		end.Odometer = &odo
	}

	err = tx.CloseTrip(ctx, end)
	if errors.Is(err, repository.ErrNoOpenTrip) {
		e.logger.Error("Cannot close trip: trip is not open",
			zap.String("device_id", event.DeviceID),
			zap.String("trip_id", tripID.String()),
		)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err = tx.InsertTripAlert(ctx, newTripAlert(tripID, models.AlertIgnitionOff, event)); err != nil {
		return false, err
	}

	e.logger.Info("Trip ended",
		zap.String("device_id", event.DeviceID),
		zap.String("trip_id", tripID.String()),
		zap.Time("end_time", event.Timestamp),
	)
	return true, nil
}

func newTripAlert(tripID uuid.UUID, alertType string, event *models.Event) *models.TripAlert {
	lat, lon := event.Latitude, event.Longitude
	corrID := event.EventID
	return &models.TripAlert{
		AlertID:       uuid.New(),
		TripID:        tripID,
		Timestamp:     event.Timestamp,
		Lat:           &lat,
		Lon:           &lon,
		AlertType:     alertType,
		RawCode:       event.RawCode,
		Severity:      models.DefaultSeverity,
		DeviceID:      event.DeviceID,
		CorrelationID: &corrID,
	}
}

func newTripPoint(tripID uuid.UUID, event *models.Event) *models.TripPoint {
	speed, heading := event.Speed, event.Heading
	return &models.TripPoint{
		TripID:        tripID,
		DeviceID:      event.DeviceID,
		Timestamp:     event.Timestamp,
		Lat:           event.Latitude,
		Lng:           event.Longitude,
		Speed:         &speed,
		Heading:       &heading,
		CorrelationID: event.EventID,
	}
}

func newIdleActivity(event *models.Event) *models.DeviceIdleActivity {
	activity := models.ActivityGPSIdle
	if event.Alert != nil && strings.TrimSpace(*event.Alert) != "" {
		activity = *event.Alert
	}
	lat, lon := event.Latitude, event.Longitude
	corrID := event.EventID
	return &models.DeviceIdleActivity{
		IdleID:        uuid.New(),
		DeviceID:      event.DeviceID,
		Timestamp:     event.Timestamp,
		Lat:           &lat,
		Lon:           &lon,
		ActivityType:  activity,
		RawCode:       event.RawCode,
		Severity:      models.DefaultSeverity,
		Metadata:      event.Metadata,
		CorrelationID: &corrID,
	}
}

func setLastPoint(state *models.DeviceCurrentState, event *models.Event) {
	ts := event.Timestamp
	lat, lng, speed := event.Latitude, event.Longitude, event.Speed
	corrID := event.EventID
	state.LastPointAt = &ts
	state.LastLat = &lat
	state.LastLng = &lng
	state.LastSpeed = &speed
	state.LastCorrelationID = &corrID
}

func notification(kind string, tripID uuid.UUID, event *models.Event) *models.TripNotification {
	return &models.TripNotification{
		Type:          kind,
		TripID:        tripID,
		DeviceID:      event.DeviceID,
		Timestamp:     event.Timestamp,
		Lat:           event.Latitude,
		Lng:           event.Longitude,
		CorrelationID: event.EventID,
	}
}
