package trip

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/JesusCabrera84/siscom-trips/internal/models"
	"github.com/JesusCabrera84/siscom-trips/internal/repository"
)

// fakeStore in-memory TripStore. Writes are staged per transaction and
// applied on Commit; LockDeviceState holds a per-device mutex until the
// transaction ends, like the row lock.
type fakeStore struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	states  map[string]models.DeviceCurrentState
	trips   map[uuid.UUID]models.Trip
	points  []models.TripPoint
	alerts  []models.TripAlert
	idle    []models.DeviceIdleActivity
	begins  int
	failOn  map[string]error
	commits int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		locks:  make(map[string]*sync.Mutex),
		states: make(map[string]models.DeviceCurrentState),
		trips:  make(map[uuid.UUID]models.Trip),
		failOn: make(map[string]error),
	}
}

func (s *fakeStore) BeginTx(ctx context.Context) (repository.TripTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	if err := s.failOn["begin"]; err != nil {
		return nil, err
	}
	return &fakeTx{store: s}, nil
}

func (s *fakeStore) deviceLock(deviceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[deviceID] = l
	}
	return l
}

func (s *fakeStore) fail(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failOn[op]
}

func (s *fakeStore) state(deviceID string) (models.DeviceCurrentState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[deviceID]
	return st, ok
}

func (s *fakeStore) openTrips(deviceID string) []models.Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Trip
	for _, t := range s.trips {
		if t.DeviceID == deviceID && t.EndTime == nil {
			out = append(out, t)
		}
	}
	return out
}

type fakeTx struct {
	store  *fakeStore
	locked *sync.Mutex
	staged []func(s *fakeStore)
	done   bool
}

func (t *fakeTx) LockDeviceState(ctx context.Context, deviceID string) (*models.DeviceCurrentState, error) {
	if err := t.store.fail("lock"); err != nil {
		return nil, err
	}
	l := t.store.deviceLock(deviceID)
	l.Lock()
	t.locked = l

	st, ok := t.store.state(deviceID)
	if !ok {
		st = models.DeviceCurrentState{DeviceID: deviceID}
	}
	return &st, nil
}

func (t *fakeTx) FindOpenTrip(ctx context.Context, deviceID string) (uuid.UUID, error) {
	if err := t.store.fail("find"); err != nil {
		return uuid.Nil, err
	}
	open := t.store.openTrips(deviceID)
	if len(open) == 0 {
		return uuid.Nil, repository.ErrNoOpenTrip
	}
	latest := open[0]
	for _, trip := range open[1:] {
		if trip.StartTime.After(latest.StartTime) {
			latest = trip
		}
	}
	return latest.TripID, nil
}

func (t *fakeTx) InsertTrip(ctx context.Context, trip *models.Trip) error {
	if err := t.store.fail("insert_trip"); err != nil {
		return err
	}
	cp := *trip
	t.staged = append(t.staged, func(s *fakeStore) { s.trips[cp.TripID] = cp })
	return nil
}

func (t *fakeTx) CloseTrip(ctx context.Context, end repository.TripEnd) error {
	if err := t.store.fail("close_trip"); err != nil {
		return err
	}
	t.store.mu.Lock()
	trip, ok := t.store.trips[end.TripID]
	t.store.mu.Unlock()
	if !ok || trip.EndTime != nil {
		return repository.ErrNoOpenTrip
	}
	t.staged = append(t.staged, func(s *fakeStore) {
		trip := s.trips[end.TripID]
		endTime, lat, lng := end.EndTime, end.EndLat, end.EndLng
		trip.EndTime = &endTime
		trip.EndLat = &lat
		trip.EndLng = &lng
		if end.Odometer != nil {
			odo := *end.Odometer
			trip.EndOdometer = &odo
			if trip.StartOdometer != nil {
				delta := odo - *trip.StartOdometer
				trip.OdometerDelta = &delta
			}
		}
		s.trips[end.TripID] = trip
	})
	return nil
}

func (t *fakeTx) InsertTripPoint(ctx context.Context, point *models.TripPoint) error {
	if err := t.store.fail("insert_point"); err != nil {
		return err
	}
	cp := *point
	t.staged = append(t.staged, func(s *fakeStore) { s.points = append(s.points, cp) })
	return nil
}

func (t *fakeTx) InsertTripAlert(ctx context.Context, alert *models.TripAlert) error {
	if err := t.store.fail("insert_alert"); err != nil {
		return err
	}
	cp := *alert
	t.staged = append(t.staged, func(s *fakeStore) { s.alerts = append(s.alerts, cp) })
	return nil
}

func (t *fakeTx) InsertIdleActivity(ctx context.Context, activity *models.DeviceIdleActivity) error {
	if err := t.store.fail("insert_idle"); err != nil {
		return err
	}
	cp := *activity
	t.staged = append(t.staged, func(s *fakeStore) { s.idle = append(s.idle, cp) })
	return nil
}

func (t *fakeTx) UpsertDeviceState(ctx context.Context, state *models.DeviceCurrentState) error {
	if err := t.store.fail("upsert_state"); err != nil {
		return err
	}
	cp := *state
	t.staged = append(t.staged, func(s *fakeStore) { s.states[cp.DeviceID] = cp })
	return nil
}

func (t *fakeTx) Commit() error {
	if err := t.store.fail("commit"); err != nil {
		return err
	}
	t.store.mu.Lock()
	for _, apply := range t.staged {
		apply(t.store)
	}
	t.store.commits++
	t.store.mu.Unlock()
	t.finish()
	return nil
}

func (t *fakeTx) Rollback() error {
	t.finish()
	return nil
}

func (t *fakeTx) finish() {
	if t.done {
		return
	}
	t.done = true
	t.staged = nil
	if t.locked != nil {
		t.locked.Unlock()
	}
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.TripNotification
	err  error
}

func (n *fakeNotifier) NotifyTrip(ctx context.Context, note *models.TripNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, *note)
	return nil
}
