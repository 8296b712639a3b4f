package registry

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	station1 = "Estación 1"
	station2 = "Estación 2"
	station3 = "Estación 3"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (r *recorder) Publish(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func newTestRegistry(t *testing.T, opts Options) (*Registry, *fakeClock, *recorder) {
	t.Helper()
	clock := newFakeClock()
	rec := &recorder{}
	opts.Now = clock.Now
	opts.Publisher = rec
	r, err := New(opts)
	require.NoError(t, err)
	return r, clock, rec
}

func TestNew(t *testing.T) {
	r, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultStations, r.Stations())

	_, err = New(Options{Stations: []string{"A", "A"}})
	assert.Error(t, err)
	_, err = New(Options{Stations: []string{" "}})
	assert.Error(t, err)
	_, err = New(Options{Grace: -time.Second})
	assert.Error(t, err)
	_, err = New(Options{RegisterBlock: "strict"})
	assert.Error(t, err)
}

func TestRegistry_Scenario(t *testing.T) {
	r, clock, _ := newTestRegistry(t, Options{})

	t1 := clock.Now()
	v, created, err := r.Register(station1, "5", false)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, Vehicle{Plate: "005", Status: Parked, Timestamp: t1}, v)

	clock.Advance(10 * time.Second)
	t2 := clock.Now()
	v, err = r.SetStatus(station1, "005", "normal")
	require.NoError(t, err)
	assert.Equal(t, Normal, v.Status)
	assert.Equal(t, t2, v.Timestamp)
	assert.True(t, v.Timestamp.After(t1))

	clock.Advance(400 * time.Second)
	v, created, err = r.Register(station3, "5", false)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, Parked, v.Status)
	assert.Equal(t, t2.Add(100*time.Second), v.Timestamp)

	s := r.ListStations()
	st1, _ := s.Station(station1)
	assert.Empty(t, st1)
	st3, _ := s.Station(station3)
	assert.Equal(t, []Vehicle{v}, st3)
}

func TestRegistry_Register_TransferExclusivity(t *testing.T) {
	r, _, _ := newTestRegistry(t, Options{})

	_, _, err := r.Register(station1, "7", false)
	require.NoError(t, err)
	_, err = r.SetStatus(station1, "007", "flagged")
	require.NoError(t, err)

	_, created, err := r.Register(station2, "007", false)
	require.NoError(t, err)
	assert.False(t, created)

	s := r.ListStations()
	name, v, ok := s.Locate("007")
	require.True(t, ok)
	assert.Equal(t, station2, name)
	assert.Equal(t, Parked, v.Status)
	st1, _ := s.Station(station1)
	assert.Empty(t, st1)
}

func TestRegistry_Register_Errors(t *testing.T) {
	r, _, rec := newTestRegistry(t, Options{})
	_, _, err := r.Register(station1, "9", false)
	require.NoError(t, err)
	published := rec.count()

	tests := map[string]struct {
		station string
		plate   string
		err     error
	}{
		"unknown station":            {station: "Estación 9", plate: "10", err: ErrStationNotFound},
		"bad plate":                  {station: station1, plate: "x", err: ErrInvalidFormat},
		"out of range":               {station: station1, plate: "61", err: ErrOutOfRange},
		"parked elsewhere":           {station: station2, plate: "9", err: ErrNonTransferableState},
		"parked in the same station": {station: station1, plate: "009", err: ErrNonTransferableState},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := r.Register(test.station, test.plate, false)
			assert.True(t, errors.Is(err, test.err), "got %v", err)
		})
	}

	assert.Equal(t, published, rec.count(), "failed mutations must not publish")
	name, _, ok := r.ListStations().Locate("009")
	assert.True(t, ok)
	assert.Equal(t, station1, name)
}

func TestRegistry_Register_DuplicateInStation(t *testing.T) {
	r, _, _ := newTestRegistry(t, Options{})
	_, _, err := r.Register(station1, "3", false)
	require.NoError(t, err)
	_, err = r.SetStatus(station1, "3", "normal")
	require.NoError(t, err)

	_, _, err = r.Register(station1, "003", false)
	assert.True(t, errors.Is(err, ErrDuplicateInStation), "got %v", err)

	// The no-penalty channel skips the state check but never the duplicate check.
	_, err = r.SetStatus(station1, "3", "parked")
	require.NoError(t, err)
	_, _, err = r.Register(station1, "-3", false)
	assert.True(t, errors.Is(err, ErrDuplicateInStation), "got %v", err)
}

func TestRegistry_Register_NoPenalty(t *testing.T) {
	tests := map[string]struct {
		plate     string
		noPenalty bool
	}{
		"marker": {plate: "-12"},
		"flag":   {plate: "12", noPenalty: true},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			r, clock, _ := newTestRegistry(t, Options{})
			_, _, err := r.Register(station1, "12", false)
			require.NoError(t, err)
			v, err := r.SetStatus(station1, "12", "normal")
			require.NoError(t, err)
			stamped := v.Timestamp

			clock.Advance(time.Hour)
			v, created, err := r.Register(station2, test.plate, test.noPenalty)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, stamped, v.Timestamp)
			assert.Equal(t, Plate("012"), v.Plate)
		})
	}
}

func TestRegistry_Register_NoPenaltyBypassesStateBlock(t *testing.T) {
	r, clock, _ := newTestRegistry(t, Options{})
	v, _, err := r.Register(station1, "20", false)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	moved, _, err := r.Register(station2, "-20", false)
	require.NoError(t, err)
	assert.Equal(t, v.Timestamp, moved.Timestamp)
}

func TestRegistry_Register_Policies(t *testing.T) {
	tests := map[string]struct {
		policy  BlockPolicy
		status  string
		blocked bool
	}{
		"stationary blocks noted":       {policy: BlockStationary, status: "noted", blocked: true},
		"stationary blocks maintenance": {policy: BlockStationary, status: "maintenance", blocked: true},
		"stationary allows flagged":     {policy: BlockStationary, status: "flagged"},
		"parked-only allows noted":      {policy: BlockParked, status: "noted"},
		"parked-only blocks parked":     {policy: BlockParked, status: "parked", blocked: true},
		"none allows parked":            {policy: BlockNone, status: "parked"},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			r, _, _ := newTestRegistry(t, Options{RegisterBlock: test.policy})
			_, _, err := r.Register(station1, "30", false)
			require.NoError(t, err)
			_, err = r.SetStatus(station1, "30", test.status)
			require.NoError(t, err)

			_, _, err = r.Register(station3, "30", false)
			if test.blocked {
				assert.True(t, errors.Is(err, ErrNonTransferableState), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRegistry_SetStatus_TimestampAsymmetry(t *testing.T) {
	tests := []struct {
		status    string
		refreshed bool
	}{
		{status: "normal", refreshed: true},
		{status: "flagged", refreshed: true},
		{status: "colado", refreshed: true},
		{status: "parked"},
		{status: "noted"},
		{status: "maintenance"},
	}
	for _, test := range tests {
		t.Run(test.status, func(t *testing.T) {
			r, clock, _ := newTestRegistry(t, Options{})
			v, _, err := r.Register(station2, "41", false)
			require.NoError(t, err)

			clock.Advance(time.Minute)
			updated, err := r.SetStatus(station2, "41", test.status)
			require.NoError(t, err)
			if test.refreshed {
				assert.Equal(t, clock.Now(), updated.Timestamp)
			} else {
				assert.Equal(t, v.Timestamp, updated.Timestamp)
			}
		})
	}
}

func TestRegistry_SetStatus_Errors(t *testing.T) {
	r, _, _ := newTestRegistry(t, Options{})
	_, _, err := r.Register(station1, "1", false)
	require.NoError(t, err)

	_, err = r.SetStatus(station1, "1", "moving")
	assert.True(t, errors.Is(err, ErrInvalidStatus), "got %v", err)
	_, err = r.SetStatus("nowhere", "1", "normal")
	assert.True(t, errors.Is(err, ErrStationNotFound), "got %v", err)
	_, err = r.SetStatus(station2, "1", "normal")
	assert.True(t, errors.Is(err, ErrVehicleNotFound), "got %v", err)
	_, err = r.SetStatus(station1, "abc", "normal")
	assert.True(t, errors.Is(err, ErrInvalidFormat), "got %v", err)

	s := r.ListStations()
	_, v, _ := s.Locate("001")
	assert.Equal(t, Parked, v.Status)
}

func TestRegistry_Advance(t *testing.T) {
	r, clock, _ := newTestRegistry(t, Options{})
	_, _, err := r.Register(station1, "2", false)
	require.NoError(t, err)

	for _, want := range []Status{Normal, Flagged, Noted, Maintenance, Parked} {
		clock.Advance(time.Second)
		v, err := r.Advance(station1, "2")
		require.NoError(t, err)
		assert.Equal(t, want, v.Status)
		assert.Equal(t, clock.Now(), v.Timestamp, "advance always refreshes the timestamp")
	}

	_, err = r.Advance(station2, "2")
	assert.True(t, errors.Is(err, ErrVehicleNotFound), "got %v", err)
}

func TestRegistry_Transfer(t *testing.T) {
	r, clock, _ := newTestRegistry(t, Options{})
	_, _, err := r.Register(station1, "15", false)
	require.NoError(t, err)

	_, err = r.Transfer(station1, station2, "15")
	assert.True(t, errors.Is(err, ErrNonTransferableState), "parked vehicles are blocked: got %v", err)

	v, err := r.SetStatus(station1, "15", "noted")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	moved, err := r.Transfer(station1, station2, "15")
	require.NoError(t, err)
	assert.Equal(t, Vehicle{Plate: "015", Status: Parked, Timestamp: v.Timestamp}, moved)

	s := r.ListStations()
	name, _, _ := s.Locate("015")
	assert.Equal(t, station2, name)
	st1, _ := s.Station(station1)
	assert.Empty(t, st1)
}

func TestRegistry_Transfer_Errors(t *testing.T) {
	r, _, _ := newTestRegistry(t, Options{})
	_, _, err := r.Register(station1, "16", false)
	require.NoError(t, err)
	_, err = r.SetStatus(station1, "16", "normal")
	require.NoError(t, err)

	tests := map[string]struct {
		origin, destination, plate string
		err                        error
	}{
		"not at origin":       {origin: station2, destination: station3, plate: "16", err: ErrVehicleNotFound},
		"unknown origin":      {origin: "x", destination: station3, plate: "16", err: ErrStationNotFound},
		"unknown destination": {origin: station1, destination: "x", plate: "16", err: ErrStationNotFound},
		"same station":        {origin: station1, destination: station1, plate: "16", err: ErrDuplicateInStation},
		"bad plate":           {origin: station1, destination: station2, plate: "sixteen", err: ErrInvalidFormat},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := r.Transfer(test.origin, test.destination, test.plate)
			assert.True(t, errors.Is(err, test.err), "got %v", err)
		})
	}
}

// Registration and explicit transfer disagree on which states block a move. Each rule is selectable
// on its own; swapping them must swap the observed behavior.
func TestRegistry_BlockPoliciesAreIndependent(t *testing.T) {
	defaults, _, _ := newTestRegistry(t, Options{})
	swapped, _, _ := newTestRegistry(t, Options{RegisterBlock: BlockParked, TransferBlock: BlockStationary})

	for _, r := range []*Registry{defaults, swapped} {
		_, _, err := r.Register(station1, "50", false)
		require.NoError(t, err)
		_, err = r.SetStatus(station1, "50", "maintenance")
		require.NoError(t, err)
		_, _, err = r.Register(station1, "51", false)
		require.NoError(t, err)
		_, err = r.SetStatus(station1, "51", "maintenance")
		require.NoError(t, err)
	}

	_, _, err := defaults.Register(station2, "50", false)
	assert.True(t, errors.Is(err, ErrNonTransferableState), "got %v", err)
	_, err = defaults.Transfer(station1, station2, "51")
	assert.NoError(t, err)

	_, _, err = swapped.Register(station2, "50", false)
	assert.NoError(t, err)
	_, err = swapped.Transfer(station1, station2, "51")
	assert.True(t, errors.Is(err, ErrNonTransferableState), "got %v", err)
}

func TestRegistry_Reset(t *testing.T) {
	r, _, rec := newTestRegistry(t, Options{})
	for _, p := range []string{"1", "2", "3"} {
		_, _, err := r.Register(station1, p, false)
		require.NoError(t, err)
	}
	before := rec.count()

	r.Reset()

	s := r.ListStations()
	require.Len(t, s.Stations, 3)
	for _, st := range s.Stations {
		assert.Empty(t, st.Vehicles, st.Name)
	}
	assert.Equal(t, before+1, rec.count(), "reset publishes")

	_, created, err := r.Register(station2, "1", false)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRegistry_PublishesEveryMutation(t *testing.T) {
	r, _, rec := newTestRegistry(t, Options{})

	_, _, err := r.Register(station1, "8", false)
	require.NoError(t, err)
	_, err = r.SetStatus(station1, "8", "normal")
	require.NoError(t, err)
	_, err = r.Advance(station1, "8")
	require.NoError(t, err)
	_, err = r.Transfer(station1, station2, "8")
	require.NoError(t, err)
	r.Reset()

	require.Len(t, rec.snapshots, 5)
	for i, s := range rec.snapshots {
		assert.Equal(t, uint64(i+1), s.Version)
	}
	name, v, ok := rec.snapshots[3].Locate("008")
	require.True(t, ok)
	assert.Equal(t, station2, name)
	assert.Equal(t, Parked, v.Status)
}

func TestRegistry_PublishesOutsideLock(t *testing.T) {
	var r *Registry
	var seen Snapshot
	r, err := New(Options{Publisher: PublisherFunc(func(Snapshot) {
		// Would deadlock if the write lock were still held.
		seen = r.ListStations()
	})})
	require.NoError(t, err)

	_, _, err = r.Register(station1, "4", false)
	require.NoError(t, err)
	_, _, ok := seen.Locate("004")
	assert.True(t, ok)
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r, _, _ := newTestRegistry(t, Options{})
	_, _, err := r.Register(station1, "6", false)
	require.NoError(t, err)

	s := r.ListStations()
	s.Stations[0].Vehicles[0].Status = Flagged

	_, v, _ := r.ListStations().Locate("006")
	assert.Equal(t, Parked, v.Status)
}

// Random concurrent operations must never leave a plate in two places.
func TestRegistry_Uniqueness(t *testing.T) {
	r, clock, _ := newTestRegistry(t, Options{RegisterBlock: BlockNone, TransferBlock: BlockNone})
	stations := r.Stations()

	var wg sync.WaitGroup
	for worker := range 8 {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(seed, 42))
			for range 500 {
				plate := strconv.Itoa(rng.IntN(10) + 1)
				st := stations[rng.IntN(len(stations))]
				switch rng.IntN(6) {
				case 0, 1:
					_, _, _ = r.Register(st, plate, rng.IntN(2) == 0)
				case 2:
					_, _ = r.SetStatus(st, plate, string(Statuses()[rng.IntN(5)]))
				case 3:
					_, _ = r.Advance(st, plate)
				case 4:
					_, _ = r.Transfer(st, stations[rng.IntN(len(stations))], plate)
				case 5:
					clock.Advance(time.Duration(rng.IntN(120)) * time.Second)
				}
			}
		}(uint64(worker))
	}
	wg.Wait()

	seen := make(map[Plate]string)
	for _, st := range r.ListStations().Stations {
		for _, v := range st.Vehicles {
			prev, dup := seen[v.Plate]
			assert.False(t, dup, fmt.Sprintf("plate %s in %s and %s", v.Plate, prev, st.Name))
			seen[v.Plate] = st.Name
			assert.True(t, v.Status.Valid())
		}
	}
}
