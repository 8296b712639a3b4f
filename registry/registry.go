package registry

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// A Publisher receives the full snapshot after every committed mutation.
//
// Publish is called synchronously, after the registry lock has been released.
// Implementations must not block for long and report their own failures.
type Publisher interface {
	Publish(Snapshot)
}

// PublisherFunc adapts a function to a Publisher.
type PublisherFunc func(Snapshot)

func (f PublisherFunc) Publish(s Snapshot) { f(s) }

type Options struct {
	// Stations is the closed, ordered set of station names. Empty selects DefaultStations.
	Stations []string
	// Grace is the penalty-free time in an active status. Zero selects DefaultGracePeriod.
	Grace time.Duration
	// RegisterBlock guards Register. Empty selects DefaultRegisterBlock.
	RegisterBlock BlockPolicy
	// TransferBlock guards Transfer. Empty selects DefaultTransferBlock.
	TransferBlock BlockPolicy
	// Now is the clock. Nil selects time.Now.
	Now       func() time.Time
	Publisher Publisher
}

// Registry tracks which vehicles are at which station.
//
// Every mutation runs as one transaction under the write lock; the resulting snapshot is
// published once the lock is released, so a slow publisher never stalls other mutations.
type Registry struct {
	// mu guards stations and version.
	mu       sync.RWMutex
	names    []string
	stations map[string][]Vehicle
	version  uint64

	registerBlock BlockPolicy
	transferBlock BlockPolicy
	penalty       PenaltyCalculator
	now           func() time.Time
	publisher     Publisher
}

func New(opts Options) (*Registry, error) {
	names := opts.Stations
	if len(names) == 0 {
		names = DefaultStations
	}
	stations := make(map[string][]Vehicle, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("station name must not be empty")
		}
		if _, dup := stations[name]; dup {
			return nil, fmt.Errorf("duplicate station %q", name)
		}
		stations[name] = nil
	}

	if opts.Grace < 0 {
		return nil, fmt.Errorf("grace period must not be negative: %s", opts.Grace)
	}
	if opts.Grace == 0 {
		opts.Grace = DefaultGracePeriod
	}
	if opts.RegisterBlock == "" {
		opts.RegisterBlock = DefaultRegisterBlock
	}
	if opts.TransferBlock == "" {
		opts.TransferBlock = DefaultTransferBlock
	}
	for _, p := range []BlockPolicy{opts.RegisterBlock, opts.TransferBlock} {
		if _, err := ParseBlockPolicy(string(p)); err != nil {
			return nil, err
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Publisher == nil {
		opts.Publisher = PublisherFunc(func(Snapshot) {})
	}

	return &Registry{
		names:         slices.Clone(names),
		stations:      stations,
		registerBlock: opts.RegisterBlock,
		transferBlock: opts.TransferBlock,
		penalty:       PenaltyCalculator{Grace: opts.Grace, Now: opts.Now},
		now:           opts.Now,
		publisher:     opts.Publisher,
	}, nil
}

// Stations returns the station names in serialization order.
func (r *Registry) Stations() []string {
	return slices.Clone(r.names)
}

// ListStations returns a consistent copy of the whole registry.
func (r *Registry) ListStations() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Register adds a plate to a station, moving it there if it is registered elsewhere.
//
// created is true when the plate had no prior record. A moved vehicle is parked at the target and keeps
// its identity; its timestamp is pushed forward by any penalty it accrued, unless noPenalty is set or the raw
// plate carries the NoPenaltyMarker, in which case the prior timestamp is carried over unchanged.
func (r *Registry) Register(station, rawPlate string, noPenalty bool) (v Vehicle, created bool, err error) {
	plate, marked, err := ParsePlate(rawPlate)
	if err != nil {
		return Vehicle{}, false, err
	}
	noPenalty = noPenalty || marked

	v, err = r.mutate(func() (Vehicle, error) {
		if _, ok := r.stations[station]; !ok {
			return Vehicle{}, stationNotFound(station)
		}

		from, i, found := r.locateLocked(plate)
		if !found {
			created = true
			rec := Vehicle{Plate: plate, Status: Parked, Timestamp: r.timestamp()}
			r.stations[station] = append(r.stations[station], rec)
			return rec, nil
		}

		prior := r.stations[from][i]
		if !noPenalty && r.registerBlock.Blocks(prior.Status) {
			return Vehicle{}, newError(CodeNonTransferableState,
				fmt.Sprintf("vehicle %s cannot be transferred while %s", plate, prior.Status))
		}
		if from == station {
			return Vehicle{}, newError(CodeDuplicateInStation,
				fmt.Sprintf("plate %s already exists in %s", plate, station))
		}

		rec := Vehicle{Plate: plate, Status: Parked, Timestamp: prior.Timestamp}
		if !noPenalty {
			rec.Timestamp = r.penalty.Adjust(prior.Timestamp, prior.Status)
		}
		r.removeLocked(plate, station)
		r.stations[station] = append(r.stations[station], rec)
		return rec, nil
	})
	if err != nil {
		return Vehicle{}, false, err
	}
	slog.Debug("vehicle registered", "station", station, "plate", v.Plate, "created", created, "no_penalty", noPenalty)
	return v, created, nil
}

// SetStatus sets a vehicle's status directly.
//
// Entering an active status stamps the current time; entering a stationary status keeps the timestamp.
func (r *Registry) SetStatus(station, rawPlate, rawStatus string) (Vehicle, error) {
	status, err := ParseStatus(rawStatus)
	if err != nil {
		return Vehicle{}, err
	}
	plate, err := NormalizePlate(rawPlate)
	if err != nil {
		return Vehicle{}, err
	}

	return r.mutate(func() (Vehicle, error) {
		rec, err := r.findLocked(station, plate)
		if err != nil {
			return Vehicle{}, err
		}
		rec.Status = status
		if !status.Stationary() {
			rec.Timestamp = r.timestamp()
		}
		return *rec, nil
	})
}

// Advance moves a vehicle to the next status in the cycle and always stamps the current time.
func (r *Registry) Advance(station, rawPlate string) (Vehicle, error) {
	plate, err := NormalizePlate(rawPlate)
	if err != nil {
		return Vehicle{}, err
	}

	return r.mutate(func() (Vehicle, error) {
		rec, err := r.findLocked(station, plate)
		if err != nil {
			return Vehicle{}, err
		}
		rec.Status = rec.Status.Next()
		rec.Timestamp = r.timestamp()
		return *rec, nil
	})
}

// Transfer moves a vehicle from origin to destination, parking it and keeping its timestamp.
func (r *Registry) Transfer(origin, destination, rawPlate string) (Vehicle, error) {
	plate, err := NormalizePlate(rawPlate)
	if err != nil {
		return Vehicle{}, err
	}

	return r.mutate(func() (Vehicle, error) {
		if _, ok := r.stations[destination]; !ok {
			return Vehicle{}, stationNotFound(destination)
		}
		rec, err := r.findLocked(origin, plate)
		if err != nil {
			return Vehicle{}, err
		}
		if origin == destination {
			return Vehicle{}, newError(CodeDuplicateInStation,
				fmt.Sprintf("plate %s already exists in %s", plate, destination))
		}
		if r.transferBlock.Blocks(rec.Status) {
			return Vehicle{}, newError(CodeNonTransferableState,
				fmt.Sprintf("vehicle %s cannot be transferred while %s", plate, rec.Status))
		}

		moved := Vehicle{Plate: plate, Status: Parked, Timestamp: rec.Timestamp}
		r.removeLocked(plate, destination)
		r.stations[destination] = append(r.stations[destination], moved)
		return moved, nil
	})
}

// Reset clears every station.
func (r *Registry) Reset() {
	_, _ = r.mutate(func() (Vehicle, error) {
		for _, name := range r.names {
			r.stations[name] = nil
		}
		return Vehicle{}, nil
	})
	slog.Info("registry reset")
}

// mutate runs fn as one transaction. On success the version is bumped and the snapshot published
// after the lock is released. fn must check everything before its first write.
func (r *Registry) mutate(fn func() (Vehicle, error)) (Vehicle, error) {
	r.mu.Lock()
	v, err := fn()
	if err != nil {
		r.mu.Unlock()
		return Vehicle{}, err
	}
	r.version++
	s := r.snapshotLocked()
	r.mu.Unlock()

	r.publisher.Publish(s)
	return v, nil
}

func (r *Registry) snapshotLocked() Snapshot {
	s := Snapshot{Version: r.version, Stations: make([]Station, 0, len(r.names))}
	for _, name := range r.names {
		s.Stations = append(s.Stations, Station{Name: name, Vehicles: slices.Clone(r.stations[name])})
	}
	return s
}

// locateLocked scans every station for plate.
func (r *Registry) locateLocked(plate Plate) (station string, index int, found bool) {
	for _, name := range r.names {
		for i, v := range r.stations[name] {
			if v.Plate == plate {
				return name, i, true
			}
		}
	}
	return "", 0, false
}

func (r *Registry) findLocked(station string, plate Plate) (*Vehicle, error) {
	vehicles, ok := r.stations[station]
	if !ok {
		return nil, stationNotFound(station)
	}
	for i := range vehicles {
		if vehicles[i].Plate == plate {
			return &vehicles[i], nil
		}
	}
	return nil, newError(CodeVehicleNotFound, fmt.Sprintf("vehicle %s not found in %s", plate, station))
}

// removeLocked deletes plate from every station except keep.
func (r *Registry) removeLocked(plate Plate, keep string) {
	for _, name := range r.names {
		if name == keep {
			continue
		}
		r.stations[name] = slices.DeleteFunc(r.stations[name], func(v Vehicle) bool {
			return v.Plate == plate
		})
	}
}

func (r *Registry) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Second)
}

func stationNotFound(name string) *Error {
	return newError(CodeStationNotFound, fmt.Sprintf("station %q not found", name))
}
