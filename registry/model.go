package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the wire format of vehicle timestamps. Timestamps are always UTC and carry no zone suffix.
const TimestampLayout = "2006-01-02 15:04:05"

// DefaultStations are the stations of the depot the board was built for.
var DefaultStations = []string{"Estación 1", "Estación 2", "Estación 3"}

// A Vehicle is the record of one plate at one station.
//
// A plate has at most one record across the whole registry.
// The record is created the first time the plate is registered, changes status and timestamp
// as operators act on it, and is only destroyed by a reset.
//
// Timestamp is the last time the vehicle's relevant state changed: registration, entering an active status,
// or a penalized transfer. Stationary statuses leave it untouched.
type Vehicle struct {
	Plate     Plate
	Status    Status
	Timestamp time.Time
}

type vehicleJSON struct {
	Plate     Plate  `json:"plate"`
	Status    Status `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (v Vehicle) MarshalJSON() ([]byte, error) {
	return json.Marshal(vehicleJSON{
		Plate:     v.Plate,
		Status:    v.Status,
		Timestamp: v.Timestamp.UTC().Format(TimestampLayout),
	})
}

func (v *Vehicle) UnmarshalJSON(data []byte) error {
	var raw vehicleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := time.ParseInLocation(TimestampLayout, raw.Timestamp, time.UTC)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	*v = Vehicle{Plate: raw.Plate, Status: raw.Status, Timestamp: ts}
	return nil
}

// A Station is one named stop and the vehicles currently at it, in arrival order.
type Station struct {
	Name     string
	Vehicles []Vehicle
}

// A Snapshot is the full state of the registry at one commit.
//
// Version increases by one on every committed mutation, so consumers that receive snapshots
// out of order can discard stale ones.
type Snapshot struct {
	Version  uint64
	Stations []Station
}

// Station returns the vehicles at the named station.
func (s Snapshot) Station(name string) ([]Vehicle, bool) {
	for _, st := range s.Stations {
		if st.Name == name {
			return st.Vehicles, true
		}
	}
	return nil, false
}

// Locate returns the station holding plate.
func (s Snapshot) Locate(plate Plate) (string, Vehicle, bool) {
	for _, st := range s.Stations {
		for _, v := range st.Vehicles {
			if v.Plate == plate {
				return st.Name, v, true
			}
		}
	}
	return "", Vehicle{}, false
}

// MarshalJSON renders the snapshot as an object keyed by station name, keys in station order.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, st := range s.Stations {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(st.Name)
		if err != nil {
			return nil, err
		}
		vehicles := st.Vehicles
		if vehicles == nil {
			vehicles = []Vehicle{}
		}
		value, err := json.Marshal(vehicles)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
