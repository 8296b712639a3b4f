package registry

import (
	"fmt"
	"strings"
)

// A Status describes what a vehicle is currently doing at its station.
type Status string

const (
	Parked      Status = "parked"
	Normal      Status = "normal"
	Flagged     Status = "flagged"
	Noted       Status = "noted"
	Maintenance Status = "maintenance"
)

// cycle is the order Advance walks through; it wraps from the last status to the first.
var cycle = []Status{Parked, Normal, Flagged, Noted, Maintenance}

// Spanish input aliases used by the station operators.
var aliases = map[string]Status{
	"parqueado":     Parked,
	"colado":        Flagged,
	"anotado":       Noted,
	"mantenimiento": Maintenance,
}

// ParseStatus case-insensitively resolves a raw status to its canonical value.
func ParseStatus(raw string) (Status, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, c := range cycle {
		if string(c) == s {
			return c, nil
		}
	}
	if c, ok := aliases[s]; ok {
		return c, nil
	}
	return "", newError(CodeInvalidStatus, fmt.Sprintf("invalid status %q", raw))
}

// Valid reports whether s is a member of the enumeration.
func (s Status) Valid() bool {
	for _, c := range cycle {
		if c == s {
			return true
		}
	}
	return false
}

// Stationary reports whether s is a resting or administrative state.
//
// Setting a stationary status keeps the vehicle's timestamp, which tracks when it last actively moved.
func (s Status) Stationary() bool {
	return s == Parked || s == Noted || s == Maintenance
}

// Active reports whether time spent in s accrues a transfer penalty.
func (s Status) Active() bool {
	return s == Normal || s == Flagged
}

// Next returns the status that follows s in the advance cycle.
func (s Status) Next() Status {
	for i, c := range cycle {
		if c == s {
			return cycle[(i+1)%len(cycle)]
		}
	}
	return Parked
}

// Statuses returns the enumeration in advance order.
func Statuses() []Status {
	return append([]Status(nil), cycle...)
}
