package registry

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	MinPlate = 1
	MaxPlate = 60

	// NoPenaltyMarker prefixes a raw plate to request a transfer that carries the prior timestamp unchanged.
	NoPenaltyMarker = "-"
)

// A Plate is the canonical identifier of a vehicle: its number rendered as three zero-padded digits.
type Plate string

// ParsePlate validates and canonicalizes a raw plate token.
//
// A single leading NoPenaltyMarker is consumed and reported through noPenalty; it never becomes part of the Plate.
// "7", "007" and "-7" all yield "007".
func ParsePlate(raw string) (p Plate, noPenalty bool, err error) {
	token := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(token, NoPenaltyMarker); ok {
		token = rest
		noPenalty = true
	}

	if token == "" {
		return "", false, newError(CodeInvalidFormat, fmt.Sprintf("invalid plate %q: must be a number", raw))
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return "", false, newError(CodeInvalidFormat, fmt.Sprintf("invalid plate %q: must be a number", raw))
		}
	}

	n, err := strconv.Atoi(token)
	if err != nil || n < MinPlate || n > MaxPlate {
		return "", false, newError(CodeOutOfRange, fmt.Sprintf("invalid plate %q: must be between %d and %d", raw, MinPlate, MaxPlate))
	}
	return Plate(fmt.Sprintf("%03d", n)), noPenalty, nil
}

// NormalizePlate is ParsePlate for callers with no use for the no-penalty marker.
func NormalizePlate(raw string) (Plate, error) {
	p, _, err := ParsePlate(raw)
	return p, err
}
