package registry

// Code is a machine-readable error code.
type Code string

const (
	CodeInvalidFormat        Code = "INVALID_FORMAT"
	CodeOutOfRange           Code = "OUT_OF_RANGE"
	CodeStationNotFound      Code = "STATION_NOT_FOUND"
	CodeVehicleNotFound      Code = "VEHICLE_NOT_FOUND"
	CodeDuplicateInStation   Code = "DUPLICATE_IN_STATION"
	CodeNonTransferableState Code = "NON_TRANSFERABLE_STATE"
	CodeInvalidStatus        Code = "INVALID_STATUS"
	CodeMissingField         Code = "MISSING_FIELD"
)

// Error is a request-local validation failure. It never leaves the registry partially mutated.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target matches this error by code, so errors.Is(err, ErrVehicleNotFound)
// holds for any vehicle-not-found error regardless of its message.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

var (
	ErrInvalidFormat        = newError(CodeInvalidFormat, "invalid format")
	ErrOutOfRange           = newError(CodeOutOfRange, "out of range")
	ErrStationNotFound      = newError(CodeStationNotFound, "station not found")
	ErrVehicleNotFound      = newError(CodeVehicleNotFound, "vehicle not found")
	ErrDuplicateInStation   = newError(CodeDuplicateInStation, "plate already exists in this station")
	ErrNonTransferableState = newError(CodeNonTransferableState, "vehicle cannot be transferred in its current state")
	ErrInvalidStatus        = newError(CodeInvalidStatus, "invalid status")
	ErrMissingField         = newError(CodeMissingField, "missing field")
)

// MissingField reports a required request field that was absent or empty.
func MissingField(name string) *Error {
	return newError(CodeMissingField, "missing field: "+name)
}
