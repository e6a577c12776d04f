package position

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrSourceClosed is returned when pushing into a closed source.
var ErrSourceClosed = errors.New("position source closed")

// ErrInvalidFix is wrapped by CheckCoordinates failures.
var ErrInvalidFix = errors.New("invalid position fix")

// CheckCoordinates rejects NaN and anything outside [-180,180] x [-90,90].
func CheckCoordinates(lng, lat float64) error {
	if math.IsNaN(lng) || math.IsNaN(lat) || lng < -180 || lng > 180 || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: (%v, %v) out of range", ErrInvalidFix, lng, lat)
	}
	return nil
}

// Fix is one coordinate reading.
type Fix struct {
	Lng       float64 `json:"lng"`
	Lat       float64 `json:"lat"`
	Accuracy  float64 `json:"accuracy,omitempty"` // meters, 0 when unknown
	Timestamp int64   `json:"timestamp"`          // Unix epoch in ms
	Manual    bool    `json:"manual,omitempty"`   // user-selected point instead of a sensor reading
}

// NewFix creates a fix stamped with the current time
func NewFix(lng, lat float64) Fix {
	return Fix{Lng: lng, Lat: lat, Timestamp: time.Now().UnixMilli()}
}

// Validate reports whether the fix holds usable coordinates.
func (f Fix) Validate() error {
	return CheckCoordinates(f.Lng, f.Lat)
}

// ErrorCode classifies a failed reading. Values match the browser
// geolocation API codes so that web clients can forward them unchanged.
type ErrorCode int

const (
	PermissionDenied  ErrorCode = 1
	SignalUnavailable ErrorCode = 2
	Timeout           ErrorCode = 3
)

// Classify maps a raw code to an ErrorCode; unknown codes count as an
// unavailable signal.
func Classify(code int) ErrorCode {
	switch ErrorCode(code) {
	case PermissionDenied, SignalUnavailable, Timeout:
		return ErrorCode(code)
	default:
		return SignalUnavailable
	}
}

func (c ErrorCode) String() string {
	switch c {
	case PermissionDenied:
		return "permission_denied"
	case SignalUnavailable:
		return "signal_unavailable"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Message returns the human-readable status shown to the participant.
func (c ErrorCode) Message() string {
	switch c {
	case PermissionDenied:
		return "Location permission denied"
	case SignalUnavailable:
		return "Location signal unavailable"
	case Timeout:
		return "Location request timed out"
	default:
		return "Location unavailable"
	}
}

// Unsubscribe stops a subscription. Idempotent; once it returns no further
// callbacks run. It must not be called from inside a callback.
type Unsubscribe func()

// Source emits fixes and classified errors. It never guarantees liveness:
// it may pause indefinitely or report errors between fixes.
type Source interface {
	Subscribe(onFix func(Fix), onError func(ErrorCode)) Unsubscribe
}
