package scan

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid scan specification or an operation
// rejected before dispatch (bad axis bounds, session already running).
// Configuration errors never mutate session state.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// DeviceError reports a stepper or detector failure during acquisition.
// Device errors abort the session at the current checkpoint; the partial
// buffer is retained for inspection and autosave.
type DeviceError struct {
	Device  string // adapter name, e.g. "stepper", "camera"
	Op      string // operation that failed, e.g. "execute_line", "grab"
	Timeout bool   // true if the adapter reported its internal timeout
	Err     error
}

func (e *DeviceError) Error() string {
	kind := "communication"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("device %s error: %s %s: %v", kind, e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IsDeviceTimeout reports whether err is a device error caused by an
// adapter-level timeout.
func IsDeviceTimeout(err error) bool {
	var de *DeviceError
	return errors.As(err, &de) && de.Timeout
}

// DimensionError reports a write whose shape does not match the buffer
// allocated at session start. This is a programming-level invariant
// violation and is fatal to the session.
type DimensionError struct {
	Channel string
	Want    int
	Got     int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("buffer dimension mismatch on %q: want %d values, got %d", e.Channel, e.Want, e.Got)
}

// ErrStopRequested is the controller's internal signal that a cooperative
// stop was consumed at a checkpoint. It is a deliberate, successful
// termination path, not a failure.
var ErrStopRequested = errors.New("stop requested")
