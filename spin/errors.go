package spin

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes the camera stack distinguishes.
// Vendor-originated failures carry their message in a DeviceError instead.
var (
	// ErrNotInitialised is returned when a parameter is touched before Init.
	ErrNotInitialised = errors.New("camera not initialised, call Initialise before setting parameters")

	// ErrNotWritable is returned when a feature's access mode is not RW.
	ErrNotWritable = errors.New("feature is not writable in the current device state")

	// ErrInvalidState is returned for operations illegal in the current
	// lifecycle state, e.g. Deinitialise while streaming.
	ErrInvalidState = errors.New("operation not legal in current camera state")

	// ErrIncomplete marks a frame that failed the SDK completeness check.
	ErrIncomplete = errors.New("frame incomplete")

	// ErrTimeout is returned when a blocking grab exceeds its wait.
	ErrTimeout = errors.New("timed out waiting for frame")

	// ErrNoCameras is returned when enumeration finds zero devices.
	ErrNoCameras = errors.New("no cameras detected")

	// ErrHandlerRegistered is returned when a second frame listener is
	// registered on a device that already has one.
	ErrHandlerRegistered = errors.New("device already has a frame listener registered")
)

// InvalidParameterError is returned when a caller passes an unrecognized
// mode string or an out-of-domain value to a parameter setter.
type InvalidParameterError struct {
	Param string
	Value interface{}
	Hint  string
}

func (e InvalidParameterError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("invalid value %v for %s", e.Value, e.Param)
	}
	return fmt.Sprintf("invalid value %v for %s, use %s", e.Value, e.Param, e.Hint)
}

// DeviceError wraps a vendor SDK failure, preserving the original message
// for classification by the recovery machinery.
type DeviceError struct {
	// Op is the operation that failed, e.g. "Init" or "SetFloat(Gain)".
	Op string

	// Msg is the vendor message, verbatim.
	Msg string
}

func (e DeviceError) Error() string {
	if e.Op == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// IsInvalidParameter reports whether err is an InvalidParameterError.
func IsInvalidParameter(err error) bool {
	var ipe InvalidParameterError
	return errors.As(err, &ipe)
}

// DeviceMessage extracts the vendor message from err, unwrapping as needed.
// It returns "" when err did not originate in the vendor SDK.
func DeviceMessage(err error) string {
	var de DeviceError
	if errors.As(err, &de) {
		return de.Msg
	}
	return ""
}
