package camera

import (
	"fmt"

	"github.com/warpcomdev/ts413camera/internal/driver/native"
)

// CameraState of a session
type CameraState int

const (
	StateDisconnected CameraState = iota
	StateIdle
	StateExposing
	StateDownloading
)

func (p CameraState) String() string {
	text := map[CameraState]string{
		StateDisconnected: "Disconnected",
		StateIdle:         "Idle",
		StateExposing:     "Exposing",
		StateDownloading:  "Downloading",
	}
	return text[p]
}

func (p CameraState) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", p.String())), nil
}

// SensorType follows the ASCOM numbering
type SensorType int

const (
	SensorMonochrome SensorType = iota
	SensorColor
	SensorRGGB
	SensorCMYG
	SensorCMYG2
	SensorLRGB
)

func (p SensorType) String() string {
	text := map[SensorType]string{
		SensorMonochrome: "Monochrome",
		SensorColor:      "Color",
		SensorRGGB:       "RGGB",
		SensorCMYG:       "CMYG",
		SensorCMYG2:      "CMYG2",
		SensorLRGB:       "LRGB",
	}
	return text[p]
}

func (p SensorType) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", p.String())), nil
}

type errString string

// Error implements error
func (err errString) Error() string {
	return string(err)
}

const (
	ErrNotConnected     errString = "camera is not connected"
	ErrNotReady         errString = "no image available"
	ErrInvalidParameter errString = "invalid parameter"
	ErrInvalidState     errString = "operation not allowed in current camera state"
	ErrConnectFailed    errString = "failed to connect camera"
	ErrGrabTimeout      errString = "timed out grabbing frame"
	ErrAcquisition      errString = "acquisition aborted"
)

// InvalidValueError reports a parameter out of range
type InvalidValueError struct {
	Name  string
	Value interface{}
	Min   interface{}
	Max   interface{}
}

func (err *InvalidValueError) Error() string {
	if err.Min != nil || err.Max != nil {
		return fmt.Sprintf("invalid value %v for %s, must be in [%v, %v]", err.Value, err.Name, err.Min, err.Max)
	}
	return fmt.Sprintf("invalid value %v for %s", err.Value, err.Name)
}

func (err *InvalidValueError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// ConnectError wraps the native failure that aborted Connect
type ConnectError struct {
	Step   string
	Status native.TS_CAMERA_STATUS
	Err    error
}

func (err *ConnectError) Error() string {
	return fmt.Sprintf("connect failed at %s: %v", err.Step, err.Err)
}

func (err *ConnectError) Is(target error) bool {
	return target == ErrConnectFailed
}

func (err *ConnectError) Unwrap() error {
	return err.Err
}

// GrabTimeoutError is returned when the frame could not be pulled
// from the library before the grab timeout expired
type GrabTimeoutError struct {
	Retries int
	Err     error
}

func (err *GrabTimeoutError) Error() string {
	return fmt.Sprintf("grab frame failed after %d retries: %v", err.Retries, err.Err)
}

func (err *GrabTimeoutError) Is(target error) bool {
	return target == ErrGrabTimeout
}

func (err *GrabTimeoutError) Unwrap() error {
	return err.Err
}
