package native

import (
	"fmt"
)

// TS_CAMERA_STATUS is the result code returned by every TS413IICamera* call.
// Only STATUS_OK means success.
type TS_CAMERA_STATUS int32

const (
	STATUS_OK                       TS_CAMERA_STATUS = 1
	STATUS_INTERNAL_ERROR           TS_CAMERA_STATUS = 0
	STATUS_NO_DEVICE_FIND           TS_CAMERA_STATUS = -1
	STATUS_NOT_ENOUGH_SYSTEM_MEMORY TS_CAMERA_STATUS = -2
	STATUS_HW_IO_ERROR              TS_CAMERA_STATUS = -3
	STATUS_PARAMETER_INVALID        TS_CAMERA_STATUS = -4
	STATUS_PARAMETER_OUT_OF_BOUND   TS_CAMERA_STATUS = -5
	STATUS_FILE_CREATE_ERROR        TS_CAMERA_STATUS = -6
	STATUS_FILE_INVALID             TS_CAMERA_STATUS = -7
)

func (p TS_CAMERA_STATUS) String() string {
	text := map[TS_CAMERA_STATUS]string{
		STATUS_OK:                       "STATUS_OK",
		STATUS_INTERNAL_ERROR:           "STATUS_INTERNAL_ERROR",
		STATUS_NO_DEVICE_FIND:           "STATUS_NO_DEVICE_FIND",
		STATUS_NOT_ENOUGH_SYSTEM_MEMORY: "STATUS_NOT_ENOUGH_SYSTEM_MEMORY",
		STATUS_HW_IO_ERROR:              "STATUS_HW_IO_ERROR",
		STATUS_PARAMETER_INVALID:        "STATUS_PARAMETER_INVALID",
		STATUS_PARAMETER_OUT_OF_BOUND:   "STATUS_PARAMETER_OUT_OF_BOUND",
		STATUS_FILE_CREATE_ERROR:        "STATUS_FILE_CREATE_ERROR",
		STATUS_FILE_INVALID:             "STATUS_FILE_INVALID",
	}
	if s, ok := text[p]; ok {
		return s
	}
	return fmt.Sprintf("STATUS_UNKNOWN(%d)", int32(p))
}

func (p TS_CAMERA_STATUS) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", p.String())), nil
}

func (p TS_CAMERA_STATUS) Error() string {
	return p.String()
}

// StatusError reports a non-OK status returned by a native call
type StatusError struct {
	Call   string
	Status TS_CAMERA_STATUS
}

func (err *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %s", err.Call, err.Status.String())
}

func (err *StatusError) Unwrap() error {
	return err.Status
}

// Check turns a native status into an error, nil for STATUS_OK
func Check(call string, status TS_CAMERA_STATUS) error {
	if status == STATUS_OK {
		return nil
	}
	return &StatusError{Call: call, Status: status}
}

// TS_RESOLUTION selects the sensor readout resolution at init time
type TS_RESOLUTION uint8

const (
	TS413II_3032_2018 TS_RESOLUTION = iota
	TS413II_1516_1008
	TS413II_1008_672
	TS413II_756_504
)

func (p TS_RESOLUTION) String() string {
	text := map[TS_RESOLUTION]string{
		TS413II_3032_2018: "TS413II_3032_2018",
		TS413II_1516_1008: "TS413II_1516_1008",
		TS413II_1008_672:  "TS413II_1008_672",
		TS413II_756_504:   "TS413II_756_504",
	}
	return text[p]
}

func (p TS_RESOLUTION) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", p.String())), nil
}

// TS_SPEED_MODE selects the sensor readout clock
type TS_SPEED_MODE uint8

const (
	SPEED_MODE_NORMAL TS_SPEED_MODE = iota
	SPEED_MODE_A
	SPEED_MODE_B
	SPEED_MODE_C
	SPEED_MODE_D
	SPEED_MODE_E
	SPEED_MODE_F
	SPEED_MODE_G
	SPEED_MODE_MAX
)

func (p TS_SPEED_MODE) String() string {
	text := map[TS_SPEED_MODE]string{
		SPEED_MODE_NORMAL: "SPEED_MODE_NORMAL",
		SPEED_MODE_A:      "SPEED_MODE_A",
		SPEED_MODE_B:      "SPEED_MODE_B",
		SPEED_MODE_C:      "SPEED_MODE_C",
		SPEED_MODE_D:      "SPEED_MODE_D",
		SPEED_MODE_E:      "SPEED_MODE_E",
		SPEED_MODE_F:      "SPEED_MODE_F",
		SPEED_MODE_G:      "SPEED_MODE_G",
		SPEED_MODE_MAX:    "SPEED_MODE_MAX",
	}
	return text[p]
}

func (p TS_SPEED_MODE) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", p.String())), nil
}
