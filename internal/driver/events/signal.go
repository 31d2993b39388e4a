// Package events carries hardware notifications from the library's
// event context to the camera session.
package events

import (
	"fmt"
)

// Signal raised by the camera library
type Signal int

const (
	SignalDataReady Signal = iota
	SignalCameraLost
)

func (p Signal) String() string {
	text := map[Signal]string{
		SignalDataReady:  "dataready",
		SignalCameraLost: "lost",
	}
	return text[p]
}

func (p Signal) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", p.String())), nil
}

// ParseSignal is the inverse of Signal.String
func ParseSignal(name string) (Signal, bool) {
	switch name {
	case "dataready":
		return SignalDataReady, true
	case "lost":
		return SignalCameraLost, true
	}
	return 0, false
}

// Window messages posted by the library to the receive handle
const (
	WM_USER         = 0x0400
	WM_RECEIVE_DATA = WM_USER + 101
	WM_LOST_CAMERA  = WM_USER + 102
	WM_DEVICECHANGE = 0x0219

	DBT_DEVICEARRIVAL        = 0x8000
	DBT_DEVICEREMOVECOMPLETE = 0x8004
)

// FromMessage maps a window message to a signal. Device arrival and
// removal are both reported as a lost camera, the session must be
// reconnected in either case.
func FromMessage(msg uint32, wParam uintptr) (Signal, bool) {
	switch msg {
	case WM_RECEIVE_DATA:
		return SignalDataReady, true
	case WM_LOST_CAMERA:
		return SignalCameraLost, true
	case WM_DEVICECHANGE:
		if wParam == DBT_DEVICEARRIVAL || wParam == DBT_DEVICEREMOVECOMPLETE {
			return SignalCameraLost, true
		}
	}
	return 0, false
}

// Handler receives signals, one at a time
type Handler interface {
	OnAcquisitionSignal()
	OnDeviceLost()
}
