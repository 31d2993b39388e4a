package native

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// SymbolLoader resolves exported symbols of a loaded library
type SymbolLoader interface {
	Symbol(name string) (uintptr, error)
}

// Functions holds one typed entry point per exported symbol.
// C BOOL arguments are passed as int32, HWND as uintptr.
type Functions struct {
	CameraInit            func(resolution TS_RESOLUTION, display, receive uintptr) TS_CAMERA_STATUS
	CameraUnInit          func() TS_CAMERA_STATUS
	CameraPlay            func() TS_CAMERA_STATUS
	CameraStop            func() TS_CAMERA_STATUS
	CameraGetImageSize    func(width, height *int32) TS_CAMERA_STATUS
	CameraGrabFrame       func(raw *byte) TS_CAMERA_STATUS
	CameraGetAnalogGain   func(gain *uint16) TS_CAMERA_STATUS
	CameraSetAnalogGain   func(gain uint16) TS_CAMERA_STATUS
	CameraGetRowTime      func(rowTime *float32) TS_CAMERA_STATUS
	CameraSetExposureTime func(exposure uint32) TS_CAMERA_STATUS
	CameraSetLongExpPower func(power int32) TS_CAMERA_STATUS
	CameraSetFrameSpeed   func(speed TS_SPEED_MODE) TS_CAMERA_STATUS
	CameraSetDataWide     func(wide int32) TS_CAMERA_STATUS
	CameraDisplayEnable   func(enable int32) TS_CAMERA_STATUS
}

type binding struct {
	name string
	fptr interface{}
}

func (f *Functions) table() []binding {
	return []binding{
		{"TS413IICameraInit", &f.CameraInit},
		{"TS413IICameraUnInit", &f.CameraUnInit},
		{"TS413IICameraPlay", &f.CameraPlay},
		{"TS413IICameraStop", &f.CameraStop},
		{"TS413IICameraGetImageSize", &f.CameraGetImageSize},
		{"TS413IICameraGrabFrame", &f.CameraGrabFrame},
		{"TS413IICameraGetAnalogGain", &f.CameraGetAnalogGain},
		{"TS413IICameraSetAnalogGain", &f.CameraSetAnalogGain},
		{"TS413IICameraGetRowTime", &f.CameraGetRowTime},
		{"TS413IICameraSetExposureTime", &f.CameraSetExposureTime},
		{"TS413IICameraSetLongExpPower", &f.CameraSetLongExpPower},
		{"TS413IICameraSetFrameSpeed", &f.CameraSetFrameSpeed},
		{"TS413IICameraSetDataWide", &f.CameraSetDataWide},
		{"TS413IICameraDisplayEnable", &f.CameraDisplayEnable},
	}
}

// Symbols lists the exported names the driver binds
func Symbols() []string {
	table := (&Functions{}).table()
	names := make([]string, 0, len(table))
	for _, b := range table {
		names = append(names, b.name)
	}
	return names
}

// Bind resolves every symbol before registering any function, so a
// missing export fails the whole binding.
func Bind(loader SymbolLoader) (f *Functions, returnErr error) {
	f = &Functions{}
	table := f.table()
	addrs := make([]uintptr, len(table))
	for i, b := range table {
		addr, err := loader.Symbol(b.name)
		if err != nil {
			return nil, err
		}
		addrs[i] = addr
	}
	// RegisterFunc panics on signatures it cannot marshal
	defer func() {
		if r := recover(); r != nil {
			f = nil
			returnErr = fmt.Errorf("failed to register native functions: %v", r)
		}
	}()
	for i, b := range table {
		purego.RegisterFunc(b.fptr, addrs[i])
	}
	return f, nil
}
