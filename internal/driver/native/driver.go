package native

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// Driver is the typed call surface of the camera library.
// Every method returns a *StatusError when the library reports
// anything but STATUS_OK.
type Driver interface {
	Init(resolution TS_RESOLUTION, receive uintptr) error
	UnInit() error
	Play() error
	Stop() error
	ImageSize() (width, height int, err error)
	GrabFrame(raw []byte) error
	AnalogGain() (uint16, error)
	SetAnalogGain(gain uint16) error
	RowTime() (float32, error)
	SetExposureTime(register uint32) error
	SetLongExpPower(enable bool) error
	SetFrameSpeed(speed TS_SPEED_MODE) error
	SetDataWide(wide bool) error
	DisplayEnable(enable bool) error
	Close() error
}

// Camera implements Driver on top of the bound native functions
type Camera struct {
	lib    *Library
	fn     *Functions
	mutex  sync.RWMutex
	closed bool
}

// Open loads the library at path and binds all the camera functions
func Open(path string) (*Camera, error) {
	lib, err := Load(path)
	if err != nil {
		return nil, err
	}
	fn, err := Bind(lib)
	if err != nil {
		return nil, errors.Join(err, lib.Close())
	}
	return &Camera{lib: lib, fn: fn}, nil
}

func boolArg(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// call runs a native function unless the library has been closed
func (c *Camera) call(name string, f func() TS_CAMERA_STATUS) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.closed {
		return fmt.Errorf("%s: %w", name, ErrClosed)
	}
	return Check(name, f())
}

func (c *Camera) Init(resolution TS_RESOLUTION, receive uintptr) error {
	return c.call("TS413IICameraInit", func() TS_CAMERA_STATUS {
		// No preview window, display is disabled right after init
		return c.fn.CameraInit(resolution, 0, receive)
	})
}

func (c *Camera) UnInit() error {
	return c.call("TS413IICameraUnInit", c.fn.CameraUnInit)
}

func (c *Camera) Play() error {
	return c.call("TS413IICameraPlay", c.fn.CameraPlay)
}

func (c *Camera) Stop() error {
	return c.call("TS413IICameraStop", c.fn.CameraStop)
}

func (c *Camera) ImageSize() (int, int, error) {
	var width, height int32
	err := c.call("TS413IICameraGetImageSize", func() TS_CAMERA_STATUS {
		return c.fn.CameraGetImageSize(&width, &height)
	})
	return int(width), int(height), err
}

// GrabFrame copies the last frame into raw. The buffer must be
// big enough for the current geometry plus the library margin.
func (c *Camera) GrabFrame(raw []byte) error {
	if len(raw) == 0 {
		return Check("TS413IICameraGrabFrame", STATUS_PARAMETER_INVALID)
	}
	err := c.call("TS413IICameraGrabFrame", func() TS_CAMERA_STATUS {
		return c.fn.CameraGrabFrame(&raw[0])
	})
	runtime.KeepAlive(raw)
	return err
}

func (c *Camera) AnalogGain() (uint16, error) {
	var gain uint16
	err := c.call("TS413IICameraGetAnalogGain", func() TS_CAMERA_STATUS {
		return c.fn.CameraGetAnalogGain(&gain)
	})
	return gain, err
}

func (c *Camera) SetAnalogGain(gain uint16) error {
	return c.call("TS413IICameraSetAnalogGain", func() TS_CAMERA_STATUS {
		return c.fn.CameraSetAnalogGain(gain)
	})
}

func (c *Camera) RowTime() (float32, error) {
	var rowTime float32
	err := c.call("TS413IICameraGetRowTime", func() TS_CAMERA_STATUS {
		return c.fn.CameraGetRowTime(&rowTime)
	})
	return rowTime, err
}

func (c *Camera) SetExposureTime(register uint32) error {
	return c.call("TS413IICameraSetExposureTime", func() TS_CAMERA_STATUS {
		return c.fn.CameraSetExposureTime(register)
	})
}

func (c *Camera) SetLongExpPower(enable bool) error {
	return c.call("TS413IICameraSetLongExpPower", func() TS_CAMERA_STATUS {
		return c.fn.CameraSetLongExpPower(boolArg(enable))
	})
}

func (c *Camera) SetFrameSpeed(speed TS_SPEED_MODE) error {
	return c.call("TS413IICameraSetFrameSpeed", func() TS_CAMERA_STATUS {
		return c.fn.CameraSetFrameSpeed(speed)
	})
}

func (c *Camera) SetDataWide(wide bool) error {
	return c.call("TS413IICameraSetDataWide", func() TS_CAMERA_STATUS {
		return c.fn.CameraSetDataWide(boolArg(wide))
	})
}

func (c *Camera) DisplayEnable(enable bool) error {
	return c.call("TS413IICameraDisplayEnable", func() TS_CAMERA_STATUS {
		return c.fn.CameraDisplayEnable(boolArg(enable))
	})
}

// Close waits for in-flight calls and unloads the library.
// Further calls fail with ErrClosed.
func (c *Camera) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.lib.Close()
}
