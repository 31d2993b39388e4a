package camera

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warpcomdev/ts413camera/internal/driver/frame"
	"github.com/warpcomdev/ts413camera/internal/driver/native"
	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
	"go.uber.org/zap/zaptest"
)

// recordingDriver records native calls for verification
type recordingDriver struct {
	mutex        sync.Mutex
	calls        []string
	fail         map[string]native.TS_CAMERA_STATUS
	width        int
	height       int
	raw          []byte
	rowTime      float32
	gain         uint16
	register     uint32
	longExp      bool
	grabFailures int
	panicOnGrab  bool
}

func newRecordingDriver(width, height int) *recordingDriver {
	return &recordingDriver{
		fail:    make(map[string]native.TS_CAMERA_STATUS),
		width:   width,
		height:  height,
		raw:     make([]byte, width*height*2),
		rowTime: 100,
	}
}

func (d *recordingDriver) record(name string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.calls = append(d.calls, name)
	if status, ok := d.fail[name]; ok {
		return native.Check(name, status)
	}
	return nil
}

func (d *recordingDriver) reset() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.calls = nil
}

func (d *recordingDriver) recorded() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *recordingDriver) count(name string) int {
	n := 0
	for _, c := range d.recorded() {
		if c == name {
			n++
		}
	}
	return n
}

func (d *recordingDriver) Init(resolution native.TS_RESOLUTION, receive uintptr) error {
	return d.record("Init")
}

func (d *recordingDriver) UnInit() error { return d.record("UnInit") }
func (d *recordingDriver) Play() error   { return d.record("Play") }
func (d *recordingDriver) Stop() error   { return d.record("Stop") }
func (d *recordingDriver) Close() error  { return nil }

func (d *recordingDriver) ImageSize() (int, int, error) {
	if err := d.record("ImageSize"); err != nil {
		return 0, 0, err
	}
	return d.width, d.height, nil
}

func (d *recordingDriver) GrabFrame(raw []byte) error {
	if err := d.record("GrabFrame"); err != nil {
		return err
	}
	if d.panicOnGrab {
		panic("grab exploded")
	}
	if d.grabFailures > 0 {
		d.grabFailures--
		return native.Check("GrabFrame", native.STATUS_HW_IO_ERROR)
	}
	copy(raw, d.raw)
	return nil
}

func (d *recordingDriver) AnalogGain() (uint16, error) {
	if err := d.record("AnalogGain"); err != nil {
		return 0, err
	}
	return d.gain, nil
}

func (d *recordingDriver) SetAnalogGain(gain uint16) error {
	if err := d.record("SetAnalogGain"); err != nil {
		return err
	}
	d.gain = gain
	return nil
}

func (d *recordingDriver) RowTime() (float32, error) {
	if err := d.record("RowTime"); err != nil {
		return 0, err
	}
	return d.rowTime, nil
}

func (d *recordingDriver) SetExposureTime(register uint32) error {
	if err := d.record("SetExposureTime"); err != nil {
		return err
	}
	d.register = register
	return nil
}

func (d *recordingDriver) SetLongExpPower(enable bool) error {
	if err := d.record("SetLongExpPower"); err != nil {
		return err
	}
	d.longExp = enable
	return nil
}

func (d *recordingDriver) SetFrameSpeed(speed native.TS_SPEED_MODE) error {
	return d.record("SetFrameSpeed")
}

func (d *recordingDriver) SetDataWide(wide bool) error {
	return d.record("SetDataWide")
}

func (d *recordingDriver) DisplayEnable(enable bool) error {
	return d.record("DisplayEnable")
}

var testStart = time.Date(2024, 3, 9, 21, 30, 15, 0, time.UTC)

func newTestSession(t *testing.T, drv *recordingDriver, options Options) *Session {
	t.Helper()
	if options.Now == nil {
		options.Now = func() time.Time { return testStart }
	}
	if options.GrabTimeout == 0 {
		options.GrabTimeout = 200 * time.Millisecond
	}
	return New(servicelog.Wrap(zaptest.NewLogger(t)), drv, options)
}

func connectedSession(t *testing.T, drv *recordingDriver, options Options) *Session {
	t.Helper()
	s := newTestSession(t, drv, options)
	require.NoError(t, s.Connect())
	drv.reset()
	return s
}

func TestConnectSequence(t *testing.T) {
	drv := newRecordingDriver(3032, 2018)
	s := newTestSession(t, drv, Options{})
	assert.Equal(t, StateDisconnected, s.State())

	require.NoError(t, s.Connect())
	assert.Equal(t, []string{
		"Init", "SetAnalogGain", "SetFrameSpeed", "SetDataWide", "DisplayEnable", "Play", "ImageSize",
	}, drv.recorded())
	assert.True(t, s.Connected())
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, uint16(DefaultGain), drv.gain)
	assert.Equal(t, 3032, s.NumX())
	assert.Equal(t, 2018, s.NumY())
	assert.Equal(t, 0, s.StartX())

	// Connecting twice does nothing
	drv.reset()
	require.NoError(t, s.Connect())
	assert.Empty(t, drv.recorded())
}

func TestConnectInitFails(t *testing.T) {
	drv := newRecordingDriver(3032, 2018)
	drv.fail["Init"] = native.STATUS_NO_DEVICE_FIND
	s := newTestSession(t, drv, Options{})

	err := s.Connect()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectFailed))
	assert.True(t, errors.Is(err, native.STATUS_NO_DEVICE_FIND))
	var connectErr *ConnectError
	require.True(t, errors.As(err, &connectErr))
	assert.Equal(t, native.STATUS_NO_DEVICE_FIND, connectErr.Status)
	assert.False(t, s.Connected())
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, []string{"Init"}, drv.recorded())
}

func TestConnectSetupFailsReleases(t *testing.T) {
	drv := newRecordingDriver(3032, 2018)
	drv.fail["Play"] = native.STATUS_HW_IO_ERROR
	s := newTestSession(t, drv, Options{})

	err := s.Connect()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectFailed))
	assert.Equal(t, StateDisconnected, s.State())
	calls := drv.recorded()
	assert.Equal(t, []string{"Stop", "UnInit"}, calls[len(calls)-2:])
}

func TestDisconnect(t *testing.T) {
	drv := newRecordingDriver(8, 4)
	s := connectedSession(t, drv, Options{})
	drv.fail["Stop"] = native.STATUS_HW_IO_ERROR

	require.NoError(t, s.Disconnect())
	assert.Equal(t, []string{"Stop", "UnInit"}, drv.recorded())
	assert.False(t, s.Connected())
	assert.Equal(t, StateDisconnected, s.State())

	drv.reset()
	require.NoError(t, s.Disconnect())
	assert.Empty(t, drv.recorded())
}

func TestArmProgramsRegister(t *testing.T) {
	drv := newRecordingDriver(8, 4)
	s := connectedSession(t, drv, Options{})

	require.NoError(t, s.Arm(1.5, true))
	assert.Equal(t, StateExposing, s.State())
	assert.False(t, s.ImageReady())
	assert.Equal(t, uint32(15000), drv.register)
	assert.False(t, drv.longExp)
	assert.Equal(t, []string{"RowTime", "SetLongExpPower", "SetExposureTime"}, drv.recorded())

	// Same duration is not reprogrammed
	drv.reset()
	require.NoError(t, s.Arm(1.5, true))
	assert.Empty(t, drv.recorded())

	require.NoError(t, s.Arm(45, false))
	assert.Equal(t, uint32(450000), drv.register)
	assert.True(t, drv.longExp)

	// Exactly the threshold is not a long exposure
	require.NoError(t, s.Arm(30, false))
	assert.False(t, drv.longExp)

	drv.rowTime = 721.5
	require.NoError(t, s.Arm(0.001, true))
	assert.Equal(t, uint32(math.Round(0.001*1e6/721.5)), drv.register)
}

func TestArmInvalidParameters(t *testing.T) {
	drv := newRecordingDriver(8, 4)
	s := connectedSession(t, drv, Options{})

	for _, duration := range []float64{-0.5, math.NaN(), math.Inf(1)} {
		err := s.Arm(duration, true)
		assert.True(t, errors.Is(err, ErrInvalidParameter), "duration %v", duration)
		assert.Equal(t, StateIdle, s.State())
	}

	s.SetNumX(CCDWidth + 1)
	assert.True(t, errors.Is(s.Arm(1, true), ErrInvalidParameter))
	s.SetNumX(8)

	s.SetStartY(-1)
	assert.True(t, errors.Is(s.Arm(1, true), ErrInvalidParameter))
	s.SetStartY(CCDHeight)
	require.NoError(t, s.Arm(1, true))

	assert.Equal(t, StateExposing, s.State())
}

func TestArmNotConnected(t *testing.T) {
	s := newTestSession(t, newRecordingDriver(8, 4), Options{})
	assert.ErrorIs(t, s.Arm(1, true), ErrNotConnected)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestArmNativeFailureKeepsState(t *testing.T) {
	drv := newRecordingDriver(8, 4)
	s := connectedSession(t, drv, Options{})

	drv.fail["RowTime"] = native.STATUS_HW_IO_ERROR
	err := s.Arm(2, true)
	assert.True(t, errors.Is(err, native.STATUS_HW_IO_ERROR))
	assert.Equal(t, StateIdle, s.State())

	// The failed duration must be programmed on the next attempt
	delete(drv.fail, "RowTime")
	drv.reset()
	require.NoError(t, s.Arm(2, true))
	assert.Equal(t, 1, drv.count("SetExposureTime"))

	drv.rowTime = 0
	err = s.Arm(3, true)
	assert.True(t, errors.Is(err, ErrInvalidParameter))
	assert.Equal(t, StateExposing, s.State())
}

func TestArmPartialProgramIsRepaired(t *testing.T) {
	drv := newRecordingDriver(8, 4)
	s := connectedSession(t, drv, Options{})

	require.NoError(t, s.Arm(10, true))
	assert.False(t, drv.longExp)

	// Long exposure mode switches on, then the register write fails
	drv.fail["SetExposureTime"] = native.STATUS_HW_IO_ERROR
	err := s.Arm(40, true)
	assert.True(t, errors.Is(err, native.STATUS_HW_IO_ERROR))
	assert.True(t, drv.longExp)

	delete(drv.fail, "SetExposureTime")
	drv.reset()
	require.NoError(t, s.Arm(10, true))
	assert.Equal(t, []string{"RowTime", "SetLongExpPower", "SetExposureTime"}, drv.recorded())
	assert.False(t, drv.longExp)
	assert.Equal(t, uint32(100000), drv.register)
}

func TestAcquisitionEndToEnd(t *testing.T) {
	drv := newRecordingDriver(2, 1)
	drv.raw = []byte{0x01, 0x02, 0x00, 0xFF}
	var published []FrameInfo
	s := connectedSession(t, drv, Options{OnFrame: func(info FrameInfo) {
		published = append(published, info)
	}})

	_, err := s.Image()
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = s.LastExposureDuration()
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = s.LastExposureStartTime()
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, s.Arm(2.5, true))
	drv.reset()
	s.OnAcquisitionSignal()

	assert.Equal(t, []string{"ImageSize", "Stop", "GrabFrame", "Play"}, drv.recorded())
	assert.Equal(t, StateIdle, s.State())
	assert.True(t, s.ImageReady())
	img, err := s.Image()
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x0102, 0x00FF}, img.Row(0))

	duration, err := s.LastExposureDuration()
	require.NoError(t, err)
	assert.Equal(t, 2.5, duration)
	start, err := s.LastExposureStartTime()
	require.NoError(t, err)
	assert.Equal(t, testStart, start)
	assert.Equal(t, "2024-03-09T21:30:15", start.Format(StartTimeLayout))

	require.Len(t, published, 1)
	assert.Equal(t, 2, published[0].Width)
	assert.True(t, published[0].Light)
	assert.Equal(t, uint16(DefaultGain), published[0].Gain)

	// Arming clears the ready flag but keeps last exposure info
	require.NoError(t, s.Arm(2.5, false))
	assert.False(t, s.ImageReady())
	_, err = s.Image()
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = s.LastExposureDuration()
	assert.NoError(t, err)
}

func TestSnapshotIsDetached(t *testing.T) {
	drv := newRecordingDriver(2, 1)
	drv.raw = []byte{0x00, 0x10, 0x00, 0x20}
	s := connectedSession(t, drv, Options{})

	_, _, err := s.Snapshot()
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, s.Arm(1, true))
	s.OnAcquisitionSignal()
	info, m, err := s.Snapshot()
	require.NoError(t, err)
	last, err := s.LastFrame()
	require.NoError(t, err)
	assert.Equal(t, last.ID, info.ID)
	assert.Equal(t, []uint16{0x10, 0x20}, m.Pix)

	// The next download does not touch the copy
	drv.raw = []byte{0x00, 0x30, 0x00, 0x40}
	require.NoError(t, s.Arm(1, true))
	s.OnAcquisitionSignal()
	assert.Equal(t, []uint16{0x10, 0x20}, m.Pix)
}

func TestSignalIgnoredOutsideExposing(t *testing.T) {
	drv := newRecordingDriver(2, 1)
	s := newTestSession(t, drv, Options{})

	s.OnAcquisitionSignal()
	assert.Empty(t, drv.recorded())
	assert.Equal(t, StateDisconnected, s.State())

	require.NoError(t, s.Connect())
	drv.reset()
	s.OnAcquisitionSignal()
	assert.Empty(t, drv.recorded())
	assert.Equal(t, StateIdle, s.State())
	assert.False(t, s.ImageReady())

	// A duplicate signal after download is ignored too
	require.NoError(t, s.Arm(1, true))
	s.OnAcquisitionSignal()
	drv.reset()
	s.OnAcquisitionSignal()
	assert.Empty(t, drv.recorded())
}

func TestFrameBufferReuse(t *testing.T) {
	drv := newRecordingDriver(4, 3)
	s := connectedSession(t, drv, Options{})

	pixel := func() *uint16 {
		var p *uint16
		require.NoError(t, s.WithImage(func(info FrameInfo, m *frame.Matrix) error {
			p = &m.Pix[0]
			return nil
		}))
		return p
	}

	require.NoError(t, s.Arm(1, true))
	s.OnAcquisitionSignal()
	first := pixel()
	rawLen := len(s.buffer.raw)
	assert.GreaterOrEqual(t, rawLen, frame.RawSize(4, 3))

	require.NoError(t, s.Arm(1, true))
	s.OnAcquisitionSignal()
	assert.Same(t, first, pixel())

	drv.width, drv.height = 6, 5
	drv.raw = make([]byte, 6*5*2)
	require.NoError(t, s.Arm(1, true))
	s.OnAcquisitionSignal()
	assert.NotSame(t, first, pixel())
	assert.GreaterOrEqual(t, len(s.buffer.raw), frame.RawSize(6, 5))
	img, err := s.Image()
	require.NoError(t, err)
	assert.Equal(t, 6, img.Width)
	assert.Equal(t, 5, img.Height)
}

func TestGrabRetriesTransientFailures(t *testing.T) {
	drv := newRecordingDriver(2, 1)
	drv.grabFailures = 3
	s := connectedSession(t, drv, Options{})

	require.NoError(t, s.Arm(1, true))
	s.OnAcquisitionSignal()
	assert.Equal(t, 4, drv.count("GrabFrame"))
	assert.True(t, s.ImageReady())
	assert.Equal(t, StateIdle, s.State())
}

func TestGrabTimeout(t *testing.T) {
	drv := newRecordingDriver(2, 1)
	drv.fail["GrabFrame"] = native.STATUS_HW_IO_ERROR
	s := connectedSession(t, drv, Options{GrabTimeout: 20 * time.Millisecond})

	s.buffer.ensure(2, 1)
	err := s.grab()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGrabTimeout))
	assert.True(t, errors.Is(err, native.STATUS_HW_IO_ERROR))
	assert.Greater(t, drv.count("GrabFrame"), 1)

	// The aborted download resumes streaming and returns to idle
	require.NoError(t, s.Arm(1, true))
	drv.reset()
	s.OnAcquisitionSignal()
	assert.False(t, s.ImageReady())
	assert.Equal(t, StateIdle, s.State())
	calls := drv.recorded()
	assert.Equal(t, "Play", calls[len(calls)-1])
}

func TestAbortedDownloadWithoutResume(t *testing.T) {
	drv := newRecordingDriver(2, 1)
	drv.fail["GrabFrame"] = native.STATUS_HW_IO_ERROR
	s := connectedSession(t, drv, Options{GrabTimeout: 10 * time.Millisecond})

	require.NoError(t, s.Arm(1, true))
	drv.fail["Play"] = native.STATUS_HW_IO_ERROR
	s.OnAcquisitionSignal()
	assert.Equal(t, StateDownloading, s.State())
	assert.ErrorIs(t, s.Arm(1, true), ErrInvalidState)

	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestAcquisitionRecoversPanic(t *testing.T) {
	drv := newRecordingDriver(2, 1)
	drv.panicOnGrab = true
	s := connectedSession(t, drv, Options{})

	require.NoError(t, s.Arm(1, true))
	assert.NotPanics(t, s.OnAcquisitionSignal)
	assert.False(t, s.ImageReady())
	assert.Equal(t, StateIdle, s.State())
}

func TestDeviceLost(t *testing.T) {
	for _, target := range []CameraState{StateDisconnected, StateIdle, StateExposing, StateDownloading} {
		t.Run(target.String(), func(t *testing.T) {
			drv := newRecordingDriver(2, 1)
			s := newTestSession(t, drv, Options{GrabTimeout: 10 * time.Millisecond})
			if target != StateDisconnected {
				require.NoError(t, s.Connect())
			}
			if target == StateExposing || target == StateDownloading {
				require.NoError(t, s.Arm(1, true))
			}
			if target == StateDownloading {
				drv.fail["GrabFrame"] = native.STATUS_HW_IO_ERROR
				drv.fail["Play"] = native.STATUS_HW_IO_ERROR
				s.OnAcquisitionSignal()
			}
			require.Equal(t, target, s.State())

			s.OnDeviceLost()
			assert.Equal(t, StateDisconnected, s.State())
			assert.False(t, s.Connected())
			assert.False(t, s.ImageReady())

			// Lost twice is harmless
			s.OnDeviceLost()
			assert.Equal(t, StateDisconnected, s.State())
		})
	}
}

func TestGain(t *testing.T) {
	drv := newRecordingDriver(2, 1)
	s := newTestSession(t, drv, Options{Gain: 100})

	_, err := s.Gain()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, s.SetGain(200), ErrNotConnected)

	require.NoError(t, s.Connect())
	gain, err := s.Gain()
	require.NoError(t, err)
	assert.Equal(t, uint16(100), gain)

	assert.True(t, errors.Is(s.SetGain(GainMin-1), ErrInvalidParameter))
	assert.True(t, errors.Is(s.SetGain(GainMax+1), ErrInvalidParameter))
	require.NoError(t, s.SetGain(GainMax))
	assert.Equal(t, uint16(GainMax), drv.gain)

	require.NoError(t, s.Arm(1, true))
	s.OnAcquisitionSignal()
	last, err := s.LastFrame()
	require.NoError(t, err)
	assert.Equal(t, uint16(GainMax), last.Gain)
}

func TestCapabilities(t *testing.T) {
	info := Capabilities()
	assert.Equal(t, 3032, info.CameraXSize)
	assert.Equal(t, 2018, info.CameraYSize)
	assert.Equal(t, SensorRGGB, info.SensorType)
	assert.Equal(t, "ICX413AQ-S", info.SensorName)
	assert.Equal(t, "Exposing", StateExposing.String())
}

func TestConcurrentReadersSeeWholeFrames(t *testing.T) {
	const width, height = 16, 8
	drv := newRecordingDriver(width, height)
	expected := make([]uint16, width*height)
	for i := range expected {
		expected[i] = uint16(i*37 + 1)
		drv.raw[2*i] = byte(expected[i] >> 8)
		drv.raw[2*i+1] = byte(expected[i])
	}
	s := connectedSession(t, drv, Options{})

	const rounds = 200
	done := make(chan struct{})
	var wg sync.WaitGroup
	// Acquisition loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < rounds; i++ {
			if err := s.Arm(float64(i%3+1), true); err != nil {
				t.Errorf("arm failed: %v", err)
				return
			}
			s.OnAcquisitionSignal()
		}
	}()
	// Competing client that arms while downloads run
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			err := s.Arm(1, false)
			assert.NotErrorIs(t, err, ErrInvalidState)
		}
	}()
	// Readers
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				state := s.State()
				assert.Contains(t, []CameraState{StateIdle, StateExposing}, state)
				if !s.ImageReady() {
					continue
				}
				img, err := s.Image()
				if errors.Is(err, ErrNotReady) {
					// re-armed between the two calls
					continue
				}
				if assert.NoError(t, err) {
					assert.Equal(t, width, img.Width)
					assert.Equal(t, height, img.Height)
					assert.Equal(t, expected, img.Pix)
				}
			}
		}()
	}
	wg.Wait()
	assert.Contains(t, []CameraState{StateIdle, StateExposing}, s.State())
}
