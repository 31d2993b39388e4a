package camera

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warpcomdev/ts413camera/internal/driver/frame"
	"github.com/warpcomdev/ts413camera/internal/driver/native"
	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
)

const (
	DefaultGrabTimeout  = 10 * time.Second
	DefaultGrabInterval = time.Millisecond
	maxGrabInterval     = 50 * time.Millisecond
)

// Options of a camera session
type Options struct {
	// Receive is the host handle the library notifies on frame completion
	Receive uintptr
	// Gain applied on connect
	Gain         uint16
	GrabTimeout  time.Duration
	GrabInterval time.Duration
	// OnFrame is called after a frame is published, outside the session lock
	OnFrame func(FrameInfo)
	Now     func() time.Time
}

// FrameInfo describes a completed exposure
type FrameInfo struct {
	ID       uuid.UUID `json:"id"`
	Start    time.Time `json:"start"`
	Duration float64   `json:"duration"`
	Light    bool      `json:"light"`
	Gain     uint16    `json:"gain"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
}

type exposure struct {
	start    time.Time
	duration float64
	light    bool
	gain     uint16
}

type frameBuffer struct {
	raw    []byte
	matrix *frame.Matrix
}

// ensure the raw buffer fits the geometry plus margin, and the matrix
// has the right dimensions. Storage is only reallocated when needed.
func (b *frameBuffer) ensure(width, height int) {
	if size := frame.RawSize(width, height); len(b.raw) < size {
		b.raw = make([]byte, size)
	}
	if b.matrix == nil || b.matrix.Width != width || b.matrix.Height != height {
		b.matrix = frame.NewMatrix(width, height)
	}
}

// Session drives one camera through the native library.
// All state changes happen while holding the mutex, including the
// whole acquisition protocol.
type Session struct {
	logger  servicelog.Logger
	driver  native.Driver
	options Options
	mutex   sync.Mutex

	connected bool
	state     CameraState
	width     int
	height    int
	numX      int
	numY      int
	startX    int
	startY    int
	gain      uint16

	armed         bool
	armedDuration float64
	rowTime       float32
	current       exposure

	imageReady bool
	hasLast    bool
	last       FrameInfo
	buffer     frameBuffer
}

// New session over the given driver. The session starts disconnected.
func New(logger servicelog.Logger, driver native.Driver, options Options) *Session {
	if options.Gain == 0 {
		options.Gain = DefaultGain
	}
	if options.GrabTimeout <= 0 {
		options.GrabTimeout = DefaultGrabTimeout
	}
	if options.GrabInterval <= 0 {
		options.GrabInterval = DefaultGrabInterval
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	registerInfo(Capabilities())
	cameraState.Set(float64(StateDisconnected))
	cameraConnected.Set(0)
	return &Session{
		logger:  logger,
		driver:  driver,
		options: options,
		gain:    options.Gain,
		numX:    CCDWidth,
		numY:    CCDHeight,
	}
}

func (s *Session) setState(state CameraState) {
	if s.state != state {
		s.logger.Debug("camera state change", servicelog.Stringer("from", s.state), servicelog.Stringer("to", state))
	}
	s.state = state
	cameraState.Set(float64(state))
}

// Connect initializes the camera and starts streaming
func (s *Session) Connect() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.connected {
		return nil
	}
	if err := s.driver.Init(native.TS413II_3032_2018, s.options.Receive); err != nil {
		s.logger.Error("failed to init camera", servicelog.Error(err))
		return connectError("Init", err)
	}
	width, height, err := s.setup()
	if err != nil {
		s.logger.Error("failed to setup camera", servicelog.Error(err))
		s.release()
		return err
	}
	s.connected = true
	s.width, s.height = width, height
	s.numX, s.numY = width, height
	s.startX, s.startY = 0, 0
	s.armed = false
	s.imageReady = false
	s.hasLast = false
	s.setState(StateIdle)
	cameraConnected.Set(1)
	s.logger.Info("camera connected", servicelog.Int("width", width), servicelog.Int("height", height))
	return nil
}

func connectError(step string, err error) error {
	connectErr := &ConnectError{Step: step, Err: err}
	if status, ok := statusOf(err); ok {
		connectErr.Status = status
	}
	return connectErr
}

func statusOf(err error) (native.TS_CAMERA_STATUS, bool) {
	var statusErr *native.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status, true
	}
	return native.STATUS_INTERNAL_ERROR, false
}

// setup runs the connect sequence after a successful init
func (s *Session) setup() (int, int, error) {
	if err := s.driver.SetAnalogGain(s.gain); err != nil {
		return 0, 0, connectError("SetAnalogGain", err)
	}
	if err := s.driver.SetFrameSpeed(native.SPEED_MODE_B); err != nil {
		return 0, 0, connectError("SetFrameSpeed", err)
	}
	if err := s.driver.SetDataWide(true); err != nil {
		return 0, 0, connectError("SetDataWide", err)
	}
	if err := s.driver.DisplayEnable(false); err != nil {
		return 0, 0, connectError("DisplayEnable", err)
	}
	if err := s.driver.Play(); err != nil {
		return 0, 0, connectError("Play", err)
	}
	width, height, err := s.driver.ImageSize()
	if err != nil {
		return 0, 0, connectError("ImageSize", err)
	}
	return width, height, nil
}

// release stops and uninits the camera, logging failures
func (s *Session) release() {
	if err := s.driver.Stop(); err != nil {
		s.logger.Debug("failed to stop camera", servicelog.Error(err))
	}
	if err := s.driver.UnInit(); err != nil {
		s.logger.Debug("failed to uninit camera", servicelog.Error(err))
	}
}

// clear the connection state. Must be called with the mutex held.
func (s *Session) clear() {
	s.connected = false
	s.armed = false
	s.imageReady = false
	s.setState(StateDisconnected)
	cameraConnected.Set(0)
}

// Disconnect stops and uninits the camera. It always leaves the session
// disconnected; native failures are only logged.
func (s *Session) Disconnect() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.connected {
		return nil
	}
	s.release()
	s.clear()
	s.logger.Info("camera disconnected")
	return nil
}

// Connected is true between a successful Connect and Disconnect
func (s *Session) Connected() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.connected
}

// State of the session
func (s *Session) State() CameraState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

func (s *Session) checkGeometry() error {
	checks := []struct {
		name  string
		value int
		max   int
	}{
		{"NumX", s.numX, CCDWidth},
		{"NumY", s.numY, CCDHeight},
		{"StartX", s.startX, CCDWidth},
		{"StartY", s.startY, CCDHeight},
	}
	for _, c := range checks {
		if c.value < 0 || c.value > c.max {
			return &InvalidValueError{Name: c.name, Value: c.value, Min: 0, Max: c.max}
		}
	}
	return nil
}

// Arm starts an exposure of the given duration in seconds. The exposure
// register is only reprogrammed when the duration changes.
func (s *Session) Arm(duration float64, light bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	if s.state == StateDownloading {
		return ErrInvalidState
	}
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration < 0 {
		return &InvalidValueError{Name: "Duration", Value: duration}
	}
	if err := s.checkGeometry(); err != nil {
		return err
	}
	logger := s.logger.With(servicelog.Float64("duration", duration), servicelog.Bool("light", light))
	if !s.armed || duration != s.armedDuration {
		// a partial program leaves the device in an unknown mode
		s.armed = false
		if err := s.program(logger, duration); err != nil {
			logger.Error("failed to program exposure", servicelog.Error(err))
			return err
		}
		s.armed = true
		s.armedDuration = duration
	}
	s.current = exposure{
		start:    s.options.Now().UTC(),
		duration: duration,
		light:    light,
		gain:     s.gain,
	}
	s.imageReady = false
	s.setState(StateExposing)
	exposuresTotal.Inc()
	logger.Debug("exposure armed")
	return nil
}

// program the exposure register from the device row time
func (s *Session) program(logger servicelog.Logger, duration float64) error {
	rowTime, err := s.driver.RowTime()
	if err != nil {
		return err
	}
	if rowTime <= 0 || math.IsNaN(float64(rowTime)) {
		return &InvalidValueError{Name: "RowTime", Value: rowTime}
	}
	register := math.Round(duration * 1e6 / float64(rowTime))
	if register > math.MaxUint32 {
		return &InvalidValueError{Name: "Duration", Value: duration, Min: 0, Max: float64(math.MaxUint32) * float64(rowTime) / 1e6}
	}
	if err := s.driver.SetLongExpPower(duration > LongExposureSeconds); err != nil {
		return err
	}
	if err := s.driver.SetExposureTime(uint32(register)); err != nil {
		return err
	}
	s.rowTime = rowTime
	logger.Debug("exposure programmed", servicelog.Float64("rowTime", float64(rowTime)), servicelog.Uint32("register", uint32(register)))
	return nil
}

// ImageReady is true once a frame has been published after the last Arm
func (s *Session) ImageReady() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.imageReady
}

// Image returns a copy of the published frame
func (s *Session) Image() (*frame.Matrix, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.imageReady || s.buffer.matrix == nil {
		return nil, ErrNotReady
	}
	return s.buffer.matrix.Clone(), nil
}

// WithImage runs f over the published frame while holding the session
// lock. The matrix must not be retained after f returns.
func (s *Session) WithImage(f func(FrameInfo, *frame.Matrix) error) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.imageReady || s.buffer.matrix == nil {
		return ErrNotReady
	}
	return f(s.last, s.buffer.matrix)
}

// Snapshot returns a copy of the published frame with its metadata.
// Slow consumers encode the copy without holding the session lock.
func (s *Session) Snapshot() (FrameInfo, *frame.Matrix, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.imageReady || s.buffer.matrix == nil {
		return FrameInfo{}, nil, ErrNotReady
	}
	return s.last, s.buffer.matrix.Clone(), nil
}

// LastFrame returns the metadata of the last completed exposure
func (s *Session) LastFrame() (FrameInfo, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.hasLast {
		return FrameInfo{}, ErrNotReady
	}
	return s.last, nil
}

// LastExposureDuration in seconds
func (s *Session) LastExposureDuration() (float64, error) {
	last, err := s.LastFrame()
	if err != nil {
		return 0, err
	}
	return last.Duration, nil
}

// LastExposureStartTime in UTC
func (s *Session) LastExposureStartTime() (time.Time, error) {
	last, err := s.LastFrame()
	if err != nil {
		return time.Time{}, err
	}
	return last.Start, nil
}

// Gain reads the analog gain from the camera
func (s *Session) Gain() (uint16, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.connected {
		return 0, ErrNotConnected
	}
	return s.driver.AnalogGain()
}

// SetGain writes the analog gain to the camera
func (s *Session) SetGain(gain int) error {
	if gain < GainMin || gain > GainMax {
		return &InvalidValueError{Name: "Gain", Value: gain, Min: GainMin, Max: GainMax}
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	if err := s.driver.SetAnalogGain(uint16(gain)); err != nil {
		return err
	}
	s.gain = uint16(gain)
	cameraGain.Set(float64(gain))
	return nil
}

// Subframe geometry. Values are validated when arming.
func (s *Session) NumX() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.numX
}

func (s *Session) SetNumX(v int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.numX = v
}

func (s *Session) NumY() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.numY
}

func (s *Session) SetNumY(v int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.numY = v
}

func (s *Session) StartX() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.startX
}

func (s *Session) SetStartX(v int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.startX = v
}

func (s *Session) StartY() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.startY
}

func (s *Session) SetStartY(v int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.startY = v
}
