// Package simulator implements an in-memory TS413 camera library, so
// the driver can run and be tested without hardware.
package simulator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/warpcomdev/ts413camera/internal/driver/events"
	"github.com/warpcomdev/ts413camera/internal/driver/frame"
	"github.com/warpcomdev/ts413camera/internal/driver/native"
	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
	"go.uber.org/atomic"
)

const (
	// RowTime in microseconds reported by the simulated sensor
	RowTime = 721
	// MinPeriod between two simulated frames
	MinPeriod = 10 * time.Millisecond
	maxValue  = 4095
	bias      = 200
	numStars  = 48
)

// Notifier receives the signals the library would post to the host window.
// Notify must not block: Stop waits for the streaming goroutine to exit.
type Notifier interface {
	Notify(events.Signal)
}

type star struct {
	x, y int
	flux float64
}

// Camera implements native.Driver
type Camera struct {
	logger   servicelog.Logger
	mutex    sync.Mutex
	notifier Notifier

	initialized bool
	lost        bool
	width       int
	height      int
	gain        uint16
	register    uint32
	longExp     bool
	speed       native.TS_SPEED_MODE
	wide        bool
	display     bool
	failGrabs   int
	stars       []star
	matrix      *frame.Matrix

	cancel  func()
	wg      sync.WaitGroup
	Frames  atomic.Int64
	Signals atomic.Int64
}

// New simulated camera. Signals are dropped until a notifier is attached.
func New(logger servicelog.Logger, seed int64) *Camera {
	rng := rand.New(rand.NewSource(seed))
	stars := make([]star, numStars)
	for i := range stars {
		stars[i] = star{
			x:    rng.Intn(3032),
			y:    rng.Intn(2018),
			flux: 200 + rng.Float64()*3000,
		}
	}
	return &Camera{
		logger: logger,
		gain:   25,
		stars:  stars,
	}
}

// Attach the notifier that receives frame and lost signals
func (c *Camera) Attach(notifier Notifier) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.notifier = notifier
}

// FailGrabs makes the next n grab calls fail with STATUS_HW_IO_ERROR
func (c *Camera) FailGrabs(n int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.failGrabs = n
}

// Lose simulates unplugging the camera
func (c *Camera) Lose() {
	c.mutex.Lock()
	c.lost = true
	notifier := c.notifier
	c.mutex.Unlock()
	c.stopStreaming()
	c.logger.Info("simulated camera lost")
	c.notify(notifier, events.SignalCameraLost)
}

func (c *Camera) notify(notifier Notifier, sig events.Signal) {
	if notifier == nil {
		return
	}
	c.Signals.Inc()
	notifier.Notify(sig)
}

// check fails every call but Init once the device is lost or uninitialized
func (c *Camera) check(call string) error {
	if c.lost || !c.initialized {
		return native.Check(call, native.STATUS_NO_DEVICE_FIND)
	}
	return nil
}

func resolutionSize(resolution native.TS_RESOLUTION) (int, int, bool) {
	switch resolution {
	case native.TS413II_3032_2018:
		return 3032, 2018, true
	case native.TS413II_1516_1008:
		return 1516, 1008, true
	case native.TS413II_1008_672:
		return 1008, 672, true
	case native.TS413II_756_504:
		return 756, 504, true
	}
	return 0, 0, false
}

func (c *Camera) Init(resolution native.TS_RESOLUTION, receive uintptr) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	width, height, ok := resolutionSize(resolution)
	if !ok {
		return native.Check("TS413IICameraInit", native.STATUS_PARAMETER_INVALID)
	}
	c.initialized = true
	c.lost = false
	c.width, c.height = width, height
	c.logger.Info("simulated camera initialized", servicelog.Stringer("resolution", resolution))
	return nil
}

func (c *Camera) UnInit() error {
	c.stopStreaming()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.check("TS413IICameraUnInit"); err != nil {
		return err
	}
	c.initialized = false
	return nil
}

// period between frames, from the programmed exposure
func (c *Camera) period() time.Duration {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	period := time.Duration(float64(c.register)*RowTime) * time.Microsecond
	if period < MinPeriod {
		period = MinPeriod
	}
	return period
}

func (c *Camera) Play() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.check("TS413IICameraPlay"); err != nil {
		return err
	}
	if c.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.stream(ctx)
	}()
	return nil
}

// stream signals a new frame every period until cancelled
func (c *Camera) stream(ctx context.Context) {
	timer := time.NewTimer(c.period())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.mutex.Lock()
			notifier := c.notifier
			c.mutex.Unlock()
			c.notify(notifier, events.SignalDataReady)
			timer.Reset(c.period())
		}
	}
}

func (c *Camera) stopStreaming() {
	c.mutex.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mutex.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *Camera) Stop() error {
	c.stopStreaming()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.check("TS413IICameraStop")
}

// Playing is true while the simulated sensor streams frames
func (c *Camera) Playing() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.cancel != nil
}

func (c *Camera) ImageSize() (int, int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.check("TS413IICameraGetImageSize"); err != nil {
		return 0, 0, err
	}
	return c.width, c.height, nil
}

func (c *Camera) GrabFrame(raw []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.check("TS413IICameraGrabFrame"); err != nil {
		return err
	}
	if c.failGrabs > 0 {
		c.failGrabs--
		return native.Check("TS413IICameraGrabFrame", native.STATUS_HW_IO_ERROR)
	}
	if len(raw) < c.width*c.height*2 {
		return native.Check("TS413IICameraGrabFrame", native.STATUS_PARAMETER_INVALID)
	}
	c.render()
	frame.Encode(c.matrix, raw[:0])
	c.Frames.Inc()
	return nil
}

// render a synthetic sky: bias, a faint gradient and fixed stars whose
// brightness scales with exposure and gain
func (c *Camera) render() {
	if c.matrix == nil || c.matrix.Width != c.width || c.matrix.Height != c.height {
		c.matrix = frame.NewMatrix(c.width, c.height)
	}
	exposure := float64(c.register) * RowTime / 1e6
	scale := exposure * float64(c.gain) / 25
	m := c.matrix
	for y := 0; y < m.Height; y++ {
		row := m.Row(y)
		for x := range row {
			row[x] = uint16(bias + (x+y)%64)
		}
	}
	for _, s := range c.stars {
		// stars are placed on the full frame, scale to the current one
		sx := s.x * m.Width / 3032
		sy := s.y * m.Height / 2018
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				x, y := sx+dx, sy+dy
				if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
					continue
				}
				flux := s.flux * scale
				if dx != 0 || dy != 0 {
					flux /= 4
				}
				v := float64(m.Pix[y*m.Width+x]) + flux
				if v > maxValue {
					v = maxValue
				}
				m.Pix[y*m.Width+x] = uint16(v)
			}
		}
	}
}

func (c *Camera) AnalogGain() (uint16, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.check("TS413IICameraGetAnalogGain"); err != nil {
		return 0, err
	}
	return c.gain, nil
}

func (c *Camera) SetAnalogGain(gain uint16) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.check("TS413IICameraSetAnalogGain"); err != nil {
		return err
	}
	if gain < 25 || gain > 960 {
		return native.Check("TS413IICameraSetAnalogGain", native.STATUS_PARAMETER_OUT_OF_BOUND)
	}
	c.gain = gain
	return nil
}

func (c *Camera) RowTime() (float32, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.check("TS413IICameraGetRowTime"); err != nil {
		return 0, err
	}
	return RowTime, nil
}

func (c *Camera) SetExposureTime(register uint32) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.check("TS413IICameraSetExposureTime"); err != nil {
		return err
	}
	c.register = register
	return nil
}

// Register returns the programmed exposure register
func (c *Camera) Register() uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.register
}

func (c *Camera) SetLongExpPower(enable bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.check("TS413IICameraSetLongExpPower"); err != nil {
		return err
	}
	c.longExp = enable
	return nil
}

func (c *Camera) SetFrameSpeed(speed native.TS_SPEED_MODE) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.check("TS413IICameraSetFrameSpeed"); err != nil {
		return err
	}
	if speed > native.SPEED_MODE_MAX {
		return native.Check("TS413IICameraSetFrameSpeed", native.STATUS_PARAMETER_OUT_OF_BOUND)
	}
	c.speed = speed
	return nil
}

func (c *Camera) SetDataWide(wide bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.check("TS413IICameraSetDataWide"); err != nil {
		return err
	}
	c.wide = wide
	return nil
}

func (c *Camera) DisplayEnable(enable bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.check("TS413IICameraDisplayEnable"); err != nil {
		return err
	}
	c.display = enable
	return nil
}

func (c *Camera) Close() error {
	c.stopStreaming()
	return nil
}
