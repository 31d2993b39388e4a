package camera

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/warpcomdev/ts413camera/internal/driver/frame"
	"github.com/warpcomdev/ts413camera/internal/driver/native"
	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
)

// OnAcquisitionSignal downloads the frame after the library signals the
// end of an exposure. Signals received in any state other than Exposing
// are ignored. Safe to call from any goroutine.
func (s *Session) OnAcquisitionSignal() {
	info, published := s.acquireLocked()
	if published && s.options.OnFrame != nil {
		s.options.OnFrame(info)
	}
}

func (s *Session) acquireLocked() (FrameInfo, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state != StateExposing {
		signalsTotal.WithLabelValues("dataready", "ignored").Inc()
		s.logger.Debug("ignoring acquisition signal", servicelog.Stringer("state", s.state))
		return FrameInfo{}, false
	}
	signalsTotal.WithLabelValues("dataready", "accepted").Inc()
	start := time.Now()
	info, err := s.acquire()
	if err != nil {
		downloadsTotal.WithLabelValues("error").Inc()
		s.logger.Error("frame acquisition failed", servicelog.Error(err), servicelog.Stringer("state", s.state))
		return FrameInfo{}, false
	}
	downloadsTotal.WithLabelValues("success").Inc()
	downloadSeconds.Observe(time.Since(start).Seconds())
	s.logger.Info("frame published",
		servicelog.String("id", info.ID.String()),
		servicelog.Int("width", info.Width),
		servicelog.Int("height", info.Height),
		servicelog.Float64("duration", info.Duration),
	)
	return info, true
}

// acquire runs the download protocol. Must be called with the mutex held.
func (s *Session) acquire() (info FrameInfo, returnErr error) {
	stopped := false
	defer func() {
		if r := recover(); r != nil {
			returnErr = fmt.Errorf("%w: panic: %v", ErrAcquisition, r)
		}
		if returnErr != nil && stopped {
			s.resume()
		}
	}()
	width, height, err := s.driver.ImageSize()
	if err != nil {
		return info, err
	}
	if err := s.driver.Stop(); err != nil {
		return info, err
	}
	stopped = true
	s.setState(StateDownloading)
	s.buffer.ensure(width, height)
	if err := s.grab(); err != nil {
		return info, err
	}
	matrix, err := frame.Decode(s.buffer.raw, width, height, s.buffer.matrix)
	if err != nil {
		return info, err
	}
	s.buffer.matrix = matrix
	if err := s.driver.Play(); err != nil {
		return info, err
	}
	stopped = false
	s.setState(StateIdle)
	s.last = FrameInfo{
		ID:       uuid.New(),
		Start:    s.current.start,
		Duration: s.current.duration,
		Light:    s.current.light,
		Gain:     s.current.gain,
		Width:    width,
		Height:   height,
	}
	s.hasLast = true
	s.imageReady = true
	return s.last, nil
}

// resume streaming after an aborted download. The session only returns
// to Idle if the camera accepts the restart.
func (s *Session) resume() {
	if err := s.driver.Play(); err != nil {
		s.logger.Error("failed to resume streaming, camera stays downloading", servicelog.Error(err))
		return
	}
	s.setState(StateIdle)
}

// grab pulls the raw frame, retrying non-OK statuses until GrabTimeout
func (s *Session) grab() error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.options.GrabInterval
	bo.MaxInterval = maxGrabInterval
	if bo.MaxInterval < bo.InitialInterval {
		bo.MaxInterval = bo.InitialInterval
	}
	bo.MaxElapsedTime = s.options.GrabTimeout
	bo.Reset()
	retries := 0
	err := backoff.RetryNotify(func() error {
		err := s.driver.GrabFrame(s.buffer.raw)
		if err == nil {
			return nil
		}
		var statusErr *native.StatusError
		if !errors.As(err, &statusErr) {
			return &backoff.PermanentError{Err: err}
		}
		return err
	}, bo, func(err error, next time.Duration) {
		retries++
		grabRetriesTotal.Inc()
		s.logger.Debug("grab frame failed, retrying", servicelog.Error(err), servicelog.Duration("next", next))
	})
	if err == nil {
		return nil
	}
	var statusErr *native.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	return &GrabTimeoutError{Retries: retries, Err: err}
}

// OnDeviceLost moves the session to Disconnected, whatever its state.
// Safe to call from any goroutine.
func (s *Session) OnDeviceLost() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	deviceLostTotal.Inc()
	signalsTotal.WithLabelValues("lost", "accepted").Inc()
	if s.connected {
		s.release()
	}
	s.clear()
	s.logger.Warn("camera lost")
}
