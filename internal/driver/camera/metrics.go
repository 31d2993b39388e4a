package camera

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
)

var (
	cameraState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ts413_camera_state",
			Help: "Camera state (0 disconnected, 1 idle, 2 exposing, 3 downloading)",
		},
	)

	cameraConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ts413_camera_connected",
			Help: "1 if the camera is connected",
		},
	)

	cameraGain = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ts413_camera_analog_gain",
			Help: "Analog gain reported by the camera",
		},
	)

	exposuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ts413_exposures_total",
			Help: "Number of exposures armed",
		},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ts413_downloads_total",
			Help: "Number of frame downloads by result",
		},
		[]string{"result"},
	)

	downloadSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ts413_download_seconds",
			Help:    "Time spent downloading and decoding a frame",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	grabRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ts413_grab_retries_total",
			Help: "Number of grab frame calls retried",
		},
	)

	deviceLostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ts413_device_lost_total",
			Help: "Number of device lost notifications",
		},
	)

	signalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ts413_signals_total",
			Help: "Acquisition signals received, by result",
		},
		[]string{"signal", "result"},
	)
)

// Monitor samples the session into gauges until the context is cancelled
func (s *Session) Monitor(ctx context.Context, logger servicelog.Logger, interval time.Duration) {
	var currentInterval time.Duration = 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(currentInterval):
			currentInterval = interval
			if !s.Connected() {
				cameraConnected.Set(0)
				continue
			}
			cameraConnected.Set(1)
			gain, err := s.Gain()
			if err != nil {
				logger.Error("failed to read analog gain", servicelog.Error(err))
				continue
			}
			cameraGain.Set(float64(gain))
		}
	}
}
