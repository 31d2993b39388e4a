package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warpcomdev/ts413camera/internal/driver/camera"
	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
)

var (
	reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ts413_reconnects_total",
			Help: "Automatic connection attempts",
		},
		[]string{
			"result",
		})
)

// keep the camera connected, alerting on transitions
func monitorCamera(ctx context.Context, logger servicelog.Logger, config Config, session *camera.Session) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	detected := false // true if camera has been connected once
	missing := false  // True if camera has gone from connected to missing
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			connected := session.Connected()
			if !connected && config.AutoConnect {
				if err := session.Connect(); err != nil {
					reconnects.WithLabelValues("error").Inc()
					logger.Debug("failed to connect camera", servicelog.Error(err))
				} else {
					reconnects.WithLabelValues("ok").Inc()
					connected = true
				}
			}
			if !connected && (detected || !missing) {
				logger.Error("No camera connected")
				detected = false
				missing = true
			}
			if connected {
				detected = true
				if missing {
					logger.Info("Camera connected")
					missing = false
				}
			}
			timer.Reset(time.Duration(config.MonitorSeconds) * time.Second)
		}
	}
}
