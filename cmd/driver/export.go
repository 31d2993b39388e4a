package main

import (
	"context"
	"errors"

	"github.com/warpcomdev/ts413camera/internal/driver/camera"
	"github.com/warpcomdev/ts413camera/internal/driver/export"
	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
)

// exportFrames saves every published frame while AutoExport is set
func exportFrames(ctx context.Context, logger servicelog.Logger, config Config, session *camera.Session, frames <-chan camera.FrameInfo) {
	recorder := export.NewRecorder(config.ExportFolder, config.ExportPrefix)
	for {
		select {
		case <-ctx.Done():
			return
		case info := <-frames:
			if !config.AutoExport {
				continue
			}
			current, m, err := session.Snapshot()
			if err == nil && current.ID != info.ID {
				err = camera.ErrNotReady
			}
			if errors.Is(err, camera.ErrNotReady) {
				logger.Debug("frame superseded before export", servicelog.String("id", info.ID.String()))
				continue
			}
			if err != nil {
				logger.Error("failed to export frame", servicelog.String("id", info.ID.String()), servicelog.Error(err))
				continue
			}
			path, err := recorder.Save(current, m)
			if err != nil {
				logger.Error("failed to export frame", servicelog.String("id", info.ID.String()), servicelog.Error(err))
				continue
			}
			logger.Info("frame exported", servicelog.String("id", info.ID.String()), servicelog.String("path", path))
		}
	}
}
