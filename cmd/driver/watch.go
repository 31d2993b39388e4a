package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff"
	"github.com/warpcomdev/ts413camera/internal/driver/camera"
	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
	"github.com/warpcomdev/ts413camera/internal/driver/watcher"
)

// PermanentIfCancel stops retrying once the context is done
func PermanentIfCancel(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return &backoff.PermanentError{Err: err}
	}
	return err
}

// applyConfig updates the settings that can change without restart
func applyConfig(logger servicelog.Logger, configPath string, session *camera.Session) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		config, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger.SetDebug(config.Debug)
		if !session.Connected() {
			return nil
		}
		current, err := session.Gain()
		if err != nil {
			return fmt.Errorf("failed to read gain: %w", err)
		}
		if int(current) == config.Gain {
			return nil
		}
		logger.Info("applying gain from config", servicelog.Int("gain", config.Gain))
		return session.SetGain(config.Gain)
	}
}

func watchConfig(ctx context.Context, logger servicelog.Logger, configPath string, session *camera.Session) {
	watch := watcher.New(logger.With(servicelog.String("component", "config")), configPath, watcher.DefaultDebounce, applyConfig(logger, configPath, session))
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	backoff.Retry(func() (returnError error) {
		defer func() {
			if returnError != nil {
				returnError = PermanentIfCancel(ctx, returnError)
			}
		}()
		return watch.Watch(ctx)
	}, backoff.WithContext(bo, ctx))
}
