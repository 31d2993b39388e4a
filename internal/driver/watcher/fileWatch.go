package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
)

type stringError string

// Error implements error
func (err stringError) Error() string {
	return string(err)
}

const (
	// Error returned when the event channel is closed
	ChannelClosedError = stringError("channel closed")
	NotDirectoryError  = stringError("path must be a directory")
)

// DefaultDebounce groups bursts of events from a single save
const DefaultDebounce = 500 * time.Millisecond

// FileWatch calls onChange after a file is modified. Bursts of events
// within the debounce interval trigger a single call.
type FileWatch struct {
	logger   servicelog.Logger
	path     string
	debounce time.Duration
	onChange func(ctx context.Context) error
}

// New creates a new FileWatch object
func New(logger servicelog.Logger, path string, debounce time.Duration, onChange func(ctx context.Context) error) *FileWatch {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &FileWatch{
		logger:   logger,
		path:     path,
		debounce: debounce,
		onChange: onChange,
	}
}

// Watch the file for changes until the context is cancelled. The parent
// folder is watched, so the file can be replaced by editors.
func (f *FileWatch) Watch(ctx context.Context) error {
	absPath, err := filepath.Abs(f.path)
	logger := f.logger.With(servicelog.String("file", absPath))
	if err != nil {
		logger.Error("failed to abs path", servicelog.Error(err))
		return err
	}
	folder := filepath.Dir(absPath)
	stat, err := os.Stat(folder)
	if err != nil {
		logger.Error("failed to stat folder", servicelog.Error(err))
		return err
	}
	if !stat.IsDir() {
		logger.Error("path is not a directory")
		return NotDirectoryError
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create watcher", servicelog.Error(err))
		return err
	}
	defer watcher.Close()
	failContext, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		wg          sync.WaitGroup
		dispatchErr error
		watcherErr  error
	)
	// Watch the error channel
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel() // Cancel the context if the watcher errors
		select {
		case err, ok := <-watcher.Errors:
			if !ok {
				watcherErr = ChannelClosedError
				return
			}
			logger.Error("watcher error", servicelog.Error(err))
			watcherErr = err
		case <-failContext.Done():
		}
	}()
	// Dispatch file events
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		dispatchErr = f.dispatch(failContext, logger, absPath, watcher.Events)
	}()
	notifyErr := watcher.Add(folder)
	if notifyErr != nil {
		logger.Error("failed to watch folder", servicelog.Error(notifyErr))
		cancel()
	}
	wg.Wait()
	// If all errors are "context cancelled", we are good
	if (notifyErr == nil || errors.Is(notifyErr, context.Canceled)) &&
		(dispatchErr == nil || errors.Is(dispatchErr, context.Canceled)) &&
		(watcherErr == nil || errors.Is(watcherErr, context.Canceled)) {
		return context.Canceled
	}
	return errors.Join(notifyErr, dispatchErr, watcherErr)
}

// dispatch events for the file until context is cancelled
func (f *FileWatch) dispatch(ctx context.Context, logger servicelog.Logger, absPath string, events chan fsnotify.Event) error {
	timer := time.NewTimer(f.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false
	logger.Info("started watching file")
	for {
		select {
		case <-ctx.Done():
			logger.Debug("file watch cancelled")
			return context.Canceled
		case event, ok := <-events:
			if !ok {
				logger.Debug("stopping file watcher")
				return ChannelClosedError
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("detected file event", servicelog.String("op", event.Op.String()))
			if !timer.Stop() && pending {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(f.debounce)
			pending = true
		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			if err := f.onChange(ctx); err != nil {
				logger.Error("failed to apply file change", servicelog.Error(err))
			}
		}
	}
}
