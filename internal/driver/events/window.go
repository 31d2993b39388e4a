package events

import (
	"sync"

	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
)

type errString string

// Error implements error
func (err errString) Error() string {
	return string(err)
}

// ErrNoWindow is returned where the platform has no window messages
const ErrNoWindow = errString("host window not supported on this platform")

// MessageSink consumes window messages, see Dispatcher.NotifyMessage
type MessageSink interface {
	NotifyMessage(msg uint32, wParam uintptr) bool
}

// Window is the hidden host window the library posts its messages to.
// Messages are forwarded to the attached sink, and dropped while no sink
// is attached.
type Window struct {
	logger servicelog.Logger
	mutex  sync.Mutex
	sink   MessageSink
	hwnd   uintptr
	done   chan struct{}
}

// Attach the sink that receives library messages
func (w *Window) Attach(sink MessageSink) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.sink = sink
}

// Handle to pass to the library as the receive window
func (w *Window) Handle() uintptr {
	return w.hwnd
}

// deliver forwards a message, reporting whether it was a library signal
func (w *Window) deliver(msg uint32, wParam uintptr) bool {
	w.mutex.Lock()
	sink := w.sink
	w.mutex.Unlock()
	if sink == nil {
		if _, ok := FromMessage(msg, wParam); ok {
			w.logger.Warn("dropping message, no sink attached", servicelog.Uint32("msg", msg))
		}
		return false
	}
	return sink.NotifyMessage(msg, wParam)
}
