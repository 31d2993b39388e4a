//go:build !windows

package events

import (
	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
)

// NewWindow fails outside Windows. Signals must then be posted to the
// dispatcher by other means.
func NewWindow(logger servicelog.Logger) (*Window, error) {
	return nil, ErrNoWindow
}

// Close the window
func (w *Window) Close() error {
	return nil
}
