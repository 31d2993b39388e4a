//go:build windows

package events

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
	"golang.org/x/sys/windows"
)

const (
	WM_DESTROY = 0x0002
	WM_CLOSE   = 0x0010

	windowClass = "TS413CameraReceiver"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procRegisterClassExW = user32.NewProc("RegisterClassExW")
	procCreateWindowExW  = user32.NewProc("CreateWindowExW")
	procDestroyWindow    = user32.NewProc("DestroyWindow")
	procDefWindowProcW   = user32.NewProc("DefWindowProcW")
	procGetMessageW      = user32.NewProc("GetMessageW")
	procDispatchMessageW = user32.NewProc("DispatchMessageW")
	procPostMessageW     = user32.NewProc("PostMessageW")
	procPostQuitMessage  = user32.NewProc("PostQuitMessage")
	procGetModuleHandleW = kernel32.NewProc("GetModuleHandleW")
)

type wndClassEx struct {
	Size       uint32
	Style      uint32
	WndProc    uintptr
	ClsExtra   int32
	WndExtra   int32
	Instance   uintptr
	Icon       uintptr
	Cursor     uintptr
	Background uintptr
	MenuName   *uint16
	ClassName  *uint16
	IconSm     uintptr
}

type point struct {
	X, Y int32
}

type winMsg struct {
	Hwnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      point
}

var (
	classOnce sync.Once
	classErr  error
	instance  uintptr

	// windows by handle, for the shared window procedure
	windowsMutex  sync.Mutex
	windowsByHwnd = make(map[uintptr]*Window)
)

func windowProc(hwnd, msg, wParam, lParam uintptr) uintptr {
	switch msg {
	case WM_CLOSE:
		procDestroyWindow.Call(hwnd)
		return 0
	case WM_DESTROY:
		procPostQuitMessage.Call(0)
		return 0
	}
	windowsMutex.Lock()
	w := windowsByHwnd[hwnd]
	windowsMutex.Unlock()
	if w != nil && w.deliver(uint32(msg), wParam) {
		if msg == WM_DEVICECHANGE {
			return 1
		}
		return 0
	}
	r, _, _ := procDefWindowProcW.Call(hwnd, msg, wParam, lParam)
	return r
}

func registerClass() error {
	classOnce.Do(func() {
		h, _, err := procGetModuleHandleW.Call(0)
		if h == 0 {
			classErr = fmt.Errorf("GetModuleHandleW: %w", err)
			return
		}
		instance = h
		name, err := windows.UTF16PtrFromString(windowClass)
		if err != nil {
			classErr = err
			return
		}
		class := wndClassEx{
			WndProc:   windows.NewCallback(windowProc),
			Instance:  instance,
			ClassName: name,
		}
		class.Size = uint32(unsafe.Sizeof(class))
		if atom, _, err := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&class))); atom == 0 {
			classErr = fmt.Errorf("RegisterClassExW: %w", err)
		}
	})
	return classErr
}

// NewWindow creates a hidden top level window with its own message loop.
// Top level windows also receive WM_DEVICECHANGE broadcasts.
func NewWindow(logger servicelog.Logger) (*Window, error) {
	if err := registerClass(); err != nil {
		return nil, err
	}
	w := &Window{
		logger: logger,
		done:   make(chan struct{}),
	}
	ready := make(chan error, 1)
	go w.loop(ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return w, nil
}

// loop owns the window: it must be created and pumped on one OS thread
func (w *Window) loop(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)
	name, _ := windows.UTF16PtrFromString(windowClass)
	hwnd, _, err := procCreateWindowExW.Call(
		0,
		uintptr(unsafe.Pointer(name)),
		uintptr(unsafe.Pointer(name)),
		0,
		0, 0, 0, 0,
		0, 0, instance, 0,
	)
	if hwnd == 0 {
		ready <- fmt.Errorf("CreateWindowExW: %w", err)
		return
	}
	w.hwnd = hwnd
	windowsMutex.Lock()
	windowsByHwnd[hwnd] = w
	windowsMutex.Unlock()
	defer func() {
		windowsMutex.Lock()
		delete(windowsByHwnd, hwnd)
		windowsMutex.Unlock()
	}()
	ready <- nil
	w.logger.Info("host window created", servicelog.Any("hwnd", hwnd))
	var m winMsg
	for {
		r, _, err := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		switch int32(r) {
		case -1:
			w.logger.Error("message loop failed", servicelog.Error(err))
			return
		case 0:
			w.logger.Debug("message loop finished")
			return
		}
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&m)))
	}
}

// Close destroys the window and waits for its message loop to exit
func (w *Window) Close() error {
	if w == nil || w.hwnd == 0 {
		return nil
	}
	if r, _, err := procPostMessageW.Call(w.hwnd, WM_CLOSE, 0, 0); r == 0 {
		return fmt.Errorf("PostMessageW: %w", err)
	}
	<-w.done
	return nil
}
