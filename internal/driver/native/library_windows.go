//go:build windows

package native

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"
)

func openLibrary(path string) (uintptr, int, error) {
	dll, err := windows.LoadDLL(path)
	if err != nil {
		code := 0
		var dllErr *windows.DLLError
		if errors.As(err, &dllErr) {
			if errno, ok := dllErr.Err.(syscall.Errno); ok {
				code = int(errno)
			}
		}
		return 0, code, err
	}
	return uintptr(dll.Handle), 0, nil
}

func lookupSymbol(handle uintptr, name string) (uintptr, error) {
	return windows.GetProcAddress(windows.Handle(handle), name)
}

func closeLibrary(handle uintptr) error {
	return windows.FreeLibrary(windows.Handle(handle))
}
