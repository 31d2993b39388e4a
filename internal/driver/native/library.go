package native

import (
	"fmt"
	"sync"
)

type errString string

// Error implements error
func (err errString) Error() string {
	return string(err)
}

const (
	ErrLoadFailed          errString = "failed to load native library"
	ErrSymbolNotFound      errString = "symbol not found in native library"
	ErrAlreadyLoaded       errString = "native library is already loaded"
	ErrClosed              errString = "native library is closed"
	ErrUnsupportedPlatform errString = "native library loading not supported on this platform"
)

// LoadError is returned when the shared library cannot be loaded.
// Code holds the platform error code, when there is one.
type LoadError struct {
	Path string
	Code int
	Err  error
}

func (err *LoadError) Error() string {
	if err.Code != 0 {
		return fmt.Sprintf("failed to load %s (code %d): %v", err.Path, err.Code, err.Err)
	}
	return fmt.Sprintf("failed to load %s: %v", err.Path, err.Err)
}

func (err *LoadError) Is(target error) bool {
	return target == ErrLoadFailed
}

func (err *LoadError) Unwrap() error {
	return err.Err
}

// SymbolError is returned when an exported symbol cannot be resolved
type SymbolError struct {
	Path string
	Name string
	Err  error
}

func (err *SymbolError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("symbol %s not found in %s: %v", err.Name, err.Path, err.Err)
	}
	return fmt.Sprintf("symbol %s not found in %s", err.Name, err.Path)
}

func (err *SymbolError) Is(target error) bool {
	return target == ErrSymbolNotFound
}

func (err *SymbolError) Unwrap() error {
	return err.Err
}

// Only one library instance may be live per process
var (
	loadedMutex sync.Mutex
	loaded      *Library
)

// Library is a handle to the loaded vendor shared library
type Library struct {
	Path   string
	mutex  sync.Mutex
	handle uintptr
	closed bool
}

// Load the shared library at path
func Load(path string) (*Library, error) {
	loadedMutex.Lock()
	defer loadedMutex.Unlock()
	if loaded != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyLoaded, loaded.Path)
	}
	handle, code, err := openLibrary(path)
	if err != nil {
		return nil, &LoadError{Path: path, Code: code, Err: err}
	}
	lib := &Library{
		Path:   path,
		handle: handle,
	}
	loaded = lib
	return lib, nil
}

// Symbol resolves the address of an exported function
func (l *Library) Symbol(name string) (uintptr, error) {
	if l == nil {
		return 0, &SymbolError{Name: name, Err: ErrClosed}
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.closed || l.handle == 0 {
		return 0, &SymbolError{Path: l.Path, Name: name, Err: ErrClosed}
	}
	addr, err := lookupSymbol(l.handle, name)
	if err != nil || addr == 0 {
		return 0, &SymbolError{Path: l.Path, Name: name, Err: err}
	}
	return addr, nil
}

// Close unloads the library. It is safe to call more than once,
// and on a nil Library.
func (l *Library) Close() error {
	if l == nil {
		return nil
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	var err error
	if l.handle != 0 {
		err = closeLibrary(l.handle)
		l.handle = 0
	}
	loadedMutex.Lock()
	if loaded == l {
		loaded = nil
	}
	loadedMutex.Unlock()
	return err
}
