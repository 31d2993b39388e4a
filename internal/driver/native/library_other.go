//go:build !darwin && !linux && !windows

package native

func openLibrary(path string) (uintptr, int, error) {
	return 0, 0, ErrUnsupportedPlatform
}

func lookupSymbol(handle uintptr, name string) (uintptr, error) {
	return 0, ErrUnsupportedPlatform
}

func closeLibrary(handle uintptr) error {
	return nil
}
