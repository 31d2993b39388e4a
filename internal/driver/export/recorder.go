package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/warpcomdev/ts413camera/internal/driver/camera"
	"github.com/warpcomdev/ts413camera/internal/driver/frame"
)

// Recorder saves frames with incrementing filenames in yyyy-mm-dd subfolders
type Recorder struct {
	// Root is the root path
	Root string
	// Prefix is the prefix for the filenames
	Prefix string
	// Now defaults to time.Now
	Now func() time.Time

	mutex   sync.Mutex
	folder  string
	counter int
}

// NewRecorder saving to root with the given prefix
func NewRecorder(root, prefix string) *Recorder {
	return &Recorder{Root: root, Prefix: prefix}
}

// updateFolder switches to the folder for the current day, rescanning
// the counter when the day changes
func (r *Recorder) updateFolder() (string, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	y, m, d := now().Date()
	folder := filepath.Join(r.Root, fmt.Sprintf("%04d-%02d-%02d", y, m, d))
	if err := os.MkdirAll(folder, 0755); err != nil {
		return "", err
	}
	if folder != r.folder {
		counter, err := r.scan(folder)
		if err != nil {
			return "", err
		}
		r.folder = folder
		r.counter = counter
	}
	return folder, nil
}

// scan returns the highest counter already used in the folder
func (r *Recorder) scan(folder string) (int, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0, err
	}
	count := 0
	prefix := r.Prefix + "_"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".fits") || !strings.HasPrefix(name, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".fits"))
		if err != nil {
			continue
		}
		if n > count {
			count = n
		}
	}
	return count, nil
}

// Save writes the frame to the next file, and returns its path
func (r *Recorder) Save(info camera.FrameInfo, m *frame.Matrix) (string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	folder, err := r.updateFolder()
	if err != nil {
		return "", err
	}
	name := filepath.Join(folder, fmt.Sprintf("%s_%06d.fits", r.Prefix, r.counter+1))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}
	if err := WriteFITS(f, m, Header(info)); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	r.counter++
	return name, nil
}
