package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"
)

func TestWatchDetectsChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("Gain = 25\n"), 0644))

	var changes atomic.Int64
	w := New(servicelog.Wrap(zaptest.NewLogger(t)), path, 20*time.Millisecond, func(ctx context.Context) error {
		changes.Inc()
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- w.Watch(ctx)
	}()

	// Keep writing until the watcher has been registered
	require.Eventually(t, func() bool {
		if err := os.WriteFile(path, []byte("Gain = 100\n"), 0644); err != nil {
			return false
		}
		return changes.Load() > 0
	}, 10*time.Second, 100*time.Millisecond)

	// Other files in the folder are ignored
	time.Sleep(200 * time.Millisecond)
	before := changes.Load()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, changes.Load())

	cancel()
	select {
	case err := <-result:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchMissingFolder(t *testing.T) {
	w := New(servicelog.Nop(), filepath.Join(t.TempDir(), "missing", "config.toml"), 0, func(ctx context.Context) error {
		return nil
	})
	err := w.Watch(context.Background())
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}
