package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
	"go.uber.org/zap/zaptest"
)

func TestFifo(t *testing.T) {
	f := newFifo[int](3)
	_, ok := f.Pop()
	assert.False(t, ok)
	_, ok = f.Last()
	assert.False(t, ok)

	for i := 1; i <= 3; i++ {
		_, evicted := f.Push(i)
		assert.False(t, evicted)
	}
	assert.Equal(t, 3, f.Len())
	last, ok := f.Last()
	require.True(t, ok)
	assert.Equal(t, 3, last)

	old, evicted := f.Push(4)
	assert.True(t, evicted)
	assert.Equal(t, 1, old)
	assert.Equal(t, 3, f.Len())

	for _, want := range []int{2, 3, 4} {
		got, ok := f.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 0, f.Len())
}

func TestFromMessage(t *testing.T) {
	sig, ok := FromMessage(WM_RECEIVE_DATA, 0)
	assert.True(t, ok)
	assert.Equal(t, SignalDataReady, sig)
	assert.Equal(t, uint32(1125), uint32(WM_RECEIVE_DATA))

	sig, ok = FromMessage(WM_LOST_CAMERA, 0)
	assert.True(t, ok)
	assert.Equal(t, SignalCameraLost, sig)

	sig, ok = FromMessage(WM_DEVICECHANGE, DBT_DEVICEREMOVECOMPLETE)
	assert.True(t, ok)
	assert.Equal(t, SignalCameraLost, sig)

	_, ok = FromMessage(WM_DEVICECHANGE, 0x0007)
	assert.False(t, ok)
	_, ok = FromMessage(WM_USER, 0)
	assert.False(t, ok)

	parsed, ok := ParseSignal("lost")
	assert.True(t, ok)
	assert.Equal(t, SignalCameraLost, parsed)
	_, ok = ParseSignal("bogus")
	assert.False(t, ok)
}

type recordingHandler struct {
	mutex   sync.Mutex
	signals []Signal
	done    chan struct{}
	expect  int
}

func (h *recordingHandler) add(sig Signal) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.signals = append(h.signals, sig)
	if len(h.signals) == h.expect {
		close(h.done)
	}
}

func (h *recordingHandler) OnAcquisitionSignal() { h.add(SignalDataReady) }
func (h *recordingHandler) OnDeviceLost()        { h.add(SignalCameraLost) }

func TestDispatcherCoalesces(t *testing.T) {
	handler := &recordingHandler{done: make(chan struct{}), expect: 3}
	d := NewDispatcher(servicelog.Wrap(zaptest.NewLogger(t)), handler, 8)

	// Queue before running so coalescing is deterministic
	d.Notify(SignalDataReady)
	d.Notify(SignalDataReady)
	d.Notify(SignalCameraLost)
	assert.True(t, d.NotifyMessage(WM_RECEIVE_DATA, 0))
	assert.False(t, d.NotifyMessage(WM_USER, 0))

	stats := d.Stats()
	assert.Equal(t, int64(4), stats.Notified)
	assert.Equal(t, int64(1), stats.Coalesced)
	assert.Equal(t, 3, stats.Pending)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		d.Run(ctx)
	}()
	select {
	case <-handler.done:
	case <-time.After(5 * time.Second):
		t.Fatal("signals not delivered")
	}
	cancel()
	<-finished

	assert.Equal(t, []Signal{SignalDataReady, SignalCameraLost, SignalDataReady}, handler.signals)
	assert.Equal(t, int64(3), d.Stats().Delivered)
}

func TestDispatcherEvictsOldest(t *testing.T) {
	handler := &recordingHandler{done: make(chan struct{}), expect: 2}
	d := NewDispatcher(servicelog.Nop(), handler, 2)
	d.Notify(SignalDataReady)
	d.Notify(SignalCameraLost)
	d.Notify(SignalDataReady)
	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Evicted)
	assert.Equal(t, 2, stats.Pending)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	select {
	case <-handler.done:
	case <-time.After(5 * time.Second):
		t.Fatal("signals not delivered")
	}
	handler.mutex.Lock()
	defer handler.mutex.Unlock()
	assert.Equal(t, []Signal{SignalCameraLost, SignalDataReady}, handler.signals)
}
