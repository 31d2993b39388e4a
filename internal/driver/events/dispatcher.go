package events

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
	"go.uber.org/atomic"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ts413_events_total",
			Help: "Signals queued for the camera session, by outcome",
		},
		[]string{"signal", "result"},
	)
)

// DefaultQueueSize of the dispatcher ring
const DefaultQueueSize = 16

// Stats of a dispatcher
type Stats struct {
	Notified  int64 `json:"notified"`
	Delivered int64 `json:"delivered"`
	Coalesced int64 `json:"coalesced"`
	Evicted   int64 `json:"evicted"`
	Pending   int   `json:"pending"`
}

// Dispatcher queues signals from any goroutine and delivers them
// serially to the handler.
type Dispatcher struct {
	logger    servicelog.Logger
	handler   Handler
	mutex     sync.Mutex
	queue     *fifo[Signal]
	wake      chan struct{}
	notified  atomic.Int64
	delivered atomic.Int64
	coalesced atomic.Int64
	evicted   atomic.Int64
}

// NewDispatcher with a ring of the given size
func NewDispatcher(logger servicelog.Logger, handler Handler, size int) *Dispatcher {
	if size < 1 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		logger:  logger,
		handler: handler,
		queue:   newFifo[Signal](size),
		wake:    make(chan struct{}, 1),
	}
}

// Notify queues a signal. It never blocks: consecutive duplicates are
// merged, and the oldest signal is dropped when the ring is full.
func (d *Dispatcher) Notify(sig Signal) {
	d.notified.Inc()
	d.mutex.Lock()
	if last, ok := d.queue.Last(); ok && last == sig {
		d.mutex.Unlock()
		d.coalesced.Inc()
		eventsTotal.WithLabelValues(sig.String(), "coalesced").Inc()
		return
	}
	old, evicted := d.queue.Push(sig)
	d.mutex.Unlock()
	if evicted {
		d.evicted.Inc()
		eventsTotal.WithLabelValues(old.String(), "evicted").Inc()
		d.logger.Warn("signal queue full, dropped oldest", servicelog.Stringer("signal", old))
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// NotifyMessage queues the signal matching a window message, if any
func (d *Dispatcher) NotifyMessage(msg uint32, wParam uintptr) bool {
	sig, ok := FromMessage(msg, wParam)
	if ok {
		d.Notify(sig)
	}
	return ok
}

func (d *Dispatcher) pop() (Signal, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.queue.Pop()
}

// Run delivers queued signals until the context is cancelled
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("started dispatching signals")
	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("signal dispatch cancelled")
			return
		case <-d.wake:
			for {
				sig, ok := d.pop()
				if !ok {
					break
				}
				d.deliver(sig)
			}
		}
	}
}

func (d *Dispatcher) deliver(sig Signal) {
	d.logger.Debug("delivering signal", servicelog.Stringer("signal", sig))
	switch sig {
	case SignalDataReady:
		d.handler.OnAcquisitionSignal()
	case SignalCameraLost:
		d.handler.OnDeviceLost()
	}
	d.delivered.Inc()
	eventsTotal.WithLabelValues(sig.String(), "delivered").Inc()
}

// Stats returns the dispatcher counters
func (d *Dispatcher) Stats() Stats {
	d.mutex.Lock()
	pending := d.queue.Len()
	d.mutex.Unlock()
	return Stats{
		Notified:  d.notified.Load(),
		Delivered: d.delivered.Load(),
		Coalesced: d.coalesced.Load(),
		Evicted:   d.evicted.Load(),
		Pending:   pending,
	}
}
