package session

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/posemat/internal/monitoring"
)

const (
	defaultQueueSize    = 64
	defaultDrainTimeout = 5 * time.Second
)

// ErrDrainTimeout is returned by Async.Close when the queue did not drain in
// time. The inner sink is closed later, once its last Consume returns.
var ErrDrainTimeout = errors.New("async sink drain timed out")

// Overflow selects what Async does when its queue is full.
type Overflow int

const (
	// Block makes Consume wait for room, back-pressuring the session.
	Block Overflow = iota
	// DropOldest evicts the oldest queued event to make room.
	DropOldest
	// DropNewest discards the incoming event.
	DropNewest
)

func (o Overflow) String() string {
	switch o {
	case Block:
		return "block"
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return "unknown"
	}
}

// ParseOverflow maps a config string to an Overflow policy.
func ParseOverflow(s string) (Overflow, error) {
	switch s {
	case "", "block":
		return Block, nil
	case "drop_oldest":
		return DropOldest, nil
	case "drop_newest":
		return DropNewest, nil
	default:
		return Block, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// AsyncOption configures an Async wrapper.
type AsyncOption func(*Async)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.size = n
		}
	}
}

// WithOverflow sets the full-queue policy. Default: Block.
func WithOverflow(o Overflow) AsyncOption {
	return func(a *Async) { a.overflow = o }
}

// WithOnError sets the callback for inner Consume failures. Default: log.
func WithOnError(f func(error)) AsyncOption {
	return func(a *Async) { a.errFunc = f }
}

// WithDrainTimeout bounds how long Close waits for queued events.
func WithDrainTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.drainTimeout = d
		}
	}
}

// WithMetrics counts drops and inner errors under the inner sink's name.
func WithMetrics(m *monitoring.Metrics) AsyncOption {
	return func(a *Async) { a.metrics = m }
}

// Async moves a sink behind a bounded queue drained by its own goroutine.
// Errors from the inner sink go to the error callback, not the session.
type Async struct {
	inner    Sink
	name     string
	ch       chan Event
	done     chan struct{}
	size     int
	overflow Overflow
	errFunc  func(error)
	metrics  *monitoring.Metrics

	drainTimeout time.Duration

	// mu serialises Consume against Close.
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewAsync wraps inner and starts the drain goroutine.
func NewAsync(inner Sink, opts ...AsyncOption) *Async {
	name := SinkName(inner)
	logf := monitoring.Component("async")
	a := &Async{
		inner:        inner,
		name:         name,
		size:         defaultQueueSize,
		drainTimeout: defaultDrainTimeout,
		errFunc: func(err error) {
			logf("%s: %v", name, err)
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan Event, a.size)
	a.done = make(chan struct{})
	go a.drain()
	return a
}

// Name reports the inner sink's name.
func (a *Async) Name() string { return a.name }

// Dropped returns the number of events lost to overflow.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Consume queues ev according to the overflow policy. It fails after Close.
// A blocking send holds mu, which delays Close until the drain goroutine
// frees a slot.
func (a *Async) Consume(ev Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("async sink %s closed", a.name)
	}

	if a.overflow == Block {
		a.ch <- ev
		return nil
	}
	for {
		select {
		case a.ch <- ev:
			return nil
		default:
		}
		if a.overflow == DropNewest {
			a.drop()
			return nil
		}
		select {
		case <-a.ch:
			a.drop()
		default:
		}
	}
}

func (a *Async) drop() {
	a.dropped.Add(1)
	if a.metrics != nil {
		a.metrics.SinkDropped.WithLabelValues(a.name).Inc()
	}
}

// Close stops accepting events, waits for the queue to drain and closes the
// inner sink if it is an io.Closer. If draining outlasts the drain timeout,
// Close returns ErrDrainTimeout and the inner sink is closed in the
// background after the drain goroutine finishes.
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.ch)
		a.mu.Unlock()

		select {
		case <-a.done:
			err = a.closeInner()
		case <-time.After(a.drainTimeout):
			monitoring.Logf("[async] %s: drain timed out after %s", a.name, a.drainTimeout)
			go func() {
				<-a.done
				if cerr := a.closeInner(); cerr != nil {
					a.errFunc(cerr)
				}
			}()
			err = fmt.Errorf("%w: %s", ErrDrainTimeout, a.name)
		}
	})
	return err
}

func (a *Async) closeInner() error {
	if c, ok := a.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *Async) drain() {
	defer close(a.done)
	for ev := range a.ch {
		if err := a.inner.Consume(ev); err != nil {
			if a.metrics != nil {
				a.metrics.SinkErrors.WithLabelValues(a.name).Inc()
			}
			a.errFunc(err)
		}
	}
}
