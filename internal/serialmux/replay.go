package serialmux

import (
	"io"
	"sync"
	"time"
)

// ReplayPort is a fake serial port for dev mode. It writes a fixture payload
// into an in-memory pipe on every tick, so the session sees the same bytes a
// mat would send, at roughly the same cadence.
type ReplayPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewReplayPort starts replaying payload every interval until Close.
func NewReplayPort(payload []byte, interval time.Duration) *ReplayPort {
	r, w := io.Pipe()
	p := &ReplayPort{
		r:    r,
		w:    w,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	data := append([]byte(nil), payload...)
	go func() {
		defer close(p.done)
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				if _, err := w.Write(data); err != nil {
					return
				}
			}
		}
	}()

	return p
}

// Read reads replayed bytes.
func (p *ReplayPort) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// Write discards data; the mat firmware accepts no commands.
func (p *ReplayPort) Write(b []byte) (int, error) {
	return len(b), nil
}

// Close stops the replay goroutine and unblocks pending reads.
func (p *ReplayPort) Close() error {
	p.stopOnce.Do(func() {
		close(p.stop)
		// Readers see the writer's close error.
		p.w.CloseWithError(ErrPortClosed)
	})
	<-p.done
	return nil
}
