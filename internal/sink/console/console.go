// Package console prints one line per classified frame.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/banshee-data/posemat/internal/posemat/session"
)

// Sink writes "Pose: <label> | Confidence: <pct>%" lines.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

// New returns a console sink writing to w, or stdout when w is nil.
func New(w io.Writer) *Sink {
	if w == nil {
		w = os.Stdout
	}
	return &Sink{w: w}
}

// Name implements session.Named.
func (s *Sink) Name() string { return "console" }

// Consume implements session.Sink.
func (s *Sink) Consume(ev session.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "Pose: %s | Confidence: %.2f%%\n", ev.Result.Label, ev.Result.Percent())
	return err
}
