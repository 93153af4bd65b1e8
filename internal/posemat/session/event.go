package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/posemat/internal/posemat/l2frames"
	"github.com/banshee-data/posemat/internal/posemat/l3classify"
)

// Event is one classified frame.
type Event struct {
	// Seq numbers raw frames from 1 in stream order. Gaps mean frames were
	// skipped.
	Seq       uint64
	Time      time.Time
	SessionID uuid.UUID
	Reading   l2frames.Reading
	Result    l3classify.Result
}

// Sink consumes events. Consume is called from the session goroutine unless
// the sink is wrapped by Async.
type Sink interface {
	Consume(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

// Consume calls f.
func (f SinkFunc) Consume(ev Event) error { return f(ev) }

// Named is implemented by sinks that report a stable name for logs and
// metrics.
type Named interface {
	Name() string
}

// SinkName returns the sink's Name, or its type.
func SinkName(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
