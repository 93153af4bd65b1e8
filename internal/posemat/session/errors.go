package session

import (
	"errors"
	"fmt"
)

// ErrAlreadyStarted is returned by Run on a session that has run before.
// Stopped is terminal.
var ErrAlreadyStarted = errors.New("session already started")

// ErrorKind classifies a per-frame failure.
type ErrorKind int

const (
	KindRead ErrorKind = iota
	KindDecode
	KindInference
	KindSink
	KindPanic
)

func (k ErrorKind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindDecode:
		return "decode"
	case KindInference:
		return "inference"
	case KindSink:
		return "sink"
	case KindPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// FrameError is a contained failure in one loop iteration.
type FrameError struct {
	Kind ErrorKind
	// Seq is the raw frame sequence number, or 0 when no frame was involved.
	Seq uint64
	// Sink names the failing sink for KindSink.
	Sink string
	Err  error
}

func (e *FrameError) Error() string {
	switch {
	case e.Sink != "":
		return fmt.Sprintf("%s error (frame %d, sink %s): %v", e.Kind, e.Seq, e.Sink, e.Err)
	case e.Seq != 0:
		return fmt.Sprintf("%s error (frame %d): %v", e.Kind, e.Seq, e.Err)
	default:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
}

func (e *FrameError) Unwrap() error { return e.Err }
