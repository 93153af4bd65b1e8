package l1sync

import (
	"bytes"
)

// DefaultMarker terminates every frame on the wire.
const DefaultMarker = "END"

// RawFrame is the text between the end of the previous marker and the next
// marker, marker excluded. It may be empty or malformed.
type RawFrame string

// Policy selects what happens to bytes that follow a marker in the same Feed.
type Policy int

const (
	// DiscardTrailing drops everything from the start of the buffer through
	// the first marker, including bytes that arrived after the marker in
	// the same chunk. The next frame starts with the next Feed.
	DiscardTrailing Policy = iota
	// CarryTrailing keeps the bytes after each marker and keeps scanning,
	// so no input is lost.
	CarryTrailing
)

func (p Policy) String() string {
	switch p {
	case DiscardTrailing:
		return "discard_trailing"
	case CarryTrailing:
		return "carry_trailing"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a config string to a Policy. Empty selects DiscardTrailing.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "", "discard_trailing", "discard":
		return DiscardTrailing, true
	case "carry_trailing", "carry":
		return CarryTrailing, true
	default:
		return DiscardTrailing, false
	}
}

// State is the frame-sync state.
type State int

const (
	// Idle means the pending buffer is empty.
	Idle State = iota
	// Accumulating means bytes are buffered but no marker has been seen.
	Accumulating
)

func (s State) String() string {
	if s == Accumulating {
		return "accumulating"
	}
	return "idle"
}

// Stats counts assembler activity since construction or the last Reset.
type Stats struct {
	Frames         uint64
	EmptyFrames    uint64
	DiscardedBytes uint64
	BytesFed       uint64
}

// Assembler reconstructs frames from an unframed byte stream. It is owned by
// a single goroutine and is not safe for concurrent use.
type Assembler struct {
	marker  []byte
	policy  Policy
	pending []byte
	stats   Stats
}

// NewAssembler returns an assembler for marker. An empty marker selects
// DefaultMarker.
func NewAssembler(marker string, policy Policy) *Assembler {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Assembler{
		marker: []byte(marker),
		policy: policy,
	}
}

// Marker returns the frame boundary marker.
func (a *Assembler) Marker() string { return string(a.marker) }

// Policy returns the trailing-byte policy.
func (a *Assembler) Policy() Policy { return a.policy }

// Feed appends chunk to the pending buffer and returns the frames it
// completes, in stream order. A nil result means no marker was found and the
// buffer is kept for the next call.
func (a *Assembler) Feed(chunk []byte) []RawFrame {
	a.stats.BytesFed += uint64(len(chunk))
	a.pending = append(a.pending, chunk...)

	var frames []RawFrame
	for {
		i := bytes.Index(a.pending, a.marker)
		if i < 0 {
			return frames
		}

		frame := RawFrame(a.pending[:i])
		frames = append(frames, frame)
		a.stats.Frames++
		if i == 0 {
			a.stats.EmptyFrames++
		}

		rest := a.pending[i+len(a.marker):]
		if a.policy == DiscardTrailing {
			a.stats.DiscardedBytes += uint64(len(rest))
			a.pending = a.pending[:0]
			return frames
		}
		a.pending = append(a.pending[:0], rest...)
	}
}

// State reports whether bytes are waiting for a marker.
func (a *Assembler) State() State {
	if len(a.pending) == 0 {
		return Idle
	}
	return Accumulating
}

// Pending returns the number of buffered bytes.
func (a *Assembler) Pending() int { return len(a.pending) }

// Stats returns a copy of the counters.
func (a *Assembler) Stats() Stats { return a.stats }

// Reset drops the pending buffer and zeroes the counters.
func (a *Assembler) Reset() {
	a.pending = a.pending[:0]
	a.stats = Stats{}
}
