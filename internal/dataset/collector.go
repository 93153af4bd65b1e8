package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/posemat/internal/monitoring"
	"github.com/banshee-data/posemat/internal/posemat/l1sync"
	"github.com/banshee-data/posemat/internal/posemat/l2frames"
	"github.com/banshee-data/posemat/internal/posemat/l3classify"
	"github.com/banshee-data/posemat/internal/timeutil"
)

// ErrShortStream is returned when the source ends before enough samples
// were collected.
var ErrShortStream = errors.New("stream ended before all samples were collected")

// Defaults for Options.
const (
	DefaultSamples     = 150
	DefaultStartDelay  = 3 * time.Second
	DefaultReadBackoff = 100 * time.Millisecond
)

// Options tunes a Collector.
type Options struct {
	Samples    int
	StartDelay time.Duration

	Marker    string
	Separator string
	Policy    l1sync.Policy
	ReadSize  int
	// ReadBackoff is waited after a failed read other than io.EOF.
	ReadBackoff time.Duration

	Clock timeutil.Clock
	// Progress is called after each accepted sample.
	Progress func(n, total int)
}

// Stats counts what a collection run saw.
type Stats struct {
	BytesRead  uint64
	Frames     uint64
	Accepted   int
	Skipped    uint64
	ReadErrors uint64
}

// Collector records valid frames for one label.
type Collector struct {
	label   string
	opts    Options
	asm     *l1sync.Assembler
	decoder l2frames.Decoder
	logf    func(format string, v ...interface{})
}

// NewCollector fails with ErrUnknownLabel unless label belongs to labels.
func NewCollector(labels l3classify.LabelSet, label string, opts Options) (*Collector, error) {
	if err := labels.Validate(); err != nil {
		return nil, err
	}
	if err := CheckLabel(labels, label); err != nil {
		return nil, err
	}
	if opts.Samples <= 0 {
		opts.Samples = DefaultSamples
	}
	if opts.StartDelay < 0 {
		opts.StartDelay = 0
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = 1
	}
	if opts.ReadBackoff <= 0 {
		opts.ReadBackoff = DefaultReadBackoff
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Collector{
		label:   label,
		opts:    opts,
		asm:     l1sync.NewAssembler(opts.Marker, opts.Policy),
		decoder: l2frames.NewDecoder(opts.Marker, opts.Separator),
		logf:    monitoring.Component("collect"),
	}, nil
}

// Label returns the label every sample is tagged with.
func (c *Collector) Label() string { return c.label }

// Collect waits the start delay, then reads src until Samples valid frames
// have been decoded. Malformed frames are skipped. It returns the samples
// gathered so far with ctx.Err() on cancellation, or with ErrShortStream if
// src reaches io.EOF first.
func (c *Collector) Collect(ctx context.Context, src io.Reader) ([]Sample, Stats, error) {
	var st Stats
	if c.opts.StartDelay > 0 {
		c.logf("starting in %s", c.opts.StartDelay)
		select {
		case <-ctx.Done():
			return nil, st, ctx.Err()
		case <-c.opts.Clock.After(c.opts.StartDelay):
		}
	}

	samples := make([]Sample, 0, c.opts.Samples)
	buf := make([]byte, c.opts.ReadSize)
	for len(samples) < c.opts.Samples {
		if err := ctx.Err(); err != nil {
			return samples, st, err
		}

		n, err := src.Read(buf)
		if n > 0 {
			st.BytesRead += uint64(n)
			for _, raw := range c.asm.Feed(buf[:n]) {
				st.Frames++
				reading, derr := c.decoder.Decode(raw)
				if derr != nil {
					st.Skipped++
					c.logf("skipping frame %d: %v", st.Frames, derr)
					continue
				}
				if len(samples) == c.opts.Samples {
					break
				}
				samples = append(samples, Sample{Reading: reading, Label: c.label})
				st.Accepted = len(samples)
				if c.opts.Progress != nil {
					c.opts.Progress(len(samples), c.opts.Samples)
				}
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(samples) < c.opts.Samples {
				return samples, st, fmt.Errorf("%w: got %d of %d", ErrShortStream, len(samples), c.opts.Samples)
			}
			break
		}
		st.ReadErrors++
		c.logf("read error: %v", err)
		select {
		case <-ctx.Done():
			return samples, st, ctx.Err()
		case <-c.opts.Clock.After(c.opts.ReadBackoff):
		}
	}
	return samples, st, nil
}
