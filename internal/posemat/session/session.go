package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/posemat/internal/monitoring"
	"github.com/banshee-data/posemat/internal/posemat/l1sync"
	"github.com/banshee-data/posemat/internal/posemat/l2frames"
	"github.com/banshee-data/posemat/internal/posemat/l3classify"
	"github.com/banshee-data/posemat/internal/timeutil"
)

// Defaults for Config.
const (
	DefaultReadSize    = 1
	DefaultReadBackoff = 100 * time.Millisecond
)

// State is the session's operating state.
type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Classifier turns a reading into a result. *l3classify.Pipeline
// implements it.
type Classifier interface {
	Classify(l2frames.Reading) (l3classify.Result, error)
}

// Config tunes a Session. The zero value is usable.
type Config struct {
	Marker    string
	Separator string
	Policy    l1sync.Policy

	// ReadSize is the buffer size for each read. The default of 1 byte
	// never leaves bytes after a marker in one feed, so no trailing data is
	// discarded under DiscardTrailing.
	ReadSize int
	// ReadBackoff is waited after a failed read.
	ReadBackoff time.Duration
	// StopOnEOF ends Run when the source returns io.EOF. By default EOF is
	// treated like any other transient read error.
	StopOnEOF bool

	Clock   timeutil.Clock
	Metrics *monitoring.Metrics
	// OnError observes every contained failure.
	OnError func(*FrameError)
}

// Stats is a snapshot of session counters.
type Stats struct {
	BytesRead       uint64
	Frames          uint64
	Classified      uint64
	Rejected        uint64
	DecodeErrors    uint64
	InferenceErrors uint64
	ReadErrors      uint64
	SinkErrors      uint64
	Panics          uint64
	DiscardedBytes  uint64
}

type counters struct {
	bytesRead       atomic.Uint64
	frames          atomic.Uint64
	classified      atomic.Uint64
	rejected        atomic.Uint64
	decodeErrors    atomic.Uint64
	inferenceErrors atomic.Uint64
	readErrors      atomic.Uint64
	sinkErrors      atomic.Uint64
	panics          atomic.Uint64
	discardedBytes  atomic.Uint64
}

// Session owns one stream and everything derived from it. Run must be called
// at most once; State and Stats are safe to call from other goroutines.
type Session struct {
	id      uuid.UUID
	src     io.Reader
	clf     Classifier
	sinks   []Sink
	cfg     Config
	asm     *l1sync.Assembler
	decoder l2frames.Decoder
	buf     []byte
	seq     uint64

	state   atomic.Int32
	started atomic.Bool
	stats   counters
	logf    func(format string, v ...interface{})
}

// New creates a stopped session reading from src.
func New(src io.Reader, clf Classifier, cfg Config, sinks ...Sink) (*Session, error) {
	if src == nil {
		return nil, errors.New("nil stream source")
	}
	if clf == nil {
		return nil, errors.New("nil classifier")
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = DefaultReadSize
	}
	if cfg.ReadBackoff <= 0 {
		cfg.ReadBackoff = DefaultReadBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	for i, s := range sinks {
		if s == nil {
			return nil, fmt.Errorf("sink %d is nil", i)
		}
	}

	return &Session{
		id:      uuid.New(),
		src:     src,
		clf:     clf,
		sinks:   sinks,
		cfg:     cfg,
		asm:     l1sync.NewAssembler(cfg.Marker, cfg.Policy),
		decoder: l2frames.NewDecoder(cfg.Marker, cfg.Separator),
		buf:     make([]byte, cfg.ReadSize),
		logf:    monitoring.Component("session"),
	}, nil
}

// ID returns the session's unique id.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	return Stats{
		BytesRead:       s.stats.bytesRead.Load(),
		Frames:          s.stats.frames.Load(),
		Classified:      s.stats.classified.Load(),
		Rejected:        s.stats.rejected.Load(),
		DecodeErrors:    s.stats.decodeErrors.Load(),
		InferenceErrors: s.stats.inferenceErrors.Load(),
		ReadErrors:      s.stats.readErrors.Load(),
		SinkErrors:      s.stats.sinkErrors.Load(),
		Panics:          s.stats.panics.Load(),
		DiscardedBytes:  s.stats.discardedBytes.Load(),
	}
}

// Run loops until ctx is cancelled, then returns nil. With StopOnEOF it
// returns io.EOF when the source is exhausted.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.setState(Running)
	defer s.setState(Stopped)

	s.logf("started %s (marker %q, policy %s, read size %d)", s.id, s.asm.Marker(), s.asm.Policy(), s.cfg.ReadSize)
	defer func() {
		st := s.Stats()
		s.logf("stopped %s: %d frames, %d classified, %d decode errors, %d inference errors, %d read errors",
			s.id, st.Frames, st.Classified, st.DecodeErrors, st.InferenceErrors, st.ReadErrors)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := s.step(ctx); err != nil {
			return err
		}
	}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	if m := s.cfg.Metrics; m != nil {
		if st == Running {
			m.SessionRunning.Set(1)
		} else {
			m.SessionRunning.Set(0)
		}
	}
}

// step runs one iteration. It returns an error only to end the loop.
func (s *Session) step(ctx context.Context) error {
	defer s.recoverPanic()

	n, rerr := s.read()
	if n > 0 {
		s.stats.bytesRead.Add(uint64(n))
		if m := s.cfg.Metrics; m != nil {
			m.BytesRead.Add(float64(n))
		}
		s.feed(s.buf[:n])
	}
	if rerr == nil {
		return nil
	}

	var rp *readPanic
	switch {
	case errors.As(rerr, &rp):
		s.stats.panics.Add(1)
		if m := s.cfg.Metrics; m != nil {
			m.Panics.Inc()
		}
		s.report(&FrameError{Kind: KindPanic, Err: rerr})
	case errors.Is(rerr, io.EOF) && s.cfg.StopOnEOF:
		return io.EOF
	default:
		s.stats.readErrors.Add(1)
		if m := s.cfg.Metrics; m != nil {
			m.ReadErrors.Inc()
		}
		s.report(&FrameError{Kind: KindRead, Err: rerr})
	}
	select {
	case <-ctx.Done():
	case <-s.cfg.Clock.After(s.cfg.ReadBackoff):
	}
	return nil
}

// readPanic is a panic raised by the stream source's Read.
type readPanic struct{ value interface{} }

func (p *readPanic) Error() string { return fmt.Sprintf("recovered from read: %v", p.value) }

// read calls the source, turning a panic into a *readPanic error.
func (s *Session) read() (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, &readPanic{value: r}
		}
	}()
	return s.src.Read(s.buf)
}

func (s *Session) feed(chunk []byte) {
	before := s.asm.Stats().DiscardedBytes
	frames := s.asm.Feed(chunk)
	if d := s.asm.Stats().DiscardedBytes - before; d > 0 {
		s.stats.discardedBytes.Add(d)
		if m := s.cfg.Metrics; m != nil {
			m.DiscardedBytes.Add(float64(d))
		}
	}
	for _, raw := range frames {
		s.process(raw)
	}
}

// recoverPanic contains a panic to the current frame or read.
func (s *Session) recoverPanic() {
	r := recover()
	if r == nil {
		return
	}
	s.stats.panics.Add(1)
	if m := s.cfg.Metrics; m != nil {
		m.Panics.Inc()
	}
	s.report(&FrameError{Kind: KindPanic, Seq: s.seq, Err: fmt.Errorf("recovered: %v", r)})
}

func (s *Session) process(raw l1sync.RawFrame) {
	defer s.recoverPanic()

	s.seq++
	seq := s.seq
	s.stats.frames.Add(1)

	reading, err := s.decoder.Decode(raw)
	if err != nil {
		s.stats.decodeErrors.Add(1)
		s.outcome(monitoring.OutcomeDecodeError)
		s.report(&FrameError{Kind: KindDecode, Seq: seq, Err: err})
		return
	}

	start := s.cfg.Clock.Now()
	res, err := s.clf.Classify(reading)
	now := s.cfg.Clock.Now()
	if m := s.cfg.Metrics; m != nil {
		m.InferenceDuration.Observe(now.Sub(start).Seconds())
	}
	if err != nil {
		s.stats.inferenceErrors.Add(1)
		s.outcome(monitoring.OutcomeInferenceError)
		s.report(&FrameError{Kind: KindInference, Seq: seq, Err: err})
		return
	}

	s.stats.classified.Add(1)
	if res.Rejected {
		s.stats.rejected.Add(1)
		s.outcome(monitoring.OutcomeRejected)
	} else {
		s.outcome(monitoring.OutcomeClassified)
	}
	if m := s.cfg.Metrics; m != nil {
		m.PredictionsTotal.WithLabelValues(res.Label).Inc()
		m.Confidence.Observe(res.Confidence)
	}

	ev := Event{
		Seq:       seq,
		Time:      now,
		SessionID: s.id,
		Reading:   reading,
		Result:    res,
	}
	for _, sink := range s.sinks {
		if err := sink.Consume(ev); err != nil {
			name := SinkName(sink)
			s.stats.sinkErrors.Add(1)
			if m := s.cfg.Metrics; m != nil {
				m.SinkErrors.WithLabelValues(name).Inc()
			}
			s.report(&FrameError{Kind: KindSink, Seq: seq, Sink: name, Err: err})
		}
	}
}

func (s *Session) outcome(o string) {
	if m := s.cfg.Metrics; m != nil {
		m.FramesTotal.WithLabelValues(o).Inc()
	}
}

func (s *Session) report(fe *FrameError) {
	s.logf("%v", fe)
	if s.cfg.OnError != nil {
		s.cfg.OnError(fe)
	}
}
