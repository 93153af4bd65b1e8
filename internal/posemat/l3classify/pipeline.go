package l3classify

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/posemat/internal/posemat/l2frames"
)

// DefaultUnknownLabel is reported for predictions below the threshold.
const DefaultUnknownLabel = "unknown"

// distributionTolerance bounds how far a distribution may sum from 1.
const distributionTolerance = 1e-2

var (
	// ErrShapeMismatch is returned when a tensor or model output has the
	// wrong shape.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrInvalidDistribution is returned when the model output is not a
	// probability distribution.
	ErrInvalidDistribution = errors.New("invalid probability distribution")
)

// Options tunes a Pipeline.
type Options struct {
	// Threshold in [0,1]. Predictions whose maximum probability is below it
	// are reported as UnknownLabel. Zero always predicts.
	Threshold float64
	// UnknownLabel defaults to DefaultUnknownLabel. It must not collide
	// with a label in the set.
	UnknownLabel string
}

// Result is the classification of one reading.
type Result struct {
	Label string
	// Index into the LabelSet, or -1 when Rejected.
	Index int
	// Confidence is the raw maximum probability in [0,1].
	Confidence    float64
	Probabilities []float64
	Rejected      bool
}

// Percent returns the confidence as a percentage rounded to two decimals.
// It is for display only.
func (r Result) Percent() float64 {
	return math.Round(r.Confidence*10000) / 100
}

// Pipeline reshapes readings, invokes the classifier and picks a label.
type Pipeline struct {
	clf    Classifier
	labels LabelSet
	opts   Options
}

// NewPipeline binds clf to labels. It fails with ErrLabelSetMismatch when the
// model was built for a different label set.
func NewPipeline(clf Classifier, labels LabelSet, opts Options) (*Pipeline, error) {
	if clf == nil {
		return nil, errors.New("nil classifier")
	}
	if err := labels.Validate(); err != nil {
		return nil, err
	}
	if err := CheckCompatible(labels, clf.Labels()); err != nil {
		return nil, err
	}
	if opts.Threshold < 0 || opts.Threshold > 1 || math.IsNaN(opts.Threshold) {
		return nil, fmt.Errorf("threshold %v outside [0,1]", opts.Threshold)
	}
	if opts.UnknownLabel == "" {
		opts.UnknownLabel = DefaultUnknownLabel
	}
	if labels.Contains(opts.UnknownLabel) {
		return nil, fmt.Errorf("unknown label %q collides with %s", opts.UnknownLabel, labels)
	}
	return &Pipeline{clf: clf, labels: labels, opts: opts}, nil
}

// Labels returns the label set the pipeline reports against.
func (p *Pipeline) Labels() LabelSet { return p.labels }

// Options returns the effective options.
func (p *Pipeline) Options() Options { return p.opts }

// Classify runs one reading through the classifier. Ties resolve to the
// first maximal index.
func (p *Pipeline) Classify(r l2frames.Reading) (Result, error) {
	out, err := p.clf.Predict(ReadingTensor(&r))
	if err != nil {
		return Result{}, fmt.Errorf("predict: %w", err)
	}
	if len(out) != 1 {
		return Result{}, fmt.Errorf("%w: %d batch outputs, want 1", ErrShapeMismatch, len(out))
	}
	if len(out[0]) != p.labels.Len() {
		return Result{}, fmt.Errorf("%w: %d probabilities for %d labels", ErrShapeMismatch, len(out[0]), p.labels.Len())
	}

	probs := make([]float64, len(out[0]))
	for i, v := range out[0] {
		f := float64(v)
		if math.IsNaN(f) || f < 0 || f > 1+distributionTolerance {
			return Result{}, fmt.Errorf("%w: p[%d] = %v", ErrInvalidDistribution, i, v)
		}
		probs[i] = f
	}
	if sum := floats.Sum(probs); math.Abs(sum-1) > distributionTolerance {
		return Result{}, fmt.Errorf("%w: sums to %v", ErrInvalidDistribution, sum)
	}

	idx := floats.MaxIdx(probs)
	res := Result{
		Label:         p.labels.At(idx),
		Index:         idx,
		Confidence:    math.Min(probs[idx], 1),
		Probabilities: probs,
	}
	if res.Confidence < p.opts.Threshold {
		res.Label = p.opts.UnknownLabel
		res.Index = -1
		res.Rejected = true
	}
	return res, nil
}

// Close releases the classifier.
func (p *Pipeline) Close() error {
	return p.clf.Close()
}
