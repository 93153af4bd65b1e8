package l3classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posemat/internal/posemat/l2frames"
)

var testLabels = LabelSet{Name: "poses", Version: 1, Labels: []string{"empty", "hand_pressed"}}

func fixed(probs ...float32) ClassifierFunc {
	return ClassifierFunc{
		Set: testLabels,
		Fn: func(Tensor) ([][]float32, error) {
			return [][]float32{append([]float32(nil), probs...)}, nil
		},
	}
}

func ones() l2frames.Reading {
	var r l2frames.Reading
	for i := range r {
		r[i] = 1
	}
	return r
}

func TestPipeline_ReshapesReading(t *testing.T) {
	var seen Tensor
	clf := ClassifierFunc{Set: testLabels, Fn: func(in Tensor) ([][]float32, error) {
		seen = in
		return [][]float32{{0.2, 0.8}}, nil
	}}
	p, err := NewPipeline(clf, testLabels, Options{})
	require.NoError(t, err)

	var r l2frames.Reading
	for i := range r {
		r[i] = i * 10
	}
	_, err = p.Classify(r)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 48, 1}, seen.Shape)
	require.Len(t, seen.Data, 48)
	assert.Equal(t, float32(470), seen.Data[47])
}

func TestPipeline_PicksMaximum(t *testing.T) {
	p, err := NewPipeline(fixed(0.1, 0.9), testLabels, Options{})
	require.NoError(t, err)

	res, err := p.Classify(ones())
	require.NoError(t, err)
	assert.Equal(t, "hand_pressed", res.Label)
	assert.Equal(t, 1, res.Index)
	assert.InDelta(t, 0.9, res.Confidence, 1e-6)
	assert.False(t, res.Rejected)
	assert.Equal(t, res.Confidence, res.Probabilities[res.Index])
	for _, pr := range res.Probabilities {
		assert.LessOrEqual(t, pr, res.Confidence)
	}
}

func TestPipeline_TieBreaksToFirstIndex(t *testing.T) {
	p, err := NewPipeline(fixed(0.5, 0.5), testLabels, Options{})
	require.NoError(t, err)

	res, err := p.Classify(ones())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Index)
	assert.Equal(t, "empty", res.Label)
}

func TestPipeline_Deterministic(t *testing.T) {
	clf, err := NewSequential(testLabels, InputShape, 0, tinyNet())
	require.NoError(t, err)
	p, err := NewPipeline(clf, testLabels, Options{})
	require.NoError(t, err)

	first, err := p.Classify(ones())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := p.Classify(ones())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPipeline_Percent(t *testing.T) {
	tests := []struct {
		conf float64
		want float64
	}{
		{0, 0},
		{1, 100},
		{0.731058, 73.11},
		{0.12346, 12.35},
	}
	for _, tt := range tests {
		got := Result{Confidence: tt.conf}.Percent()
		assert.InDelta(t, tt.want, got, 1e-9)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 100.0)
	}
}

func TestPipeline_Threshold(t *testing.T) {
	p, err := NewPipeline(fixed(0.45, 0.55), testLabels, Options{Threshold: 0.6})
	require.NoError(t, err)

	res, err := p.Classify(ones())
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Equal(t, DefaultUnknownLabel, res.Label)
	assert.Equal(t, -1, res.Index)
	assert.InDelta(t, 0.55, res.Confidence, 1e-6)

	p, err = NewPipeline(fixed(0.3, 0.7), testLabels, Options{Threshold: 0.6, UnknownLabel: "unsure"})
	require.NoError(t, err)
	res, err = p.Classify(ones())
	require.NoError(t, err)
	assert.False(t, res.Rejected)
	assert.Equal(t, "hand_pressed", res.Label)
}

func TestNewPipeline_Errors(t *testing.T) {
	_, err := NewPipeline(fixed(0.5, 0.5), LabelSet{Version: 1, Labels: []string{"empty", "hand_press"}}, Options{})
	assert.ErrorIs(t, err, ErrLabelSetMismatch)

	_, err = NewPipeline(fixed(0.5, 0.5), testLabels, Options{Threshold: 1.5})
	assert.Error(t, err)

	_, err = NewPipeline(fixed(0.5, 0.5), testLabels, Options{UnknownLabel: "empty"})
	assert.Error(t, err)

	_, err = NewPipeline(nil, testLabels, Options{})
	assert.Error(t, err)

	_, err = NewPipeline(fixed(0.5, 0.5), LabelSet{}, Options{})
	assert.ErrorIs(t, err, ErrInvalidLabelSet)
}

func TestPipeline_ClassifyErrors(t *testing.T) {
	boom := errors.New("model not loaded")
	tests := []struct {
		name string
		fn   func(Tensor) ([][]float32, error)
		want error
	}{
		{"backend", func(Tensor) ([][]float32, error) { return nil, boom }, boom},
		{"no batch", func(Tensor) ([][]float32, error) { return nil, nil }, ErrShapeMismatch},
		{"wrong classes", func(Tensor) ([][]float32, error) { return [][]float32{{1}}, nil }, ErrShapeMismatch},
		{"negative", func(Tensor) ([][]float32, error) { return [][]float32{{-0.5, 1.5}}, nil }, ErrInvalidDistribution},
		{"logits", func(Tensor) ([][]float32, error) { return [][]float32{{0.9, 0.9}}, nil }, ErrInvalidDistribution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPipeline(ClassifierFunc{Set: testLabels, Fn: tt.fn}, testLabels, Options{})
			require.NoError(t, err)
			_, err = p.Classify(ones())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
