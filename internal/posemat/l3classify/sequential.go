package l3classify

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LayerSpec describes one layer of a Sequential model. Weight layouts follow
// Keras: Conv1D kernels are [kernel_size][in_channels][filters] and Dense
// kernels are [in][units], both flattened row-major.
type LayerSpec struct {
	Type       string    `json:"type"`
	Filters    int       `json:"filters,omitempty"`
	KernelSize int       `json:"kernel_size,omitempty"`
	PoolSize   int       `json:"pool_size,omitempty"`
	Units      int       `json:"units,omitempty"`
	Activation string    `json:"activation,omitempty"`
	Weights    []float64 `json:"weights,omitempty"`
	Bias       []float64 `json:"bias,omitempty"`
}

// Layer types understood by NewSequential.
const (
	LayerConv1D    = "conv1d"
	LayerMaxPool1D = "maxpool1d"
	LayerFlatten   = "flatten"
	LayerDense     = "dense"
)

type activation func(row []float64)

func lookupActivation(name string) (activation, error) {
	switch name {
	case "", "linear":
		return func([]float64) {}, nil
	case "relu":
		return func(row []float64) {
			for i, v := range row {
				if v < 0 {
					row[i] = 0
				}
			}
		}, nil
	case "sigmoid":
		return func(row []float64) {
			for i, v := range row {
				row[i] = 1 / (1 + math.Exp(-v))
			}
		}, nil
	case "tanh":
		return func(row []float64) {
			for i, v := range row {
				row[i] = math.Tanh(v)
			}
		}, nil
	case "softmax":
		return softmax, nil
	default:
		return nil, fmt.Errorf("unsupported activation %q", name)
	}
}

func softmax(row []float64) {
	m := floats.Max(row)
	for i, v := range row {
		row[i] = math.Exp(v - m)
	}
	floats.Scale(1/floats.Sum(row), row)
}

// layer maps a [length x channels] activation to the next one.
type layer interface {
	forward(x *mat.Dense) *mat.Dense
}

type conv1D struct {
	kernel int
	w      *mat.Dense // (kernel*in) x filters
	bias   []float64
	act    activation
}

func (l *conv1D) forward(x *mat.Dense) *mat.Dense {
	length, ch := x.Dims()
	outLen := length - l.kernel + 1
	raw := x.RawMatrix()

	// Rows of a row-major [length x ch] matrix are contiguous, so each
	// receptive field is one slice.
	patches := mat.NewDense(outLen, l.kernel*ch, nil)
	for i := 0; i < outLen; i++ {
		copy(patches.RawRowView(i), raw.Data[i*raw.Stride:i*raw.Stride+l.kernel*ch])
	}

	var y mat.Dense
	y.Mul(patches, l.w)
	for i := 0; i < outLen; i++ {
		row := y.RawRowView(i)
		floats.Add(row, l.bias)
		l.act(row)
	}
	return &y
}

type maxPool1D struct {
	pool int
}

func (l *maxPool1D) forward(x *mat.Dense) *mat.Dense {
	length, ch := x.Dims()
	outLen := length / l.pool
	y := mat.NewDense(outLen, ch, nil)
	for i := 0; i < outLen; i++ {
		for c := 0; c < ch; c++ {
			m := math.Inf(-1)
			for k := 0; k < l.pool; k++ {
				m = math.Max(m, x.At(i*l.pool+k, c))
			}
			y.Set(i, c, m)
		}
	}
	return y
}

type flatten struct{}

func (flatten) forward(x *mat.Dense) *mat.Dense {
	length, ch := x.Dims()
	data := make([]float64, 0, length*ch)
	for i := 0; i < length; i++ {
		data = append(data, x.RawRowView(i)...)
	}
	return mat.NewDense(1, length*ch, data)
}

type dense struct {
	w    *mat.Dense // in x units
	bias []float64
	act  activation
}

func (l *dense) forward(x *mat.Dense) *mat.Dense {
	var y mat.Dense
	y.Mul(x, l.w)
	rows, _ := y.Dims()
	for i := 0; i < rows; i++ {
		row := y.RawRowView(i)
		floats.Add(row, l.bias)
		l.act(row)
	}
	return &y
}

// Sequential is a feed-forward classifier evaluated with gonum. It accepts
// tensors of shape [batch, 48, 1].
type Sequential struct {
	labels  LabelSet
	length  int
	channel int
	scale   float64
	layers  []layer
}

// NewSequential builds a model from layer specs, checking every weight and
// bias length against the running shape. The final layer must produce one
// row of labels.Len() values.
func NewSequential(labels LabelSet, inputShape []int64, scale float64, specs []LayerSpec) (*Sequential, error) {
	if err := labels.Validate(); err != nil {
		return nil, err
	}
	if !sameShape(inputShape, InputShape) {
		return nil, fmt.Errorf("%w: input shape %v, want %v", ErrShapeMismatch, inputShape, InputShape)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("model has no layers")
	}
	if scale == 0 {
		scale = 1
	}

	m := &Sequential{
		labels:  labels,
		length:  int(inputShape[1]),
		channel: int(inputShape[2]),
		scale:   scale,
	}

	length, ch := m.length, m.channel
	for i, s := range specs {
		l, outLen, outCh, err := buildLayer(s, length, ch)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, s.Type, err)
		}
		m.layers = append(m.layers, l)
		length, ch = outLen, outCh
	}
	if length != 1 || ch != labels.Len() {
		return nil, fmt.Errorf("%w: model output [%d x %d], want [1 x %d]", ErrShapeMismatch, length, ch, labels.Len())
	}
	return m, nil
}

func buildLayer(s LayerSpec, length, ch int) (layer, int, int, error) {
	switch s.Type {
	case LayerConv1D:
		if s.KernelSize <= 0 || s.Filters <= 0 {
			return nil, 0, 0, fmt.Errorf("kernel_size and filters must be positive")
		}
		if s.KernelSize > length {
			return nil, 0, 0, fmt.Errorf("%w: kernel %d longer than input %d", ErrShapeMismatch, s.KernelSize, length)
		}
		if err := checkLen("weights", s.Weights, s.KernelSize*ch*s.Filters); err != nil {
			return nil, 0, 0, err
		}
		if err := checkLen("bias", s.Bias, s.Filters); err != nil {
			return nil, 0, 0, err
		}
		act, err := lookupActivation(s.Activation)
		if err != nil {
			return nil, 0, 0, err
		}
		return &conv1D{
			kernel: s.KernelSize,
			w:      mat.NewDense(s.KernelSize*ch, s.Filters, clone(s.Weights)),
			bias:   clone(s.Bias),
			act:    act,
		}, length - s.KernelSize + 1, s.Filters, nil

	case LayerMaxPool1D:
		if s.PoolSize <= 0 || s.PoolSize > length {
			return nil, 0, 0, fmt.Errorf("pool_size %d invalid for length %d", s.PoolSize, length)
		}
		return &maxPool1D{pool: s.PoolSize}, length / s.PoolSize, ch, nil

	case LayerFlatten:
		return flatten{}, 1, length * ch, nil

	case LayerDense:
		if s.Units <= 0 {
			return nil, 0, 0, fmt.Errorf("units must be positive")
		}
		if err := checkLen("weights", s.Weights, ch*s.Units); err != nil {
			return nil, 0, 0, err
		}
		if err := checkLen("bias", s.Bias, s.Units); err != nil {
			return nil, 0, 0, err
		}
		act, err := lookupActivation(s.Activation)
		if err != nil {
			return nil, 0, 0, err
		}
		return &dense{
			w:    mat.NewDense(ch, s.Units, clone(s.Weights)),
			bias: clone(s.Bias),
			act:  act,
		}, length, s.Units, nil

	default:
		return nil, 0, 0, fmt.Errorf("unsupported layer type %q", s.Type)
	}
}

func checkLen(what string, v []float64, want int) error {
	if len(v) != want {
		return fmt.Errorf("%w: %s has %d values, want %d", ErrShapeMismatch, what, len(v), want)
	}
	return nil
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}

// Predict evaluates every batch element of in.
func (m *Sequential) Predict(in Tensor) ([][]float32, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if len(in.Shape) != 3 || in.Shape[1] != int64(m.length) || in.Shape[2] != int64(m.channel) {
		return nil, fmt.Errorf("%w: got %v, want [batch, %d, %d]", ErrShapeMismatch, in.Shape, m.length, m.channel)
	}

	batch := int(in.Shape[0])
	per := m.length * m.channel
	out := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		data := make([]float64, per)
		for i, v := range in.Data[b*per : (b+1)*per] {
			data[i] = float64(v) * m.scale
		}
		x := mat.NewDense(m.length, m.channel, data)
		for _, l := range m.layers {
			x = l.forward(x)
		}
		row := x.RawRowView(0)
		probs := make([]float32, len(row))
		for i, v := range row {
			probs[i] = float32(v)
		}
		out[b] = probs
	}
	return out, nil
}

// Labels returns the label set the model was trained on.
func (m *Sequential) Labels() LabelSet { return m.labels }

// Close is a no-op.
func (m *Sequential) Close() error { return nil }
