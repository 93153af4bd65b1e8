package l3classify

import (
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// DefaultONNXLibrary is looked up next to the model when no library path is
// configured.
const DefaultONNXLibrary = "libonnxruntime.so"

// ortEnv guards the process-wide ONNX Runtime environment.
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXOptions configures the ONNX backend. Empty names select the model's
// first input and output.
type ONNXOptions struct {
	Library        string `json:"library,omitempty"`
	InputName      string `json:"input_name,omitempty"`
	OutputName     string `json:"output_name,omitempty"`
	IntraOpThreads int    `json:"intra_op_threads,omitempty"`
}

// ONNX runs a model exported to ONNX through onnxruntime. The model must
// take [batch, 48, 1] float32 and return [batch, labels] probabilities.
type ONNX struct {
	labels     LabelSet
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
}

// NewONNX loads modelPath and validates its input and output shapes against
// InputShape and labels.
func NewONNX(modelPath string, labels LabelSet, opts ONNXOptions) (*ONNX, error) {
	if err := labels.Validate(); err != nil {
		return nil, err
	}

	lib := opts.Library
	if lib == "" {
		lib = filepath.Join(filepath.Dir(modelPath), DefaultONNXLibrary)
	}
	if err := initORT(lib); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}

	in, err := pickInfo(inputs, opts.InputName, "input")
	if err != nil {
		return nil, err
	}
	out, err := pickInfo(outputs, opts.OutputName, "output")
	if err != nil {
		return nil, err
	}
	if err := checkDims(in.Dimensions, InputShape[1:]); err != nil {
		return nil, fmt.Errorf("onnx: input %q: %w", in.Name, err)
	}
	if err := checkDims(out.Dimensions, []int64{int64(labels.Len())}); err != nil {
		return nil, fmt.Errorf("onnx: output %q: %w", out.Name, err)
	}

	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer sessOpts.Destroy()
	if opts.IntraOpThreads > 0 {
		if err := sessOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("onnx: set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{in.Name}, []string{out.Name}, sessOpts)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &ONNX{
		labels:     labels,
		session:    session,
		inputName:  in.Name,
		outputName: out.Name,
	}, nil
}

func pickInfo(infos []ort.InputOutputInfo, name, kind string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("onnx: model has no %ss", kind)
	}
	if name == "" {
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("onnx: model has no %s %q", kind, name)
}

// checkDims compares every dimension after the batch axis. Negative model
// dimensions are dynamic and match anything.
func checkDims(model ort.Shape, want []int64) error {
	if len(model) != len(want)+1 {
		return fmt.Errorf("%w: model dims %v, want [batch %v]", ErrShapeMismatch, model, want)
	}
	for i, w := range want {
		if d := model[i+1]; d >= 0 && d != w {
			return fmt.Errorf("%w: model dims %v, want [batch %v]", ErrShapeMismatch, model, want)
		}
	}
	return nil
}

// Predict runs one inference call.
func (m *ONNX) Predict(in Tensor) ([][]float32, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if len(in.Shape) != len(InputShape) || !sameShape(in.Shape[1:], InputShape[1:]) {
		return nil, fmt.Errorf("%w: got %v, want [batch %v]", ErrShapeMismatch, in.Shape, InputShape[1:])
	}
	batch := in.Shape[0]
	classes := int64(m.labels.Len())

	tIn, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create input tensor: %w", err)
	}
	defer tIn.Destroy()

	tOut, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, classes))
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer tOut.Destroy()

	if err := m.session.Run([]ort.Value{tIn}, []ort.Value{tOut}); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	// Copy out before the tensor is destroyed.
	return splitBatch(tOut.GetData(), batch, classes)
}

// splitBatch copies a flat [batch, classes] output into one row per batch
// element. The rows do not alias src.
func splitBatch(src []float32, batch, classes int64) ([][]float32, error) {
	if batch <= 0 || classes <= 0 {
		return nil, fmt.Errorf("%w: output shape [%d %d]", ErrShapeMismatch, batch, classes)
	}
	if int64(len(src)) != batch*classes {
		return nil, fmt.Errorf("%w: output has %d values, want %d", ErrShapeMismatch, len(src), batch*classes)
	}
	out := make([][]float32, batch)
	for b := range out {
		start := int64(b) * classes
		out[b] = append([]float32(nil), src[start:start+classes]...)
	}
	return out, nil
}

// Labels returns the label set recorded in the manifest.
func (m *ONNX) Labels() LabelSet { return m.labels }

// Close releases the session.
func (m *ONNX) Close() error {
	return m.session.Destroy()
}
