package l3classify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Model formats.
const (
	FormatSequential = "sequential"
	FormatONNX       = "onnx"
)

// maxManifestSize bounds manifest files; sequential weights are inline.
const maxManifestSize = 32 * 1024 * 1024

// Manifest describes a trained model artifact.
type Manifest struct {
	Format     string   `json:"format"`
	Labels     LabelSet `json:"labels"`
	InputShape []int64  `json:"input_shape"`

	// InputScale multiplies raw sensor values before inference. Zero means 1.
	InputScale float64 `json:"input_scale,omitempty"`

	// Layers holds the weights of a sequential model.
	Layers []LayerSpec `json:"layers,omitempty"`

	// Path is the ONNX model file, relative to the manifest.
	Path string       `json:"path,omitempty"`
	ONNX *ONNXOptions `json:"onnx,omitempty"`
}

// LoadManifest reads and decodes a manifest without loading the model.
func LoadManifest(path string) (*Manifest, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".json") {
		return nil, fmt.Errorf("model manifest must be a .json file: %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat model manifest %s: %w", path, err)
	}
	if info.Size() > maxManifestSize {
		return nil, fmt.Errorf("model manifest %s too large: %d bytes", path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model manifest %s: %w", path, err)
	}
	if len(m.InputShape) == 0 {
		m.InputShape = append([]int64(nil), InputShape...)
	}
	if m.Path != "" && !filepath.IsAbs(m.Path) {
		m.Path = filepath.Join(filepath.Dir(path), m.Path)
	}
	return &m, nil
}

// Build constructs the classifier the manifest describes.
func (m *Manifest) Build() (Classifier, error) {
	if err := m.Labels.Validate(); err != nil {
		return nil, fmt.Errorf("model labels: %w", err)
	}
	if !sameShape(m.InputShape, InputShape) {
		return nil, fmt.Errorf("%w: model input %v, want %v", ErrShapeMismatch, m.InputShape, InputShape)
	}

	switch m.Format {
	case FormatSequential:
		return NewSequential(m.Labels, m.InputShape, m.InputScale, m.Layers)
	case FormatONNX:
		if m.Path == "" {
			return nil, fmt.Errorf("onnx manifest has no model path")
		}
		var opts ONNXOptions
		if m.ONNX != nil {
			opts = *m.ONNX
		}
		return NewONNX(m.Path, m.Labels, opts)
	default:
		return nil, fmt.Errorf("unsupported model format %q", m.Format)
	}
}

// Load reads the manifest at path and builds its classifier.
func Load(path string) (Classifier, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	clf, err := m.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", path, err)
	}
	return clf, nil
}
