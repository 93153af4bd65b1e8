package l3classify

import (
	"fmt"

	"github.com/banshee-data/posemat/internal/posemat/l2frames"
)

// InputShape is the layout the classifiers expect for one reading:
// one batch element, 48 positions, one channel.
var InputShape = []int64{1, l2frames.Size, 1}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Elements returns the product of the shape dimensions.
func (t Tensor) Elements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Validate checks that the shape and data length agree.
func (t Tensor) Validate() error {
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: non-positive dimension in %v", ErrShapeMismatch, t.Shape)
		}
	}
	if n := t.Elements(); n != int64(len(t.Data)) {
		return fmt.Errorf("%w: shape %v holds %d elements, data has %d", ErrShapeMismatch, t.Shape, n, len(t.Data))
	}
	return nil
}

// ReadingTensor reshapes a reading into InputShape.
func ReadingTensor(r *l2frames.Reading) Tensor {
	shape := make([]int64, len(InputShape))
	copy(shape, InputShape)
	return Tensor{Shape: shape, Data: r.Float32()}
}

func sameShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
