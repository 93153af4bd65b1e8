package l3classify

// Classifier is a loaded model. Predict returns one probability
// distribution per batch element, each of length Labels().Len().
type Classifier interface {
	Predict(in Tensor) ([][]float32, error)
	Labels() LabelSet
	Close() error
}

// ClassifierFunc adapts a function to Classifier, mainly for tests and
// fixed-output fakes.
type ClassifierFunc struct {
	Set LabelSet
	Fn  func(in Tensor) ([][]float32, error)
}

// Predict calls Fn.
func (c ClassifierFunc) Predict(in Tensor) ([][]float32, error) { return c.Fn(in) }

// Labels returns Set.
func (c ClassifierFunc) Labels() LabelSet { return c.Set }

// Close is a no-op.
func (c ClassifierFunc) Close() error { return nil }
