// Package l3classify owns Layer 3 (Classify) of the pressure-mat data model.
//
// Responsibilities: reshaping a Reading into the classifier's input tensor,
// invoking the model, and deriving a (label, confidence) Result against an
// explicit, versioned LabelSet.
// Key types: LabelSet, Tensor, Classifier, Pipeline, Result.
//
// Backends: Sequential (gonum, weights exported from a Keras-style
// Conv1D/Dense stack) and ONNX (onnxruntime). Both are loaded from a JSON
// model manifest via Load.
//
// Dependency rule: L3 may depend on L1-L2, but never on the session layer.
package l3classify
