// Package l2frames owns Layer 2 (Frames) of the pressure-mat data model.
//
// Responsibilities: validating a RawFrame and decoding it into a fixed-size
// sensor Reading of 48 integers laid out as an 8x6 grid.
// Key types: Reading, Decoder.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
// No range validation is performed: sensor noise passes through.
package l2frames
