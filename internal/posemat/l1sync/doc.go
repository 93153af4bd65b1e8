// Package l1sync owns Layer 1 (Sync) of the pressure-mat data model.
//
// Responsibilities: accumulating raw bytes from the serial stream and
// splitting them into RawFrames at the frame boundary marker.
// Key types: Assembler, RawFrame, Policy.
//
// Dependency rule: L1 has no inward dependencies on higher layers.
package l1sync
