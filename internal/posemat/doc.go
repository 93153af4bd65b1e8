// Package posemat is the root of the pressure-mat data model.
//
// The pipeline is split into layers, leaves first:
//
//	l1sync     raw bytes -> RawFrame (marker framing)
//	l2frames   RawFrame -> Reading (48 integers, 8x6 grid)
//	l3classify Reading -> Result (label, confidence)
//	session    read loop driving L1-L3 and dispatching to sinks
//
// Dependency rule: a layer may import lower layers only.
package posemat
