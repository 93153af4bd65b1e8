// Package session drives the pressure-mat pipeline.
//
// A Session owns the stream source, the frame assembler and the decoder, and
// runs the read -> assemble -> decode -> classify -> dispatch cycle on a
// single goroutine. Per-frame failures are contained: they are counted,
// logged and reported through OnError, and the loop carries on. Only context
// cancellation moves a session from Running to Stopped.
//
// Sinks are called synchronously in stream order. Wrap a slow sink with
// NewAsync to move it behind a bounded queue.
package session
