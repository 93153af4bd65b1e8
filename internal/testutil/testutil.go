// Package testutil provides shared test fixtures for mat frames and HTTP
// handlers.
package testutil

import (
	"strconv"
	"strings"
	"testing"

	"github.com/banshee-data/posemat/internal/posemat/l2frames"
)

// Line encodes values in the wire format, terminated by END.
func Line(values ...int) string {
	var b strings.Builder
	for _, v := range values {
		b.WriteString(strconv.Itoa(v))
		b.WriteByte(',')
	}
	b.WriteString("END")
	return b.String()
}

// Constant returns a reading with every cell set to v.
func Constant(v int) l2frames.Reading {
	var r l2frames.Reading
	for i := range r {
		r[i] = v
	}
	return r
}

// Ramp returns a reading holding base, base+1, ... in row-major order.
func Ramp(base int) l2frames.Reading {
	var r l2frames.Reading
	for i := range r {
		r[i] = base + i
	}
	return r
}

// ReadingLine encodes r in the wire format.
func ReadingLine(r l2frames.Reading) string {
	return Line(r[:]...)
}

// Stream joins frames into one payload.
func Stream(frames ...string) string {
	return strings.Join(frames, "")
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
