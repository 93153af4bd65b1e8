package testutil

import (
	"strings"
	"testing"
)

func TestLine(t *testing.T) {
	if got := Line(1, 2, 3); got != "1,2,3,END" {
		t.Errorf("Line = %q", got)
	}
	if got := Line(); got != "END" {
		t.Errorf("empty Line = %q", got)
	}
}

func TestReadingLine(t *testing.T) {
	line := ReadingLine(Ramp(10))
	if !strings.HasPrefix(line, "10,11,12,") || !strings.HasSuffix(line, ",57,END") {
		t.Errorf("ReadingLine = %q", line)
	}
	if n := strings.Count(line, ","); n != 48 {
		t.Errorf("separator count = %d, want 48", n)
	}
}

func TestConstant(t *testing.T) {
	r := Constant(7)
	if r.Sum() != 7*48 {
		t.Errorf("Sum = %d", r.Sum())
	}
}

func TestStream(t *testing.T) {
	if got := Stream(Line(1), Line(2)); got != "1,END2,END" {
		t.Errorf("Stream = %q", got)
	}
}
