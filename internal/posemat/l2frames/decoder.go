package l2frames

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/posemat/internal/posemat/l1sync"
)

// DefaultSeparator separates fields on the wire.
const DefaultSeparator = ","

var (
	// ErrFieldCount is returned when a frame does not hold exactly Size fields.
	ErrFieldCount = errors.New("wrong field count")
	// ErrNotInteger is returned when a field does not parse as an integer.
	ErrNotInteger = errors.New("field is not an integer")
)

// Decoder turns RawFrames into Readings.
type Decoder struct {
	Marker    string
	Separator string
}

// NewDecoder returns a decoder for marker and separator; empty values select
// the defaults.
func NewDecoder(marker, separator string) Decoder {
	if marker == "" {
		marker = l1sync.DefaultMarker
	}
	if separator == "" {
		separator = DefaultSeparator
	}
	return Decoder{Marker: marker, Separator: separator}
}

// Decode validates raw and returns the reading. Each step is a hard gate:
// strip the marker and surrounding whitespace and separators, split, require
// exactly Size fields, parse every field as an integer.
func (d Decoder) Decode(raw l1sync.RawFrame) (Reading, error) {
	var reading Reading

	s := string(raw)
	if d.Marker != "" {
		s = strings.ReplaceAll(s, d.Marker, "")
	}
	s = strings.Trim(s, " \t\r\n"+d.Separator)

	var fields []string
	if s != "" {
		fields = strings.Split(s, d.Separator)
	}
	if len(fields) != Size {
		return reading, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(fields), Size)
	}

	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return reading, fmt.Errorf("%w: field %d %q", ErrNotInteger, i, f)
		}
		reading[i] = v
	}
	return reading, nil
}
