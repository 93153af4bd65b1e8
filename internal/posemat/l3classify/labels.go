package l3classify

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLabelSetMismatch is returned when two label sets that must agree
	// (configuration vs model, configuration vs dataset) differ.
	ErrLabelSetMismatch = errors.New("label set mismatch")
	// ErrInvalidLabelSet is returned by LabelSet.Validate.
	ErrInvalidLabelSet = errors.New("invalid label set")
)

// LabelSet is the ordered list of pose names. Position i is the classifier's
// output index i.
type LabelSet struct {
	Name    string   `json:"name"`
	Version int      `json:"version"`
	Labels  []string `json:"labels"`
}

// Validate checks that the set is non-empty and its labels are unique and
// non-blank.
func (s LabelSet) Validate() error {
	if len(s.Labels) == 0 {
		return fmt.Errorf("%w: no labels", ErrInvalidLabelSet)
	}
	if s.Version < 0 {
		return fmt.Errorf("%w: negative version %d", ErrInvalidLabelSet, s.Version)
	}
	seen := make(map[string]int, len(s.Labels))
	for i, l := range s.Labels {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("%w: label %d is blank", ErrInvalidLabelSet, i)
		}
		if j, dup := seen[l]; dup {
			return fmt.Errorf("%w: label %q at %d and %d", ErrInvalidLabelSet, l, j, i)
		}
		seen[l] = i
	}
	return nil
}

// Len returns the number of labels.
func (s LabelSet) Len() int { return len(s.Labels) }

// At returns the label at index i.
func (s LabelSet) At(i int) string { return s.Labels[i] }

// Index returns the position of label.
func (s LabelSet) Index(label string) (int, bool) {
	for i, l := range s.Labels {
		if l == label {
			return i, true
		}
	}
	return -1, false
}

// Contains reports whether label is in the set.
func (s LabelSet) Contains(label string) bool {
	_, ok := s.Index(label)
	return ok
}

func (s LabelSet) String() string {
	name := s.Name
	if name == "" {
		name = "labels"
	}
	return fmt.Sprintf("%s@v%d[%s]", name, s.Version, strings.Join(s.Labels, ","))
}

// Diff lists the differences between s and other, one entry per mismatch.
// Names are informational and not compared.
func (s LabelSet) Diff(other LabelSet) []string {
	var diffs []string
	if s.Version != other.Version {
		diffs = append(diffs, fmt.Sprintf("version %d != %d", s.Version, other.Version))
	}
	if len(s.Labels) != len(other.Labels) {
		diffs = append(diffs, fmt.Sprintf("%d labels != %d labels", len(s.Labels), len(other.Labels)))
	}
	n := min(len(s.Labels), len(other.Labels))
	for i := 0; i < n; i++ {
		if s.Labels[i] != other.Labels[i] {
			diffs = append(diffs, fmt.Sprintf("index %d: %q != %q", i, s.Labels[i], other.Labels[i]))
		}
	}
	for i := n; i < len(s.Labels); i++ {
		diffs = append(diffs, fmt.Sprintf("index %d: %q missing", i, s.Labels[i]))
	}
	for i := n; i < len(other.Labels); i++ {
		diffs = append(diffs, fmt.Sprintf("index %d: unexpected %q", i, other.Labels[i]))
	}
	return diffs
}

// Equal reports whether s and other have the same version and labels in
// the same order.
func (s LabelSet) Equal(other LabelSet) bool {
	return len(s.Diff(other)) == 0
}

// CheckCompatible returns ErrLabelSetMismatch, naming every difference, if
// want and got disagree. It never reconciles near-matches such as
// "hand_press" and "hand_pressed".
func CheckCompatible(want, got LabelSet) error {
	diffs := want.Diff(got)
	if len(diffs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s vs %s: %s", ErrLabelSetMismatch, want, got, strings.Join(diffs, "; "))
}
