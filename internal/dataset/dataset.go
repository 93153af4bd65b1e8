// Package dataset records labelled training samples from the mat and checks
// existing dataset files against a label set.
//
// A dataset file holds one sample per row: the 48 sensor values s0..s47
// followed by the label.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/posemat/internal/posemat/l2frames"
	"github.com/banshee-data/posemat/internal/posemat/l3classify"
)

var (
	// ErrUnknownLabel is returned for labels outside the configured set.
	ErrUnknownLabel = errors.New("label not in label set")
	// ErrBadHeader is returned when a dataset's header is not s0..s47,label.
	ErrBadHeader = errors.New("bad dataset header")
	// ErrBadRow is returned for rows with the wrong field count or
	// non-integer values.
	ErrBadRow = errors.New("bad dataset row")
)

// FileName is the conventional file for one label's samples.
func FileName(label string) string {
	return "dataset_" + label + ".csv"
}

// Header returns the dataset column names.
func Header() []string {
	h := make([]string, 0, l2frames.Size+1)
	for i := 0; i < l2frames.Size; i++ {
		h = append(h, "s"+strconv.Itoa(i))
	}
	return append(h, "label")
}

// Sample is one labelled reading.
type Sample struct {
	Reading l2frames.Reading
	Label   string
}

// CheckLabel fails unless label belongs to labels and is usable in a file
// name.
func CheckLabel(labels l3classify.LabelSet, label string) error {
	if !labels.Contains(label) {
		return fmt.Errorf("%w: %q not in %s", ErrUnknownLabel, label, labels)
	}
	if name := FileName(label); filepath.Base(name) != name {
		return fmt.Errorf("label %q cannot be used as a file name", label)
	}
	return nil
}

// Write encodes samples with a header row.
func Write(w io.Writer, samples []Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	row := make([]string, l2frames.Size+1)
	for _, s := range samples {
		for i, v := range s.Reading {
			row[i] = strconv.Itoa(v)
		}
		row[l2frames.Size] = s.Label
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes samples to dir/FileName(label), replacing any existing file.
func Save(dir, label string, samples []Sample) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dataset dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName(label))

	tmp, err := os.CreateTemp(dir, ".dataset-*.csv")
	if err != nil {
		return "", fmt.Errorf("create temp dataset: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, samples); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write dataset %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write dataset %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("write dataset %s: %w", path, err)
	}
	return path, nil
}

// Load reads a dataset and checks every row against labels.
func Load(r io.Reader, labels l3classify.LabelSet) ([]Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrBadHeader)
	}
	if err != nil {
		return nil, err
	}
	want := Header()
	if len(header) != len(want) {
		return nil, fmt.Errorf("%w: %d columns, want %d", ErrBadHeader, len(header), len(want))
	}
	for i := range want {
		if strings.TrimSpace(header[i]) != want[i] {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrBadHeader, i, header[i], want[i])
		}
	}

	var samples []Sample
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return samples, err
		}
		if len(rec) != l2frames.Size+1 {
			return samples, fmt.Errorf("%w: line %d has %d fields, want %d", ErrBadRow, line, len(rec), l2frames.Size+1)
		}
		var s Sample
		for i := 0; i < l2frames.Size; i++ {
			v, err := strconv.Atoi(strings.TrimSpace(rec[i]))
			if err != nil {
				return samples, fmt.Errorf("%w: line %d column s%d: %q is not an integer", ErrBadRow, line, i, rec[i])
			}
			s.Reading[i] = v
		}
		s.Label = rec[l2frames.Size]
		if !labels.Contains(s.Label) {
			return samples, fmt.Errorf("%w: line %d: %q not in %s", ErrUnknownLabel, line, s.Label, labels)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// LabelCount is the number of rows for one label.
type LabelCount struct {
	Label string
	Rows  int
}

// Summary describes a verified dataset.
type Summary struct {
	Rows   int
	Counts []LabelCount
}

func (s Summary) String() string {
	parts := make([]string, len(s.Counts))
	for i, c := range s.Counts {
		parts[i] = fmt.Sprintf("%s=%d", c.Label, c.Rows)
	}
	return fmt.Sprintf("%d rows (%s)", s.Rows, strings.Join(parts, ", "))
}

// Verify loads a dataset and summarises it by label, in label-set order.
func Verify(r io.Reader, labels l3classify.LabelSet) (Summary, error) {
	samples, err := Load(r, labels)
	if err != nil {
		return Summary{}, err
	}
	counts := make(map[string]int)
	for _, s := range samples {
		counts[s.Label]++
	}
	sum := Summary{Rows: len(samples)}
	for label, n := range counts {
		sum.Counts = append(sum.Counts, LabelCount{Label: label, Rows: n})
	}
	sort.Slice(sum.Counts, func(i, j int) bool {
		a, _ := labels.Index(sum.Counts[i].Label)
		b, _ := labels.Index(sum.Counts[j].Label)
		return a < b
	})
	return sum, nil
}

// VerifyFile opens path and calls Verify.
func VerifyFile(path string, labels l3classify.LabelSet) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()
	sum, err := Verify(f, labels)
	if err != nil {
		return sum, fmt.Errorf("%s: %w", path, err)
	}
	return sum, nil
}
