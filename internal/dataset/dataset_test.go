package dataset

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/posemat/internal/monitoring"
	"github.com/banshee-data/posemat/internal/posemat/l3classify"
	"github.com/banshee-data/posemat/internal/serialmux"
	"github.com/banshee-data/posemat/internal/testutil"
	"github.com/banshee-data/posemat/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

var poses = l3classify.LabelSet{Name: "poses", Version: 1, Labels: []string{"empty", "hand_pressed"}}

func TestHeader(t *testing.T) {
	h := Header()
	if len(h) != 49 {
		t.Fatalf("len = %d, want 49", len(h))
	}
	if h[0] != "s0" || h[47] != "s47" || h[48] != "label" {
		t.Errorf("header = %v", h)
	}
}

func TestNewCollector_LabelMustBeInSet(t *testing.T) {
	// The collection and inference label sets must agree exactly.
	_, err := NewCollector(poses, "hand_press", Options{})
	if !errors.Is(err, ErrUnknownLabel) {
		t.Fatalf("err = %v, want ErrUnknownLabel", err)
	}

	c, err := NewCollector(poses, "hand_pressed", Options{})
	if err != nil {
		t.Fatalf("NewCollector failed: %v", err)
	}
	if c.Label() != "hand_pressed" {
		t.Errorf("Label = %q", c.Label())
	}
}

func TestNewCollector_PathLabel(t *testing.T) {
	set := l3classify.LabelSet{Labels: []string{"a/b"}}
	if _, err := NewCollector(set, "a/b", Options{}); err == nil {
		t.Error("expected error for label containing a path separator")
	}
}

func TestCollect(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	var progress []int

	c, err := NewCollector(poses, "empty", Options{
		Samples:    3,
		StartDelay: 3 * time.Second,
		Clock:      clock,
		Progress:   func(n, total int) { progress = append(progress, n) },
	})
	if err != nil {
		t.Fatal(err)
	}

	src := strings.NewReader(testutil.Stream(
		testutil.ReadingLine(testutil.Ramp(0)),
		"1,2,3,END",
		testutil.ReadingLine(testutil.Ramp(100)),
		"x"+testutil.ReadingLine(testutil.Ramp(0))[1:],
		testutil.ReadingLine(testutil.Constant(5)),
		testutil.ReadingLine(testutil.Constant(9)),
	))

	samples, st, err := c.Collect(context.Background(), src)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}
	want := []Sample{
		{Reading: testutil.Ramp(0), Label: "empty"},
		{Reading: testutil.Ramp(100), Label: "empty"},
		{Reading: testutil.Constant(5), Label: "empty"},
	}
	if diff := cmp.Diff(want, samples); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
	if st.Skipped != 2 || st.Accepted != 3 || st.Frames != 5 {
		t.Errorf("stats = %+v", st)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, progress); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]time.Duration{3 * time.Second}, clock.Waits()); diff != "" {
		t.Errorf("waits mismatch (-want +got):\n%s", diff)
	}
	// Reading stops as soon as enough samples are in.
	if src.Len() == 0 {
		t.Error("collector read past the last needed frame")
	}
}

func TestCollect_ShortStream(t *testing.T) {
	c, err := NewCollector(poses, "empty", Options{Samples: 5, Clock: timeutil.NewMockClock(time.Unix(0, 0))})
	if err != nil {
		t.Fatal(err)
	}
	samples, _, err := c.Collect(context.Background(), strings.NewReader(testutil.ReadingLine(testutil.Ramp(0))))
	if !errors.Is(err, ErrShortStream) {
		t.Fatalf("err = %v, want ErrShortStream", err)
	}
	if len(samples) != 1 {
		t.Errorf("got %d partial samples, want 1", len(samples))
	}
}

func TestCollect_ReadErrorsBackOff(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	c, err := NewCollector(poses, "hand_pressed", Options{Samples: 1, ReadSize: 64, Clock: clock})
	if err != nil {
		t.Fatal(err)
	}

	line := testutil.ReadingLine(testutil.Constant(1))
	port := serialmux.NewTestableSerialPort().
		QueueString(line[:20]).
		QueueError(errors.New("device busy")).
		QueueString(line[20:])

	samples, st, err := c.Collect(context.Background(), port)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(samples) != 1 || samples[0].Reading != testutil.Constant(1) {
		t.Errorf("samples = %v", samples)
	}
	if st.ReadErrors != 1 {
		t.Errorf("ReadErrors = %d, want 1", st.ReadErrors)
	}
	if diff := cmp.Diff([]time.Duration{DefaultReadBackoff}, clock.Waits()); diff != "" {
		t.Errorf("waits mismatch (-want +got):\n%s", diff)
	}
}

func TestCollect_Cancelled(t *testing.T) {
	c, err := NewCollector(poses, "empty", Options{Samples: 1})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := c.Collect(ctx, strings.NewReader("")); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSaveAndVerify(t *testing.T) {
	dir := t.TempDir()
	samples := []Sample{
		{Reading: testutil.Ramp(0), Label: "hand_pressed"},
		{Reading: testutil.Ramp(1), Label: "hand_pressed"},
	}
	path, err := Save(dir, "hand_pressed", samples)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if filepath.Base(path) != "dataset_hand_pressed.csv" {
		t.Errorf("path = %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	firstLine := strings.SplitN(string(data), "\n", 2)[0]
	if !strings.HasPrefix(firstLine, "s0,s1,") || !strings.HasSuffix(firstLine, ",s47,label") {
		t.Errorf("header line = %q", firstLine)
	}

	sum, err := VerifyFile(path, poses)
	if err != nil {
		t.Fatalf("VerifyFile failed: %v", err)
	}
	if sum.Rows != 2 {
		t.Errorf("Rows = %d, want 2", sum.Rows)
	}
	if got := sum.String(); got != "2 rows (hand_pressed=2)" {
		t.Errorf("String = %q", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	samples := []Sample{
		{Reading: testutil.Constant(4095), Label: "empty"},
		{Reading: testutil.Ramp(7), Label: "hand_pressed"},
	}
	var buf bytes.Buffer
	if err := Write(&buf, samples); err != nil {
		t.Fatal(err)
	}
	got, err := Load(&buf, poses)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(samples, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestVerify_Errors(t *testing.T) {
	header := strings.Join(Header(), ",") + "\n"
	row := func(label string) string {
		return strings.TrimSuffix(testutil.ReadingLine(testutil.Ramp(0)), "END") + label + "\n"
	}

	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"empty file", "", ErrBadHeader},
		{"integer header", "0,1,2\n", ErrBadHeader},
		{"renamed column", strings.Replace(header, "s3,", "x3,", 1), ErrBadHeader},
		{"collection label", header + row("hand_press"), ErrUnknownLabel},
		{"short row", header + "1,2,3,empty\n", ErrBadRow},
		{"non-integer", header + "x" + row("empty")[1:], ErrBadRow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Verify(strings.NewReader(tt.data), poses)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerify_CountsInLabelOrder(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, []Sample{
		{Reading: testutil.Ramp(0), Label: "hand_pressed"},
		{Reading: testutil.Ramp(0), Label: "empty"},
		{Reading: testutil.Ramp(0), Label: "hand_pressed"},
	})
	if err != nil {
		t.Fatal(err)
	}
	sum, err := Verify(&buf, poses)
	if err != nil {
		t.Fatal(err)
	}
	want := []LabelCount{{"empty", 1}, {"hand_pressed", 2}}
	if diff := cmp.Diff(want, sum.Counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}
