package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/posemat/internal/config"
	"github.com/banshee-data/posemat/internal/dataset"
	"github.com/banshee-data/posemat/internal/monitoring"
	"github.com/banshee-data/posemat/internal/testutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join("..", "..", config.DefaultConfigPath))
	testutil.AssertNoError(t, err)
	return cfg
}

func TestCollectOptions(t *testing.T) {
	cfg := testConfig(t)
	var progress bytes.Buffer

	opts := collectOptions(cfg, 0, &progress)
	if opts.Samples != 150 {
		t.Errorf("Samples = %d, want config default 150", opts.Samples)
	}
	if opts.Marker != "END" || opts.Separator != "," {
		t.Errorf("framing = %q %q", opts.Marker, opts.Separator)
	}

	opts = collectOptions(cfg, 2, &progress)
	opts.Progress(1, 2)
	opts.Progress(2, 2)
	if got := progress.String(); got != "\rCollected: 1/2\rCollected: 2/2\n" {
		t.Errorf("progress = %q", got)
	}
}

func TestCollect(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()

	opts := collectOptions(cfg, 2, &bytes.Buffer{})
	opts.StartDelay = 0
	src := strings.NewReader(testutil.Stream(
		testutil.ReadingLine(testutil.Constant(3000)),
		"bad,END",
		testutil.ReadingLine(testutil.Constant(3100)),
	))

	path, err := collect(context.Background(), cfg, "hand_pressed", opts, src, dir)
	testutil.AssertNoError(t, err)
	if want := filepath.Join(dir, "dataset_hand_pressed.csv"); path != want {
		t.Errorf("path = %s, want %s", path, want)
	}

	sum, err := dataset.VerifyFile(path, cfg.Labels)
	testutil.AssertNoError(t, err)
	if sum.String() != "2 rows (hand_pressed=2)" {
		t.Errorf("summary = %s", sum)
	}
}

func TestCollect_RejectsLabelOutsideSet(t *testing.T) {
	cfg := testConfig(t)
	opts := collectOptions(cfg, 1, &bytes.Buffer{})

	_, err := collect(context.Background(), cfg, "hand_press", opts, strings.NewReader(""), t.TempDir())
	if !errors.Is(err, dataset.ErrUnknownLabel) {
		t.Fatalf("err = %v, want ErrUnknownLabel", err)
	}
}

func TestCollect_ShortStream(t *testing.T) {
	cfg := testConfig(t)
	opts := collectOptions(cfg, 5, &bytes.Buffer{})
	opts.StartDelay = 0

	_, err := collect(context.Background(), cfg, "empty", opts, strings.NewReader(testutil.ReadingLine(testutil.Constant(0))), t.TempDir())
	if !errors.Is(err, dataset.ErrShortStream) {
		t.Fatalf("err = %v, want ErrShortStream", err)
	}
}
