// Command collect records labelled training frames from the mat into
// dataset_<label>.csv, or verifies an existing dataset file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/posemat/internal/config"
	"github.com/banshee-data/posemat/internal/dataset"
	"github.com/banshee-data/posemat/internal/serialmux"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to the JSON configuration file")
	label      = flag.String("label", "", "Pose label to record (must be in the configured label set)")
	samples    = flag.Int("samples", 0, "Number of frames to record (overrides config)")
	port       = flag.String("port", "", "Serial port to use (overrides config)")
	devMode    = flag.Bool("dev", false, "Replay a fixtures file instead of opening the serial port")
	fixtures   = flag.String("fixtures", "testdata/fixtures.txt", "Fixtures file replayed in dev mode")
	dir        = flag.String("dir", "", "Output directory (overrides config)")
	verify     = flag.String("verify", "", "Verify this dataset file against the label set and exit")
)

// collectOptions builds collector options from the config.
func collectOptions(cfg *config.Config, n int, progress io.Writer) dataset.Options {
	if n <= 0 {
		n = cfg.GetSamples()
	}
	return dataset.Options{
		Samples:     n,
		StartDelay:  cfg.GetStartDelay(),
		Marker:      cfg.GetMarker(),
		Separator:   cfg.GetSeparator(),
		Policy:      cfg.GetTrailingPolicy(),
		ReadSize:    cfg.GetReadSize(),
		ReadBackoff: cfg.GetReadBackoff(),
		Progress: func(done, total int) {
			fmt.Fprintf(progress, "\rCollected: %d/%d", done, total)
			if done == total {
				fmt.Fprintln(progress)
			}
		},
	}
}

// collect records one label's samples from src and saves them under outDir.
func collect(ctx context.Context, cfg *config.Config, lbl string, opts dataset.Options, src io.Reader, outDir string) (string, error) {
	c, err := dataset.NewCollector(cfg.Labels, lbl, opts)
	if err != nil {
		return "", err
	}
	log.Printf("recording %d frames for %q; hold the pose", opts.Samples, lbl)

	got, st, err := c.Collect(ctx, src)
	if err != nil {
		return "", fmt.Errorf("collection stopped after %d of %d samples: %w", len(got), opts.Samples, err)
	}
	log.Printf("read %d bytes, %d frames, %d skipped", st.BytesRead, st.Frames, st.Skipped)
	return dataset.Save(outDir, lbl, got)
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Serial.Port = port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if *verify != "" {
		sum, err := dataset.VerifyFile(*verify, cfg.Labels)
		if err != nil {
			log.Fatalf("dataset invalid: %v", err)
		}
		fmt.Printf("%s: %s\n", *verify, sum)
		return
	}

	if *label == "" {
		log.Fatalf("-label is required; one of %v", cfg.Labels.Labels)
	}
	outDir := *dir
	if outDir == "" {
		outDir = cfg.GetDatasetDir()
	}

	var src io.ReadCloser
	if *devMode {
		data, err := os.ReadFile(*fixtures)
		if err != nil {
			log.Fatalf("failed to read fixtures file: %v", err)
		}
		src = serialmux.NewReplayPort(data, 50*time.Millisecond)
	} else {
		src, err = serialmux.NewRealSerialPortFactory().Open(cfg.GetPort(), cfg.GetPortOptions())
		if err != nil {
			log.Fatalf("failed to open serial port: %v", err)
		}
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path, err := collect(ctx, cfg, *label, collectOptions(cfg, *samples, os.Stdout), src, outDir)
	if err != nil {
		if errors.Is(err, dataset.ErrUnknownLabel) {
			log.Fatalf("%v; update the label set in %s or fix -label", err, *configPath)
		}
		log.Fatalf("%v", err)
	}
	fmt.Printf("Saved %s\n", path)
}
