// Command posemat reads the pressure mat's serial stream, classifies every
// frame and publishes the results to the console, log files, a live web
// page and a gRPC stream.
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
	"github.com/banshee-data/posemat/internal/posemat/l3classify"
	"github.com/banshee-data/posemat/internal/serialmux"
	"github.com/banshee-data/posemat/internal/version"
)

var (
	configPath     = flag.String("config", config.DefaultConfigPath, "Path to the JSON configuration file")
	port           = flag.String("port", "", "Serial port to use (overrides config; ignored in dev mode)")
	devMode        = flag.Bool("dev", false, "Replay a fixtures file instead of opening the serial port")
	fixtures       = flag.String("fixtures", "testdata/fixtures.txt", "Fixtures file replayed in dev mode")
	replayInterval = flag.Duration("replay-interval", 200*time.Millisecond, "Delay between fixture replays in dev mode")
	modelPath      = flag.String("model", "", "Model manifest (overrides config)")
	listen         = flag.String("listen", "", "HTTP listen address (overrides config; \"off\" disables)")
	grpcListen     = flag.String("grpc-listen", "", "gRPC listen address (overrides config; \"off\" disables)")
	dbPath         = flag.String("db", "", "Record results to this sqlite database")
	csvPath        = flag.String("log-csv", "", "Append results to this CSV file")
	heatmapPath    = flag.String("heatmap", "", "Render the latest frame to this PNG file")
	showVersion    = flag.Bool("version", false, "Print version information and exit")
)

// flagOverrides carries command-line values onto the loaded configuration.
type flagOverrides struct {
	Port       string
	Model      string
	Listen     string
	GRPCListen string
	DB         string
	CSV        string
	Heatmap    string
}

func (o flagOverrides) apply(cfg *config.Config) {
	if o.Port != "" {
		cfg.Serial.Port = &o.Port
	}
	if o.Model != "" {
		cfg.Model.Manifest = &o.Model
	}
	if o.Listen != "" {
		v := o.Listen
		if v == "off" {
			v = ""
		}
		cfg.Server.Listen = &v
	}
	if o.GRPCListen != "" {
		v := o.GRPCListen
		if v == "off" {
			v = ""
		}
		cfg.Server.GRPCListen = &v
	}
	if o.DB != "" {
		cfg.Sinks.DB = &config.FileSink{Enabled: true, Path: o.DB}
	}
	if o.CSV != "" {
		cfg.Sinks.CSVLog = &config.FileSink{Enabled: true, Path: o.CSV}
	}
	if o.Heatmap != "" {
		h := cfg.GetHeatmap()
		h.Enabled = true
		h.Path = o.Heatmap
		cfg.Sinks.Heatmap = &h
	}
}

// openSource opens the stream the session reads from.
func openSource(cfg *config.Config, dev bool, fixturesPath string, interval time.Duration, factory serialmux.SerialPortFactory) (io.ReadCloser, error) {
	if dev {
		data, err := os.ReadFile(fixturesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read fixtures file: %w", err)
		}
		log.Printf("dev mode: replaying %s every %s", fixturesPath, interval)
		return serialmux.NewReplayPort(data, interval), nil
	}
	p, err := factory.Open(cfg.GetPort(), cfg.GetPortOptions())
	if err != nil {
		return nil, err
	}
	log.Printf("opened serial port %s", cfg.GetPort())
	return p, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("posemat %s (git SHA: %s, built: %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	flagOverrides{
		Port:       *port,
		Model:      *modelPath,
		Listen:     *listen,
		GRPCListen: *grpcListen,
		DB:         *dbPath,
		CSV:        *csvPath,
		Heatmap:    *heatmapPath,
	}.apply(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	clf, err := l3classify.Load(cfg.GetModelManifest())
	if err != nil {
		log.Fatalf("failed to load model: %v", err)
	}
	pipeline, err := l3classify.NewPipeline(clf, cfg.Labels, cfg.PipelineOptions())
	if err != nil {
		clf.Close()
		log.Fatalf("failed to build inference pipeline: %v", err)
	}
	defer pipeline.Close()
	log.Printf("loaded model %s for %s", cfg.GetModelManifest(), cfg.Labels)

	src, err := openSource(cfg, *devMode, *fixtures, *replayInterval, serialmux.NewRealSerialPortFactory())
	if err != nil {
		log.Fatalf("failed to open stream source: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Closing the source unblocks a pending read once shutdown starts.
	go func() {
		<-ctx.Done()
		src.Close()
	}()

	err = run(ctx, cfg, src, pipeline, os.Stdout)
	src.Close()
	if err != nil && !errors.Is(err, io.EOF) {
		log.Fatalf("session failed: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
