// Package config loads the posemat JSON configuration. Every field is
// optional: Get* methods supply defaults for anything the file omits, so
// partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/posemat/internal/posemat/l1sync"
	"github.com/banshee-data/posemat/internal/posemat/l3classify"
	"github.com/banshee-data/posemat/internal/posemat/session"
	"github.com/banshee-data/posemat/internal/serialmux"
)

// DefaultConfigPath is the canonical defaults file, relative to the repo root.
const DefaultConfigPath = "config/posemat.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration.
type Config struct {
	Serial    SerialConfig        `json:"serial"`
	Stream    StreamConfig        `json:"stream"`
	Labels    l3classify.LabelSet `json:"labels"`
	Model     ModelConfig         `json:"model"`
	Inference InferenceConfig     `json:"inference"`
	Sinks     SinksConfig         `json:"sinks"`
	Server    ServerConfig        `json:"server"`
	Dataset   DatasetConfig       `json:"dataset"`
}

// SerialConfig selects and configures the mat's serial port.
type SerialConfig struct {
	Port *string `json:"port,omitempty"`
	serialmux.PortOptions
}

// StreamConfig configures framing and the read loop.
type StreamConfig struct {
	Marker         *string `json:"marker,omitempty"`
	Separator      *string `json:"separator,omitempty"`
	TrailingPolicy *string `json:"trailing_policy,omitempty"`
	ReadSize       *int    `json:"read_size,omitempty"`
	ReadBackoff    *string `json:"read_backoff,omitempty"` // duration string like "100ms"
	StopOnEOF      *bool   `json:"stop_on_eof,omitempty"`
}

// ModelConfig points at the model manifest.
type ModelConfig struct {
	Manifest *string `json:"manifest,omitempty"`
}

// InferenceConfig tunes the classification pipeline.
type InferenceConfig struct {
	Threshold    *float64 `json:"threshold,omitempty"`
	UnknownLabel *string  `json:"unknown_label,omitempty"`
}

// SinksConfig enables result consumers.
type SinksConfig struct {
	Console    *bool          `json:"console,omitempty"`
	CSVLog     *FileSink      `json:"csv_log,omitempty"`
	Heatmap    *HeatmapConfig `json:"heatmap,omitempty"`
	DB         *FileSink      `json:"db,omitempty"`
	QueueSize  *int           `json:"queue_size,omitempty"`
	Overflow   *string        `json:"overflow,omitempty"`
	AsyncSinks *bool          `json:"async,omitempty"`
}

// FileSink is a sink writing to one path.
type FileSink struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// HeatmapConfig controls PNG rendering.
type HeatmapConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
	Every   int    `json:"every,omitempty"`
	Size    string `json:"size,omitempty"` // vg length like "10cm"
}

// ServerConfig holds listen addresses. Empty disables the server.
type ServerConfig struct {
	Listen     *string `json:"listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`
}

// DatasetConfig configures dataset collection.
type DatasetConfig struct {
	Samples    *int    `json:"samples,omitempty"`
	StartDelay *string `json:"start_delay,omitempty"`
	Dir        *string `json:"dir,omitempty"`
}

// Load reads a Config from a JSON file. The file must have a .json extension
// and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories. It panics on failure and is meant for tests.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every set value. Labels are required; everything else has
// a default.
func (c *Config) Validate() error {
	if err := c.Labels.Validate(); err != nil {
		return err
	}
	if _, err := c.Serial.PortOptions.Normalise(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}

	if c.Stream.Marker != nil && *c.Stream.Marker == "" {
		return fmt.Errorf("stream.marker must not be empty")
	}
	if c.Stream.Separator != nil && *c.Stream.Separator == "" {
		return fmt.Errorf("stream.separator must not be empty")
	}
	if c.Stream.TrailingPolicy != nil {
		if _, ok := l1sync.ParsePolicy(*c.Stream.TrailingPolicy); !ok {
			return fmt.Errorf("unknown stream.trailing_policy %q", *c.Stream.TrailingPolicy)
		}
	}
	if c.Stream.ReadSize != nil && *c.Stream.ReadSize <= 0 {
		return fmt.Errorf("stream.read_size must be positive, got %d", *c.Stream.ReadSize)
	}
	if err := checkDuration("stream.read_backoff", c.Stream.ReadBackoff); err != nil {
		return err
	}

	if t := c.Inference.Threshold; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("inference.threshold must be between 0 and 1, got %f", *t)
	}
	if c.Labels.Contains(c.GetUnknownLabel()) {
		return fmt.Errorf("inference.unknown_label %q is also a pose label", c.GetUnknownLabel())
	}

	if c.Sinks.QueueSize != nil && *c.Sinks.QueueSize <= 0 {
		return fmt.Errorf("sinks.queue_size must be positive, got %d", *c.Sinks.QueueSize)
	}
	if c.Sinks.Overflow != nil {
		if _, err := session.ParseOverflow(*c.Sinks.Overflow); err != nil {
			return fmt.Errorf("sinks.overflow: %w", err)
		}
	}
	if h := c.Sinks.Heatmap; h != nil && h.Every < 0 {
		return fmt.Errorf("sinks.heatmap.every must be non-negative, got %d", h.Every)
	}

	if c.Dataset.Samples != nil && *c.Dataset.Samples <= 0 {
		return fmt.Errorf("dataset.samples must be positive, got %d", *c.Dataset.Samples)
	}
	return checkDuration("dataset.start_delay", c.Dataset.StartDelay)
}

func checkDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must not be negative, got %s", name, *v)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetPort returns the serial device path.
func (c *Config) GetPort() string {
	if c.Serial.Port == nil || *c.Serial.Port == "" {
		return "/dev/ttyUSB0"
	}
	return *c.Serial.Port
}

// GetPortOptions returns normalised serial options.
func (c *Config) GetPortOptions() serialmux.PortOptions {
	opts, err := c.Serial.PortOptions.Normalise()
	if err != nil {
		opts, _ = serialmux.PortOptions{}.Normalise()
	}
	return opts
}

// GetMarker returns the frame boundary marker.
func (c *Config) GetMarker() string {
	if c.Stream.Marker == nil {
		return l1sync.DefaultMarker
	}
	return *c.Stream.Marker
}

// GetSeparator returns the field separator.
func (c *Config) GetSeparator() string {
	if c.Stream.Separator == nil {
		return ","
	}
	return *c.Stream.Separator
}

// GetTrailingPolicy returns the assembler policy. Default: discard_trailing.
func (c *Config) GetTrailingPolicy() l1sync.Policy {
	if c.Stream.TrailingPolicy == nil {
		return l1sync.DiscardTrailing
	}
	p, _ := l1sync.ParsePolicy(*c.Stream.TrailingPolicy)
	return p
}

// GetReadSize returns the per-read buffer size. Default: 1 byte.
func (c *Config) GetReadSize() int {
	if c.Stream.ReadSize == nil {
		return session.DefaultReadSize
	}
	return *c.Stream.ReadSize
}

// GetReadBackoff returns the wait after a failed read.
func (c *Config) GetReadBackoff() time.Duration {
	return durationOr(c.Stream.ReadBackoff, session.DefaultReadBackoff)
}

// GetStopOnEOF reports whether the loop ends at end of stream.
func (c *Config) GetStopOnEOF() bool {
	if c.Stream.StopOnEOF == nil {
		return false
	}
	return *c.Stream.StopOnEOF
}

// GetModelManifest returns the model manifest path.
func (c *Config) GetModelManifest() string {
	if c.Model.Manifest == nil || *c.Model.Manifest == "" {
		return "models/pose_model.json"
	}
	return *c.Model.Manifest
}

// GetThreshold returns the confidence threshold. Default: 0 (always predict).
func (c *Config) GetThreshold() float64 {
	if c.Inference.Threshold == nil {
		return 0
	}
	return *c.Inference.Threshold
}

// GetUnknownLabel returns the label reported below threshold.
func (c *Config) GetUnknownLabel() string {
	if c.Inference.UnknownLabel == nil || *c.Inference.UnknownLabel == "" {
		return l3classify.DefaultUnknownLabel
	}
	return *c.Inference.UnknownLabel
}

// PipelineOptions returns the inference options.
func (c *Config) PipelineOptions() l3classify.Options {
	return l3classify.Options{
		Threshold:    c.GetThreshold(),
		UnknownLabel: c.GetUnknownLabel(),
	}
}

// GetConsole reports whether results are printed to stdout. Default: true.
func (c *Config) GetConsole() bool {
	if c.Sinks.Console == nil {
		return true
	}
	return *c.Sinks.Console
}

// GetCSVLog returns the CSV log sink. Disabled by default.
func (c *Config) GetCSVLog() FileSink {
	if c.Sinks.CSVLog == nil {
		return FileSink{Path: "realtime_log.csv"}
	}
	s := *c.Sinks.CSVLog
	if s.Path == "" {
		s.Path = "realtime_log.csv"
	}
	return s
}

// GetDB returns the sqlite pose log sink. Disabled by default.
func (c *Config) GetDB() FileSink {
	if c.Sinks.DB == nil {
		return FileSink{Path: "posemat.db"}
	}
	s := *c.Sinks.DB
	if s.Path == "" {
		s.Path = "posemat.db"
	}
	return s
}

// GetHeatmap returns the PNG heatmap sink. Disabled by default.
func (c *Config) GetHeatmap() HeatmapConfig {
	h := HeatmapConfig{Path: "heatmap.png", Every: 1, Size: "10cm"}
	if c.Sinks.Heatmap == nil {
		return h
	}
	h.Enabled = c.Sinks.Heatmap.Enabled
	if c.Sinks.Heatmap.Path != "" {
		h.Path = c.Sinks.Heatmap.Path
	}
	if c.Sinks.Heatmap.Every > 0 {
		h.Every = c.Sinks.Heatmap.Every
	}
	if c.Sinks.Heatmap.Size != "" {
		h.Size = c.Sinks.Heatmap.Size
	}
	return h
}

// GetAsyncSinks reports whether slow sinks are moved behind a queue.
// Default: true.
func (c *Config) GetAsyncSinks() bool {
	if c.Sinks.AsyncSinks == nil {
		return true
	}
	return *c.Sinks.AsyncSinks
}

// GetQueueSize returns the async sink queue capacity.
func (c *Config) GetQueueSize() int {
	if c.Sinks.QueueSize == nil {
		return 64
	}
	return *c.Sinks.QueueSize
}

// GetOverflow returns the async sink overflow policy. Default: drop_oldest.
func (c *Config) GetOverflow() session.Overflow {
	if c.Sinks.Overflow == nil {
		return session.DropOldest
	}
	o, err := session.ParseOverflow(*c.Sinks.Overflow)
	if err != nil {
		return session.DropOldest
	}
	return o
}

// GetListen returns the HTTP listen address. Default: ":8080".
func (c *Config) GetListen() string {
	if c.Server.Listen == nil {
		return ":8080"
	}
	return *c.Server.Listen
}

// GetGRPCListen returns the gRPC listen address. Default: ":50051".
func (c *Config) GetGRPCListen() string {
	if c.Server.GRPCListen == nil {
		return ":50051"
	}
	return *c.Server.GRPCListen
}

// GetSamples returns how many frames to collect per label. Default: 150.
func (c *Config) GetSamples() int {
	if c.Dataset.Samples == nil {
		return 150
	}
	return *c.Dataset.Samples
}

// GetStartDelay returns the pause before collection begins. Default: 3s.
func (c *Config) GetStartDelay() time.Duration {
	return durationOr(c.Dataset.StartDelay, 3*time.Second)
}

// GetDatasetDir returns where dataset CSVs are written. Default: ".".
func (c *Config) GetDatasetDir() string {
	if c.Dataset.Dir == nil || *c.Dataset.Dir == "" {
		return "."
	}
	return *c.Dataset.Dir
}

// SessionConfig returns the session settings derived from the stream section.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		Marker:      c.GetMarker(),
		Separator:   c.GetSeparator(),
		Policy:      c.GetTrailingPolicy(),
		ReadSize:    c.GetReadSize(),
		ReadBackoff: c.GetReadBackoff(),
		StopOnEOF:   c.GetStopOnEOF(),
	}
}
