package node

import (
	"fmt"
	"os"
	"time"

	"github.com/derktes/spectral-capture-node/wire"
	"gopkg.in/yaml.v3"
)

// Config is the node configuration file.
type Config struct {
	FilterID  string          `yaml:"filter_id"`
	SaveDir   string          `yaml:"save_dir"`
	Serial    SerialConfig    `yaml:"serial"`
	Transfer  TransferConfig  `yaml:"transfer"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Camera    CameraConfig    `yaml:"camera"`
	Histogram HistogramConfig `yaml:"histogram"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Dev       DevConfig       `yaml:"dev"`
	Log       LogConfig       `yaml:"log"`
}

type SerialConfig struct {
	Device    string        `yaml:"device"`
	Baud      int           `yaml:"baud"`
	PollSlice time.Duration `yaml:"poll_slice"`
}

type TransferConfig struct {
	ChunkSize   int           `yaml:"chunk_size"`
	AckKeyword  string        `yaml:"ack_keyword"`
	AckTimeout  time.Duration `yaml:"ack_timeout"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type TriggerConfig struct {
	Pin      int           `yaml:"pin"`
	Edge     string        `yaml:"edge"` // "falling", "rising", "both"
	Debounce time.Duration `yaml:"debounce"`
	// Interval replaces the GPIO line with a fixed-rate edge source.
	Interval time.Duration `yaml:"interval"`
}

type CameraConfig struct {
	Command      string   `yaml:"command"`
	Args         []string `yaml:"args"`
	SimulateFrom string   `yaml:"simulate_from"`
}

type HistogramConfig struct {
	Mode   string `yaml:"mode"` // "channels" or "luminance"
	Levels int    `yaml:"levels"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // "off" disables the endpoint
}

type DevConfig struct {
	Enabled   bool   `yaml:"enabled"`
	UploadURL string `yaml:"upload_url"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

const (
	histogramModeChannels  = "channels"
	histogramModeLuminance = "luminance"

	pathPlaceholder = "{path}"
	metricsDisabled = "off"
)

// defaultCameraArgs mirror the fixed sensor controls of the flight
// nodes: 500us exposure, unity gain, colour gains and saturation off.
var defaultCameraArgs = []string{
	"--nopreview", "--immediate",
	"--shutter", "500", "--gain", "1.0",
	"--awbgains", "0,0", "--saturation", "0",
	"-o", pathPlaceholder,
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads, defaults and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.FilterID == "" {
		c.FilterID = "760"
	}
	if c.SaveDir == "" {
		c.SaveDir = "/home/pi/images"
	}
	if c.Serial.Device == "" {
		c.Serial.Device = "/dev/serial0"
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = 115200
	}
	if c.Serial.PollSlice == 0 {
		c.Serial.PollSlice = 100 * time.Millisecond
	}
	if c.Transfer.ChunkSize == 0 {
		c.Transfer.ChunkSize = wire.DefaultChunkSize
	}
	if c.Transfer.AckKeyword == "" {
		c.Transfer.AckKeyword = wire.AckKeyword
	}
	if c.Transfer.AckTimeout == 0 {
		c.Transfer.AckTimeout = 10 * time.Second
	}
	if c.Transfer.LockTimeout == 0 {
		c.Transfer.LockTimeout = 2 * time.Minute
	}
	if c.Trigger.Pin == 0 {
		c.Trigger.Pin = 17
	}
	if c.Trigger.Edge == "" {
		c.Trigger.Edge = "falling"
	}
	if c.Trigger.Debounce == 0 {
		c.Trigger.Debounce = 50 * time.Millisecond
	}
	if c.Camera.Command == "" {
		c.Camera.Command = "rpicam-still"
	}
	if c.Camera.Args == nil {
		c.Camera.Args = append([]string(nil), defaultCameraArgs...)
	}
	if c.Histogram.Mode == "" {
		c.Histogram.Mode = histogramModeChannels
	}
	if c.Histogram.Levels == 0 {
		c.Histogram.Levels = wire.HistogramLevels
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.FilterID == "" {
		return fmt.Errorf("filter_id is required")
	}
	if c.SaveDir == "" {
		return fmt.Errorf("save_dir is required")
	}
	if c.Serial.Device == "" {
		return fmt.Errorf("serial.device is required")
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
	}
	if c.Serial.PollSlice <= 0 {
		return fmt.Errorf("serial.poll_slice must be positive, got %s", c.Serial.PollSlice)
	}
	if c.Transfer.ChunkSize <= 0 || c.Transfer.ChunkSize > wire.MaxChunkSize {
		return fmt.Errorf("transfer.chunk_size must be in 1..%d, got %d", wire.MaxChunkSize, c.Transfer.ChunkSize)
	}
	if c.Transfer.AckKeyword == "" {
		return fmt.Errorf("transfer.ack_keyword is required")
	}
	if c.Transfer.AckTimeout < 0 {
		return fmt.Errorf("transfer.ack_timeout must not be negative")
	}
	switch c.Trigger.Edge {
	case "falling", "rising", "both":
	default:
		return fmt.Errorf("trigger.edge must be falling, rising or both, got %q", c.Trigger.Edge)
	}
	if c.Trigger.Debounce < 0 {
		return fmt.Errorf("trigger.debounce must not be negative")
	}
	if c.Camera.SimulateFrom == "" && !containsPlaceholder(c.Camera.Args) {
		return fmt.Errorf("camera.args must contain %s", pathPlaceholder)
	}
	switch c.Histogram.Mode {
	case histogramModeChannels, histogramModeLuminance:
	default:
		return fmt.Errorf("histogram.mode must be channels or luminance, got %q", c.Histogram.Mode)
	}
	if c.Histogram.Levels != wire.HistogramLevels {
		return fmt.Errorf("histogram.levels must be %d for 8-bit captures", wire.HistogramLevels)
	}
	if c.Dev.Enabled && c.Dev.UploadURL == "" {
		return fmt.Errorf("dev.upload_url is required when dev mode is enabled")
	}
	return nil
}

func containsPlaceholder(args []string) bool {
	for _, a := range args {
		if a == pathPlaceholder {
			return true
		}
	}
	return false
}
