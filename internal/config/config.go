// Package config resolves the effective run configuration by layering CLI
// flags over an optional YAML file over built-in defaults.
//
// Grounded on References/orion-prototipe/internal/config/config.go's
// Load/Validate shape, adapted from a single required config file to an
// optional one whose values are overridden by CLI flags rather than being
// the sole source of truth.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/seeing-things/zwo/internal/agc"
	"github.com/seeing-things/zwo/internal/control"
)

// FileConfig is the schema of the optional YAML config file. Every field
// is optional; zero values mean "use the built-in default or CLI flag".
type FileConfig struct {
	Observer   string `yaml:"observer"`
	Instrument string `yaml:"instrument"`
	Telescope  string `yaml:"telescope"`

	AGC struct {
		MaxSaturatedPixels int `yaml:"max_saturated_pixels"`
		MinMaxPixelValue   int `yaml:"min_max_pixel_value"`
		GainStep           int `yaml:"gain_step"`
	} `yaml:"agc"`

	MQTTBroker string `yaml:"mqtt_broker"`

	Preview struct {
		Addr       string `yaml:"addr"`
		Passphrase string `yaml:"passphrase"`
	} `yaml:"preview"`
}

// Load reads and parses path as a FileConfig. A missing file is an error
// like any other read failure; the returned error wraps the underlying os
// error, so errors.Is(err, fs.ErrNotExist) identifies that case.
func Load(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &fc, nil
}

// Flags holds the subset of CLI flag values that participate in config
// layering. cmd/zwocapture populates this directly from the flag package.
type Flags struct {
	Camera          string
	OutputPath      string
	Gain            int
	ExposureUS      int
	Binning         int
	MaxPreviewFPS   float64
	MaxHistogramFPS float64
	WriteAtStartup  bool
	AGCEnabled      bool
	AGCMode         string
	PreviewAddr     string
	PreviewPassword string
	MQTTBroker      string
	InstanceID      string
}

// Config is the fully resolved, validated configuration a run proceeds
// with.
type Config struct {
	Camera          string
	OutputPath      string
	Gain            int
	ExposureUS      int
	Binning         int
	MaxPreviewFPS   float64
	MaxHistogramFPS float64
	WriteAtStartup  bool
	AGCEnabled      bool
	AGCMode         string

	Observer   string
	Instrument string
	Telescope  string

	AGCMaxSaturatedPixels int
	AGCMinMaxPixelValue   int
	AGCGainStep           int

	PreviewAddr     string
	PreviewPassword string

	MQTTBroker string
	InstanceID string
}

// FromFlags layers flags over an optional file config over built-in
// defaults (file < flags in precedence, per SPEC_FULL.md §6.10), then
// validates the result. file may be nil when no --config path was given.
func FromFlags(flags Flags, file *FileConfig) (*Config, error) {
	cfg := &Config{
		Camera:                flags.Camera,
		OutputPath:            flags.OutputPath,
		Gain:                  flags.Gain,
		ExposureUS:            flags.ExposureUS,
		Binning:               flags.Binning,
		MaxPreviewFPS:         flags.MaxPreviewFPS,
		MaxHistogramFPS:       flags.MaxHistogramFPS,
		WriteAtStartup:        flags.WriteAtStartup,
		AGCEnabled:            flags.AGCEnabled,
		AGCMode:               flags.AGCMode,
		Observer:              "unknown",
		Instrument:            "ZWO ASI178",
		Telescope:             "unknown",
		AGCMaxSaturatedPixels: agc.MaxSaturatedPixels,
		AGCMinMaxPixelValue:   agc.MinMaxPixelValue,
		AGCGainStep:           agc.GainStep,
		PreviewAddr:           flags.PreviewAddr,
		PreviewPassword:       flags.PreviewPassword,
		MQTTBroker:            flags.MQTTBroker,
		InstanceID:            flags.InstanceID,
	}

	if file != nil {
		if file.Observer != "" {
			cfg.Observer = file.Observer
		}
		if file.Instrument != "" {
			cfg.Instrument = file.Instrument
		}
		if file.Telescope != "" {
			cfg.Telescope = file.Telescope
		}
		if file.AGC.MaxSaturatedPixels != 0 {
			cfg.AGCMaxSaturatedPixels = file.AGC.MaxSaturatedPixels
		}
		if file.AGC.MinMaxPixelValue != 0 {
			cfg.AGCMinMaxPixelValue = file.AGC.MinMaxPixelValue
		}
		if file.AGC.GainStep != 0 {
			cfg.AGCGainStep = file.AGC.GainStep
		}
		if cfg.MQTTBroker == "" && file.MQTTBroker != "" {
			cfg.MQTTBroker = file.MQTTBroker
		}
		if cfg.PreviewAddr == "" && file.Preview.Addr != "" {
			cfg.PreviewAddr = file.Preview.Addr
		}
		if cfg.PreviewPassword == "" && file.Preview.Passphrase != "" {
			cfg.PreviewPassword = file.Preview.Passphrase
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field the pipeline depends on for safe operation,
// clamping the two numeric ranges the CLI table documents rather than
// rejecting an out-of-range value outright — matching the producer's own
// SetGainTarget/SetExposureTargetUS clamping behavior.
func Validate(cfg *Config) error {
	if cfg.Binning <= 0 {
		return fmt.Errorf("config: binning must be positive, got %d", cfg.Binning)
	}
	if cfg.Gain < control.GainMin || cfg.Gain > control.GainMax {
		cfg.Gain = clampInt(cfg.Gain, control.GainMin, control.GainMax)
	}
	if cfg.ExposureUS < control.ExposureMinUS || cfg.ExposureUS > control.ExposureMaxUS {
		cfg.ExposureUS = clampInt(cfg.ExposureUS, control.ExposureMinUS, control.ExposureMaxUS)
	}
	if cfg.MaxPreviewFPS <= 0 {
		return fmt.Errorf("config: max-preview-fps must be positive, got %v", cfg.MaxPreviewFPS)
	}
	if cfg.MaxHistogramFPS <= 0 {
		return fmt.Errorf("config: max-histogram-fps must be positive, got %v", cfg.MaxHistogramFPS)
	}
	switch cfg.AGCMode {
	case "stepwise", "servo":
	default:
		return fmt.Errorf("config: agc-mode must be 'stepwise' or 'servo', got %q", cfg.AGCMode)
	}
	if cfg.InstanceID == "" {
		return fmt.Errorf("config: instance-id must not be empty")
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
