package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file accepted by Load.
const MaxConfigFileBytes = 64 * 1024

// EncoderConfig holds the quadrature encoder wiring.
type EncoderConfig struct {
	PinA int `yaml:"pin_a"` // phase A input (BCM), pulled up
	PinB int `yaml:"pin_b"` // phase B input (BCM), pulled up
	PPR  int `yaml:"ppr"`   // counts per revolution after decoding
}

// PulseConfig holds the servo driver pulse inputs.
type PulseConfig struct {
	ForwardPin int `yaml:"forward_pin"` // CW pulse line (BCM)
	ReversePin int `yaml:"reverse_pin"` // CCW pulse line (BCM)
	EnablePin  int `yaml:"enable_pin"`  // driver ENABLE (BCM). 0 = not used. Active LOW.
}

// ControlConfig holds the position controller tuning.
type ControlConfig struct {
	MaxSteeringAngleDeg float64 `yaml:"max_steering_angle_deg"` // targets are clamped to ±this
	AngleToleranceDeg   float64 `yaml:"angle_tolerance_deg"`    // arrival threshold
	PulseFreqHz         uint32  `yaml:"pulse_freq_hz"`          // burst pulse frequency
	MinBurst            uint32  `yaml:"min_burst"`              // pulses, floor per burst
	MaxBurst            uint32  `yaml:"max_burst"`              // pulses, ceiling per burst
}

// RunnerConfig holds the polling loop parameters.
type RunnerConfig struct {
	SamplesPerStep   int `yaml:"samples_per_step"`   // encoder samples per controller step
	PollIntervalUs   int `yaml:"poll_interval_us"`   // sleep between loop iterations, 0 = busy loop
	MoveTimeoutMs    int `yaml:"move_timeout_ms"`    // per target, 0 = no timeout
	DwellMs          int `yaml:"dwell_ms"`           // pause between targets
	ReportIntervalMs int `yaml:"report_interval_ms"` // position log period
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Encoder  EncoderConfig  `yaml:"encoder"`
	Pulse    PulseConfig    `yaml:"pulse"`
	Control  ControlConfig  `yaml:"control"`
	Runner   RunnerConfig   `yaml:"runner"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath checks that path names a .yaml file directly inside a
// configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have a .yaml extension: %s", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must be inside a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	// Pins are required
	if c.Encoder.PinA <= 0 || c.Encoder.PinB <= 0 {
		return errors.New("encoder.pin_a and encoder.pin_b are required")
	}
	if c.Encoder.PinA == c.Encoder.PinB {
		return fmt.Errorf("encoder.pin_a and encoder.pin_b must differ, both are %d", c.Encoder.PinA)
	}
	if c.Pulse.ForwardPin <= 0 || c.Pulse.ReversePin <= 0 {
		return errors.New("pulse.forward_pin and pulse.reverse_pin are required")
	}
	if c.Pulse.ForwardPin == c.Pulse.ReversePin {
		return fmt.Errorf("pulse.forward_pin and pulse.reverse_pin must differ, both are %d", c.Pulse.ForwardPin)
	}
	used := map[int]string{}
	for name, pin := range map[string]int{
		"encoder.pin_a":     c.Encoder.PinA,
		"encoder.pin_b":     c.Encoder.PinB,
		"pulse.forward_pin": c.Pulse.ForwardPin,
		"pulse.reverse_pin": c.Pulse.ReversePin,
		"pulse.enable_pin":  c.Pulse.EnablePin,
	} {
		if pin <= 0 {
			continue
		}
		if other, ok := used[pin]; ok {
			return fmt.Errorf("pin %d used by both %s and %s", pin, other, name)
		}
		used[pin] = name
	}

	// Defaults
	if c.Encoder.PPR <= 0 {
		c.Encoder.PPR = 12000
	}
	if c.Control.MaxSteeringAngleDeg <= 0 {
		c.Control.MaxSteeringAngleDeg = 45
	}
	if c.Control.MaxSteeringAngleDeg > 180 {
		return fmt.Errorf("max_steering_angle_deg must be <= 180, got %.2f", c.Control.MaxSteeringAngleDeg)
	}
	if c.Control.AngleToleranceDeg <= 0 {
		c.Control.AngleToleranceDeg = 0.5
	}
	if c.Control.PulseFreqHz == 0 {
		c.Control.PulseFreqHz = 100000
	}
	if c.Control.MinBurst == 0 {
		c.Control.MinBurst = 10
	}
	if c.Control.MaxBurst == 0 {
		c.Control.MaxBurst = 1000
	}
	if c.Control.MaxBurst < c.Control.MinBurst {
		return fmt.Errorf("max_burst (%d) must be >= min_burst (%d)", c.Control.MaxBurst, c.Control.MinBurst)
	}
	if c.Runner.SamplesPerStep <= 0 {
		c.Runner.SamplesPerStep = 1
	}
	if c.Runner.PollIntervalUs < 0 || c.Runner.MoveTimeoutMs < 0 || c.Runner.DwellMs < 0 {
		return errors.New("runner intervals must be >= 0")
	}
	if c.Runner.ReportIntervalMs <= 0 {
		c.Runner.ReportIntervalMs = 250
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// PollInterval returns the pause between loop iterations.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Runner.PollIntervalUs) * time.Microsecond
}

// MoveTimeout returns the per-target timeout (0 = none).
func (c *Config) MoveTimeout() time.Duration {
	return time.Duration(c.Runner.MoveTimeoutMs) * time.Millisecond
}

// Dwell returns the pause between targets.
func (c *Config) Dwell() time.Duration {
	return time.Duration(c.Runner.DwellMs) * time.Millisecond
}

// ReportInterval returns the period of position reports.
func (c *Config) ReportInterval() time.Duration {
	return time.Duration(c.Runner.ReportIntervalMs) * time.Millisecond
}
