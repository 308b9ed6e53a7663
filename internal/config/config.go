package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Verbose enables debug output when true
var Verbose bool

// Scan modes.
const (
	ModeAuto      = "auto"
	ModeStream    = "stream"
	ModeEnumerate = "enumerate"
)

// Providers.
const (
	ProviderTinyGo = "tinygo"
	ProviderHCI    = "hci"
)

// Config is the top-level treadctl configuration.
type Config struct {
	Scan     ScanConfig     `yaml:"scan"`
	Sequence SequenceConfig `yaml:"sequence"`
	Logger   LoggerConfig   `yaml:"logger"`
}

// ScanConfig controls discovery.
type ScanConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	Mode       string        `yaml:"mode"`        // auto, stream, enumerate
	Provider   string        `yaml:"provider"`    // tinygo, hci
	HCIDevices []int         `yaml:"hci_devices"` // adapter ids for the hci provider
}

// SequenceConfig controls the speed command sequence.
type SequenceConfig struct {
	Delay  time.Duration `yaml:"delay"`
	Frames FramesConfig  `yaml:"frames"`
}

// FramesConfig overrides the default frames with hex strings.
// Empty values keep the built-in frames.
type FramesConfig struct {
	PowerOn  string `yaml:"power_on"`
	SetSpeed string `yaml:"set_speed"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stderr, stdout, or a file path
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Scan: ScanConfig{
			Timeout:    30 * time.Second,
			Mode:       ModeAuto,
			Provider:   ProviderTinyGo,
			HCIDevices: []int{0},
		},
		Sequence: SequenceConfig{
			// The firmware ignores the speed frame if it arrives sooner.
			Delay: 8 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// DefaultPath returns the default config path ($XDG_CONFIG_HOME/treadctl/config.yaml).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "treadctl", "config.yaml"), nil
}

// Load reads a YAML config file and applies env var overrides.
// A missing file is not an error: defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies TREADCTL_* environment variables on top of cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TREADCTL_SCAN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scan.Timeout = d
		}
	}
	if v := os.Getenv("TREADCTL_SCAN_MODE"); v != "" {
		cfg.Scan.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("TREADCTL_SCAN_PROVIDER"); v != "" {
		cfg.Scan.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("TREADCTL_SCAN_HCI_DEVICES"); v != "" {
		var ids []int
		for _, s := range strings.Split(v, ",") {
			if id, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			cfg.Scan.HCIDevices = ids
		}
	}
	if v := os.Getenv("TREADCTL_SEQUENCE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sequence.Delay = d
		}
	}
	if v := os.Getenv("TREADCTL_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("TREADCTL_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
}
