package config

import (
	"fmt"
	"strings"

	"treadctl/internal/protocol"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg and returns a *ValidationError listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateScan(cfg, ve)
	validateSequence(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateScan(cfg *Config, ve *ValidationError) {
	if cfg.Scan.Timeout < 0 {
		ve.Add("scan.timeout must be >= 0")
	}
	switch cfg.Scan.Mode {
	case ModeAuto, ModeStream, ModeEnumerate:
	default:
		ve.Add("scan.mode %q must be one of auto, stream, enumerate", cfg.Scan.Mode)
	}
	switch cfg.Scan.Provider {
	case ProviderTinyGo:
	case ProviderHCI:
		if len(cfg.Scan.HCIDevices) == 0 {
			ve.Add("scan.hci_devices must list at least one adapter for the hci provider")
		}
		if cfg.Scan.Mode == ModeStream {
			ve.Add("scan.mode stream is not supported by the hci provider")
		}
	default:
		ve.Add("scan.provider %q must be one of tinygo, hci", cfg.Scan.Provider)
	}
	for _, id := range cfg.Scan.HCIDevices {
		if id < 0 {
			ve.Add("scan.hci_devices: adapter id %d must be >= 0", id)
		}
	}
}

func validateSequence(cfg *Config, ve *ValidationError) {
	if cfg.Sequence.Delay < 0 {
		ve.Add("sequence.delay must be >= 0")
	}
	if s := cfg.Sequence.Frames.PowerOn; s != "" {
		if _, err := protocol.ParseHex(s); err != nil {
			ve.Add("sequence.frames.power_on: %v", err)
		}
	}
	if s := cfg.Sequence.Frames.SetSpeed; s != "" {
		if _, err := protocol.ParseHex(s); err != nil {
			ve.Add("sequence.frames.set_speed: %v", err)
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not a known level", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

// Frames returns the power-on and set-speed frames, honouring overrides.
func (c *Config) Frames() (powerOn, setSpeed protocol.Frame, err error) {
	powerOn, _ = protocol.Lookup(protocol.PowerOn)
	setSpeed, _ = protocol.Lookup(protocol.SetSpeed)

	if s := c.Sequence.Frames.PowerOn; s != "" {
		if powerOn, err = protocol.ParseHex(s); err != nil {
			return nil, nil, fmt.Errorf("power_on frame: %w", err)
		}
	}
	if s := c.Sequence.Frames.SetSpeed; s != "" {
		if setSpeed, err = protocol.ParseHex(s); err != nil {
			return nil, nil, fmt.Errorf("set_speed frame: %w", err)
		}
	}
	return powerOn, setSpeed, nil
}
