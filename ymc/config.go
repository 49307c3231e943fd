package ymc

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted in Config.Transport.
const (
	TransportSocketCAN = "socketcan"
	TransportSerial    = "serial"
	TransportLoopback  = "loopback"
)

// Config is read once at startup.
type Config struct {
	WheelBase   float64 `yaml:"wheel_base"` // m
	Mode        int     `yaml:"mode"`       // initial DriveMode
	Device      string  `yaml:"device"`     // CAN interface or serial device
	LoopRate    int     `yaml:"loop_rate"`  // Hz
	StopTimeSec float64 `yaml:"stop_time_sec"`

	SteeringTrimDeg   float64 `yaml:"steering_trim_deg"`
	StopControl       bool    `yaml:"stop_control"`
	StopThresholdKmph float64 `yaml:"stop_threshold_kmph"`

	Transport string `yaml:"transport"`
	BaudRate  int    `yaml:"baud_rate"`

	KeyPollInterval time.Duration `yaml:"key_poll_interval"`

	CommandFrameID   uint32 `yaml:"command_frame_id"`
	TelemetryFrameID uint32 `yaml:"telemetry_frame_id"`
}

func DefaultConfig() Config {
	return Config{
		WheelBase:         2.4,
		Mode:              int(ModeAuto),
		Device:            "can0",
		LoopRate:          100,
		StopTimeSec:       1,
		SteeringTrimDeg:   DefaultTrimDeg,
		StopThresholdKmph: 1.0,
		Transport:         TransportSocketCAN,
		BaudRate:          115200,
		KeyPollInterval:   DefaultKeyPollInterval,
		CommandFrameID:    CommandFrameID,
		TelemetryFrameID:  TelemetryFrameID,
	}
}

// LoadConfig reads a YAML file over the defaults. Keys absent from the file
// keep their default value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.WheelBase <= 0 {
		errs = append(errs, fmt.Errorf("wheel_base must be > 0, got %g", c.WheelBase))
	}
	if c.LoopRate <= 0 {
		errs = append(errs, fmt.Errorf("loop_rate must be > 0, got %d", c.LoopRate))
	} else if c.Period() <= 0 {
		errs = append(errs, fmt.Errorf("loop_rate %d Hz leaves no transmit period", c.LoopRate))
	}
	if c.Mode < 0 || c.Mode > 0xFF {
		errs = append(errs, fmt.Errorf("mode %d does not fit the mode byte", c.Mode))
	}
	if c.StopTimeSec < 0 {
		errs = append(errs, fmt.Errorf("stop_time_sec must be >= 0, got %g", c.StopTimeSec))
	}
	switch c.Transport {
	case TransportSocketCAN, TransportLoopback:
	case TransportSerial:
		if c.BaudRate <= 0 {
			errs = append(errs, fmt.Errorf("baud_rate must be > 0 for serial, got %d", c.BaudRate))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.Transport != TransportLoopback && c.Device == "" {
		errs = append(errs, errors.New("device must be set"))
	}
	if c.CommandFrameID > 0x7FF || c.TelemetryFrameID > 0x7FF {
		errs = append(errs, fmt.Errorf("frame ids must be standard 11-bit ids (0x%X, 0x%X)", c.CommandFrameID, c.TelemetryFrameID))
	}
	return errors.Join(errs...)
}

// Period is the transmit period derived from LoopRate.
func (c Config) Period() time.Duration {
	return time.Second / time.Duration(c.LoopRate)
}

// StopHoldTicks is the number of below-threshold ticks before the brake is
// released.
func (c Config) StopHoldTicks() int {
	return int(float64(c.LoopRate) * c.StopTimeSec)
}
