// Package config loads the device description file: which robot variant is
// attached and how its serial aliases are canonicalized.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("config: invalid device config")

type DeviceConfig struct {
	Model          string `toml:"model"`
	Joints         int    `toml:"joints"`
	DisabledJoints []int  `toml:"disabled_joints"`
	BaudRate       int    `toml:"baud_rate"`

	GaitRowWidth     int `toml:"gait_row_width"`
	PostureRowWidth  int `toml:"posture_row_width"`
	BehaviorRowWidth int `toml:"behavior_row_width"`
	ScaledSlots      int `toml:"scaled_slots"`

	Rules RulesConfig `toml:"rules"`
}

type RulesConfig struct {
	Aliases  []AliasEntry `toml:"aliases"`
	Spurious []string     `toml:"spurious"`
}

type AliasEntry struct {
	Marker         string `toml:"marker"`
	MustContain    string `toml:"must_contain"`
	MustNotContain string `toml:"must_not_contain"`
}

func LoadDeviceConfig(path string) (DeviceConfig, error) {
	var cfg DeviceConfig
	if err := loadToml(path, &cfg); err != nil {
		return DeviceConfig{}, err
	}
	return finish(cfg)
}

// ParseDeviceConfig decodes a device config from memory.
func ParseDeviceConfig(data []byte) (DeviceConfig, error) {
	var cfg DeviceConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return DeviceConfig{}, fmt.Errorf("config parse failed: %w", err)
	}
	return finish(cfg)
}

func finish(cfg DeviceConfig) (DeviceConfig, error) {
	cfg = cfg.WithDefaults()
	if err := ValidateDeviceConfig(cfg); err != nil {
		return DeviceConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateDeviceConfig(cfg DeviceConfig) error {
	if err := cfg.Profile().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for i, entry := range cfg.Rules.Aliases {
		if strings.TrimSpace(entry.Marker) == "" {
			return fmt.Errorf("%w: rules.aliases[%d] missing marker", ErrInvalidConfig, i)
		}
		if entry.MustContain == "" && entry.MustNotContain == "" {
			return fmt.Errorf("%w: rules.aliases[%d] needs must_contain or must_not_contain", ErrInvalidConfig, i)
		}
	}
	return nil
}
