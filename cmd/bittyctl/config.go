package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/bittyctl/internal/controller"
)

type fileConfig struct {
	DeviceConfig      string   `toml:"device_config"`
	Ports             []string `toml:"ports"`
	Validate          bool     `toml:"validate"`
	ReplugOnEmpty     bool     `toml:"replug_on_empty"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	TimeUnit          string   `toml:"time_unit"`
	SerialReadTimeout string   `toml:"serial_read_timeout"`
	ControlAddr       string   `toml:"control_addr"`
	ControlToken      string   `toml:"control_token"`
	CorsOrigins       []string `toml:"cors_origins"`
	Console           bool     `toml:"console"`
	DeviceDir         string   `toml:"device_dir"`
}

type appConfig struct {
	Service    controller.ServiceConfig
	DevicePath string
}

func defaultAppConfig() appConfig {
	return appConfig{Service: controller.DefaultServiceConfig()}
}

func loadAppConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load bittyctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return appConfig{}, fmt.Errorf("load bittyctl config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("device_config") {
		cfg.DevicePath = strings.TrimSpace(raw.DeviceConfig)
	}
	if meta.IsDefined("ports") {
		cfg.Service.Ports = normalizeList(raw.Ports)
	}
	if meta.IsDefined("validate") {
		cfg.Service.Validate = raw.Validate
	}
	if meta.IsDefined("replug_on_empty") {
		cfg.Service.ReplugOnEmpty = raw.ReplugOnEmpty
	}
	if meta.IsDefined("heartbeat_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HeartbeatInterval))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse heartbeat_interval: %w", err)
		}
		cfg.Service.HeartbeatInterval = d
	}
	if meta.IsDefined("time_unit") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.TimeUnit))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse time_unit: %w", err)
		}
		if d <= 0 {
			return appConfig{}, fmt.Errorf("parse time_unit: must be positive")
		}
		cfg.Service.Session.Unit = d
	}
	if meta.IsDefined("serial_read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SerialReadTimeout))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse serial_read_timeout: %w", err)
		}
		cfg.Service.Serial.ReadTimeout = d
	}
	if meta.IsDefined("control_addr") {
		cfg.Service.ControlAddr = strings.TrimSpace(raw.ControlAddr)
	}
	if meta.IsDefined("control_token") {
		cfg.Service.ControlToken = strings.TrimSpace(raw.ControlToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.Service.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("console") {
		cfg.Service.Console = raw.Console
	}
	if meta.IsDefined("device_dir") {
		cfg.Service.DeviceDir = strings.TrimSpace(raw.DeviceDir)
	}

	return cfg, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
