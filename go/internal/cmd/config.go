package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/courtside/go/internal/session"
)

// Config is the optional YAML file overriding session timing defaults.
type Config struct {
	Session struct {
		TickIntervalMs       int `yaml:"tick_interval_ms"`
		DebounceMs           int `yaml:"debounce_ms"`
		KeepAliveIntervalMs  int `yaml:"keepalive_interval_ms"`
		AnnounceIntervalSec  int `yaml:"announce_interval_sec"`
		ClockSnapThresholdMs int `yaml:"clock_snap_threshold_ms"`
		OvertimeLengthMin    int `yaml:"overtime_length_min"`
	} `yaml:"session"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// sessionConfig maps the YAML overrides onto the session defaults. Absent
// or zero values keep the defaults.
func sessionConfig(cfg *Config) session.Config {
	out := session.DefaultConfig()
	if cfg == nil {
		return out
	}
	s := cfg.Session
	if s.TickIntervalMs > 0 {
		out.TickInterval = time.Duration(s.TickIntervalMs) * time.Millisecond
	}
	if s.DebounceMs > 0 {
		out.Debounce = time.Duration(s.DebounceMs) * time.Millisecond
	}
	if s.KeepAliveIntervalMs > 0 {
		out.KeepAliveInterval = time.Duration(s.KeepAliveIntervalMs) * time.Millisecond
	}
	if s.AnnounceIntervalSec > 0 {
		out.AnnounceInterval = time.Duration(s.AnnounceIntervalSec) * time.Second
	}
	if s.ClockSnapThresholdMs > 0 {
		out.ClockSnapThreshold = time.Duration(s.ClockSnapThresholdMs) * time.Millisecond
	}
	if s.OvertimeLengthMin > 0 {
		out.OvertimeLength = time.Duration(s.OvertimeLengthMin) * time.Minute
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
