// Package config loads the per-device and host-wide settings this core
// needs at startup, mirroring the teacher's pairing_persistence.go in
// shape (load-or-default from a YAML file on disk) but using
// gopkg.in/yaml.v3 for the actual document instead of hand-rolled JSON.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DeviceConfig is one paired device's persisted connection settings.
type DeviceConfig struct {
	Addr           string `yaml:"addr"`
	Name           string `yaml:"name"`
	SharedSecret   string `yaml:"shared_secret"`
	IsAndroid      bool   `yaml:"is_android"`
	ConnectType    string `yaml:"connect_type"` // "spp" or "ble"
	ForceDeviceVer byte   `yaml:"force_device_version,omitempty"`
}

// MassConfig tunes the MASS bulk-transfer scheduler (spec §4.6.5). Zero
// values fall back to mass.Config's own defaults.
type MassConfig struct {
	AckWaitTimeoutSecs   int `yaml:"ack_wait_timeout_secs"`
	AckPollIntervalMs    int `yaml:"ack_poll_interval_ms"`
	AckStallDefaultMs    int `yaml:"ack_stall_default_ms"`
	AckStallMinMs        int `yaml:"ack_stall_min_ms"`
	AckStallMaxMs        int `yaml:"ack_stall_max_ms"`
	BacklogMultiplier    int `yaml:"backlog_multiplier"`
	MaxBatchParts        int `yaml:"max_batch_parts"`
	FallbackBatchParts   int `yaml:"fallback_batch_parts"`
	FallbackBacklogLimit int `yaml:"fallback_backlog_limit"`
}

// NetworkConfig tunes the per-device user-space IPv4 tunnel (spec §4.8).
type NetworkConfig struct {
	EnableTunnel    bool   `yaml:"enable_tunnel"`
	MTU             int    `yaml:"mtu"`
	MeterWindowSecs int    `yaml:"meter_window_secs"`
	EnableCapture   bool   `yaml:"enable_capture"`
	CaptureDir      string `yaml:"capture_dir"`
}

// Config is the whole host-side configuration file.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	CtlSock  string         `yaml:"ctlsock_path"`
	Devices  []DeviceConfig `yaml:"devices"`
	Mass     MassConfig     `yaml:"mass"`
	Network  NetworkConfig  `yaml:"network"`
}

func defaults() Config {
	return Config{
		LogLevel: "INFO",
		CtlSock:  "/tmp/astrobox.sock",
		Network: NetworkConfig{
			EnableTunnel: true,
			MTU:          1500,
		},
	}
}

// Load reads path and overlays ASTROBOX_* environment overrides. A missing
// file is not an error: the zero-device default configuration is returned
// so a first run can still start and pair a device interactively.
func Load(path string) (Config, error) {
	cfg := defaults()

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save writes cfg back to path as YAML, e.g. after a successful pairing.
func Save(path string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0600)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ASTROBOX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ASTROBOX_CTLSOCK"); v != "" {
		cfg.CtlSock = v
	}
}

// DeviceByAddr finds a paired device's config, if any.
func (c Config) DeviceByAddr(addr string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Addr == addr {
			return d, true
		}
	}
	return DeviceConfig{}, false
}
