package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "INFO" || len(cfg.Devices) != 0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "astrobox.yaml")
	cfg := Config{
		LogLevel: "DEBUG",
		CtlSock:  "/tmp/x.sock",
		Devices: []DeviceConfig{
			{Addr: "AA:BB:CC:DD:EE:FF", Name: "Watch", SharedSecret: "deadbeef", ConnectType: "ble"},
		},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.LogLevel != "DEBUG" || len(loaded.Devices) != 1 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	d, ok := loaded.DeviceByAddr("AA:BB:CC:DD:EE:FF")
	if !ok || d.Name != "Watch" {
		t.Fatalf("DeviceByAddr mismatch: %+v ok=%v", d, ok)
	}
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	os.Setenv("ASTROBOX_LOG_LEVEL", "ERROR")
	defer os.Unsetenv("ASTROBOX_LOG_LEVEL")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "ERROR" {
		t.Fatalf("expected env override to apply, got %q", cfg.LogLevel)
	}
}
