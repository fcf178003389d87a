package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != DefaultHost {
		t.Errorf("Expected host %s, got %s", DefaultHost, cfg.Server.Host)
	}
	if cfg.Server.Port != DefaultControlPlanePort {
		t.Errorf("Expected port %d, got %d", DefaultControlPlanePort, cfg.Server.Port)
	}

	if !cfg.HTTPProxy.Enabled {
		t.Error("Expected HTTP proxy enabled by default")
	}
	if cfg.HTTPProxy.Listen != ":8080" {
		t.Errorf("Expected HTTP proxy listen :8080, got %s", cfg.HTTPProxy.Listen)
	}

	if !cfg.SOCKS5.Enabled {
		t.Error("Expected SOCKS5 enabled by default")
	}
	if !cfg.WebSocket.Enabled {
		t.Error("Expected WebSocket enabled by default")
	}
	if !cfg.WebSocket.PermessageDeflate {
		t.Error("Expected permessage-deflate enabled by default")
	}

	if cfg.RateLimit.GlobalRPS <= 0 {
		t.Error("Expected a positive default global RPS")
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Expected log level 'info', got %s", cfg.Logging.Level)
	}
}

func TestLoadReadsYAMLOverrides(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	yaml := []byte("server:\n  port: 7070\nhttp_proxy:\n  listen: \":9090\"\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Expected overridden port 7070, got %d", cfg.Server.Port)
	}
	if cfg.HTTPProxy.Listen != ":9090" {
		t.Errorf("Expected overridden listen :9090, got %s", cfg.HTTPProxy.Listen)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != DefaultControlPlanePort {
		t.Errorf("Expected default port %d, got %d", DefaultControlPlanePort, cfg.Server.Port)
	}
}
