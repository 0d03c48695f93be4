package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Gateway.Port != "8090" {
		t.Errorf("gateway port = %q", cfg.Gateway.Port)
	}
	if cfg.Transfer.ChunkSize != 262144 {
		t.Errorf("chunk size = %d", cfg.Transfer.ChunkSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	body := `
node:
  base_url: http://daemon:9999/main:app-store:sys
  identity: tester.os
gateway:
  port: "9191"
probe:
  timeout: 2s
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node.BaseURL != "http://daemon:9999/main:app-store:sys" {
		t.Errorf("base url = %q", cfg.Node.BaseURL)
	}
	if cfg.Gateway.Port != "9191" {
		t.Errorf("port = %q", cfg.Gateway.Port)
	}
	if cfg.Probe.Timeout != 2*time.Second {
		t.Errorf("probe timeout = %v", cfg.Probe.Timeout)
	}
	// Untouched sections keep defaults.
	if cfg.Client.Retries != 2 {
		t.Errorf("retries = %d", cfg.Client.Retries)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.toml")
	body := `
[node]
identity = "tester.os"

[transfer]
chunk_size = 65536
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node.Identity != "tester.os" {
		t.Errorf("identity = %q", cfg.Node.Identity)
	}
	if cfg.Transfer.ChunkSize != 65536 {
		t.Errorf("chunk size = %d", cfg.Transfer.ChunkSize)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte("gateway:\n  port: \"9191\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STOREKEEPER_GATEWAY_PORT", "7777")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Port != "7777" {
		t.Errorf("env should win over file, got %q", cfg.Gateway.Port)
	}
}

func TestUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.ini")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Node.BaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("missing node URL should fail validation")
	}

	cfg = Default()
	cfg.Transfer.ChunkSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero chunk size should fail validation")
	}
}
