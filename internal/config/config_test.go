package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Gateway.Port != 18791 {
		t.Errorf("expected Port=18791, got %d", cfg.Gateway.Port)
	}
	if cfg.Oversight.TimeoutSeconds != 1800 {
		t.Errorf("expected oversight timeout 1800s, got %d", cfg.Oversight.TimeoutSeconds)
	}
	if cfg.Access.MaxFailedAttempts != 3 || cfg.Access.LockoutMinutes != 30 {
		t.Errorf("unexpected lockout defaults: %+v", cfg.Access)
	}
	if cfg.Threat.CriticalThreshold != 8.0 || cfg.Threat.LowThreshold != 2.0 {
		t.Errorf("unexpected threat thresholds: %+v", cfg.Threat)
	}
	if got := cfg.Access.Agents["coder"]["qa_system"]; got.Level != "execute" || !got.Actions["create_environment"] {
		t.Errorf("unexpected coder grant: %+v", got)
	}
	if got := cfg.Access.Agents["tool_gateway"]["tools"]; !got.Actions["submit_action"] || !got.Actions["analyze_prompt"] {
		t.Errorf("unexpected tool_gateway grant: %+v", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WARDEN_HOME", dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Safety.SecurityLevel != "standard" {
		t.Fatalf("expected standard security level, got %q", cfg.Safety.SecurityLevel)
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), `"security_level": "standard"`) {
		t.Fatalf("expected snake_case keys in saved config, got:\n%s", data)
	}
}

func TestLoadFileOverridesAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
  "log": {"level": "DEBUG"},
  "safety": {"securityLevel": "Strict", "enable_isolation": false},
  "oversight": {"timeout_seconds": 60, "high_type_weight": 0},
  "gateway": {"port": 9000, "token": "secret"},
  "access": {"agents": {"tester": {"qa_system": {"level": "read"}}}}
}`
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected normalized log level, got %q", cfg.Log.Level)
	}
	if cfg.Safety.SecurityLevel != "strict" {
		t.Errorf("expected strict, got %q", cfg.Safety.SecurityLevel)
	}
	if cfg.Safety.EnableIsolation {
		t.Error("expected isolation disabled")
	}
	if !cfg.Safety.EnableOversight {
		t.Error("oversight should keep its default")
	}
	if cfg.Oversight.TimeoutSeconds != 60 {
		t.Errorf("expected timeout 60, got %d", cfg.Oversight.TimeoutSeconds)
	}
	if cfg.Oversight.HighTypeWeight != 5 {
		t.Errorf("zero weight should fall back to 5, got %d", cfg.Oversight.HighTypeWeight)
	}
	if cfg.Gateway.Port != 9000 || cfg.Gateway.Token != "secret" {
		t.Errorf("unexpected gateway: %+v", cfg.Gateway)
	}
	if cfg.Access.Agents["tester"]["qa_system"].Level != "read" {
		t.Errorf("expected tester grant, got %+v", cfg.Access.Agents)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"workspace mode", func(c *Config) { c.Workspace.Mode = "remote" }, "workspace.mode"},
		{"workspace path", func(c *Config) { c.Workspace.Mode = "path" }, "workspace.path"},
		{"security level", func(c *Config) { c.Safety.SecurityLevel = "paranoid" }, "safety.security_level"},
		{"threat order", func(c *Config) { c.Threat.HighThreshold = 9 }, "threat thresholds"},
		{"oversight order", func(c *Config) { c.Oversight.MediumThreshold = 8 }, "oversight thresholds"},
		{"permission level", func(c *Config) {
			c.Access.Agents["coder"] = map[string]PermissionConfig{"qa_system": {Level: "root"}}
		}, "unknown permission level"},
		{"isolation level", func(c *Config) {
			c.Isolation.Levels = map[string]IsolationLevelConfig{"ultra": {}}
		}, "unknown security level"},
		{"gateway port", func(c *Config) { c.Gateway.Port = 70000 }, "gateway.port"},
		{"cpu threshold", func(c *Config) { c.Monitor.CPUThreshold = 120 }, "cpu_threshold"},
		{"telegram token", func(c *Config) { c.Notify.Telegram.Enabled = true }, "notify.telegram.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateFillsZeroValues(t *testing.T) {
	cfg := &Config{Gateway: GatewayConfig{Port: 1}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Monitor.QueueSize != 10000 || cfg.Monitor.MaxSamples != 2880 {
		t.Errorf("monitor defaults not applied: %+v", cfg.Monitor)
	}
	if cfg.Oversight.CriticalThreshold != 7 || cfg.Oversight.MediumThreshold != 3 {
		t.Errorf("oversight thresholds not applied: %+v", cfg.Oversight)
	}
	if cfg.Safety.DefaultResource != "qa_system" || cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("unexpected defaults: %+v %+v", cfg.Safety, cfg.Gateway)
	}
}

func TestWorkspacePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WARDEN_HOME", dir)

	cfg := DefaultConfig()
	if got := cfg.WorkspacePath(); got != filepath.Join(dir, "workspace") {
		t.Errorf("default mode: got %q", got)
	}

	cfg.Workspace = WorkspaceConfig{Mode: "path", Path: "/srv/warden"}
	if got := cfg.WorkspacePath(); got != "/srv/warden" {
		t.Errorf("path mode: got %q", got)
	}

	cfg.Workspace = WorkspaceConfig{Mode: "bogus"}
	if _, err := cfg.WorkspacePathChecked(); err == nil {
		t.Error("expected error for unknown mode")
	}
}
