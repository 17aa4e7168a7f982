package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("forge:\n  token: ${BUILDBRIDGE_TEST_TOKEN}\n"), 0600)
	os.Setenv("BUILDBRIDGE_TEST_TOKEN", "secret123")
	defer os.Unsetenv("BUILDBRIDGE_TEST_TOKEN")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Forge.Token != "secret123" {
		t.Errorf("token = %q, want %q", cfg.Forge.Token, "secret123")
	}
}

func TestLoad_InlineSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("telemetry:\n  broker_url: tcp://localhost:1883\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Telemetry.BrokerURL != "tcp://localhost:1883" {
		t.Errorf("broker_url = %q, want %q", cfg.Telemetry.BrokerURL, "tcp://localhost:1883")
	}
}

func TestApplyDefaults_Queues(t *testing.T) {
	cfg := Default()
	if cfg.Queues.RequestQueueCapacity != 256 {
		t.Errorf("request_queue_capacity = %d, want 256", cfg.Queues.RequestQueueCapacity)
	}
	if cfg.Queues.DeferredStartupBuffer != 64 {
		t.Errorf("deferred_startup_buffer = %d, want 64", cfg.Queues.DeferredStartupBuffer)
	}
	if cfg.Queues.WorkRawCapacity != 10 {
		t.Errorf("work_raw_capacity = %d, want 10", cfg.Queues.WorkRawCapacity)
	}
}

func TestApplyDefaults_BuildTimeout(t *testing.T) {
	cfg := Default()
	if cfg.Build.DefaultTimeoutSec != 300 {
		t.Errorf("build.default_timeout_sec = %d, want 300", cfg.Build.DefaultTimeoutSec)
	}
}

func TestValidate_ListenPortOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Listen.Port = 70000

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for out-of-range listen.port")
	}
	if !strings.Contains(err.Error(), "listen.port") {
		t.Errorf("error should mention listen.port, got: %v", err)
	}
}

func TestValidate_ForgeEnabledMissingFields(t *testing.T) {
	cfg := Default()
	cfg.Forge = ForgeConfig{Enabled: true}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for forge enabled with no token/owner/repo")
	}
	if !strings.Contains(err.Error(), "forge.enabled") {
		t.Errorf("error should mention forge.enabled, got: %v", err)
	}
}

func TestValidate_ForgeDisabledSkipsValidation(t *testing.T) {
	cfg := Default()
	cfg.Forge = ForgeConfig{Enabled: false}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled forge should skip validation, got: %v", err)
	}
}

func TestForgeConfig_Configured(t *testing.T) {
	tests := []struct {
		name string
		cfg  ForgeConfig
		want bool
	}{
		{"all set", ForgeConfig{Token: "t", Owner: "o", Repo: "r"}, true},
		{"no token", ForgeConfig{Owner: "o", Repo: "r"}, false},
		{"no owner", ForgeConfig{Token: "t", Repo: "r"}, false},
		{"no repo", ForgeConfig{Token: "t", Owner: "o"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Configured(); got != tt.want {
				t.Errorf("Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate_TelemetryEnabledMissingBroker(t *testing.T) {
	cfg := Default()
	cfg.Telemetry = TelemetryConfig{Enabled: true}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for telemetry enabled with no broker_url")
	}
	if !strings.Contains(err.Error(), "telemetry.enabled") {
		t.Errorf("error should mention telemetry.enabled, got: %v", err)
	}
}

func TestValidate_TLSEnabledMissingDomains(t *testing.T) {
	cfg := Default()
	cfg.TLS = TLSConfig{Enabled: true}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for tls enabled with no domains")
	}
	if !strings.Contains(err.Error(), "tls.enabled") {
		t.Errorf("error should mention tls.enabled, got: %v", err)
	}
}

func TestValidate_LogLevelInvalid(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "deafening"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for invalid log_level")
	}
}
