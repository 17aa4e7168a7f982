// Package config handles buildbridge configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/buildbridge/config.yaml, /config/config.yaml,
// /etc/buildbridge/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "buildbridge", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/buildbridge/config.yaml")
	return paths
}

// searchPathsFunc is DefaultSearchPaths by default; tests swap it out to
// avoid picking up real config files on the developer's machine.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches searchPathsFunc() and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all buildbridge configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Queues     QueuesConfig     `yaml:"queues"`
	Build      BuildConfig      `yaml:"build"`
	Forge      ForgeConfig      `yaml:"forge"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	TLS        TLSConfig        `yaml:"tls"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the websocket transport's bind address.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// QueuesConfig sizes the dispatcher's bounded queues and backlog buffer.
type QueuesConfig struct {
	RequestQueueCapacity  int `yaml:"request_queue_capacity"`
	ClientEventBuffer     int `yaml:"client_event_buffer"`
	DeferredStartupBuffer int `yaml:"deferred_startup_buffer"`
	WorkRawCapacity       int `yaml:"work_raw_capacity"`
}

// BuildConfig defines the shell-exec guardrails for the build engine
// collaborator. Mirrors the teacher's ShellExecConfig shape, repurposed
// from agent tool-calling to build command execution.
type BuildConfig struct {
	KeysFile          string   `yaml:"keys_file"`
	WorkingDir        string   `yaml:"working_dir"`
	DeniedPatterns    []string `yaml:"denied_patterns"`
	AllowedPrefixes   []string `yaml:"allowed_prefixes"`
	DefaultTimeoutSec int      `yaml:"default_timeout_sec"`
}

// ForgeConfig defines the optional GitHub commit-status reporter.
type ForgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	Owner   string `yaml:"owner"`
	Repo    string `yaml:"repo"`
	Context string `yaml:"context"` // status context name, default "buildbridge"
}

// TelemetryConfig defines the optional MQTT/Home-Assistant publisher.
type TelemetryConfig struct {
	Enabled            bool   `yaml:"enabled"`
	BrokerURL          string `yaml:"broker_url"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	ClientID           string `yaml:"client_id"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// DashboardConfig defines the optional read-only HTTP status page.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// TLSConfig defines optional autocert-managed TLS for the transport.
type TLSConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Domains     []string `yaml:"domains"`
	CacheDir    string   `yaml:"cache_dir"`
	ContactMail string   `yaml:"contact_email"`
}

// Configured reports whether the forge reporter has enough to authenticate
// and identify a repository.
func (c ForgeConfig) Configured() bool {
	return c.Token != "" && c.Owner != "" && c.Repo != ""
}

// Configured reports whether the telemetry publisher has a broker to dial.
func (c TelemetryConfig) Configured() bool {
	return c.BrokerURL != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${FORGE_TOKEN}).
	// This is a convenience for container deployments; the recommended
	// approach is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8472
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Queues.RequestQueueCapacity == 0 {
		c.Queues.RequestQueueCapacity = 256
	}
	if c.Queues.ClientEventBuffer == 0 {
		c.Queues.ClientEventBuffer = 32
	}
	if c.Queues.DeferredStartupBuffer == 0 {
		c.Queues.DeferredStartupBuffer = 64
	}
	if c.Queues.WorkRawCapacity == 0 {
		c.Queues.WorkRawCapacity = 10
	}
	if c.Build.DefaultTimeoutSec == 0 {
		c.Build.DefaultTimeoutSec = 300
	}
	if c.Build.KeysFile == "" {
		c.Build.KeysFile = "./build-keys.yaml"
	}
	if c.Forge.Context == "" {
		c.Forge.Context = "buildbridge"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8473
	}
	if c.TLS.CacheDir == "" {
		c.TLS.CacheDir = "./tls-cache"
	}
	if c.Telemetry.DeviceName == "" {
		c.Telemetry.DeviceName = "buildbridge"
	}
	if c.Telemetry.DiscoveryPrefix == "" {
		c.Telemetry.DiscoveryPrefix = "homeassistant"
	}
	if c.Telemetry.PublishIntervalSec == 0 {
		c.Telemetry.PublishIntervalSec = 30
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port < 1 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port %d out of range (1-65535)", c.Dashboard.Port)
	}
	if c.Queues.RequestQueueCapacity < 1 {
		return fmt.Errorf("queues.request_queue_capacity must be positive, got %d", c.Queues.RequestQueueCapacity)
	}
	if c.Queues.WorkRawCapacity < 1 {
		return fmt.Errorf("queues.work_raw_capacity must be positive, got %d", c.Queues.WorkRawCapacity)
	}
	if c.Forge.Enabled && !c.Forge.Configured() {
		return fmt.Errorf("forge.enabled requires token, owner, and repo")
	}
	if c.Telemetry.Enabled && !c.Telemetry.Configured() {
		return fmt.Errorf("telemetry.enabled requires broker_url")
	}
	if c.TLS.Enabled && len(c.TLS.Domains) == 0 {
		return fmt.Errorf("tls.enabled requires at least one domain")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local development.
// All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
