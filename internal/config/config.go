// Package config handles loading and validating sanduku configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for sanduku.
type Config struct {
	Root          string               `json:"root,omitempty" yaml:"root,omitempty"` // Sandbox root. Default: ~/.sanduku/workspace. Override: SANDUKU_ROOT env var.
	Server        ServerConfig         `json:"server" yaml:"server"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	Exec          *ExecConfig          `json:"exec,omitempty" yaml:"exec,omitempty"`                   // nil = command execution disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080". Override: SANDUKU_ADDR env var.
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 1 MB.
	APIKeys             []string        `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`         // Empty = no auth (local use).
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures per-client rate limiting for the gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// ToolsConfig configures the filesystem tool set.
type ToolsConfig struct {
	MaxFileSizeBytes  int64 `json:"max_file_size_bytes" yaml:"max_file_size_bytes"`   // Default: 10 MB.
	SearchParallelism int   `json:"search_parallelism" yaml:"search_parallelism"`     // Traversal fan-out. Default: 16.
	AllowChangeRoot   bool  `json:"allow_change_root" yaml:"allow_change_root"`       // Register fs_change_root. Default: false.
}

// ExecConfig configures the command-execution tool set.
// When nil, exec_run and exec_safe_commands are not registered.
type ExecConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	TimeoutSeconds int      `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 30.
	MaxCPUSeconds  int      `json:"max_cpu_seconds" yaml:"max_cpu_seconds"` // Default: 60.
	MaxMemoryMB    int      `json:"max_memory_mb" yaml:"max_memory_mb"`     // Default: 512.
	ExtraVerbs     []string `json:"extra_verbs,omitempty" yaml:"extra_verbs,omitempty"`
}

// Timeout returns the default execution timeout with a default of 30s.
func (e *ExecConfig) Timeout() time.Duration {
	if e != nil && e.TimeoutSeconds > 0 {
		return time.Duration(e.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// ObservabilityConfig configures metrics, tracing and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "sanduku"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// DefaultConfigPath returns the default config file path (~/.sanduku/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/sanduku.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".sanduku", "config.yaml")
}

// DefaultRoot returns the default sandbox root (~/.sanduku/workspace).
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "workspace"
	}
	return filepath.Join(home, ".sanduku", "workspace")
}

// Default returns a configuration usable without any config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variables over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SANDUKU_ROOT"); v != "" {
		c.Root = v
	}
	if v := os.Getenv("SANDUKU_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("SANDUKU_API_KEY"); v != "" {
		c.Server.APIKeys = append(c.Server.APIKeys, v)
	}
}

func (c *Config) applyDefaults() {
	if c.Root == "" {
		c.Root = DefaultRoot()
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.MaxRequestSizeBytes == 0 {
		c.Server.MaxRequestSizeBytes = 1 << 20
	}
	if c.Tools.MaxFileSizeBytes == 0 {
		c.Tools.MaxFileSizeBytes = 10 << 20
	}
	if c.Tools.SearchParallelism == 0 {
		c.Tools.SearchParallelism = 16
	}
}

func (c *Config) validate() error {
	if c.Tools.MaxFileSizeBytes < 0 {
		return fmt.Errorf("tools.max_file_size_bytes must not be negative")
	}
	if c.Tools.SearchParallelism < 0 {
		return fmt.Errorf("tools.search_parallelism must not be negative")
	}
	if c.Exec != nil {
		if c.Exec.TimeoutSeconds < 0 {
			return fmt.Errorf("exec.timeout_seconds must not be negative")
		}
		if c.Exec.MaxMemoryMB < 0 {
			return fmt.Errorf("exec.max_memory_mb must not be negative")
		}
	}
	if c.Server.RateLimit.RequestsPerMinute < 0 || c.Server.RateLimit.BurstSize < 0 {
		return fmt.Errorf("server.rate_limit values must not be negative")
	}
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		t := c.Observability.Tracing
		if t.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch t.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", t.Protocol)
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			return fmt.Errorf("observability.tracing.sample_rate must be between 0 and 1")
		}
	}
	return nil
}

// ExecEnabled reports whether the command-execution tool set should be
// registered.
func (c *Config) ExecEnabled() bool {
	return c.Exec != nil && c.Exec.Enabled
}

// MetricsEnabled reports whether the Prometheus endpoint should be served.
func (c *Config) MetricsEnabled() bool {
	return c.Observability != nil && c.Observability.Metrics != nil && c.Observability.Metrics.Enabled
}

// MetricsPath returns the metrics path with a default of "/metrics".
func (c *Config) MetricsPath() string {
	if c.Observability != nil && c.Observability.Metrics != nil && c.Observability.Metrics.Path != "" {
		return c.Observability.Metrics.Path
	}
	return "/metrics"
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
