// Package config loads the offload configuration from a YAML file,
// OFFLOAD_* environment variables and built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/offload/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. OFFLOAD_WORKER_BASE_ADDRESS.
const EnvPrefix = "OFFLOAD"

// Config represents the offload configuration.
//
// It captures everything needed to build an Offloader:
//   - Worker discovery and SSH connection settings
//   - Credentials used for every probe and dispatch
//   - Capsule building and remote execution
//   - Dispatch policy (timeouts, fallback behavior)
//   - Logging, metrics and tracing
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (OFFLOAD_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Worker controls how the worker is discovered and reached
	Worker WorkerConfig `mapstructure:"worker" yaml:"worker"`

	// Credentials authenticate every SSH connection to the worker
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`

	// Capsule controls how capsules are built and where they run
	Capsule CapsuleConfig `mapstructure:"capsule" yaml:"capsule"`

	// Dispatch controls remote execution and fallback policy
	Dispatch DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`

	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// WorkerConfig controls worker discovery.
//
// Candidates are generated by appending 0, 1, ... max_candidates-1 to
// BaseAddress as text: "192.168.0.1" yields "192.168.0.10", "192.168.0.11", ...
type WorkerConfig struct {
	// BaseAddress is the prefix candidate suffixes are appended to
	// Default: "192.168.0.1"
	BaseAddress string `mapstructure:"base_address" validate:"required" yaml:"base_address"`

	// MaxCandidates bounds the discovery scan
	// Default: 9
	MaxCandidates int `mapstructure:"max_candidates" validate:"min=1,max=1000" yaml:"max_candidates"`

	// ProbeTimeout is the budget for one probe (connect, authenticate, run)
	// Default: 1s
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" validate:"gt=0" yaml:"probe_timeout"`

	// ProbeCommand is run on each candidate to prove the session works
	// Default: "true"
	ProbeCommand string `mapstructure:"probe_command" validate:"required" yaml:"probe_command"`

	// Port is the SSH port
	// Default: 22
	Port int `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// KnownHosts is a known_hosts file used to verify host keys.
	// Empty disables host key verification.
	KnownHosts string `mapstructure:"known_hosts" yaml:"known_hosts,omitempty"`

	// HandshakeTimeout bounds connect plus SSH handshake for dispatches.
	// Probes are bounded by ProbeTimeout instead.
	// Default: 10s
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"gte=0" yaml:"handshake_timeout"`
}

// CredentialsConfig selects how to authenticate.
//
// Precedence: Password, then KeyPath, then ssh-agent with the default
// ~/.ssh/id_<key_type> key.
type CredentialsConfig struct {
	// Username is the worker account
	// Default: "pi"
	Username string `mapstructure:"username" validate:"required" yaml:"username"`

	// Password authenticates with a password. Prefer OFFLOAD_CREDENTIALS_PASSWORD
	// or --ask-password over storing it in the file.
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// KeyPath is a private key file
	KeyPath string `mapstructure:"key_path" yaml:"key_path,omitempty"`

	// KeyPassphrase decrypts KeyPath when it is encrypted
	KeyPassphrase string `mapstructure:"key_passphrase" yaml:"key_passphrase,omitempty"`

	// KeyType names the default key file ~/.ssh/id_<key_type>
	// Default: "ed25519"
	KeyType string `mapstructure:"key_type" validate:"omitempty,oneof=ed25519 rsa ecdsa dsa" yaml:"key_type"`
}

// CapsuleConfig controls capsule building and placement.
type CapsuleConfig struct {
	// EntryFile is the program source whose imports and globals capsules
	// may use. Empty uses the file defining each function.
	EntryFile string `mapstructure:"entry_file" yaml:"entry_file,omitempty"`

	// RemoteDir is where capsules are uploaded on the worker.
	// Relative paths are relative to the login directory.
	// Default: "."
	RemoteDir string `mapstructure:"remote_dir" validate:"required" yaml:"remote_dir"`

	// RunCommand runs an uploaded capsule; the artifact path is appended
	// Default: "go run"
	RunCommand string `mapstructure:"run_command" validate:"required" yaml:"run_command"`

	// ExcludedImports are never copied into capsules
	ExcludedImports []string `mapstructure:"excluded_imports" yaml:"excluded_imports,omitempty"`

	// MaxSize rejects larger capsules, which then run locally.
	// Accepts "512KiB", "4MiB" or a byte count.
	// Default: 4MiB
	MaxSize bytesize.ByteSize `mapstructure:"max_size" yaml:"max_size"`
}

// Discovery exhaustion policies.
const (
	ExhaustedFallback = "fallback"
	ExhaustedAbort    = "abort"
)

// DispatchConfig controls remote execution.
type DispatchConfig struct {
	// ExecTimeout bounds one remote run. 0 means no limit.
	// Default: 0
	ExecTimeout time.Duration `mapstructure:"exec_timeout" validate:"gte=0" yaml:"exec_timeout"`

	// FallbackOnExitError runs the function locally when the capsule exits
	// non-zero. Default: false
	FallbackOnExitError bool `mapstructure:"fallback_on_exit_error" yaml:"fallback_on_exit_error"`

	// OnDiscoveryExhausted is what happens when no worker answers
	// Valid values: fallback, abort
	// Default: fallback
	OnDiscoveryExhausted string `mapstructure:"on_discovery_exhausted" validate:"required,oneof=fallback abort" yaml:"on_discovery_exhausted"`

	// Pty requests a pseudo-terminal for remote runs
	Pty bool `mapstructure:"pty" yaml:"pty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	// Default: stderr, so capsule output on stdout stays clean
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Default: ["cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"]
	ProfileTypes []string `mapstructure:"profile_types" validate:"dive,oneof=cpu alloc_objects alloc_space inuse_objects inuse_space goroutines mutex_count mutex_duration block_count block_duration" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (OFFLOAD_*)
//  2. Configuration file
//  3. Default values
//
// A missing config file is not an error: defaults and environment
// variables still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  offload config init\n\n"+
				"Or specify a custom config file:\n"+
				"  offload <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  offload config init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may hold a password or key passphrase.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use OFFLOAD_ prefix and underscores
	// Example: OFFLOAD_WORKER_BASE_ADDRESS=10.0.0.1
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/offload/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// bindEnvs registers every mapstructure key with viper. AutomaticEnv only
// consults keys viper already knows about, so without this environment
// variables would be ignored when the file omits a key.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			bindEnvs(v, field.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "offload")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "offload")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
