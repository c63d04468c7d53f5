package config

import (
	"strings"
	"time"

	"github.com/marmos91/offload/internal/bytesize"
	"github.com/marmos91/offload/pkg/discovery"
	"github.com/marmos91/offload/pkg/dispatch"
	"github.com/marmos91/offload/pkg/transport"
	"github.com/marmos91/offload/pkg/transport/ssh"
)

// DefaultUsername is the worker account used when none is configured.
const DefaultUsername = "pi"

// DefaultHandshakeTimeout bounds connection setup for dispatches.
const DefaultHandshakeTimeout = 10 * time.Second

// DefaultMaxCapsuleSize is the largest capsule shipped to the worker.
const DefaultMaxCapsuleSize = 4 * bytesize.MiB

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyWorkerDefaults(&cfg.Worker)
	applyCredentialsDefaults(&cfg.Credentials)
	applyCapsuleDefaults(&cfg.Capsule)
	applyDispatchDefaults(&cfg.Dispatch)
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyWorkerDefaults(cfg *WorkerConfig) {
	if cfg.BaseAddress == "" {
		cfg.BaseAddress = discovery.DefaultBaseAddress
	}
	if cfg.MaxCandidates == 0 {
		cfg.MaxCandidates = discovery.DefaultMaxCandidates
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = discovery.DefaultProbeTimeout
	}
	if cfg.ProbeCommand == "" {
		cfg.ProbeCommand = discovery.DefaultProbeCommand
	}
	if cfg.Port == 0 {
		cfg.Port = ssh.DefaultPort
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
}

func applyCredentialsDefaults(cfg *CredentialsConfig) {
	if cfg.Username == "" {
		cfg.Username = DefaultUsername
	}
	if cfg.KeyType == "" {
		cfg.KeyType = transport.DefaultKeyType
	}
}

func applyCapsuleDefaults(cfg *CapsuleConfig) {
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = dispatch.DefaultRemoteDir
	}
	if cfg.RunCommand == "" {
		cfg.RunCommand = dispatch.DefaultRunCommand
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxCapsuleSize
	}
}

func applyDispatchDefaults(cfg *DispatchConfig) {
	if cfg.OnDiscoveryExhausted == "" {
		cfg.OnDiscoveryExhausted = ExhaustedFallback
	}
	cfg.OnDiscoveryExhausted = strings.ToLower(cfg.OnDiscoveryExhausted)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Telemetry: TelemetryConfig{
			Insecure: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
