package config

import (
	"github.com/marmos91/offload/internal/logger"
	"github.com/marmos91/offload/internal/telemetry"
	"github.com/marmos91/offload/pkg/discovery"
	"github.com/marmos91/offload/pkg/dispatch"
	"github.com/marmos91/offload/pkg/transport"
	"github.com/marmos91/offload/pkg/transport/ssh"
)

// The methods below translate configuration sections into the settings of
// the components they configure.

// TransportCredentials returns the credential set selected by the
// credentials section.
func (c *CredentialsConfig) TransportCredentials() transport.Credentials {
	switch {
	case c.Password != "":
		return transport.PasswordCredentials(c.Username, c.Password)
	case c.KeyPath != "":
		return transport.KeyFileCredentials(c.Username, c.KeyPath, c.KeyPassphrase)
	default:
		return transport.AgentCredentials(c.Username, c.KeyType)
	}
}

// DiscoveryConfig returns the discovery settings.
func (c *WorkerConfig) DiscoveryConfig() discovery.Config {
	return discovery.Config{
		BaseAddress:   c.BaseAddress,
		MaxCandidates: c.MaxCandidates,
		ProbeTimeout:  c.ProbeTimeout,
		ProbeCommand:  c.ProbeCommand,
	}
}

// SSHConfig returns the SSH dialer settings.
func (c *WorkerConfig) SSHConfig() ssh.Config {
	return ssh.Config{
		Port:             c.Port,
		KnownHosts:       c.KnownHosts,
		HandshakeTimeout: c.HandshakeTimeout,
	}
}

// DispatcherConfig returns the dispatcher settings.
func (c *Config) DispatcherConfig() dispatch.Config {
	return dispatch.Config{
		RemoteDir:           c.Capsule.RemoteDir,
		RunCommand:          c.Capsule.RunCommand,
		ExecTimeout:         c.Dispatch.ExecTimeout,
		FallbackOnExitError: c.Dispatch.FallbackOnExitError,
		AbortOnExhausted:    c.Dispatch.OnDiscoveryExhausted == ExhaustedAbort,
		Pty:                 c.Dispatch.Pty,
	}
}

// LoggerConfig returns the logger settings.
func (c *LoggingConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Level,
		Format: c.Format,
		Output: c.Output,
	}
}

// TracingConfig returns the tracer settings.
func (c *TelemetryConfig) TracingConfig(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Enabled,
		ServiceName:    "offload",
		ServiceVersion: version,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		SampleRate:     c.SampleRate,
	}
}

// ProfilerConfig returns the profiler settings.
func (c *TelemetryConfig) ProfilerConfig(version string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        c.Profiling.Enabled,
		ServiceName:    "offload",
		ServiceVersion: version,
		Endpoint:       c.Profiling.Endpoint,
		ProfileTypes:   c.Profiling.ProfileTypes,
	}
}
