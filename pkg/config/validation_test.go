package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Worker.Port = 70000 // Out of range

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_ZeroCandidates(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Worker.MaxCandidates = -1

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for negative max candidates")
	}
}

func TestValidate_MissingBaseAddress(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Worker.BaseAddress = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing base address")
	}
	if !strings.Contains(err.Error(), "BaseAddress") {
		t.Errorf("Expected error about BaseAddress, got: %v", err)
	}
}

func TestValidate_ExhaustionPolicy(t *testing.T) {
	for _, policy := range []string{ExhaustedAbort, ExhaustedFallback} {
		cfg := GetDefaultConfig()
		cfg.Dispatch.OnDiscoveryExhausted = policy
		if err := Validate(cfg); err != nil {
			t.Errorf("Validation failed for policy %q: %v", policy, err)
		}
	}

	cfg := GetDefaultConfig()
	cfg.Dispatch.OnDiscoveryExhausted = "retry"
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for unknown policy")
	}
}

func TestValidate_NegativeExecTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Dispatch.ExecTimeout = -1

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for negative exec timeout")
	}
}

func TestValidate_Credentials(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Credentials.Password = "secret"
	cfg.Credentials.KeyPath = "/home/pi/.ssh/id_rsa"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for password and key path together")
	}
	if !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("Expected mutual exclusion error, got: %v", err)
	}

	cfg = GetDefaultConfig()
	cfg.Credentials.KeyPassphrase = "phrase"
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for passphrase without key path")
	}

	cfg = GetDefaultConfig()
	cfg.Credentials.KeyType = "dsa2"
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for unknown key type")
	}
}

func TestValidate_TelemetryEnabledWithoutEndpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for telemetry enabled without endpoint")
	}
	if !strings.Contains(err.Error(), "telemetry") && !strings.Contains(err.Error(), "endpoint") {
		t.Errorf("Expected error about telemetry endpoint, got: %v", err)
	}
}

func TestValidate_TelemetrySampleRate(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.SampleRate = 1.5 // Out of range (should be 0.0-1.0)

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for sample rate out of range")
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	// Validation accepts both uppercase and lowercase log levels
	testCases := []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"}

	for _, level := range testCases {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		if err := Validate(cfg); err != nil {
			t.Errorf("Validation failed for level %q: %v", level, err)
		}

		// Validation should NOT normalize - level should remain as-is
		if cfg.Logging.Level != level {
			t.Errorf("Expected level to remain %q after validation, got %q", level, cfg.Logging.Level)
		}
	}

	// Normalization happens in ApplyDefaults
	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	ApplyDefaults(cfg)
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected ApplyDefaults to normalize 'info' to 'INFO', got %q", cfg.Logging.Level)
	}
}

func TestValidate_ProfileTypes(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Profiling.ProfileTypes = []string{"cpu", "flamegraph"}

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for unknown profile type")
	}

	cfg.Telemetry.Profiling.ProfileTypes = []string{"cpu", "mutex_count"}
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected known profile types to pass, got: %v", err)
	}
}
