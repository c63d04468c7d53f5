package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags and the rules that span several fields.
// It does not modify cfg.
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		return err
	}

	var errs []error

	if cfg.Credentials.Password != "" && cfg.Credentials.KeyPath != "" {
		errs = append(errs, errors.New("credentials: password and key_path are mutually exclusive"))
	}
	if cfg.Credentials.KeyPassphrase != "" && cfg.Credentials.KeyPath == "" {
		errs = append(errs, errors.New("credentials: key_passphrase requires key_path"))
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry: endpoint is required when telemetry is enabled"))
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		errs = append(errs, errors.New("telemetry: profiling endpoint is required when profiling is enabled"))
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		errs = append(errs, fmt.Errorf("metrics: port is required when metrics are enabled"))
	}

	return errors.Join(errs...)
}
