package offload

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/marmos91/offload/internal/logger"
	"github.com/marmos91/offload/internal/telemetry"
	"github.com/marmos91/offload/pkg/config"
	"github.com/marmos91/offload/pkg/metrics"
)

// Setup initializes the process-wide ambient stack from cfg: logging,
// tracing, profiling and, when enabled, the metrics registry and its
// /metrics server. Call it once before New. The returned function flushes
// and stops everything that was started.
func Setup(ctx context.Context, cfg *config.Config, version string) (shutdown func(context.Context) error, err error) {
	if err := logger.Init(cfg.Logging.LoggerConfig()); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	var stops []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			errs = append(errs, stops[i](ctx))
		}
		return errors.Join(errs...)
	}

	stopTracing, err := telemetry.Init(ctx, cfg.Telemetry.TracingConfig(version))
	if err != nil {
		return nil, err
	}
	stops = append(stops, stopTracing)

	stopProfiling, err := telemetry.InitProfiling(cfg.Telemetry.ProfilerConfig(version))
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	stops = append(stops, func(context.Context) error { return stopProfiling() })

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()

		serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan error, 1)
		addr := ":" + strconv.Itoa(cfg.Metrics.Port)
		go func() {
			done <- metrics.Serve(serveCtx, addr)
		}()
		stops = append(stops, func(context.Context) error {
			cancel()
			return <-done
		})
	}

	logger.Debug("Ambient stack initialized",
		"tracing", cfg.Telemetry.Enabled,
		"profiling", cfg.Telemetry.Profiling.Enabled,
		"metrics", cfg.Metrics.Enabled)
	return shutdown, nil
}
