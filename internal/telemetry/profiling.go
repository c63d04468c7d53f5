package telemetry

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/grafana/pyroscope-go"
)

// ProfilingConfig selects the Pyroscope server and the profiles pushed to it.
type ProfilingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Endpoint       string // e.g. "http://localhost:4040"
	ProfileTypes   []string
}

// profileTypes maps config names to Pyroscope profile types.
var profileTypes = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

var profiling atomic.Bool

// InitProfiling starts continuous profiling when cfg.Enabled is set. The
// returned function stops the profiler.
func InitProfiling(cfg ProfilingConfig) (stop func() error, err error) {
	if !cfg.Enabled {
		profiling.Store(false)
		return func() error { return nil }, nil
	}

	types, err := resolveProfileTypes(cfg.ProfileTypes)
	if err != nil {
		return nil, err
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            map[string]string{"version": cfg.ServiceVersion},
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	profiling.Store(true)

	return func() error {
		profiling.Store(false)
		return p.Stop()
	}, nil
}

// resolveProfileTypes converts names and turns on the runtime sampling that
// mutex and block profiles depend on.
func resolveProfileTypes(names []string) ([]pyroscope.ProfileType, error) {
	types := make([]pyroscope.ProfileType, 0, len(names))
	for _, name := range names {
		pt, ok := profileTypes[name]
		if !ok {
			return nil, fmt.Errorf("invalid profile type %q", name)
		}
		switch pt {
		case pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration:
			runtime.SetMutexProfileFraction(5)
		case pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration:
			runtime.SetBlockProfileRate(5)
		}
		types = append(types, pt)
	}
	return types, nil
}

// IsProfilingEnabled reports whether the profiler is running.
func IsProfilingEnabled() bool {
	return profiling.Load()
}

// ProfileUnit runs fn with a "unit" profiling label so samples taken during
// a local fallback are attributed to the function being offloaded. Without a
// running profiler fn is called directly.
func ProfileUnit(ctx context.Context, unit string, fn func(context.Context)) {
	if !profiling.Load() || unit == "" {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels("unit", unit), fn)
}
