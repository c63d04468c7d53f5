// Command offload-demo runs two functions of this file on the worker and
// prints their results. Without a reachable worker they run here instead.
//
// Configure it like the offload CLI: $XDG_CONFIG_HOME/offload/config.yaml
// or OFFLOAD_* variables, e.g.
//
//	OFFLOAD_WORKER_BASE_ADDRESS=192.168.1. OFFLOAD_CREDENTIALS_USERNAME=pi \
//	OFFLOAD_CREDENTIALS_PASSWORD=secret go run ./cmd/offload-demo
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/marmos91/offload/internal/logger"
	"github.com/marmos91/offload/pkg/config"
	"github.com/marmos91/offload/pkg/offload"
)

var i = 1234567890

func hello() string {
	fmt.Println("Hello from the worker")
	return "finished"
}

func busy() int {
	fmt.Println("Hello from the worker, counting")
	th := 0
	fmt.Println(i)
	if out, err := exec.Command("echo", "Hello World").Output(); err == nil {
		fmt.Print(string(out))
	}
	for {
		th++
		if th == 30 {
			time.Sleep(100 * time.Millisecond)
			break
		}
	}
	return th
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	shutdown, err := offload.Setup(ctx, cfg, "demo")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			logger.Warn("Shutdown failed", logger.Err(err))
		}
	}()

	o, err := offload.New(cfg)
	if err != nil {
		return err
	}

	// Capsules are cut from this file
	_, self, _, _ := runtime.Caller(0)
	if err := o.BindEntryFile(self); err != nil {
		return err
	}
	if err := o.Global("i", &i); err != nil {
		return err
	}

	fmt.Println(offload.Func0(o, hello)())
	fmt.Println(offload.Func0(o, busy)())

	arch, err := o.Run(ctx, "uname -m")
	if err != nil {
		return err
	}
	fmt.Println("architecture:", arch)
	return nil
}
