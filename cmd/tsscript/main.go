// tsscript runs Rubin Observatory standard scripts.
//
// Each invocation of "tsscript run" hosts one script instance: it loads the
// site configuration, connects to the MQTT broker, configures the script
// from YAML and runs it, publishing its state, checkpoints, metadata and log
// on the script topics. "tsscript serve" is the monitor API over the same
// broker and execution history.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
