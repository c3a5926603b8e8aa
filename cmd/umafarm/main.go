// File: cmd/umafarm/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/Kisegami/umafarm/cmd"
	"github.com/Kisegami/umafarm/internal/observability"
)

func main() {
	// Listen for interrupt signals so an in-flight device command can finish
	// before the loop shuts down.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()

	if err != nil {
		// Ctrl-C is a clean stop, not a failure.
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
