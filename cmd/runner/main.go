// Command runner is the long-lived subprocess helper spec.md §4.11
// describes: it sits between the main service and the short-lived
// game-engine binaries so those binaries never inherit the service's
// listening socket.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/starrealm/hoststar/internal/subprocrunner"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := subprocrunner.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		os.Exit(1)
	}
}
