// ABOUTME: Entry point for the coven-store CLI
// ABOUTME: Wires build info and signal handling into the cobra command tree

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/2389/coven-store/internal/cli"
)

// Version information (set by ldflags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersion(version, commit, date)

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.Execute(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
