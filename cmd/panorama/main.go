// ABOUTME: Entry point for the panorama binary
// ABOUTME: Installs signal handling and runs the cobra command tree

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
    ┌─┐┌─┐┌┐┌┌─┐┬─┐┌─┐┌┬┐┌─┐
    ├─┘├─┤││││ │├┬┘├─┤│││├─┤
    ┴  ┴ ┴┘└┘└─┘┴└─┴ ┴┴ ┴┴ ┴
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
