package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/log"
)

const (
	// Immediately terminate the process when this many SIGINT or SIGTERM
	// signals are received.
	forceQuitCount = 3
)

// trap sets up a simplified signal "trap", appropriate for common
// behavior expected from a vanilla unix command-line tool in general
// (and the file server in particular).
//
//   - If SIGINT or SIGTERM are received, cleanup is called, then the process
//     is terminated with exit status 0.
//   - If SIGINT or SIGTERM are repeated 3 times before cleanup is complete,
//     then cleanup is skipped and the process is terminated directly.
func trap(ctx context.Context, cleanup func()) {
	c := make(chan os.Signal, forceQuitCount)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		var interruptCount int
		for sig := range c {
			log.G(ctx).Infof("Processing signal '%v'", sig)
			if interruptCount < forceQuitCount {
				interruptCount++
				// Initiate the cleanup only once
				if interruptCount == 1 {
					go func() {
						cleanup()
						os.Exit(0)
					}()
				}
				continue
			}

			log.G(ctx).Info("Forcing fsd shutdown without cleanup; 3 interrupts received")
			os.Exit(128 + int(sig.(syscall.Signal)))
		}
	}()
}
